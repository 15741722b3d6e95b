// Package registrar talks to the device registry that issues and activates
// device credentials.
//
// The producer only depends on the Registrar interface. HTTPClient is the
// production implementation against the registry management API, and Ledger
// decorates any Registrar with a SQLite record of completed registrations.
package registrar
