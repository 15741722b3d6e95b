package producer

import "errors"

// Sentinel errors describing a tick outcome. A Result carries one of them
// (wrapped) for every call that did not succeed.
var (
	// ErrDisabled means no endpoint is configured; nothing was sent.
	ErrDisabled = errors.New("producer: sending disabled")

	// ErrTransport means the call failed before a response arrived.
	ErrTransport = errors.New("producer: transport failure")

	// ErrUnauthorized means the endpoint answered 401.
	ErrUnauthorized = errors.New("producer: unauthorized")

	// ErrRejected means the endpoint answered with another non-2xx status.
	ErrRejected = errors.New("producer: rejected")
)
