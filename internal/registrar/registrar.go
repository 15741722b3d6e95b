package registrar

import (
	"context"
	"errors"
)

// ErrRegistrationFailed is returned when the registry rejects or cannot be
// reached for a registration. Use errors.Is to check for it.
var ErrRegistrationFailed = errors.New("registrar: registration failed")

// Registrar issues and activates credentials for a device identity.
//
// Implementations must be safe for concurrent use: many producers may hit a
// 401 at the same moment and re-register independently.
type Registrar interface {
	Register(ctx context.Context, deviceID, user, password string) error
}

// Func adapts a plain function to Registrar.
type Func func(ctx context.Context, deviceID, user, password string) error

// Register implements Registrar.
func (f Func) Register(ctx context.Context, deviceID, user, password string) error {
	return f(ctx, deviceID, user, password)
}
