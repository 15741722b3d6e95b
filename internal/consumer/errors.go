package consumer

import "errors"

// Sentinel errors for consumer operations.
var (
	// ErrUnsupportedBody is returned for a message body shape that cannot be
	// turned into a string. Such messages are dropped.
	ErrUnsupportedBody = errors.New("consumer: unsupported message body")

	// ErrConnectFailed is returned by Run when the initial connect or
	// subscribe fails. The consumer does not retry this case.
	ErrConnectFailed = errors.New("consumer: connect failed")

	// ErrNotConsuming is returned by HealthCheck while the consumer is not
	// subscribed.
	ErrNotConsuming = errors.New("consumer: not consuming")

	// ErrClosed is returned by Run on a consumer that was already closed or run.
	ErrClosed = errors.New("consumer: closed")
)
