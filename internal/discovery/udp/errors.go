package udp

import (
	"errors"
	"fmt"
)

// Domain errors for the udp package.
var (
	// ErrBind is matched by BindError when the socket cannot be bound.
	ErrBind = errors.New("udp: bind failed")

	// ErrTimeout is returned by Receive when no datagram arrived within the
	// receive timeout. It is a heartbeat, not a failure.
	ErrTimeout = errors.New("udp: receive timeout")

	// ErrClosed is returned once the channel has been closed.
	ErrClosed = errors.New("udp: channel closed")

	// ErrReconnect is returned by HealthCheck when a re-bind fails.
	ErrReconnect = errors.New("udp: reconnect failed")

	// ErrDegraded is returned by Send while the socket is being recovered.
	ErrDegraded = errors.New("udp: channel degraded")

	// ErrSend is returned when a datagram cannot be sent.
	ErrSend = errors.New("udp: send failed")
)

// BindError reports a socket that could not be bound.
type BindError struct {
	// Address is the local address the bind was attempted on.
	Address string

	// Err is the underlying cause.
	Err error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("udp: bind %s: %v", e.Address, e.Err)
}

// Unwrap returns the underlying cause.
func (e *BindError) Unwrap() error { return e.Err }

// Is reports whether target is ErrBind.
func (e *BindError) Is(target error) bool { return target == ErrBind }
