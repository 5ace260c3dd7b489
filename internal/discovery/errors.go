package discovery

import "errors"

// Domain errors for the discovery package.
var (
	// ErrNilCodec is returned by New when no codec is supplied.
	ErrNilCodec = errors.New("discovery: codec is required")

	// ErrInvalidConfig is returned by New for out-of-range settings.
	ErrInvalidConfig = errors.New("discovery: invalid configuration")

	// ErrAlreadyStarted is returned by Start on a running engine.
	ErrAlreadyStarted = errors.New("discovery: engine already started")

	// ErrEngineStopped is returned once the engine has been stopped.
	ErrEngineStopped = errors.New("discovery: engine stopped")

	// ErrNotRunning is returned by operations that need a running engine.
	ErrNotRunning = errors.New("discovery: engine not running")
)
