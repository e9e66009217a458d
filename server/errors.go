package server

import (
	"errors"
	"fmt"

	"satellite-rpc/protocol"
)

var (
	// ErrNotFound is returned when no endpoint is registered for a path.
	ErrNotFound = errors.New("endpoint not found")
	// ErrServerClosed is returned by Serve after Shutdown.
	ErrServerClosed = errors.New("server: closed")
	// ErrRegistryFrozen is returned when registering after Serve started.
	ErrRegistryFrozen = errors.New("server: registration after serve")
	// ErrRateLimited is returned by the RateLimit interceptor.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrTimeout is returned by the Timeout interceptor.
	ErrTimeout = errors.New("request timed out")
)

// BindError reports that the payload could not be bound to a parameter.
type BindError struct {
	Path  string
	Index int // parameter index, receiver excluded
	Err   error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind parameter %d of %s: %v", e.Index, e.Path, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// statusOf maps a dispatch error to the status sent to the caller.
func statusOf(err error) protocol.Status {
	var be *BindError
	switch {
	case errors.Is(err, ErrNotFound):
		return protocol.StatusNotFound
	case errors.As(err, &be):
		return protocol.StatusBadRequest
	default:
		return protocol.StatusInternalError
	}
}
