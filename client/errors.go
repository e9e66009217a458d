package client

import (
	"errors"
	"fmt"

	"satellite-rpc/protocol"
)

// ErrNoConnection is returned by New when no transport is given.
var ErrNoConnection = errors.New("client: no connection")

// StatusError is returned when the server answers with a non-success
// status. Message is the error description sent by the server.
type StatusError struct {
	Status  protocol.Status
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rpc %s: %s", e.Status, e.Message)
}

// StatusOf returns the status carried by err, Success for nil and
// InternalError for errors that never reached the server.
func StatusOf(err error) protocol.Status {
	if err == nil {
		return protocol.StatusSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return protocol.StatusInternalError
}
