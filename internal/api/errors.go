package api

import (
	"errors"
	"fmt"
)

// ErrNotFound marks operations against a chat or thread that no longer
// exists. Callers treat it as a no-op failure.
var ErrNotFound = errors.New("not found")

// TransportError is a REST call that rejected or returned a non-success
// status. StatusCode is zero when the request never reached the server.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
