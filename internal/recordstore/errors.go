package recordstore

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a record (or the first match of a filter) does
// not exist in the store, or was removed before the call reached it.
var ErrNotFound = errors.New("record not found")

var (
	errConnClosed = errors.New("realtime connection closed")
	errAckTimeout = errors.New("subscription not acknowledged")
)

// TransportError wraps network failures and non-success store responses so
// callers can distinguish "connection failed" from semantic errors like
// ErrNotFound.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("record store: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
