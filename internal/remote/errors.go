package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingID is wrapped when the store answers a create or update
	// without an "_id".
	ErrMissingID = errors.New("response has no _id")
	// ErrNotPersisted is returned when Update is called with a draft.
	ErrNotPersisted = errors.New("event has no _id")
)

// TransportError reports a failed exchange with the remote event store:
// network failure, non-2xx status, or an undecodable body.
type TransportError struct {
	Op     string // list, create or update
	Method string
	URL    string
	Status int // 0 when no response was received
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s: %s %s: status %d: %v", e.Op, e.Method, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("remote %s: %s %s: %v", e.Op, e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
