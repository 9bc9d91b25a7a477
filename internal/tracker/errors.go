package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoggedIn indicates a write was attempted without a signed-in user.
	ErrNotLoggedIn = errors.New("tracker: not logged in")
	// ErrHistoricalView indicates an edit was attempted on a read-only historical view.
	ErrHistoricalView = errors.New("tracker: historical view is read-only")
	// ErrMissingBackend indicates a Session or component was built without a store.
	ErrMissingBackend = errors.New("tracker: backend not configured")
)

// FetchError wraps a failed read against the data service.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("tracker: fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// WriteError wraps a failed write against the data service.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("tracker: write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

func fetchError(op string, err error) error {
	return &FetchError{Op: op, Err: err}
}

func writeError(op string, err error) error {
	return &WriteError{Op: op, Err: err}
}
