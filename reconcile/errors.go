package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteUnavailable is matched by failures of the remote CRM. The cache is left
	// untouched when it is returned.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrStore is matched by failures of a partition store.
	ErrStore = errors.New("store failure")

	// ErrInvalidSearch is returned for a product search that is not a valid regular
	// expression.
	ErrInvalidSearch = errors.New("invalid search expression")
)

// RemoteError is a failed call to the remote CRM.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrRemoteUnavailable).
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteUnavailable
}

// StoreError is a failed operation on the store of a city.
type StoreError struct {
	City string
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store %s failed: %v", e.City, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrStore).
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}
