package multibar

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when registering a tracker on a closed Coordinator.
	ErrClosed = errors.New("multibar: coordinator closed")
	// ErrDetached is returned by every mutator of a detached Tracker.
	ErrDetached = errors.New("multibar: tracker detached")
)

// WriteError records the write failure that switched a Coordinator to no-op
// rendering. It is reported through Coordinator.Err, never by Tracker calls.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("multibar: output write failed: %v", e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
