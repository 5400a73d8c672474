package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicate signals that the crossing is already recorded. It is not a
	// failure; nothing was written.
	ErrDuplicate = errors.New("duplicate scan")
	// ErrPersistence marks store read or write failures on mutation paths.
	ErrPersistence = errors.New("queue persistence failure")
)

// DuplicateError carries the record that blocked a new capture.
type DuplicateError struct {
	Existing Record
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate scan: tag %s already recorded at checkpoint %d (%s)",
		e.Existing.TagIdentifier, e.Existing.CheckpointID, e.Existing.Status)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
