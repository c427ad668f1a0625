package batch

import (
	"errors"
	"fmt"
)

// Sentinel errors for batch operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrValidation indicates invalid caller input. Nothing was mutated.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates a missing document reference or unknown batch.
	ErrNotFound = errors.New("not found")

	// ErrQueueEmpty is returned by Dequeue when the timeout elapses with no job.
	ErrQueueEmpty = errors.New("job queue is empty")

	// ErrSentinel is returned by Dequeue when a shutdown sentinel was consumed.
	ErrSentinel = errors.New("shutdown sentinel")

	// ErrPoolClosed is returned when work is submitted to a stopped CPU pool.
	ErrPoolClosed = errors.New("cpu pool is closed")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
