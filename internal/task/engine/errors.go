package engine

import "errors"

var (
	ErrControllerUsed = errors.New("controller already started")

	// ErrJobTimeout and ErrJobInterrupted are the cancellation causes seen by
	// a job through context.Cause.
	ErrJobTimeout     = errors.New("job exceeded its timeout")
	ErrJobInterrupted = errors.New("job interrupted by scheduler shutdown")

	ErrJobPanicked = errors.New("job panicked")
)
