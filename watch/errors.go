package watch

import "errors"

var (
	// ErrCycleRunning is returned by RunCycle while another cycle of the
	// same engine is in progress.
	ErrCycleRunning = errors.New("watch: cycle already running")

	// ErrUnknownTarget is returned by CheckOne for an identity that is not
	// in the registry.
	ErrUnknownTarget = errors.New("watch: unknown target")
)
