package scheduler

import "errors"

var (
	// ErrAlreadyScheduled is returned by Add for a domain name already
	// registered.
	ErrAlreadyScheduled = errors.New("scheduler: domain already scheduled")

	// ErrNotScheduled is returned for an unknown domain name.
	ErrNotScheduled = errors.New("scheduler: domain not scheduled")
)
