package registry

import "errors"

var (
	// ErrDuplicate is returned by Add when the key is already registered.
	ErrDuplicate = errors.New("registry: duplicate key")

	// ErrNotFound is returned when a key is not registered.
	ErrNotFound = errors.New("registry: not found")

	// ErrCorrupt is returned when the backing file cannot be parsed.
	ErrCorrupt = errors.New("registry: corrupt file")
)
