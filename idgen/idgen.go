// Package idgen generates row identifiers for the history store.
package idgen

import "github.com/google/uuid"

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 version 7 UUIDs, which sort by
// creation time.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every id from gen ("cyc_", "ntf_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Cycle and Notification name history rows.
var (
	Cycle        = Prefixed("cyc_", UUIDv7())
	Notification = Prefixed("ntf_", UUIDv7())
)
