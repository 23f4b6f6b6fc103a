package watch

import (
	"slices"
	"strings"
)

// State is the classified status of a watched target: a set of active kinds.
// Binary domains (AVAILABLE/FULL, OK/OVER_LIMIT) use a single-element set;
// stock signals and meetup rosters use any number of kinds.
//
// The zero State is "unset", which is distinct from an observed empty set.
type State struct {
	set   bool
	kinds []string
}

// Unset returns the state of a target that has never been polled successfully.
func Unset() State { return State{} }

// StateOf returns an observed state holding kinds, sorted and deduplicated.
// StateOf() with no arguments is the observed empty set.
func StateOf(kinds ...string) State {
	k := make([]string, 0, len(kinds))
	for _, s := range kinds {
		if s != "" {
			k = append(k, s)
		}
	}
	slices.Sort(k)
	return State{set: true, kinds: slices.Compact(k)}
}

// Scalar builds a state from a persisted single-value status field.
// An empty string means unset.
func Scalar(status string) State {
	if status == "" {
		return Unset()
	}
	return StateOf(status)
}

// IsSet reports whether the state has been observed at least once.
func (s State) IsSet() bool { return s.set }

// Kinds returns a copy of the active kinds in sorted order.
func (s State) Kinds() []string { return slices.Clone(s.kinds) }

// Has reports whether kind is active.
func (s State) Has(kind string) bool {
	_, ok := slices.BinarySearch(s.kinds, kind)
	return ok
}

// Value returns the single kind of a binary state, or "" when unset or empty.
func (s State) Value() string {
	if len(s.kinds) == 0 {
		return ""
	}
	return s.kinds[0]
}

// Equal reports whether both states are set-equal. Unset equals only unset.
func (s State) Equal(o State) bool {
	if s.set != o.set {
		return false
	}
	return slices.Equal(s.kinds, o.kinds)
}

// Diff returns the kinds present in s but not in prev (entered) and the
// kinds present in prev but not in s (left).
func (s State) Diff(prev State) (entered, left []string) {
	for _, k := range s.kinds {
		if !prev.Has(k) {
			entered = append(entered, k)
		}
	}
	for _, k := range prev.kinds {
		if !s.Has(k) {
			left = append(left, k)
		}
	}
	return entered, left
}

// String renders "unset", "none", or the comma-joined kinds.
func (s State) String() string {
	switch {
	case !s.set:
		return "unset"
	case len(s.kinds) == 0:
		return "none"
	default:
		return strings.Join(s.kinds, ",")
	}
}
