package snapshot

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadWatchName indicates a watch name that is not a valid Lua identifier.
var ErrBadWatchName = errors.New("watch name is not a valid identifier")

// WatchSet is an ordered, duplicate-free set of variable names to emphasize.
// Matching against locals is case-sensitive and exact. A nil WatchSet is
// valid and empty.
type WatchSet struct {
	names []string
	index map[string]struct{}
}

// NewWatchSet validates and dedups the given names, preserving first-seen
// order. Every name must be a valid Lua identifier.
func NewWatchSet(names []string) (*WatchSet, error) {
	w := &WatchSet{index: make(map[string]struct{}, len(names))}
	for _, name := range names {
		if !validIdent(name) {
			return nil, fmt.Errorf("%w: %q", ErrBadWatchName, name)
		}
		if _, dup := w.index[name]; dup {
			continue
		}
		w.index[name] = struct{}{}
		w.names = append(w.names, name)
	}
	return w, nil
}

// ParseWatchList builds a WatchSet from a comma-separated list. Whitespace
// around names is trimmed; empty entries are skipped.
func ParseWatchList(list string) (*WatchSet, error) {
	var names []string
	for _, part := range strings.Split(list, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return NewWatchSet(names)
}

// Names returns the watch names in order. The slice must not be modified.
func (w *WatchSet) Names() []string {
	if w == nil {
		return nil
	}
	return w.names
}

// Contains reports whether name is in the set.
func (w *WatchSet) Contains(name string) bool {
	if w == nil {
		return false
	}
	_, ok := w.index[name]
	return ok
}

// Len returns the number of watched names.
func (w *WatchSet) Len() int {
	if w == nil {
		return 0
	}
	return len(w.names)
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
