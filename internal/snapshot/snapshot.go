// Package snapshot defines the immutable per-step records produced while
// tracing a script, plus the watch set that selects bindings to emphasize.
package snapshot

import (
	"fmt"
	"sort"
)

// Event classifies the execution event a snapshot was taken at.
type Event int

const (
	// EventLine is an ordinary qualifying source line.
	EventLine Event = iota
	// EventCall marks the first qualifying line inside a newly entered
	// call (including the first line of the session).
	EventCall
)

// String returns the display label for the event.
func (e Event) String() string {
	switch e {
	case EventCall:
		return "CALL"
	default:
		return "LINE"
	}
}

// Location identifies the source position about to execute.
type Location struct {
	// File is the script's file identity (the chunk name).
	File string
	// Line is the 1-based source line.
	Line int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Binding is one named local variable with its formatted value.
type Binding struct {
	Name  string
	Value string
}

// Snapshot is one paused moment of execution. It is immutable once
// constructed: New copies its inputs, and accessors return copies.
type Snapshot struct {
	location  Location
	event     Event
	detail    string
	depth     int
	stepIndex uint64
	locals    []Binding
	watched   []Binding
}

// New builds a snapshot from a point-in-time copy of the visible bindings.
// Locals are ordered by name; Watched is the intersection of the locals'
// names with the watch set, in watch-set order. Watch names with no
// matching binding are silently absent.
func New(loc Location, ev Event, detail string, depth int, step uint64, locals []Binding, watch *WatchSet) *Snapshot {
	owned := make([]Binding, len(locals))
	copy(owned, locals)
	sort.Slice(owned, func(i, j int) bool { return owned[i].Name < owned[j].Name })

	var watched []Binding
	if watch.Len() > 0 {
		byName := make(map[string]string, len(owned))
		for _, b := range owned {
			byName[b.Name] = b.Value
		}
		for _, name := range watch.Names() {
			if v, ok := byName[name]; ok {
				watched = append(watched, Binding{Name: name, Value: v})
			}
		}
	}

	return &Snapshot{
		location:  loc,
		event:     ev,
		detail:    detail,
		depth:     depth,
		stepIndex: step,
		locals:    owned,
		watched:   watched,
	}
}

// Location returns the source position of the snapshot.
func (s *Snapshot) Location() Location { return s.location }

// Event returns the event kind the snapshot was taken at.
func (s *Snapshot) Event() Event { return s.event }

// Detail returns extra event text (formatted call arguments on EventCall).
func (s *Snapshot) Detail() string { return s.detail }

// Depth returns the number of nested qualifying calls; 0 is the top-level
// invocation.
func (s *Snapshot) Depth() int { return s.depth }

// StepIndex returns the session-unique, monotonically increasing index.
func (s *Snapshot) StepIndex() uint64 { return s.stepIndex }

// Locals returns the bindings visible at this instant, ordered by name.
func (s *Snapshot) Locals() []Binding {
	out := make([]Binding, len(s.locals))
	copy(out, s.locals)
	return out
}

// Watched returns the watched subset in watch-set order.
func (s *Snapshot) Watched() []Binding {
	out := make([]Binding, len(s.watched))
	copy(out, s.watched)
	return out
}

// IsWatched reports whether the named binding is in the watched subset.
func (s *Snapshot) IsWatched(name string) bool {
	for _, b := range s.watched {
		if b.Name == name {
			return true
		}
	}
	return false
}

// Local looks up a binding's formatted value by name.
func (s *Snapshot) Local(name string) (string, bool) {
	for _, b := range s.locals {
		if b.Name == name {
			return b.Value, true
		}
	}
	return "", false
}
