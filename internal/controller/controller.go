// Package controller implements the stepping state machine that paces a
// traced computation: it pauses at each snapshot, routes it to the render
// backend, and applies the user's step/continue/quit commands.
package controller

import (
	"github.com/dshills/luastep/internal/logging"
	"github.com/dshills/luastep/internal/snapshot"
)

// State is the session's stepping state.
type State int

const (
	// StateIdle is the state before the first snapshot arrives.
	StateIdle State = iota
	// StatePaused waits for a command at a snapshot.
	StatePaused
	// StateContinuing advances without waiting for commands.
	StateContinuing
	// StateFinished is terminal: the traced callable returned.
	StateFinished
	// StateFailed is terminal: the traced callable raised.
	StateFailed
	// StateQuit is terminal: the user ended the session early.
	StateQuit
)

// String returns the display label for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePaused:
		return "paused"
	case StateContinuing:
		return "continuing"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	case StateQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further snapshots are accepted in s.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed || s == StateQuit
}

// Command is a user instruction returned by a render backend.
type Command int

const (
	// CommandNone means the backend did not wait for input.
	CommandNone Command = iota
	// CommandStep advances to the next snapshot and pauses again.
	CommandStep
	// CommandContinue advances without pausing until the session ends.
	CommandContinue
	// CommandQuit aborts the session.
	CommandQuit
)

// Display shows one snapshot. When the session state is StatePaused the
// call blocks until the user supplies a command; in any other state it
// renders and returns CommandNone immediately.
type Display interface {
	Display(snap *snapshot.Snapshot, st State) (Command, error)
}

// Controller drives the pause/resume loop. It is not safe for concurrent
// use; the tracer is single-threaded by design and Advance is its only
// blocking point.
type Controller struct {
	state   State
	backend Display
	log     *logging.Logger
	last    *snapshot.Snapshot
}

// New creates a controller in StateIdle.
func New(backend Display, log *logging.Logger) *Controller {
	if log == nil {
		log = logging.Nop
	}
	return &Controller{
		state:   StateIdle,
		backend: backend,
		log:     log.WithComponent("controller"),
	}
}

// State returns the current stepping state.
func (c *Controller) State() State { return c.state }

// Last returns the most recent accepted snapshot, if any. It remains
// available after the session reaches a terminal state.
func (c *Controller) Last() *snapshot.Snapshot { return c.last }

// Advance accepts the next snapshot in execution order. It reports whether
// execution may proceed; false tells the collector to unwind the target.
// A snapshot arriving after a terminal state is a contract violation: it is
// discarded with a diagnostic and never displayed.
func (c *Controller) Advance(snap *snapshot.Snapshot) bool {
	if c.state.Terminal() {
		c.log.Warn("snapshot %d at %s discarded: session already %s",
			snap.StepIndex(), snap.Location(), c.state)
		return false
	}

	if c.state == StateIdle || c.state == StatePaused {
		c.state = StatePaused
	}
	c.last = snap

	cmd, err := c.backend.Display(snap, c.state)
	if err != nil {
		// A failed draw must not kill the session; keep stepping.
		c.log.Error("display failed at step %d: %v", snap.StepIndex(), err)
		cmd = CommandStep
	}

	if c.state == StateContinuing {
		return true
	}

	switch cmd {
	case CommandContinue:
		c.state = StateContinuing
	case CommandQuit:
		c.state = StateQuit
		return false
	default:
		// Step: stay paused for the next snapshot.
	}
	return true
}

// Finish marks the natural return of the traced callable.
func (c *Controller) Finish() {
	if !c.state.Terminal() {
		c.state = StateFinished
	}
}

// Fail marks a raised condition inside the traced callable.
func (c *Controller) Fail() {
	if !c.state.Terminal() {
		c.state = StateFailed
	}
}

// Quit marks an early user termination signalled outside Advance.
func (c *Controller) Quit() {
	if !c.state.Terminal() {
		c.state = StateQuit
	}
}
