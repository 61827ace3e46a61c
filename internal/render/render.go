// Package render selects and abstracts the session's display backend: a
// full-screen terminal UI when one is available, a line-oriented writer
// otherwise.
package render

import (
	"errors"
	"fmt"
	"io"
	"os"

	xterm "golang.org/x/term"

	"github.com/dshills/luastep/internal/controller"
	"github.com/dshills/luastep/internal/logging"
	"github.com/dshills/luastep/internal/render/plain"
	"github.com/dshills/luastep/internal/render/term"
	"github.com/dshills/luastep/internal/snapshot"
	"github.com/dshills/luastep/internal/source"
)

// ErrUnknownBackend indicates a backend kind outside rich/plain.
var ErrUnknownBackend = errors.New("unknown render backend")

// Kind names a render backend.
type Kind string

const (
	// KindRich is the full-screen terminal backend.
	KindRich Kind = "rich"
	// KindPlain is the line-oriented writer backend.
	KindPlain Kind = "plain"
)

// Backend displays snapshots and collects stepping commands. Every backend
// also satisfies controller.Display.
type Backend interface {
	// Display shows one snapshot; it blocks for a command only when the
	// session is paused.
	Display(snap *snapshot.Snapshot, st controller.State) (controller.Command, error)
	// Finish shows the session's final state with the last snapshot, if
	// any, and the outcome detail (return value or failure text).
	Finish(st controller.State, last *snapshot.Snapshot, detail string) error
	// Close releases the backend. Safe to call more than once.
	Close()
}

// Resolve picks the backend once, at session start. The rich backend
// degrades to plain when no terminal is available or the screen cannot be
// initialized; the fallback is logged, never fatal.
func Resolve(kind Kind, src *source.File, radius int, in io.Reader, out io.Writer, log *logging.Logger) (Backend, error) {
	if log == nil {
		log = logging.Nop
	}
	log = log.WithComponent("render")

	switch kind {
	case KindPlain:
		return plain.New(src, radius, in, out), nil

	case KindRich:
		if !isTerminal(out) {
			log.Warn("rich backend unavailable: output is not a terminal; using plain")
			return plain.New(src, radius, in, out), nil
		}
		b, err := term.New(src, radius)
		if err != nil {
			log.Warn("rich backend unavailable: %v; using plain", err)
			return plain.New(src, radius, in, out), nil
		}
		return b, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
}

// isTerminal reports whether v is an *os.File attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && xterm.IsTerminal(int(f.Fd()))
}
