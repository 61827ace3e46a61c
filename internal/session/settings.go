package session

import (
	"errors"
	"fmt"

	"github.com/dshills/luastep/internal/render"
	"github.com/dshills/luastep/internal/snapshot"
)

// Settings errors.
var (
	// ErrBadBackend indicates a backend name outside rich/plain.
	ErrBadBackend = errors.New("unknown backend")

	// ErrBadContextLines indicates a negative context radius.
	ErrBadContextLines = errors.New("context lines must not be negative")

	// ErrBadMaxRepr indicates a non-positive value length bound.
	ErrBadMaxRepr = errors.New("max value length must be positive")
)

// Defaults for RenderSettings.
const (
	DefaultContextLines = 3
	DefaultMaxValueRepr = 120
)

// RenderSettings controls how snapshots are displayed.
type RenderSettings struct {
	// Backend selects the display: rich (full-screen terminal) or plain.
	Backend render.Kind
	// ContextLines is the radius of source lines shown around the
	// current line.
	ContextLines int
	// MaxValueRepr bounds the length of a formatted value.
	MaxValueRepr int
	// Watch lists variable names to emphasize when bound.
	Watch []string
}

// DefaultRenderSettings returns the built-in defaults: rich backend,
// 3 context lines, values clipped at 120 runes, nothing watched.
func DefaultRenderSettings() RenderSettings {
	return RenderSettings{
		Backend:      render.KindRich,
		ContextLines: DefaultContextLines,
		MaxValueRepr: DefaultMaxValueRepr,
	}
}

// Validate checks the settings before a session starts.
func (s RenderSettings) Validate() error {
	switch s.Backend {
	case render.KindRich, render.KindPlain:
	default:
		return fmt.Errorf("%w: %q", ErrBadBackend, s.Backend)
	}
	if s.ContextLines < 0 {
		return fmt.Errorf("%w: %d", ErrBadContextLines, s.ContextLines)
	}
	if s.MaxValueRepr <= 0 {
		return fmt.Errorf("%w: %d", ErrBadMaxRepr, s.MaxValueRepr)
	}
	if _, err := snapshot.NewWatchSet(s.Watch); err != nil {
		return err
	}
	return nil
}
