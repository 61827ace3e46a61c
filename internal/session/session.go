// Package session wires one end-to-end trace: load and instrument the
// script, step the target function under the collector, and report the
// outcome through the render backend.
package session

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luastep/internal/collector"
	"github.com/dshills/luastep/internal/controller"
	"github.com/dshills/luastep/internal/format"
	"github.com/dshills/luastep/internal/literal"
	"github.com/dshills/luastep/internal/logging"
	"github.com/dshills/luastep/internal/luahost"
	"github.com/dshills/luastep/internal/render"
	"github.com/dshills/luastep/internal/snapshot"
	"github.com/dshills/luastep/internal/source"
)

// TraceError reports a condition raised inside the traced function,
// positioned at the last observed snapshot.
type TraceError struct {
	Location snapshot.Location
	Depth    int
	Err      error
}

func (e *TraceError) Error() string {
	return fmt.Sprintf("script error at %s (depth %d): %v", e.Location, e.Depth, e.Err)
}

func (e *TraceError) Unwrap() error { return e.Err }

// Outcome summarizes a completed session.
type Outcome struct {
	// State is the terminal state the session reached.
	State controller.State
	// Steps is the number of snapshots produced.
	Steps uint64
}

// Session runs one traced invocation of one function.
type Session struct {
	id       string
	settings RenderSettings
	log      *logging.Logger
	in       io.Reader
	out      io.Writer
}

// New validates the settings and prepares a session. in and out are the
// command and render streams the plain backend uses; the rich backend
// talks to the terminal directly.
func New(settings RenderSettings, log *logging.Logger, in io.Reader, out io.Writer) (*Session, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		settings: settings,
		log:      log.WithField("session", id),
		in:       in,
		out:      out,
	}, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Run traces fnExpr from the script at scriptPath, passing the arguments
// described by the JSON literal. It returns once the session reaches a
// terminal state. A user quit is a normal ending; a condition raised by
// the script comes back as a *TraceError.
func (s *Session) Run(scriptPath, fnExpr, argsLiteral string) (Outcome, error) {
	// Reject a malformed literal before anything is loaded.
	if err := literal.Validate(argsLiteral); err != nil {
		return Outcome{}, err
	}
	watch, err := snapshot.NewWatchSet(s.settings.Watch)
	if err != nil {
		return Outcome{}, err
	}

	src, err := source.Load(scriptPath)
	if err != nil {
		return Outcome{}, err
	}
	src.Watch(s.log)
	defer src.Close()

	host := luahost.NewState()
	defer host.Close()

	backend, err := render.Resolve(s.settings.Backend, src, s.settings.ContextLines, s.in, s.out, s.log)
	if err != nil {
		return Outcome{}, err
	}
	defer backend.Close()

	fmtr := format.New(s.settings.MaxValueRepr)
	ctrl := controller.New(backend, s.log)
	col := collector.New(host, ctrl, fmtr, watch, s.log)

	if err := host.LoadScript(scriptPath); err != nil {
		return Outcome{}, err
	}
	if err := host.RunChunk(); err != nil {
		return Outcome{}, fmt.Errorf("script top level: %w", err)
	}
	fn, err := host.ResolveFunction(fnExpr)
	if err != nil {
		return Outcome{}, err
	}
	args, err := literal.Convert(host.L, argsLiteral)
	if err != nil {
		return Outcome{}, err
	}

	s.log.Info("tracing %s in %s", fnExpr, scriptPath)
	results, runErr := col.Run(fn, args)
	outcome := Outcome{Steps: col.Steps()}

	switch {
	case errors.Is(runErr, collector.ErrHookHeld):
		// Nothing ran; no final screen to show.
		return outcome, runErr

	case errors.Is(runErr, collector.ErrQuit):
		ctrl.Quit()
		outcome.State = controller.StateQuit
		s.finish(backend, controller.StateQuit, col.Last(), "")

	case runErr != nil:
		ctrl.Fail()
		outcome.State = controller.StateFailed
		terr := s.traceError(host, col.Last(), runErr)
		s.finish(backend, controller.StateFailed, col.Last(), terr.Err.Error())
		s.wrapUp(col, src)
		return outcome, terr

	default:
		ctrl.Finish()
		outcome.State = controller.StateFinished
		s.finish(backend, controller.StateFinished, col.Last(),
			"return value = "+formatResults(fmtr, results))
	}

	s.wrapUp(col, src)
	return outcome, nil
}

// finish shows the final screen; a render failure at this point is only
// worth a log line.
func (s *Session) finish(backend render.Backend, st controller.State, last *snapshot.Snapshot, detail string) {
	if err := backend.Finish(st, last, detail); err != nil {
		s.log.Error("final display failed: %v", err)
	}
}

// wrapUp emits the end-of-session diagnostics.
func (s *Session) wrapUp(col *collector.Collector, src *source.File) {
	if names := col.UnmatchedWatches(); len(names) > 0 {
		s.log.Warn("watch names never matched a local: %s", strings.Join(names, ", "))
	}
	if src.Modified() {
		s.log.Warn("script changed on disk during the session; the shown text was loaded at start")
	}
}

func (s *Session) traceError(host *luahost.State, last *snapshot.Snapshot, err error) *TraceError {
	terr := &TraceError{
		Location: snapshot.Location{File: host.ChunkName()},
		Err:      err,
	}
	if last != nil {
		terr.Location = last.Location()
		terr.Depth = last.Depth()
	}
	return terr
}

// formatResults renders a return value list for the final display.
func formatResults(fmtr format.Formatter, results []lua.LValue) string {
	if len(results) == 0 {
		return "nil"
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmtr.Format(r)
	}
	return strings.Join(parts, ", ")
}
