// Package luahost embeds the gopher-lua VM that executes traced scripts and
// exposes the frame introspection the collector needs.
//
// gopher-lua's LState is not goroutine-safe; the tracer is single-threaded
// and cooperative, so every method here must be called from the goroutine
// that runs the session.
package luahost

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// HookGlobal is the name of the Go trace hook injected before every
// statement of the instrumented chunk. It is called with the statement's
// 1-based line and, at the first statement of a function body, a true
// frame-entry flag.
const HookGlobal = "__luastep_hook__"

// Package errors.
var (
	// ErrNoScript indicates no script has been loaded yet.
	ErrNoScript = errors.New("no script loaded")

	// ErrNotAFunction indicates the target expression did not resolve to
	// a Lua function.
	ErrNotAFunction = errors.New("expression does not name a function")
)

// State wraps a gopher-lua VM prepared for tracing: selective standard
// libraries, chunk loaders removed, and a single instrumented chunk.
type State struct {
	L *lua.LState

	chunkName string
	proto     *lua.FunctionProto
}

// NewState creates a VM with the safe base libraries opened and Lua's own
// chunk loaders removed.
func NewState() *State {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // opened selectively below
	})

	openSafeLibraries(L)
	removeChunkLoaders(L)

	return &State{L: L}
}

// openSafeLibraries opens only the Lua standard libraries a traced script
// may use.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Intentionally NOT opened:
	// - io, os (side effects outside the traced computation)
	// - debug (could observe or disturb the tracer's own hook)
	// - package (loads code with a foreign file identity)
}

// removeChunkLoaders strips the base library's chunk loaders. Code created
// through them would carry a file identity different from the traced
// script's and must never produce events.
func removeChunkLoaders(L *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// LoadScript parses the script at path, injects a trace-hook call before
// every statement, and compiles the result. The path becomes the chunk's
// file identity used for event filtering.
func (s *State) LoadScript(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening script: %w", err)
	}
	defer f.Close()

	chunk, err := parse.Parse(bufio.NewReader(f), path)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	chunk = instrumentBlock(chunk)

	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return fmt.Errorf("compiling %s: %w", path, err)
	}

	s.chunkName = path
	s.proto = proto
	return nil
}

// ChunkName returns the loaded script's file identity.
func (s *State) ChunkName() string { return s.chunkName }

// BindHook installs fn as the global trace hook. It must be bound before
// RunChunk: the chunk's top-level statements call it as soon as they run.
func (s *State) BindHook(fn lua.LGFunction) {
	s.L.SetGlobal(HookGlobal, s.L.NewFunction(fn))
}

// SetRunContext attaches a context to the VM. Cancelling it aborts
// execution at the next instruction boundary.
func (s *State) SetRunContext(ctx context.Context) {
	s.L.SetContext(ctx)
}

// RunChunk executes the instrumented chunk's top level, defining the
// script's functions and globals.
func (s *State) RunChunk() error {
	if s.proto == nil {
		return ErrNoScript
	}
	s.L.Push(s.L.NewFunctionFromProto(s.proto))
	return s.protectedCall(0, 0)
}

// ResolveFunction resolves a global name or dotted path ("a.b.c") to a
// Lua function defined by the chunk.
func (s *State) ResolveFunction(expr string) (*lua.LFunction, error) {
	parts := strings.Split(expr, ".")
	v := s.L.GetGlobal(parts[0])
	for _, part := range parts[1:] {
		tbl, ok := v.(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotAFunction, expr)
		}
		v = s.L.GetField(tbl, part)
	}
	fn, ok := v.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %q resolves to %s", ErrNotAFunction, expr, v.Type())
	}
	return fn, nil
}

// Call invokes a Lua function with the given arguments and returns all of
// its results. A panic inside the VM surfaces as an error.
func (s *State) Call(fn *lua.LFunction, args []lua.LValue) ([]lua.LValue, error) {
	stackTop := s.L.GetTop()

	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(arg)
	}

	if err := s.protectedCall(len(args), lua.MultRet); err != nil {
		return nil, err
	}

	nret := s.L.GetTop() - stackTop
	if nret <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, nret)
	for i := 0; i < nret; i++ {
		results[i] = s.L.Get(stackTop + i + 1)
	}
	s.L.Pop(nret)
	return results, nil
}

// protectedCall runs PCall with panic recovery.
func (s *State) protectedCall(nargs, nret int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return s.L.PCall(nargs, nret, nil)
}

// Close releases the VM.
func (s *State) Close() {
	s.L.Close()
}
