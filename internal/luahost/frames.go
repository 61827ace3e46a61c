package luahost

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// NamedValue is one named local variable observed in a live frame.
type NamedValue struct {
	Name  string
	Value lua.LValue
}

// CallerLocals returns the named locals visible in the Lua frame that
// invoked the hook, in declaration order. Shadowed names keep the innermost
// value at the original position. Runtime-internal slots (parenthesized
// names) are skipped. The returned slice is a point-in-time copy owned by
// the caller; the frame is never mutated.
func (s *State) CallerLocals() []NamedValue {
	dbg, ok := s.L.GetStack(1)
	if !ok {
		return nil
	}

	var out []NamedValue
	pos := make(map[string]int)
	for i := 1; ; i++ {
		name, value := s.L.GetLocal(dbg, i)
		if name == "" {
			break
		}
		if strings.HasPrefix(name, "(") {
			continue
		}
		if j, seen := pos[name]; seen {
			out[j].Value = value
			continue
		}
		pos[name] = len(out)
		out = append(out, NamedValue{Name: name, Value: value})
	}
	return out
}

// Depth counts nested qualifying calls at the hook's call site: 0 while the
// top-level traced call executes, 1 inside one nested call, and so on.
// Frames whose source is not the traced chunk (Go functions, any foreign
// chunk) never contribute. The result is never negative.
func (s *State) Depth() int {
	frames := 0
	for level := 1; ; level++ {
		dbg, ok := s.L.GetStack(level)
		if !ok {
			break
		}
		if _, err := s.L.GetInfo("S", dbg, lua.LNil); err != nil {
			continue
		}
		if dbg.Source != s.chunkName {
			continue
		}
		frames++
	}
	if frames <= 1 {
		return 0
	}
	return frames - 1
}
