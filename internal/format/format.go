// Package format produces bounded, human-readable representations of Lua
// values for snapshot display.
package format

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Marker is appended to every truncated representation.
const Marker = "..."

// Placeholder replaces a value whose representation could not be produced.
const Placeholder = "<unrepresentable>"

// maxTableDepth bounds recursion into nested tables so self-referential or
// deeply nested data stays representable.
const maxTableDepth = 4

// DefaultMaxRepr is the truncation length used when none is configured.
const DefaultMaxRepr = 120

// Formatter renders Lua values as display strings no longer than MaxRepr
// runes plus the truncation marker.
type Formatter struct {
	// MaxRepr is the maximum representation length in runes before
	// truncation. Must be positive.
	MaxRepr int
}

// New returns a Formatter with the given truncation length. Non-positive
// values fall back to DefaultMaxRepr.
func New(maxRepr int) Formatter {
	if maxRepr <= 0 {
		maxRepr = DefaultMaxRepr
	}
	return Formatter{MaxRepr: maxRepr}
}

// Format renders a single Lua value. It never panics; a value that cannot
// be represented degrades to Placeholder.
func (f Formatter) Format(v lua.LValue) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = f.Clamp(Placeholder)
		}
	}()
	return f.Clamp(repr(v, 0, nil))
}

// Clamp enforces the truncation law on an already-rendered string: output
// longer than MaxRepr runes is cut to exactly MaxRepr runes with Marker
// appended. Clamping a previously clamped string is a no-op.
func (f Formatter) Clamp(s string) string {
	max := f.MaxRepr
	if max <= 0 {
		max = DefaultMaxRepr
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	// Already-clamped output is exactly max runes plus the marker.
	if len(runes) == max+len(Marker) && strings.HasSuffix(s, Marker) {
		return s
	}
	return string(runes[:max]) + Marker
}

// repr produces the canonical unbounded representation of a value.
func repr(v lua.LValue, depth int, seen map[*lua.LTable]bool) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case *lua.LNilType:
		return "nil"
	case lua.LBool:
		if bool(val) {
			return "true"
		}
		return "false"
	case lua.LNumber:
		return val.String()
	case lua.LString:
		return strconv.Quote(string(val))
	case *lua.LTable:
		return tableRepr(val, depth, seen)
	default:
		// Functions, userdata, channels: the runtime's own notation.
		return v.String()
	}
}

// tableRepr renders a table in Lua constructor syntax: the array part in
// index order followed by remaining keys sorted for determinism.
func tableRepr(t *lua.LTable, depth int, seen map[*lua.LTable]bool) string {
	if depth >= maxTableDepth {
		return "{...}"
	}
	if seen == nil {
		seen = make(map[*lua.LTable]bool)
	}
	if seen[t] {
		return "{...}"
	}
	seen[t] = true
	defer delete(seen, t)

	var parts []string
	n := t.Len()
	for i := 1; i <= n; i++ {
		parts = append(parts, repr(t.RawGetInt(i), depth+1, seen))
	}

	var keyed []string
	t.ForEach(func(k, v lua.LValue) {
		if num, ok := k.(lua.LNumber); ok {
			if i := int(num); lua.LNumber(i) == num && i >= 1 && i <= n {
				return // already rendered in the array part
			}
		}
		keyed = append(keyed, fmt.Sprintf("%s = %s", keyRepr(k), repr(v, depth+1, seen)))
	})
	sort.Strings(keyed)
	parts = append(parts, keyed...)

	return "{" + strings.Join(parts, ", ") + "}"
}

// keyRepr renders a table key: bare identifiers stay bare, everything else
// uses bracket syntax.
func keyRepr(k lua.LValue) string {
	if s, ok := k.(lua.LString); ok && isIdent(string(s)) {
		return string(s)
	}
	return "[" + repr(k, maxTableDepth, nil) + "]"
}

func isIdent(s string) bool {
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
