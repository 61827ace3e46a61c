// Package literal parses the command line's JSON argument literal and
// converts it into the Lua values passed to the traced function.
package literal

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"
)

// ErrBadLiteral indicates a malformed argument literal. It is detected
// before any tracing starts.
var ErrBadLiteral = errors.New("malformed argument literal")

// Validate checks the literal's shape: valid JSON whose top-level value is
// an array, each element becoming one positional argument. The empty
// string means no arguments.
func Validate(s string) error {
	if s == "" {
		return nil
	}
	if !gjson.Valid(s) {
		return fmt.Errorf("%w: not valid JSON", ErrBadLiteral)
	}
	if !gjson.Parse(s).IsArray() {
		return fmt.Errorf("%w: top-level value must be an array", ErrBadLiteral)
	}
	return nil
}

// Convert builds the argument list described by the literal. Objects and
// nested arrays become Lua tables allocated on L.
func Convert(L *lua.LState, s string) ([]lua.LValue, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}

	elements := gjson.Parse(s).Array()
	args := make([]lua.LValue, 0, len(elements))
	for _, el := range elements {
		args = append(args, toLua(L, el))
	}
	return args, nil
}

func toLua(L *lua.LState, v gjson.Result) lua.LValue {
	switch v.Type {
	case gjson.Null:
		return lua.LNil
	case gjson.False:
		return lua.LFalse
	case gjson.True:
		return lua.LTrue
	case gjson.Number:
		return lua.LNumber(v.Num)
	case gjson.String:
		return lua.LString(v.Str)
	default:
		// Object or array.
		if v.IsArray() {
			elements := v.Array()
			tbl := L.CreateTable(len(elements), 0)
			for _, el := range elements {
				tbl.Append(toLua(L, el))
			}
			return tbl
		}
		tbl := L.CreateTable(0, 0)
		v.ForEach(func(key, val gjson.Result) bool {
			tbl.RawSetString(key.Str, toLua(L, val))
			return true
		})
		return tbl
	}
}
