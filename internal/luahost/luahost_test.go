package luahost

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

const nestedScript = `function add(a, b)
    local sum = a + b
    return sum
end

function main(n)
    local x = n
    local y = add(x, 2)
    return y
end
`

// writeScript drops a script into a temp dir and returns its path.
func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.lua")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

// traceRun loads src, runs fn with args, and records (line, depth) pairs
// plus the locals seen at each hook call.
type traceRecord struct {
	Line   int
	Depth  int
	Entry  bool
	Locals map[string]string
}

func traceRun(t *testing.T, src, fn string, args ...lua.LValue) ([]traceRecord, []lua.LValue, error) {
	t.Helper()

	host := NewState()
	defer host.Close()

	if err := host.LoadScript(writeScript(t, src)); err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}

	var records []traceRecord
	armed := false
	host.BindHook(func(L *lua.LState) int {
		if !armed {
			return 0
		}
		locals := make(map[string]string)
		for _, nv := range host.CallerLocals() {
			locals[nv.Name] = nv.Value.String()
		}
		records = append(records, traceRecord{
			Line:   L.ToInt(1),
			Depth:  host.Depth(),
			Entry:  lua.LVAsBool(L.Get(2)),
			Locals: locals,
		})
		return 0
	})

	if err := host.RunChunk(); err != nil {
		t.Fatalf("RunChunk() error = %v", err)
	}

	target, err := host.ResolveFunction(fn)
	if err != nil {
		t.Fatalf("ResolveFunction(%q) error = %v", fn, err)
	}

	armed = true
	results, err := host.Call(target, args)
	return records, results, err
}

func TestTraceLinesAndDepth(t *testing.T) {
	records, results, err := traceRun(t, nestedScript, "main", lua.LNumber(5))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	if len(results) != 1 || results[0].String() != "7" {
		t.Fatalf("Call() results = %v, want [7]", results)
	}

	var got [][2]int
	for _, r := range records {
		got = append(got, [2]int{r.Line, r.Depth})
	}
	want := [][2]int{{7, 0}, {8, 0}, {2, 1}, {3, 1}, {9, 0}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("traced (line, depth) = %v, want %v", got, want)
	}
}

func TestEntryFlagMarksFunctionBodyFirstStatement(t *testing.T) {
	records, _, err := traceRun(t, nestedScript, "main", lua.LNumber(5))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	// Lines 7 and 2 open their function bodies; every other hook call
	// carries no entry flag.
	entries := map[int]bool{7: true, 2: true}
	for _, r := range records {
		if r.Entry != entries[r.Line] {
			t.Errorf("entry flag at line %d = %v, want %v", r.Line, r.Entry, entries[r.Line])
		}
	}
}

func TestCallerLocalsPointInTime(t *testing.T) {
	records, _, err := traceRun(t, nestedScript, "main", lua.LNumber(5))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	// At line 8, x is bound but y is not yet.
	var atLine8 *traceRecord
	for i := range records {
		if records[i].Line == 8 {
			atLine8 = &records[i]
		}
	}
	if atLine8 == nil {
		t.Fatal("no record for line 8")
	}
	if atLine8.Locals["x"] != "5" {
		t.Errorf("locals at line 8 = %v, want x=5", atLine8.Locals)
	}
	if _, bound := atLine8.Locals["y"]; bound {
		t.Errorf("y already bound at line 8: %v", atLine8.Locals)
	}
}

func TestInstrumentationCoversBlocksAndLiterals(t *testing.T) {
	src := `function main()
    local total = 0
    for i = 1, 2 do
        total = total + i
    end
    local f = function(v)
        return v * 2
    end
    if total > 0 then
        total = f(total)
    end
    return total
end
`
	records, results, err := traceRun(t, src, "main")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(results) != 1 || results[0].String() != "6" {
		t.Fatalf("Call() results = %v, want [6]", results)
	}

	seen := make(map[int]bool)
	for _, r := range records {
		seen[r.Line] = true
	}
	for _, line := range []int{2, 3, 4, 6, 7, 9, 10, 12} {
		if !seen[line] {
			t.Errorf("no event for statement line %d; got %v", line, records)
		}
	}
}

func TestChunkLoadersRemoved(t *testing.T) {
	host := NewState()
	defer host.Close()

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		if v := host.L.GetGlobal(name); v != lua.LNil {
			t.Errorf("global %q = %v, want nil", name, v)
		}
	}
}

func TestResolveFunctionDottedPath(t *testing.T) {
	src := `solver = {}
function solver.run(n)
    return n + 1
end
`
	host := NewState()
	defer host.Close()
	if err := host.LoadScript(writeScript(t, src)); err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	host.BindHook(func(L *lua.LState) int { return 0 })
	if err := host.RunChunk(); err != nil {
		t.Fatalf("RunChunk() error = %v", err)
	}

	if _, err := host.ResolveFunction("solver.run"); err != nil {
		t.Errorf("ResolveFunction(solver.run) error = %v", err)
	}
	if _, err := host.ResolveFunction("solver.missing"); !errors.Is(err, ErrNotAFunction) {
		t.Errorf("ResolveFunction(solver.missing) error = %v, want ErrNotAFunction", err)
	}
	if _, err := host.ResolveFunction("solver"); !errors.Is(err, ErrNotAFunction) {
		t.Errorf("ResolveFunction(solver) error = %v, want ErrNotAFunction", err)
	}
}

func TestRunChunkRequiresScript(t *testing.T) {
	host := NewState()
	defer host.Close()

	if err := host.RunChunk(); !errors.Is(err, ErrNoScript) {
		t.Errorf("RunChunk() error = %v, want ErrNoScript", err)
	}
}

func TestContextCancellationAbortsRun(t *testing.T) {
	src := `function main()
    local i = 0
    while true do
        i = i + 1
    end
end
`
	host := NewState()
	defer host.Close()
	if err := host.LoadScript(writeScript(t, src)); err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	host.SetRunContext(ctx)

	calls := 0
	host.BindHook(func(L *lua.LState) int {
		calls++
		if calls > 5 {
			cancel()
		}
		return 0
	})
	if err := host.RunChunk(); err != nil {
		t.Fatalf("RunChunk() error = %v", err)
	}

	target, err := host.ResolveFunction("main")
	if err != nil {
		t.Fatalf("ResolveFunction() error = %v", err)
	}
	if _, err := host.Call(target, nil); err == nil {
		t.Error("Call() after cancellation returned nil error, want abort")
	}
}

func TestCallErrorPropagates(t *testing.T) {
	src := `function main()
    error("boom")
end
`
	_, _, err := traceRun(t, src, "main")
	if err == nil {
		t.Fatal("Call() error = nil, want raised condition")
	}
}
