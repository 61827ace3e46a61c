package collector

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luastep/internal/format"
	"github.com/dshills/luastep/internal/luahost"
	"github.com/dshills/luastep/internal/snapshot"
)

// recordingSink accepts every snapshot, optionally refusing from a given
// step index onward.
type recordingSink struct {
	snaps    []*snapshot.Snapshot
	quitAt   uint64
	advanced int
}

func (s *recordingSink) Advance(snap *snapshot.Snapshot) bool {
	s.snaps = append(s.snaps, snap)
	s.advanced++
	if s.quitAt != 0 && snap.StepIndex() >= s.quitAt {
		return false
	}
	return true
}

func writeScript(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.lua")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

// newSession loads the script and wires a collector over the given sink,
// mirroring the wiring order of a real session: hook bound before the
// chunk's top level runs.
func newSession(t *testing.T, script string, sink Sink, watch *snapshot.WatchSet) (*luahost.State, *Collector) {
	t.Helper()
	host := luahost.NewState()
	t.Cleanup(host.Close)

	col := New(host, sink, format.New(format.DefaultMaxRepr), watch, nil)

	if err := host.LoadScript(writeScript(t, script)); err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	if err := host.RunChunk(); err != nil {
		t.Fatalf("RunChunk() error = %v", err)
	}
	return host, col
}

func mustResolve(t *testing.T, host *luahost.State, expr string) *lua.LFunction {
	t.Helper()
	fn, err := host.ResolveFunction(expr)
	if err != nil {
		t.Fatalf("ResolveFunction(%q) error = %v", expr, err)
	}
	return fn
}

const threeLineScript = `function main()
    local a = 1
    local b = 2
    return a + b
end
`

func TestOneSnapshotPerLine(t *testing.T) {
	sink := &recordingSink{}
	host, col := newSession(t, threeLineScript, sink, nil)

	results, err := col.Run(mustResolve(t, host, "main"), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 1 || results[0].String() != "3" {
		t.Errorf("results = %v, want [3]", results)
	}

	if len(sink.snaps) != 3 {
		t.Fatalf("snapshots = %d, want 3", len(sink.snaps))
	}
	for i, wantLine := range []int{2, 3, 4} {
		snap := sink.snaps[i]
		if snap.Location().Line != wantLine {
			t.Errorf("snapshot %d line = %d, want %d", i, snap.Location().Line, wantLine)
		}
		if snap.Depth() != 0 {
			t.Errorf("snapshot %d depth = %d, want 0", i, snap.Depth())
		}
		if snap.StepIndex() != uint64(i+1) {
			t.Errorf("snapshot %d step = %d, want %d", i, snap.StepIndex(), i+1)
		}
	}
}

func TestChunkTopLevelProducesNoSnapshots(t *testing.T) {
	sink := &recordingSink{}
	// The top level assigns a global and defines main; only main's body
	// may produce snapshots.
	_, col := newSession(t, "g = 10\nfunction main()\n    return g\nend\n", sink, nil)

	if len(sink.snaps) != 0 {
		t.Fatalf("snapshots after RunChunk = %d, want 0", len(sink.snaps))
	}
	if col.Steps() != 0 {
		t.Errorf("Steps() = %d, want 0", col.Steps())
	}
}

func TestCallEventAndDepth(t *testing.T) {
	const script = `function add(x, y)
    return x + y
end

function main()
    local a = 3
    local b = add(a, 4)
    return b
end
`
	sink := &recordingSink{}
	host, col := newSession(t, script, sink, nil)

	if _, err := col.Run(mustResolve(t, host, "main"), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []struct {
		line  int
		depth int
		event snapshot.Event
	}{
		{6, 0, snapshot.EventCall}, // session entry
		{7, 0, snapshot.EventLine},
		{2, 1, snapshot.EventCall}, // entered add
		{8, 0, snapshot.EventLine},
	}
	if len(sink.snaps) != len(want) {
		t.Fatalf("snapshots = %d, want %d", len(sink.snaps), len(want))
	}
	for i, w := range want {
		snap := sink.snaps[i]
		if snap.Location().Line != w.line || snap.Depth() != w.depth || snap.Event() != w.event {
			t.Errorf("snapshot %d = line %d depth %d %s, want line %d depth %d %s",
				i, snap.Location().Line, snap.Depth(), snap.Event(), w.line, w.depth, w.event)
		}
	}

	// At the entry of add only the parameters are bound, so the call
	// detail is the argument list.
	if got := sink.snaps[2].Detail(); got != "(x=3, y=4)" {
		t.Errorf("call detail = %q, want %q", got, "(x=3, y=4)")
	}
}

func TestSiblingCallsEachLabeledCall(t *testing.T) {
	// Two calls entered from the same statement stay at the same depth;
	// each entry must still be labeled CALL with its own argument detail.
	const script = `function one(a)
    return a
end

function two(b)
    return b
end

function main()
    local s = one(1) + two(2)
    return s
end
`
	sink := &recordingSink{}
	host, col := newSession(t, script, sink, nil)

	if _, err := col.Run(mustResolve(t, host, "main"), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []struct {
		line   int
		depth  int
		event  snapshot.Event
		detail string
	}{
		{10, 0, snapshot.EventCall, "()"},
		{2, 1, snapshot.EventCall, "(a=1)"},
		{6, 1, snapshot.EventCall, "(b=2)"},
		{11, 0, snapshot.EventLine, ""},
	}
	if len(sink.snaps) != len(want) {
		t.Fatalf("snapshots = %d, want %d", len(sink.snaps), len(want))
	}
	for i, w := range want {
		snap := sink.snaps[i]
		if snap.Location().Line != w.line || snap.Depth() != w.depth ||
			snap.Event() != w.event || snap.Detail() != w.detail {
			t.Errorf("snapshot %d = line %d depth %d %s %q, want line %d depth %d %s %q",
				i, snap.Location().Line, snap.Depth(), snap.Event(), snap.Detail(),
				w.line, w.depth, w.event, w.detail)
		}
	}
}

func TestWatchedBindingsTracked(t *testing.T) {
	const script = `function main()
    local x = 42
    return x
end
`
	watch, err := snapshot.NewWatchSet([]string{"x", "ghost"})
	if err != nil {
		t.Fatalf("NewWatchSet() error = %v", err)
	}
	sink := &recordingSink{}
	host, col := newSession(t, script, sink, watch)

	if _, err := col.Run(mustResolve(t, host, "main"), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Line 2 runs before x is bound; line 3 sees it.
	if w := sink.snaps[0].Watched(); len(w) != 0 {
		t.Errorf("watched at line 2 = %v, want empty", w)
	}
	if w := sink.snaps[1].Watched(); len(w) != 1 || w[0].Value != "42" {
		t.Errorf("watched at line 3 = %v, want [x=42]", w)
	}

	if got := col.UnmatchedWatches(); len(got) != 1 || got[0] != "ghost" {
		t.Errorf("UnmatchedWatches() = %v, want [ghost]", got)
	}
}

func TestErrorMidTraceKeepsLastSnapshot(t *testing.T) {
	const script = `function main()
    local a = 1
    error("boom")
    return a
end
`
	sink := &recordingSink{}
	host, col := newSession(t, script, sink, nil)

	_, err := col.Run(mustResolve(t, host, "main"), nil)
	if err == nil {
		t.Fatal("Run() error = nil, want raised condition")
	}
	if errors.Is(err, ErrQuit) {
		t.Fatalf("Run() error = ErrQuit, want lua error: %v", err)
	}

	last := col.Last()
	if last == nil || last.Location().Line != 3 {
		t.Fatalf("Last() = %v, want snapshot at line 3", last)
	}

	// The hook slot must be released even on the error path.
	if _, err := col.Run(mustResolve(t, host, "main"), nil); err == nil {
		t.Fatal("second Run() error = nil, want raised condition")
	} else if errors.Is(err, ErrHookHeld) {
		t.Fatalf("second Run() error = ErrHookHeld; slot not released")
	}
}

func TestQuitAbortsExecution(t *testing.T) {
	const script = `function main()
    local n = 0
    while true do
        n = n + 1
    end
end
`
	sink := &recordingSink{quitAt: 5}
	host, col := newSession(t, script, sink, nil)

	_, err := col.Run(mustResolve(t, host, "main"), nil)
	if !errors.Is(err, ErrQuit) {
		t.Fatalf("Run() error = %v, want ErrQuit", err)
	}
	if sink.advanced != 5 {
		t.Errorf("sink advanced %d times after quit, want 5", sink.advanced)
	}
	if col.Last() == nil || col.Last().StepIndex() != 5 {
		t.Errorf("Last() step = %v, want 5", col.Last())
	}
}

func TestHookSlotSingleAcquisition(t *testing.T) {
	release, err := acquireHook()
	if err != nil {
		t.Fatalf("acquireHook() error = %v", err)
	}
	defer release()

	if _, err := acquireHook(); !errors.Is(err, ErrHookHeld) {
		t.Fatalf("second acquireHook() error = %v, want ErrHookHeld", err)
	}

	sink := &recordingSink{}
	host, col := newSession(t, threeLineScript, sink, nil)
	if _, err := col.Run(mustResolve(t, host, "main"), nil); !errors.Is(err, ErrHookHeld) {
		t.Fatalf("Run() with held slot error = %v, want ErrHookHeld", err)
	}
	if len(sink.snaps) != 0 {
		t.Errorf("snapshots produced without the slot = %d, want 0", len(sink.snaps))
	}
}

func TestGoCallsDoNotQualify(t *testing.T) {
	const script = `function main()
    local s = string.rep("a", 3)
    return s
end
`
	sink := &recordingSink{}
	host, col := newSession(t, script, sink, nil)

	if _, err := col.Run(mustResolve(t, host, "main"), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// string.rep is a Go function: no events, no depth change.
	if len(sink.snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(sink.snaps))
	}
	for i, snap := range sink.snaps {
		if snap.Depth() != 0 {
			t.Errorf("snapshot %d depth = %d, want 0", i, snap.Depth())
		}
	}
}
