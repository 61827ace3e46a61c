// Package collector observes the instrumented VM's execution events,
// filters them to the traced computation, and emits exactly one snapshot
// per qualifying line, in execution order.
package collector

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luastep/internal/format"
	"github.com/dshills/luastep/internal/logging"
	"github.com/dshills/luastep/internal/luahost"
	"github.com/dshills/luastep/internal/snapshot"
)

// Package errors.
var (
	// ErrHookHeld indicates the process-wide trace hook is already owned
	// by another running session.
	ErrHookHeld = errors.New("trace hook already held by another session")

	// ErrQuit indicates the user aborted the session.
	ErrQuit = errors.New("trace aborted by user")
)

// hookHeld is the single process-wide hook slot. Acquiring it while held
// fails fast; sessions never queue for it.
var hookHeld atomic.Bool

// acquireHook claims the hook slot and returns its release function.
func acquireHook() (func(), error) {
	if !hookHeld.CompareAndSwap(false, true) {
		return nil, ErrHookHeld
	}
	return func() { hookHeld.Store(false) }, nil
}

// Sink consumes snapshots in execution order. Advance reports whether
// execution may proceed; false tells the collector to unwind the target.
type Sink interface {
	Advance(*snapshot.Snapshot) bool
}

// Collector builds snapshots from qualifying execution events and pushes
// them to a sink. It never alters the traced computation's bindings or
// return values.
type Collector struct {
	host  *luahost.State
	sink  Sink
	fmtr  format.Formatter
	watch *snapshot.WatchSet
	log   *logging.Logger

	armed    bool
	quitting bool
	step     uint64
	last     *snapshot.Snapshot
	cancel   context.CancelFunc
	matched  map[string]bool
}

// New creates a collector and binds its hook into the host VM. The hook
// stays disarmed until Run, so loading the chunk produces no snapshots.
func New(host *luahost.State, sink Sink, fmtr format.Formatter, watch *snapshot.WatchSet, log *logging.Logger) *Collector {
	if log == nil {
		log = logging.Nop
	}
	c := &Collector{
		host:    host,
		sink:    sink,
		fmtr:    fmtr,
		watch:   watch,
		log:     log.WithComponent("collector"),
		matched: make(map[string]bool),
	}
	host.BindHook(c.onEvent)
	return c
}

// Run executes the traced callable under the hook. The hook slot is
// acquired for the duration of the call and released on every exit path:
// normal return, raised condition, or quit.
func (c *Collector) Run(fn *lua.LFunction, args []lua.LValue) ([]lua.LValue, error) {
	release, err := acquireHook()
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.cancel = cancel
	c.host.SetRunContext(ctx)

	c.armed = true
	defer func() { c.armed = false }()

	results, err := c.host.Call(fn, args)
	if c.quitting {
		// The abort unwound the VM; the error it produced is ours.
		return nil, ErrQuit
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Last returns the most recent snapshot, which stays available after the
// session ends for a final display.
func (c *Collector) Last() *snapshot.Snapshot { return c.last }

// Steps returns how many snapshots were produced.
func (c *Collector) Steps() uint64 { return c.step }

// UnmatchedWatches returns the watch names that never matched a binding in
// any snapshot of the session.
func (c *Collector) UnmatchedWatches() []string {
	var out []string
	for _, name := range c.watch.Names() {
		if !c.matched[name] {
			out = append(out, name)
		}
	}
	return out
}

// onEvent is the VM hook. It runs on the session goroutine between two
// statements of the traced chunk.
func (c *Collector) onEvent(L *lua.LState) int {
	if !c.armed || c.quitting {
		return 0
	}

	snap := c.buildSnapshot(L.ToInt(1), lua.LVAsBool(L.Get(2)))
	c.last = snap

	if !c.sink.Advance(snap) {
		// Abort: stop producing and unwind at the next instruction.
		c.quitting = true
		if c.cancel != nil {
			c.cancel()
		}
		c.log.Debug("abort requested at step %d", snap.StepIndex())
	}
	return 0
}

// buildSnapshot captures the qualifying event at the given line: a
// point-in-time copy of the caller frame's locals, each run through the
// formatter, with depth computed from qualifying frames only. entered is
// the instrumenter's frame-entry flag.
func (c *Collector) buildSnapshot(line int, entered bool) *snapshot.Snapshot {
	depth := c.host.Depth()

	named := c.host.CallerLocals()
	bindings := make([]snapshot.Binding, 0, len(named))
	for _, nv := range named {
		bindings = append(bindings, snapshot.Binding{
			Name:  nv.Name,
			Value: c.fmtr.Format(nv.Value),
		})
	}

	ev := snapshot.EventLine
	detail := ""
	if entered {
		// First line inside a newly entered call: only the parameters
		// are bound at this instant, so the bindings are the call args.
		ev = snapshot.EventCall
		detail = callDetail(bindings)
	}

	c.step++
	snap := snapshot.New(
		snapshot.Location{File: c.host.ChunkName(), Line: line},
		ev, detail, depth, c.step, bindings, c.watch,
	)
	for _, b := range snap.Watched() {
		c.matched[b.Name] = true
	}
	return snap
}

// callDetail renders entry bindings in declaration order as a call
// argument list.
func callDetail(bindings []snapshot.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		parts = append(parts, b.Name+"="+b.Value)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
