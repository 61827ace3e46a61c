// Package plain renders snapshots as plain text on a writer and reads
// stepping commands line by line. It is the fallback when no terminal is
// available and the natural choice for piped or scripted sessions.
package plain

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/luastep/internal/controller"
	"github.com/dshills/luastep/internal/snapshot"
	"github.com/dshills/luastep/internal/source"
)

const prompt = "step [Enter] | continue [c] | quit [q]: "

// Backend writes one text block per snapshot and prompts for a command
// while the session is paused. When the command reader is exhausted the
// backend stops prompting and steps through the rest of the session.
type Backend struct {
	src    *source.File
	radius int
	in     *bufio.Scanner
	out    io.Writer
	eof    bool
}

// New creates a plain backend reading commands from in and rendering to out.
func New(src *source.File, radius int, in io.Reader, out io.Writer) *Backend {
	return &Backend{
		src:    src,
		radius: radius,
		in:     bufio.NewScanner(in),
		out:    out,
	}
}

// Display renders the snapshot and, when paused, prompts until it reads a
// recognized command.
func (b *Backend) Display(snap *snapshot.Snapshot, st controller.State) (controller.Command, error) {
	if err := b.render(snap); err != nil {
		return controller.CommandNone, err
	}
	if st != controller.StatePaused {
		return controller.CommandNone, nil
	}
	return b.readCommand()
}

// Finish writes the final state line. The last snapshot stays on screen
// above it; detail carries the return value or failure text.
func (b *Backend) Finish(st controller.State, last *snapshot.Snapshot, detail string) error {
	if last == nil && st == controller.StateFinished {
		// Nothing qualified for tracing; say so rather than showing an
		// empty session.
		fmt.Fprintln(b.out, "(no traceable lines executed)")
	}
	if detail != "" {
		_, err := fmt.Fprintf(b.out, "== %s: %s ==\n", st, detail)
		return err
	}
	_, err := fmt.Fprintf(b.out, "== %s ==\n", st)
	return err
}

// Close is a no-op; the backend owns neither of its streams.
func (b *Backend) Close() {}

func (b *Backend) render(snap *snapshot.Snapshot) error {
	loc := snap.Location()

	fmt.Fprintf(b.out, "\n[%s] %s  step %d  depth %d", snap.Event(), loc, snap.StepIndex(), snap.Depth())
	if d := snap.Detail(); d != "" {
		fmt.Fprintf(b.out, "  args %s", d)
	}
	fmt.Fprintln(b.out)

	b.renderContext(loc.Line)
	if err := b.renderBindings("Watch vars", snap.Watched()); err != nil {
		return err
	}
	return b.renderBindings("Locals", snap.Locals())
}

func (b *Backend) renderContext(current int) {
	lines := b.src.Context(current, b.radius)
	width := 0
	for _, ln := range lines {
		if w := len(fmt.Sprint(ln.Number)); w > width {
			width = w
		}
	}
	for _, ln := range lines {
		marker := "  "
		if ln.Current {
			marker = "->"
		}
		fmt.Fprintf(b.out, "%s %*d | %s\n", marker, width, ln.Number, ln.Text)
	}
}

func (b *Backend) renderBindings(title string, bindings []snapshot.Binding) error {
	if len(bindings) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(b.out, " * %s\n", title); err != nil {
		return err
	}
	for _, bd := range bindings {
		if _, err := fmt.Fprintf(b.out, "     %s = %s\n", bd.Name, bd.Value); err != nil {
			return err
		}
	}
	return nil
}

// readCommand prompts until a recognized command arrives. Unrecognized
// input re-prompts; end of input means step from here on.
func (b *Backend) readCommand() (controller.Command, error) {
	if b.eof {
		return controller.CommandStep, nil
	}
	for {
		fmt.Fprint(b.out, prompt)
		if !b.in.Scan() {
			b.eof = true
			fmt.Fprintln(b.out)
			if err := b.in.Err(); err != nil {
				return controller.CommandStep, err
			}
			return controller.CommandStep, nil
		}
		switch strings.ToLower(strings.TrimSpace(b.in.Text())) {
		case "", "s", "n":
			return controller.CommandStep, nil
		case "c":
			return controller.CommandContinue, nil
		case "q":
			return controller.CommandQuit, nil
		}
	}
}
