// Package term renders snapshots on a full-screen tcell terminal: header,
// source context with the current line highlighted, watch and locals panes,
// and a key-driven command prompt.
package term

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"github.com/dshills/luastep/internal/controller"
	"github.com/dshills/luastep/internal/snapshot"
	"github.com/dshills/luastep/internal/source"
)

var (
	styleHeader  = tcell.StyleDefault.Bold(true).Reverse(true)
	styleSource  = tcell.StyleDefault
	styleGutter  = tcell.StyleDefault.Dim(true)
	styleCurrent = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	styleTitle   = tcell.StyleDefault.Bold(true).Underline(true)
	styleWatch   = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	styleFooter  = tcell.StyleDefault.Dim(true)
)

// Backend is the rich terminal display. Methods must be called from the
// session goroutine; the screen is not shared.
type Backend struct {
	screen tcell.Screen
	src    *source.File
	radius int
	closed bool
}

// New creates a backend on the process's terminal.
func New(src *source.File, radius int) (*Backend, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return newWithScreen(screen, src, radius)
}

// newWithScreen wires a backend over an existing screen. Tests pass a
// tcell simulation screen here.
func newWithScreen(screen tcell.Screen, src *source.File, radius int) (*Backend, error) {
	if err := screen.Init(); err != nil {
		return nil, err
	}
	screen.HideCursor()
	return &Backend{screen: screen, src: src, radius: radius}, nil
}

// Display draws the snapshot and, when the session is paused, polls for a
// stepping command.
func (b *Backend) Display(snap *snapshot.Snapshot, st controller.State) (controller.Command, error) {
	footer := " Step: Enter | Continue: c | Quit: q "
	if st != controller.StatePaused {
		footer = " continuing... (no input expected) "
	}
	b.draw(snap, headerText(snap, st.String()), footer)
	if st != controller.StatePaused {
		return controller.CommandNone, nil
	}

	for {
		switch ev := b.screen.PollEvent().(type) {
		case *tcell.EventResize:
			b.screen.Sync()
			b.draw(snap, headerText(snap, st.String()), footer)
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyEnter:
				return controller.CommandStep, nil
			case ev.Key() == tcell.KeyCtrlC || ev.Key() == tcell.KeyEscape:
				return controller.CommandQuit, nil
			case ev.Key() == tcell.KeyRune:
				switch ev.Rune() {
				case 's', 'n', ' ':
					return controller.CommandStep, nil
				case 'c', 'C':
					return controller.CommandContinue, nil
				case 'q', 'Q':
					return controller.CommandQuit, nil
				}
			}
		}
	}
}

// Finish shows the session outcome over the last snapshot and waits for a
// keypress so the final screen can be read before teardown.
func (b *Backend) Finish(st controller.State, last *snapshot.Snapshot, detail string) error {
	banner := " " + st.String()
	if detail != "" {
		banner += ": " + detail
	}
	footer := " press any key to close "

	if last != nil {
		b.draw(last, banner+"  "+headerText(last, ""), footer)
	} else {
		b.screen.Clear()
		w, h := b.screen.Size()
		b.drawText(0, 0, w, banner, styleHeader)
		b.drawText(0, 2, w, " (no traceable lines executed)", styleSource)
		b.drawText(0, h-1, w, footer, styleFooter)
		b.screen.Show()
	}

	for {
		switch b.screen.PollEvent().(type) {
		case *tcell.EventKey:
			return nil
		case *tcell.EventResize:
			b.screen.Sync()
		}
	}
}

// Close releases the terminal. Safe to call more than once.
func (b *Backend) Close() {
	if !b.closed {
		b.closed = true
		b.screen.Fini()
	}
}

func headerText(snap *snapshot.Snapshot, status string) string {
	text := fmt.Sprintf(" %s [%s] %s  step %d  depth %d",
		status, snap.Event(), snap.Location(), snap.StepIndex(), snap.Depth())
	if d := snap.Detail(); d != "" {
		text += "  args " + d
	}
	return text
}

func (b *Backend) draw(snap *snapshot.Snapshot, header, footer string) {
	b.screen.Clear()
	w, h := b.screen.Size()

	b.fillRow(0, w, styleHeader)
	b.drawText(0, 0, w, header, styleHeader)
	row := 2

	for _, ln := range b.src.Context(snap.Location().Line, b.radius) {
		if row >= h-1 {
			break
		}
		gutter := fmt.Sprintf("   %4d | ", ln.Number)
		style := styleSource
		if ln.Current {
			gutter = "->" + gutter[2:]
			style = styleCurrent
		}
		b.drawText(0, row, w, gutter, styleGutter)
		b.drawText(runewidth.StringWidth(gutter), row, w, ln.Text, style)
		row++
	}
	row++

	row = b.drawBindings(row, h, w, "Watch", snap.Watched(), styleWatch)
	b.drawBindings(row, h, w, "Locals", snap.Locals(), styleSource)

	b.drawText(0, h-1, w, footer, styleFooter)
	b.screen.Show()
}

func (b *Backend) drawBindings(row, h, w int, title string, bindings []snapshot.Binding, style tcell.Style) int {
	if len(bindings) == 0 || row >= h-1 {
		return row
	}
	b.drawText(1, row, w, title, styleTitle)
	row++
	for _, bd := range bindings {
		if row >= h-1 {
			break
		}
		b.drawText(0, row, w, fmt.Sprintf("     %s = %s", bd.Name, bd.Value), style)
		row++
	}
	return row + 1
}

func (b *Backend) fillRow(y, w int, style tcell.Style) {
	for x := 0; x < w; x++ {
		b.screen.SetContent(x, y, ' ', nil, style)
	}
}

// drawText writes text at (x, y), clipping at maxX. Wide runes advance by
// their display width.
func (b *Backend) drawText(x, y, maxX int, text string, style tcell.Style) {
	for _, r := range text {
		if x >= maxX {
			return
		}
		b.screen.SetContent(x, y, r, nil, style)
		x += runewidth.RuneWidth(r)
	}
}
