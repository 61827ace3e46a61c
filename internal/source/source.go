// Package source caches the traced script's text and serves the context
// windows the render backends display around the current line.
package source

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/luastep/internal/logging"
)

// Line is one source line prepared for display.
type Line struct {
	// Number is the 1-based line number.
	Number int
	// Text is the line without its trailing newline.
	Text string
	// Current marks the line about to execute.
	Current bool
}

// File is an immutable snapshot of the script's text taken at session
// start, with an optional watcher that flags on-disk edits. Line numbers in
// trace events refer to this snapshot, so the text is never reloaded.
type File struct {
	path  string
	lines []string

	modified atomic.Bool
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// Load reads the script at path into memory.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source %s: %w", path, err)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	// A trailing newline yields one empty phantom line; drop it.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return &File{path: path, lines: lines}, nil
}

// Watch starts flagging on-disk modification of the script. Best effort:
// a watch failure is logged, never fatal.
func (f *File) Watch(log *logging.Logger) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("source watch unavailable: %v", err)
		return
	}
	if err := w.Add(f.path); err != nil {
		log.Warn("cannot watch %s: %v", f.path, err)
		_ = w.Close()
		return
	}

	f.watcher = w
	f.done = make(chan struct{})
	go f.watchLoop(log)
}

func (f *File) watchLoop(log *logging.Logger) {
	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				if f.modified.CompareAndSwap(false, true) {
					log.Warn("script changed on disk during session: %s", f.path)
				}
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("source watch error: %v", err)
		}
	}
}

// Close stops the watcher, if any.
func (f *File) Close() {
	if f.watcher != nil {
		close(f.done)
		_ = f.watcher.Close()
		f.watcher = nil
	}
}

// Path returns the script path.
func (f *File) Path() string { return f.path }

// LineCount returns the number of lines in the cached text.
func (f *File) LineCount() int { return len(f.lines) }

// Modified reports whether the file changed on disk after loading.
func (f *File) Modified() bool { return f.modified.Load() }

// Line returns the 1-based line n.
func (f *File) Line(n int) (string, bool) {
	if n < 1 || n > len(f.lines) {
		return "", false
	}
	return f.lines[n-1], true
}

// Context returns the lines surrounding current, radius lines on each side,
// clipped to the file. The current line is marked.
func (f *File) Context(current, radius int) []Line {
	if radius < 0 {
		radius = 0
	}
	start := current - radius
	if start < 1 {
		start = 1
	}
	end := current + radius
	if end > len(f.lines) {
		end = len(f.lines)
	}

	var out []Line
	for n := start; n <= end; n++ {
		out = append(out, Line{
			Number:  n,
			Text:    f.lines[n-1],
			Current: n == current,
		})
	}
	return out
}
