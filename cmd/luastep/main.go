// Package main is the entry point for the luastep tracer.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/dshills/luastep/internal/logging"
	"github.com/dshills/luastep/internal/render"
	"github.com/dshills/luastep/internal/session"
	"github.com/dshills/luastep/internal/snapshot"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Exit codes: 0 for a finished or user-quit session, 1 for a condition
// raised by the traced script, 2 for usage and configuration errors.
const (
	exitOK     = 0
	exitScript = 1
	exitUsage  = 2
)

type options struct {
	script   string
	function string
	args     string
	watch    string
	context  int
	maxRepr  int
	plain    bool
	config   string
	logFile  string
	logLevel string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := session.LoadConfig(opts.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}

	settings := cfg.Apply(session.DefaultRenderSettings())
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if err := applyFlags(&settings, opts, set); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}

	log, closeLog, err := openLogger(opts, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer closeLog()

	s, err := session.New(settings, log, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}

	_, err = s.Run(opts.script, opts.function, opts.args)
	if err != nil {
		var terr *session.TraceError
		if errors.As(err, &terr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", terr)
			return exitScript
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	return exitOK
}

// applyFlags overlays the flags the user actually set (per the set map)
// onto settings, so config file values survive unless overridden.
func applyFlags(settings *session.RenderSettings, opts options, set map[string]bool) error {
	if opts.plain {
		settings.Backend = render.KindPlain
	}
	if set["context"] {
		settings.ContextLines = opts.context
	}
	if set["max-repr"] {
		settings.MaxValueRepr = opts.maxRepr
	}
	if set["watch"] || set["w"] {
		ws, err := snapshot.ParseWatchList(opts.watch)
		if err != nil {
			return err
		}
		settings.Watch = ws.Names()
	}
	return nil
}

// openLogger builds the session logger. By default logging is off: the
// terminal belongs to the render backend. A log file turns it on.
func openLogger(opts options, cfg session.Config) (*logging.Logger, func(), error) {
	path := opts.logFile
	if path == "" {
		path = cfg.LogFile
	}
	levelName := opts.logLevel
	if levelName == "" {
		levelName = cfg.LogLevel
	}

	if path == "" {
		return logging.Nop, func() {}, nil
	}

	level := logging.LevelInfo
	if levelName != "" {
		level = logging.ParseLevel(levelName)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return logging.New(f, level), func() { _ = f.Close() }, nil
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.args, "args", "", "JSON array of arguments for the traced function")
	flag.StringVar(&opts.watch, "watch", "", "Comma-separated variable names to emphasize")
	flag.StringVar(&opts.watch, "w", "", "Comma-separated variable names to emphasize (shorthand)")
	flag.IntVar(&opts.context, "context", session.DefaultContextLines, "Source lines shown around the current line")
	flag.IntVar(&opts.maxRepr, "max-repr", session.DefaultMaxValueRepr, "Maximum length of a displayed value")
	flag.BoolVar(&opts.plain, "plain", false, "Force the plain text backend")
	flag.StringVar(&opts.config, "config", "", "Path to configuration file")
	flag.StringVar(&opts.config, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.logFile, "log-file", "", "Write diagnostics to this file")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "luastep - step through a Lua function line by line\n\n")
		fmt.Fprintf(os.Stderr, "Usage: luastep [options] script.lua [function]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  luastep solve.lua                      Trace main()\n")
		fmt.Fprintf(os.Stderr, "  luastep solve.lua twoSum --args '[[2,7,11,15], 9]'\n")
		fmt.Fprintf(os.Stderr, "  luastep -w total,i solve.lua sum       Watch two variables\n")
		fmt.Fprintf(os.Stderr, "  luastep -plain solve.lua               Line-oriented output\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(exitOK)
	}
	if showVersion {
		fmt.Printf("luastep %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(exitOK)
	}

	if flag.NArg() < 1 || flag.NArg() > 2 {
		flag.Usage()
		os.Exit(exitUsage)
	}
	opts.script = flag.Arg(0)
	opts.function = "main"
	if flag.NArg() == 2 {
		opts.function = flag.Arg(1)
	}
	return opts
}
