package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/Veraticus/inactivity-detector/pkg/config"
)

// cliFlags holds the command line options. Only flags that were set
// explicitly override the loaded configuration.
type cliFlags struct {
	configPath string
	threshold  float64
	debounce   int
	events     string
	listen     string
	quiet      bool
	mouse      bool
	debug      bool
	help       bool
}

func newFlagSet(f *cliFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("inactivity-detector", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	// Everything from the first positional argument on is the wrapped command
	fs.SetInterspersed(false)

	fs.StringVarP(&f.configPath, "config", "c", "", "Path to config file")
	fs.Float64VarP(&f.threshold, "threshold", "t", 0, "Inactivity threshold in minutes")
	fs.IntVarP(&f.debounce, "debounce", "d", 0, "Debounce delay in milliseconds")
	fs.StringVar(&f.events, "events", "", "Comma-separated activity event names")
	fs.StringVar(&f.listen, "listen", "", "Serve the browser bridge on this address")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "Disable all notifications")
	fs.BoolVar(&f.mouse, "mouse", true, "Request mouse reporting when running standalone")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	fs.BoolVarP(&f.help, "help", "h", false, "Show help message")
	return fs
}

// parseArgs parses our flags and returns the wrapped command, if any.
func parseArgs(args []string) (*cliFlags, *flag.FlagSet, []string, error) {
	f := &cliFlags{}
	fs := newFlagSet(f)
	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, err
	}
	return f, fs, fs.Args(), nil
}

// apply copies explicitly set flags onto cfg
func (f *cliFlags) apply(fs *flag.FlagSet, cfg *config.Config) {
	if fs.Changed("threshold") {
		cfg.ThresholdMinutes = f.threshold
	}
	if fs.Changed("debounce") {
		cfg.DebounceMillis = f.debounce
	}
	if fs.Changed("events") {
		cfg.Events = config.ParseList(f.events)
	}
	if fs.Changed("listen") {
		cfg.Listen = f.listen
	}
	if fs.Changed("quiet") {
		cfg.Quiet = f.quiet
	}
	if fs.Changed("mouse") {
		cfg.Mouse = f.mouse
	}
}

func newLogger(debug, wrapped bool) *logrus.Logger {
	logger := logrus.New()
	// The terminal may be in raw mode while we log
	logger.SetOutput(crlfWriter{w: os.Stderr})
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// A wrapped program owns the screen, so only problems are reported
	level := logrus.InfoLevel
	if wrapped {
		level = logrus.WarnLevel
	}
	if debug || os.Getenv("INACTIVITY_DEBUG") == "1" {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	return logger
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags, fs, rest, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printUsage(os.Stderr, newFlagSet(&cliFlags{}))
		return 2
	}
	if flags.help {
		printUsage(os.Stdout, fs)
		return 0
	}

	var command string
	var commandArgs []string
	if len(rest) > 0 {
		command, commandArgs = rest[0], rest[1:]
	}

	logger := newLogger(flags.debug, command != "")

	if flags.configPath != "" {
		if err := os.Setenv("INACTIVITY_CONFIG", flags.configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error setting config path: %v\n", err)
			return 1
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	flags.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid options: %v\n", err)
		return 1
	}

	deps, err := NewDependencies(cfg, logger, command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating dependencies: %v\n", err)
		return 1
	}
	defer deps.Close()

	app := NewApplication(deps)
	app.SetConfigPath(config.Path())
	app.SetOverrides(func(c *config.Config) { flags.apply(fs, c) })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ensure terminal restoration on panic
	defer func() {
		if r := recover(); r != nil {
			_ = app.Stop()
			panic(r)
		}
	}()

	logger.WithFields(logrus.Fields{
		"command":   command,
		"args":      commandArgs,
		"threshold": cfg.Threshold(),
		"debounce":  cfg.Debounce(),
		"events":    cfg.Events,
		"quiet":     cfg.Quiet,
		"topic":     cfg.NtfyTopic,
	}).Debug("starting")

	if err := app.Run(ctx, command, commandArgs); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			logger.WithError(err).Error("inactivity-detector failed")
			return 1
		}
	}

	return app.ExitCode()
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "inactivity-detector - notify when the user stops interacting")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: inactivity-detector [OPTIONS] [COMMAND [ARGS...]]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Without a command, watches this terminal (and the browser bridge when")
	fmt.Fprintln(w, "--listen is set) until interrupted. With a command, runs it in a PTY and")
	fmt.Fprintln(w, "watches the input sent to it.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment Variables:")
	fmt.Fprintln(w, "  INACTIVITY_CONFIG             Path to config file")
	fmt.Fprintln(w, "  INACTIVITY_THRESHOLD_MINUTES  Inactivity threshold (default: 10)")
	fmt.Fprintln(w, "  INACTIVITY_DEBOUNCE_MS        Debounce delay (default: 1000)")
	fmt.Fprintln(w, "  INACTIVITY_EVENTS             Activity events (comma-separated)")
	fmt.Fprintln(w, "  INACTIVITY_NTFY_TOPIC         Ntfy topic for notifications")
	fmt.Fprintln(w, "  INACTIVITY_NTFY_SERVER        Ntfy server URL (default: https://ntfy.sh)")
	fmt.Fprintln(w, "  INACTIVITY_QUIET              Disable notifications (true/false)")
	fmt.Fprintln(w, "  INACTIVITY_MOUSE              Request mouse reporting (true/false)")
	fmt.Fprintln(w, "  INACTIVITY_LISTEN             Browser bridge address")
	fmt.Fprintln(w, "  INACTIVITY_DEBUG              Enable debug logging (1)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration file: ~/.config/inactivity-detector/config.yaml")
}
