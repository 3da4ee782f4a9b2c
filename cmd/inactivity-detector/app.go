package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/Veraticus/inactivity-detector/pkg/clock"
	"github.com/Veraticus/inactivity-detector/pkg/config"
	"github.com/Veraticus/inactivity-detector/pkg/inactivity"
	"github.com/Veraticus/inactivity-detector/pkg/interfaces"
	"github.com/Veraticus/inactivity-detector/pkg/notification"
	"github.com/Veraticus/inactivity-detector/pkg/process"
	"github.com/Veraticus/inactivity-detector/pkg/status"
	"github.com/Veraticus/inactivity-detector/pkg/surface"
	"github.com/Veraticus/inactivity-detector/pkg/terminal"
)

const (
	keyInterrupt = 0x03
	keyEOT       = 0x04

	readHeaderTimeout = 10 * time.Second
)

// Dependencies holds all the dependencies for the application
type Dependencies struct {
	Config              *config.Config
	Logger              logrus.FieldLogger
	Clock               clock.Clock
	Surface             *surface.Document
	Monitor             *inactivity.Monitor
	Decoder             *terminal.Decoder
	Bridge              *surface.Bridge
	Notifier            notification.Notifier
	RateLimiter         interfaces.RateLimiter
	NotificationManager *notification.Manager
	ProcessManager      *process.Manager
	StatusIndicator     *status.Indicator
	IdleState           interfaces.IdleStateHandler
	stopChan            chan struct{}
}

// NewDependencies creates all dependencies with the given configuration.
// command is empty when running standalone.
func NewDependencies(cfg *config.Config, logger logrus.FieldLogger, command string) (*Dependencies, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Clock:    clock.System,
		Surface:  surface.NewDocument(),
		Monitor:  inactivity.New(),
		stopChan: make(chan struct{}),
	}
	wrapped := command != ""

	// Terminal input and the browser bridge both dispatch into the surface
	deps.Decoder = terminal.NewDecoder(deps.Surface)
	if cfg.Listen != "" {
		deps.Bridge = surface.NewBridge(deps.Surface, logger)
		deps.Bridge.AllowedOrigins = cfg.AllowedOrigins
	}

	fd := os.Stderr.Fd()
	statusEnabled := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	deps.StatusIndicator = status.NewIndicator(os.Stderr, statusEnabled)
	deps.IdleState = deps.StatusIndicator

	// Keep the indicator visible over a wrapped program's redraws
	deps.StatusIndicator.StartAutoRefresh(deps.stopChan)

	// Without a topic notifications go to stdout, which belongs to the
	// wrapped program when there is one
	quiet := cfg.Quiet
	var notifier notification.Notifier
	if cfg.NtfyTopic != "" {
		notifier = notification.NewNtfyClient(cfg.NtfyServer, cfg.NtfyTopic)
	} else {
		notifier = notification.NewWriterNotifier(crlfWriter{w: os.Stdout})
		quiet = quiet || wrapped
	}
	label := ""
	if wrapped {
		label = filepath.Base(command)
	}
	deps.Notifier = notification.NewContextNotifier(notifier, label)
	deps.RateLimiter = notification.NewTokenBucketRateLimiter(cfg.RateLimit.MaxMessages, cfg.RateLimit.Window)
	deps.NotificationManager = notification.NewManager(deps.Notifier, deps.RateLimiter, quiet, logger)
	deps.NotificationManager.SetStatusReporter(deps.StatusIndicator)

	if wrapped {
		deps.ProcessManager = process.NewManager(deps.Decoder, logger)
	}

	return deps, nil
}

// Close cleans up all dependencies
func (d *Dependencies) Close() {
	if d.stopChan != nil {
		select {
		case <-d.stopChan:
		default:
			close(d.stopChan)
		}
	}

	if d.StatusIndicator != nil {
		_ = d.StatusIndicator.Clear()
	}

	if d.Monitor != nil {
		d.Monitor.Stop()
	}

	if d.NotificationManager != nil {
		_ = d.NotificationManager.Close()
	}

	if d.Surface != nil {
		d.Surface.Close()
	}
}

// Application represents the main application
type Application struct {
	deps       *Dependencies
	overrides  func(*config.Config)
	configPath string
	stdin      io.Reader
	stdout     io.Writer

	mu        sync.Mutex
	threshold float64
	timeouts  int
	exitCode  int
	server    *http.Server
	addr      net.Addr
	watcher   *config.Watcher
}

// NewApplication creates a new application and subscribes it to the
// monitor's signals.
func NewApplication(deps *Dependencies) *Application {
	a := &Application{
		deps:      deps,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		threshold: deps.Config.ThresholdMinutes,
	}
	deps.Monitor.OnTimeout(a.handleTimeout)
	deps.Monitor.OnReset(a.handleReset)
	return a
}

// SetConfigPath sets the file watched for configuration changes
func (a *Application) SetConfigPath(path string) {
	a.configPath = path
}

// SetOverrides sets a func applied to every reloaded configuration, so
// command line flags keep precedence over the file.
func (a *Application) SetOverrides(fn func(*config.Config)) {
	a.overrides = fn
}

func (a *Application) monitorOptions(cfg *config.Config) inactivity.Options {
	opts := cfg.MonitorOptions()
	opts.Surface = a.deps.Surface
	opts.Clock = a.deps.Clock
	opts.Logger = a.deps.Logger
	return opts
}

// StartMonitor starts watching the surface with the current configuration
func (a *Application) StartMonitor() error {
	return a.deps.Monitor.Start(a.monitorOptions(a.deps.Config))
}

// Reload restarts the monitor with cfg. An invalid configuration leaves
// the running monitor untouched. Notification settings are not reloaded.
func (a *Application) Reload(cfg *config.Config) error {
	if a.overrides != nil {
		a.overrides(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.deps.Monitor.Stop()

	a.mu.Lock()
	a.threshold = cfg.ThresholdMinutes
	a.timeouts = 0
	a.mu.Unlock()

	if err := a.deps.Monitor.Start(a.monitorOptions(cfg)); err != nil {
		return fmt.Errorf("failed to restart monitor: %w", err)
	}
	a.deps.IdleState.SetIdleState(false)

	a.deps.Logger.WithFields(logrus.Fields{
		"threshold": cfg.Threshold(),
		"debounce":  cfg.Debounce(),
		"events":    cfg.Events,
	}).Info("configuration reloaded")
	return nil
}

func (a *Application) handleTimeout() {
	a.mu.Lock()
	a.timeouts++
	timeouts := a.timeouts
	minutes := float64(timeouts) * a.threshold
	a.mu.Unlock()

	now := a.deps.Clock.Now()
	a.deps.IdleState.RecordTimeout(minutes)
	a.deps.Logger.WithFields(logrus.Fields{
		"elapsed_minutes": minutes,
		"timeouts":        timeouts,
	}).Info("user inactive")

	if a.deps.Bridge != nil {
		a.deps.Bridge.Broadcast(surface.Message{Type: "timeout", Elapsed: &minutes, Timestamp: now})
	}

	a.deps.NotificationManager.Notify(notification.Notification{
		Title:   "Inactive",
		Message: fmt.Sprintf("Inactive for %s minutes", strconv.FormatFloat(minutes, 'f', -1, 64)),
		Time:    now,
		Tags:    []string{"hourglass"},
	})
}

func (a *Application) handleReset(r inactivity.Reset) {
	a.mu.Lock()
	wasIdle := a.timeouts > 0
	a.timeouts = 0
	a.mu.Unlock()

	a.deps.IdleState.SetIdleState(false)

	entry := a.deps.Logger.WithFields(logrus.Fields{
		"event":           r.Event.Type,
		"elapsed_minutes": r.Elapsed,
	})
	if wasIdle {
		entry.Info("user active again")
	} else {
		entry.Debug("activity")
	}

	if a.deps.Bridge != nil {
		elapsed := r.Elapsed
		a.deps.Bridge.Broadcast(surface.Message{Type: "reset", Elapsed: &elapsed, Timestamp: a.deps.Clock.Now()})
	}
}

// Run starts the monitor and blocks until the wrapped command exits, or
// when standalone until ctx is done or the user quits.
func (a *Application) Run(ctx context.Context, command string, args []string) error {
	defer func() { _ = a.Stop() }()

	if err := a.StartMonitor(); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	if a.deps.Bridge != nil {
		if err := a.serveBridge(); err != nil {
			return err
		}
	}

	a.watchConfig()

	if command == "" {
		return a.runStandalone(ctx)
	}
	return a.runWrapped(ctx, command, args)
}

func (a *Application) runWrapped(ctx context.Context, command string, args []string) error {
	pm := a.deps.ProcessManager
	if pm == nil {
		return fmt.Errorf("no process manager for %s", command)
	}

	if err := pm.Start(command, args); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := pm.Stop(); err != nil {
				a.deps.Logger.WithError(err).Warn("failed to stop process")
			}
		case <-done:
		}
	}()

	err := pm.Wait()
	close(done)

	a.mu.Lock()
	a.exitCode = pm.ExitCode()
	a.mu.Unlock()

	return err
}

func (a *Application) runStandalone(ctx context.Context) error {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("failed to set raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, state) }()

		if a.deps.Config.Mouse {
			_, _ = a.stdout.Write(terminal.EnableMouseReporting())
			defer func() { _, _ = a.stdout.Write(terminal.DisableMouseReporting()) }()
		}
	}

	quit := make(chan struct{})
	go func() {
		if a.pumpInput() {
			close(quit)
		}
	}()

	a.deps.Logger.Info("watching for activity, press Ctrl-C to quit")

	select {
	case <-ctx.Done():
	case <-quit:
	}
	return nil
}

// pumpInput feeds stdin to the decoder and reports whether the user
// quit. End of input counts as quitting unless the browser bridge is
// still an activity source.
func (a *Application) pumpInput() bool {
	buf := make([]byte, 1024)
	for {
		n, err := a.stdin.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if i := quitIndex(chunk); i >= 0 {
				a.deps.Decoder.HandleInput(chunk[:i])
				return true
			}
			a.deps.Decoder.HandleInput(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				a.deps.Logger.WithError(err).Debug("stdin read failed")
			}
			return a.deps.Bridge == nil
		}
	}
}

func quitIndex(p []byte) int {
	for i, c := range p {
		if c == keyInterrupt || c == keyEOT {
			return i
		}
	}
	return -1
}

func (a *Application) serveBridge() error {
	ln, err := net.Listen("tcp", a.deps.Config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.deps.Config.Listen, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", a.deps.Bridge)
	mux.Handle("/status", newStatusHandler(a.deps.Monitor, a.currentThreshold))
	mux.Handle("/", newPageHandler(a.deps.Config.Events))

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	a.mu.Lock()
	a.server = server
	a.addr = ln.Addr()
	a.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.deps.Logger.WithError(err).Warn("bridge server stopped")
		}
	}()

	a.deps.Logger.WithField("addr", ln.Addr().String()).Info("serving browser bridge")
	return nil
}

func (a *Application) watchConfig() {
	if a.configPath == "" {
		return
	}
	if _, err := os.Stat(a.configPath); err != nil {
		a.deps.Logger.WithField("path", a.configPath).Debug("no config file to watch")
		return
	}

	w, err := config.Watch(a.configPath, a.deps.Logger, func(cfg *config.Config) {
		if err := a.Reload(cfg); err != nil {
			a.deps.Logger.WithError(err).Warn("ignoring config change")
		}
	}, nil)
	if err != nil {
		a.deps.Logger.WithError(err).Warn("failed to watch config")
		return
	}

	a.mu.Lock()
	a.watcher = w
	a.mu.Unlock()
}

func (a *Application) currentThreshold() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return inactivity.MinutesToDuration(a.threshold)
}

// BridgeAddr returns the address the browser bridge listens on, or nil
func (a *Application) BridgeAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Stop shuts down the bridge, the config watcher and the monitor, and
// asks a wrapped process to exit. It is safe to call more than once.
func (a *Application) Stop() error {
	a.mu.Lock()
	server, watcher := a.server, a.watcher
	a.server, a.watcher = nil, nil
	a.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	if server != nil {
		_ = server.Close()
	}
	if a.deps.Bridge != nil {
		a.deps.Bridge.Close()
	}

	a.deps.Monitor.Stop()

	if a.deps.ProcessManager != nil {
		return a.deps.ProcessManager.Stop()
	}
	return nil
}

// ExitCode returns the exit code of the wrapped process
func (a *Application) ExitCode() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exitCode
}

// crlfWriter translates newlines for a terminal in raw mode
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p)+8)
	for i, b := range p {
		if b == '\n' && (i == 0 || p[i-1] != '\r') {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
