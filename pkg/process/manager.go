package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Veraticus/inactivity-detector/pkg/interfaces"
)

// WrappedEnv is set in the environment of wrapped processes.
const WrappedEnv = "INACTIVITY_DETECTOR_WRAPPED"

// ErrAlreadyWrapped is returned when started from inside a wrapped process.
var ErrAlreadyWrapped = errors.New("already wrapped by inactivity-detector")

// Manager manages the wrapped process
type Manager struct {
	ptyManager PTY
	input      interfaces.InputHandler
	logger     logrus.FieldLogger
	stdin      io.Reader
	stdout     io.Writer

	exitCode int
	mu       sync.Mutex
	sigChan  chan os.Signal
	done     chan struct{}
}

// NewManager creates a process manager that reports user input to input.
// input and logger may be nil.
func NewManager(input interfaces.InputHandler, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &Manager{
		ptyManager: NewPTYManager(logger),
		input:      input,
		logger:     logger,
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		done:       make(chan struct{}),
	}
}

// Start starts the process
func (m *Manager) Start(command string, args []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if os.Getenv(WrappedEnv) == "1" {
		return ErrAlreadyWrapped
	}

	env := append(os.Environ(), WrappedEnv+"=1")

	if err := m.ptyManager.Start(command, args, env); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}
	m.logger.WithField("command", command).Debug("process started")

	go func() {
		if err := m.ptyManager.CopyIO(m.stdin, m.stdout, m.input); err != nil {
			m.logger.WithError(err).Warn("I/O error")
		}
	}()

	m.setupSignalForwarding()

	return nil
}

// Wait waits for the process to exit
func (m *Manager) Wait() error {
	if m.ptyManager == nil {
		return fmt.Errorf("process not started")
	}

	err := m.ptyManager.Wait()

	m.mu.Lock()
	if state := m.ptyManager.ProcessState(); state != nil {
		m.exitCode = state.ExitCode()
	}
	m.mu.Unlock()

	_ = m.ptyManager.Stop()

	close(m.done)
	m.cleanupSignals()

	return err
}

// ExitCode returns the exit code of the process
func (m *Manager) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitCode
}

// setupSignalForwarding sets up signal forwarding to the child process
func (m *Manager) setupSignalForwarding() {
	m.sigChan = make(chan os.Signal, 1)
	signal.Notify(m.sigChan,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGQUIT,
		syscall.SIGUSR1,
		syscall.SIGUSR2,
	)

	go m.forwardSignals(m.sigChan)
}

// forwardSignals forwards signals to the child process
func (m *Manager) forwardSignals(sigChan <-chan os.Signal) {
	for {
		select {
		case sig, ok := <-sigChan:
			if !ok {
				return
			}
			proc := m.ptyManager.Process()
			if proc == nil {
				continue
			}
			if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
				m.logger.WithError(err).WithField("signal", sig.String()).Warn("signal forward error")
			}
		case <-m.done:
			return
		}
	}
}

// cleanupSignals stops signal forwarding
func (m *Manager) cleanupSignals() {
	if m.sigChan != nil {
		signal.Stop(m.sigChan)
	}
}

// Stop restores the terminal and asks the process to terminate
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ptyManager == nil {
		return nil
	}

	_ = m.ptyManager.Stop()

	proc := m.ptyManager.Process()
	if proc == nil {
		return nil
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return proc.Kill()
	}
	return nil
}
