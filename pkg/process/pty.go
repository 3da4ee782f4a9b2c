package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"

	"github.com/Veraticus/inactivity-detector/pkg/interfaces"
)

// PTYManager handles PTY-based process execution
type PTYManager struct {
	cmd         *exec.Cmd
	pty         *os.File
	mu          sync.Mutex
	stopChan    chan struct{}
	wg          sync.WaitGroup
	restoreFunc func()
	logger      logrus.FieldLogger

	// closed by CopyIO once the process output is drained
	outputDone  chan struct{}
	copyStarted bool
}

// drainTimeout bounds how long Wait lets CopyIO flush output. A background
// child holding the terminal open would otherwise block forever.
const drainTimeout = 2 * time.Second

// Ensure PTYManager implements PTY
var _ PTY = (*PTYManager)(nil)

// NewPTYManager creates a new PTY manager. logger may be nil.
func NewPTYManager(logger logrus.FieldLogger) *PTYManager {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &PTYManager{
		stopChan:   make(chan struct{}),
		outputDone: make(chan struct{}),
		logger:     logger,
	}
}

// Start starts a process with PTY
func (p *PTYManager) Start(command string, args []string, env []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("process already started")
	}

	cmd := exec.Command(command, args...)
	cmd.Env = env

	f, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("failed to start PTY: %w", err)
	}
	p.cmd = cmd
	p.pty = f

	// Some environments have no controlling terminal to copy from
	if err := p.copyTerminalSize(); err != nil {
		p.logger.WithError(err).Debug("failed to copy terminal size")
	}

	p.wg.Add(1)
	go p.monitorTerminalSize()

	return nil
}

// GetPTY returns the PTY file descriptor
func (p *PTYManager) GetPTY() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pty
}

// Wait waits for the process to complete
func (p *PTYManager) Wait() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil {
		return fmt.Errorf("process not started")
	}

	err := cmd.Wait()

	close(p.stopChan)
	p.wg.Wait()

	p.mu.Lock()
	copying := p.copyStarted
	p.mu.Unlock()
	if copying {
		select {
		case <-p.outputDone:
		case <-time.After(drainTimeout):
			p.logger.Debug("gave up waiting for process output")
		}
	}

	p.mu.Lock()
	if p.pty != nil {
		_ = p.pty.Close()
	}
	p.mu.Unlock()

	return err
}

// ProcessState returns the process state
func (p *PTYManager) ProcessState() *os.ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return nil
	}
	return p.cmd.ProcessState
}

// Process returns the underlying process
func (p *PTYManager) Process() *os.Process {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return nil
	}
	return p.cmd.Process
}

// Stop restores the terminal state
func (p *PTYManager) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.restoreFunc != nil {
		p.restoreFunc()
		p.restoreFunc = nil
	}
	return nil
}

// copyTerminalSize copies the terminal size from stdin to the PTY
func (p *PTYManager) copyTerminalSize() error {
	size, err := pty.GetsizeFull(os.Stdin)
	if err != nil {
		return err
	}
	return pty.Setsize(p.pty, size)
}

// monitorTerminalSize follows SIGWINCH until the process exits
func (p *PTYManager) monitorTerminalSize() {
	defer p.wg.Done()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGWINCH)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-sigChan:
			p.mu.Lock()
			if p.pty != nil {
				if err := p.copyTerminalSize(); err != nil {
					p.logger.WithError(err).Debug("failed to resize PTY")
				}
			}
			p.mu.Unlock()
		case <-p.stopChan:
			return
		}
	}
}

// CopyIO copies stdin to the PTY, passing every chunk to input first, and
// the PTY to stdout. It returns once the process side closes. When stdin is
// a terminal it is switched to raw mode until then.
func (p *PTYManager) CopyIO(stdin io.Reader, stdout io.Writer, input interfaces.InputHandler) error {
	p.mu.Lock()
	if p.pty == nil {
		p.mu.Unlock()
		return fmt.Errorf("PTY not initialized")
	}
	if p.copyStarted {
		p.mu.Unlock()
		return fmt.Errorf("I/O already attached")
	}
	p.copyStarted = true
	ptyFile := p.pty
	p.mu.Unlock()
	defer close(p.outputDone)

	if file, ok := stdin.(*os.File); ok {
		if restore, err := setRawMode(int(file.Fd())); err == nil {
			p.mu.Lock()
			p.restoreFunc = restore
			p.mu.Unlock()
			defer func() { _ = p.Stop() }()
		}
	}

	// stdin reads cannot be interrupted, so only the output side is waited on
	go func() {
		reader := io.Reader(stdin)
		if input != nil {
			reader = &inputReader{reader: stdin, handler: input}
		}
		if _, err := io.Copy(ptyFile, reader); err != nil && !isClosedPTY(err) {
			p.logger.WithError(err).Debug("stdin copy ended")
		}
	}()

	if _, err := io.Copy(stdout, ptyFile); err != nil && !isClosedPTY(err) {
		return fmt.Errorf("stdout copy error: %w", err)
	}
	return nil
}

// isClosedPTY reports errors that only mean the process side went away.
// Linux returns EIO from the master once the slave is closed.
func isClosedPTY(err error) bool {
	return errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}

// inputReader hands each chunk read from the user to an input handler
// before it is forwarded to the process
type inputReader struct {
	reader  io.Reader
	handler interfaces.InputHandler
}

func (r *inputReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.handler.HandleInput(p[:n])
	}
	return n, err
}
