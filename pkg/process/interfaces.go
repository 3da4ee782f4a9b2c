package process

import (
	"io"
	"os"

	"github.com/Veraticus/inactivity-detector/pkg/interfaces"
)

// PTY defines the interface for PTY operations
type PTY interface {
	Start(command string, args []string, env []string) error
	Wait() error
	ProcessState() *os.ProcessState
	Process() *os.Process
	GetPTY() *os.File
	CopyIO(stdin io.Reader, stdout io.Writer, input interfaces.InputHandler) error
	Stop() error
}
