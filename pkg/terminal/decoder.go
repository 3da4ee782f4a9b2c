// Package terminal turns raw terminal input into activity events.
package terminal

import (
	"bytes"
	"strconv"
	"sync"
	"time"

	"github.com/Veraticus/inactivity-detector/pkg/interfaces"
	"github.com/Veraticus/inactivity-detector/pkg/surface"
)

// Event names produced by the decoder. They match the default activity
// events of the inactivity monitor.
const (
	EventKeyPress  = "keypress"
	EventMouseDown = "mousedown"
	EventMouseMove = "mousemove"
	EventWheel     = "wheel"
)

const (
	esc = 0x1b

	// Incomplete sequences longer than this are treated as key input.
	maxPending = 64

	mouseMotionBit = 32
	mouseWheelBit  = 64
)

// Mouse reporting modes: any-event tracking with SGR extended coordinates.
var (
	enableMouseSequence  = []byte("\033[?1003h\033[?1006h")
	disableMouseSequence = []byte("\033[?1006l\033[?1003l")
)

// EnableMouseReporting returns the sequence that asks the terminal to
// report presses, motion and wheel in SGR format.
func EnableMouseReporting() []byte {
	return append([]byte(nil), enableMouseSequence...)
}

// DisableMouseReporting returns the sequence that turns mouse reporting off.
func DisableMouseReporting() []byte {
	return append([]byte(nil), disableMouseSequence...)
}

// Decoder classifies terminal input and dispatches one event per key run,
// mouse press, mouse motion report or wheel step. Focus reports and
// button releases are not activity.
type Decoder struct {
	target surface.Dispatcher
	now    func() time.Time

	mu      sync.Mutex
	pending []byte
}

// Ensure Decoder implements InputHandler
var _ interfaces.InputHandler = (*Decoder)(nil)

// NewDecoder creates a decoder dispatching into target.
func NewDecoder(target surface.Dispatcher) *Decoder {
	return &Decoder{
		target: target,
		now:    time.Now,
	}
}

// Write decodes p. It never fails, so a Decoder can sit behind an
// io.TeeReader on stdin.
func (d *Decoder) Write(p []byte) (int, error) {
	d.Decode(p)
	return len(p), nil
}

// HandleInput implements interfaces.InputHandler
func (d *Decoder) HandleInput(data []byte) {
	d.Decode(data)
}

// Decode classifies data, dispatches the resulting events and returns
// their names in order. Sequences split across calls are completed by the
// next call.
func (d *Decoder) Decode(data []byte) []string {
	d.mu.Lock()
	buf := append(d.pending, data...)
	names, rest := decode(buf)
	d.pending = append([]byte(nil), rest...)
	d.mu.Unlock()

	if d.target != nil {
		for _, name := range names {
			d.target.Dispatch(surface.Event{Type: name, Time: d.now()})
		}
	}
	return names
}

// decode consumes buf and returns the event names plus any trailing
// incomplete escape sequence.
func decode(buf []byte) ([]string, []byte) {
	var names []string
	inKeyRun := false
	emitKey := func() {
		if !inKeyRun {
			names = append(names, EventKeyPress)
			inKeyRun = true
		}
	}

	i := 0
	for i < len(buf) {
		if buf[i] != esc {
			emitKey()
			i++
			continue
		}

		name, n, complete := parseEscape(buf[i:])
		if !complete {
			if len(buf)-i > maxPending {
				emitKey()
				i++
				continue
			}
			return names, buf[i:]
		}

		switch name {
		case "":
			// ignored sequence
		case EventKeyPress:
			emitKey()
			i += n
			continue
		default:
			names = append(names, name)
		}
		inKeyRun = false
		i += n
	}
	return names, nil
}

// parseEscape parses the escape sequence at the start of seq. It returns
// the event name ("" for ignored sequences), the number of bytes consumed
// and whether the sequence was complete.
func parseEscape(seq []byte) (string, int, bool) {
	if len(seq) == 1 {
		// A lone trailing ESC is the Escape key.
		return EventKeyPress, 1, true
	}

	switch seq[1] {
	case '[':
		return parseCSI(seq)
	case 'O':
		// SS3: F1-F4 and application-mode cursor keys
		if len(seq) < 3 {
			return "", 0, false
		}
		return EventKeyPress, 3, true
	default:
		// Alt+key
		return EventKeyPress, 2, true
	}
}

func parseCSI(seq []byte) (string, int, bool) {
	if len(seq) < 3 {
		return "", 0, false
	}
	if seq[2] == '<' {
		return parseSGRMouse(seq)
	}

	// ESC [ params intermediates final
	j := 2
	for j < len(seq) && seq[j] >= 0x30 && seq[j] <= 0x3f {
		j++
	}
	for j < len(seq) && seq[j] >= 0x20 && seq[j] <= 0x2f {
		j++
	}
	if j >= len(seq) {
		return "", 0, false
	}
	final := seq[j]
	if final < 0x40 || final > 0x7e {
		// Malformed; treat the introducer as key input.
		return EventKeyPress, 2, true
	}
	params := seq[2:j]

	switch {
	case (final == 'I' || final == 'O') && len(params) == 0:
		// focus in/out
		return "", j + 1, true
	case final == 'M' && len(params) == 0:
		// X10 mouse: ESC [ M Cb Cx Cy
		if len(seq) < j+4 {
			return "", 0, false
		}
		button := int(seq[j+1]) - 32
		return classifyMouse(button, false), j + 4, true
	default:
		return EventKeyPress, j + 1, true
	}
}

// parseSGRMouse parses ESC [ < b ; x ; y (M|m).
func parseSGRMouse(seq []byte) (string, int, bool) {
	j := 3
	for j < len(seq) && (seq[j] >= '0' && seq[j] <= '9' || seq[j] == ';') {
		j++
	}
	if j >= len(seq) {
		return "", 0, false
	}
	final := seq[j]
	if final != 'M' && final != 'm' {
		return EventKeyPress, 3, true
	}

	fields := bytes.Split(seq[3:j], []byte(";"))
	if len(fields) != 3 {
		return "", j + 1, true
	}
	button, err := strconv.Atoi(string(fields[0]))
	if err != nil {
		return "", j + 1, true
	}
	return classifyMouse(button, final == 'm'), j + 1, true
}

func classifyMouse(button int, release bool) string {
	switch {
	case button&mouseWheelBit != 0:
		return EventWheel
	case button&mouseMotionBit != 0:
		return EventMouseMove
	case release || button&3 == 3:
		return ""
	default:
		return EventMouseDown
	}
}
