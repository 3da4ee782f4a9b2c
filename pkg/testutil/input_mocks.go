package testutil

import (
	"sync"

	"github.com/Veraticus/inactivity-detector/pkg/interfaces"
	"github.com/Veraticus/inactivity-detector/pkg/surface"
)

// MockInputHandler records every chunk of input it is handed
type MockInputHandler struct {
	mu     sync.Mutex
	chunks [][]byte
}

var _ interfaces.InputHandler = (*MockInputHandler)(nil)

// NewMockInputHandler creates a new mock input handler
func NewMockInputHandler() *MockInputHandler {
	return &MockInputHandler{}
}

// HandleInput implements interfaces.InputHandler
func (m *MockInputHandler) HandleInput(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, append([]byte(nil), data...))
}

// String returns all input received so far
func (m *MockInputHandler) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []byte
	for _, c := range m.chunks {
		out = append(out, c...)
	}
	return string(out)
}

// Calls returns the number of HandleInput calls
func (m *MockInputHandler) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}

// MockDispatcher records dispatched events
type MockDispatcher struct {
	mu     sync.Mutex
	events []surface.Event
}

var _ surface.Dispatcher = (*MockDispatcher)(nil)

// Dispatch implements surface.Dispatcher. It reports no listeners.
func (m *MockDispatcher) Dispatch(ev surface.Event) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return 0
}

// Types returns the names of dispatched events in order
func (m *MockDispatcher) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.events))
	for i, ev := range m.events {
		types[i] = ev.Type
	}
	return types
}

// Events returns a copy of dispatched events
func (m *MockDispatcher) Events() []surface.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]surface.Event(nil), m.events...)
}
