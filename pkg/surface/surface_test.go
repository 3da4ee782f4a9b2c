package surface

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_AddEventListener(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		fn      func(Event)
		closed  bool
		wantErr error
	}{
		{
			name:  "valid listener",
			event: "mousemove",
			fn:    func(Event) {},
		},
		{
			name:    "empty event name",
			event:   "",
			fn:      func(Event) {},
			wantErr: ErrInvalidEventName,
		},
		{
			name:    "closed document",
			event:   "wheel",
			fn:      func(Event) {},
			closed:  true,
			wantErr: ErrClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewDocument()
			if tt.closed {
				doc.Close()
			}

			remove, err := doc.AddEventListener(tt.event, tt.fn)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, remove)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, doc.ListenerCount(tt.event))

			remove()
			remove()
			assert.Equal(t, 0, doc.ListenerCount(tt.event))
		})
	}
}

func TestDocument_NilListener(t *testing.T) {
	doc := NewDocument()
	_, err := doc.AddEventListener("keypress", nil)
	assert.Error(t, err)
}

func TestDocument_Dispatch(t *testing.T) {
	doc := NewDocument()

	var order []string
	_, err := doc.AddEventListener("keypress", func(ev Event) {
		order = append(order, "first:"+ev.Type)
	})
	require.NoError(t, err)
	_, err = doc.AddEventListener("keypress", func(ev Event) {
		order = append(order, "second:"+ev.Type)
	})
	require.NoError(t, err)
	_, err = doc.AddEventListener("wheel", func(ev Event) {
		order = append(order, "wheel")
	})
	require.NoError(t, err)

	n := doc.Dispatch(Event{Type: "keypress"})
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"first:keypress", "second:keypress"}, order)

	assert.Equal(t, 0, doc.Dispatch(Event{Type: "touchend"}))
}

func TestDocument_DispatchStampsTime(t *testing.T) {
	doc := NewDocument()

	var got Event
	_, err := doc.AddEventListener("mousedown", func(ev Event) { got = ev })
	require.NoError(t, err)

	doc.Dispatch(Event{Type: "mousedown"})
	assert.False(t, got.Time.IsZero())
}

func TestDocument_RemovedListenerNotCalled(t *testing.T) {
	doc := NewDocument()

	calls := 0
	remove, err := doc.AddEventListener("touchmove", func(Event) { calls++ })
	require.NoError(t, err)

	doc.Dispatch(Event{Type: "touchmove"})
	remove()
	doc.Dispatch(Event{Type: "touchmove"})

	assert.Equal(t, 1, calls)
}

func TestDocument_RemoveDuringDispatch(t *testing.T) {
	doc := NewDocument()

	var remove func()
	calls := 0
	var err error
	remove, err = doc.AddEventListener("wheel", func(Event) {
		calls++
		remove()
	})
	require.NoError(t, err)

	doc.Dispatch(Event{Type: "wheel"})
	doc.Dispatch(Event{Type: "wheel"})
	assert.Equal(t, 1, calls)
}

func TestDocument_Close(t *testing.T) {
	doc := NewDocument()

	calls := 0
	_, err := doc.AddEventListener("keypress", func(Event) { calls++ })
	require.NoError(t, err)

	doc.Close()
	doc.Dispatch(Event{Type: "keypress"})

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, doc.ListenerCount("keypress"))
}

func TestDocument_ConcurrentDispatch(t *testing.T) {
	doc := NewDocument()

	var mu sync.Mutex
	calls := 0
	_, err := doc.AddEventListener("mousemove", func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				doc.Dispatch(Event{Type: "mousemove"})
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1000, calls)
}

func TestDefault(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestSurface_ThroughInterface(t *testing.T) {
	var s Surface = NewDocument()
	doc := s.(*Document)

	calls := 0
	remove, err := s.AddEventListener("keypress", func(Event) { calls++ })
	require.NoError(t, err)

	doc.Dispatch(Event{Type: "keypress"})
	remove()
	remove()
	doc.Dispatch(Event{Type: "keypress"})
	assert.Equal(t, 1, calls)

	_, err = s.AddEventListener("", func(Event) {})
	assert.ErrorIs(t, err, ErrInvalidEventName)
}
