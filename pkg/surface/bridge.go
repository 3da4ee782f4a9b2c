package surface

import (
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout = 10 * time.Second
	sendBuffer   = 16
)

// Message is the JSON frame exchanged with browser clients. Clients send
// {"type":"mousemove"}; the bridge broadcasts {"type":"timeout"} and
// {"type":"reset","elapsed":0.5}.
type Message struct {
	Type      string         `json:"type"`
	Elapsed   *float64       `json:"elapsed,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Bridge is an http.Handler that turns a browser page into an observed
// surface: events read from each WebSocket connection are dispatched into
// Target, and Broadcast pushes signal frames back to every client.
type Bridge struct {
	Target         Dispatcher
	AllowedOrigins []string
	Logger         logrus.FieldLogger

	mu      sync.Mutex
	clients map[*bridgeClient]struct{}
}

type bridgeClient struct {
	conn *websocket.Conn
	send chan Message
}

// NewBridge creates a bridge dispatching into target.
func NewBridge(target Dispatcher, logger logrus.FieldLogger) *Bridge {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Bridge{
		Target:  target,
		Logger:  logger,
		clients: make(map[*bridgeClient]struct{}),
	}
}

// ServeHTTP upgrades the connection and pumps events until it closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(b.AllowedOrigins) > 0 {
		upgrader.CheckOrigin = b.checkOrigin
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.Logger.WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := &bridgeClient{
		conn: conn,
		send: make(chan Message, sendBuffer),
	}
	b.register(client)
	defer b.unregister(client)
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	go client.writeLoop(done)

	b.Logger.WithField("remote", r.RemoteAddr).Debug("surface client connected")

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			b.Logger.WithError(err).Debug("surface client disconnected")
			return
		}
		if msg.Type == "" {
			continue
		}
		if b.Target == nil {
			continue
		}
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		b.Target.Dispatch(Event{Type: msg.Type, Time: ts, Data: msg.Data})
	}
}

// Broadcast queues msg for every connected client. Slow clients whose
// buffer is full miss the frame.
func (b *Bridge) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for c := range b.clients {
		select {
		case c.send <- msg:
		default:
			b.Logger.WithField("type", msg.Type).Debug("dropping frame for slow surface client")
		}
	}
}

// Clients returns the number of connected clients.
func (b *Bridge) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client. The bridge stays usable for new
// connections.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		_ = c.conn.Close()
	}
}

func (b *Bridge) register(c *bridgeClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clients == nil {
		b.clients = make(map[*bridgeClient]struct{})
	}
	b.clients[c] = struct{}{}
}

func (b *Bridge) unregister(c *bridgeClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}

func (b *Bridge) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range b.AllowedOrigins {
		if allowed == "*" || allowed == origin || allowed == u.Host {
			return true
		}
	}
	return false
}

func (c *bridgeClient) writeLoop(done <-chan struct{}) {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
