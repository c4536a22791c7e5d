package rzx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// ReconnectInterval is the fixed delay between reconnect attempts.
	ReconnectInterval = 3 * time.Second
	// MaxReconnectAttempts bounds reconnects after a connection drops.
	MaxReconnectAttempts = 5
)

// ErrClosed is returned when using a Conn after Close.
var ErrClosed = errors.New("rzx: connection closed")

// ErrorInfo is an error reported by the relay.
type ErrorInfo struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type frame struct {
	Type     string     `json:"type"`
	Message  *Message   `json:"message,omitempty"`
	Messages []Message  `json:"messages,omitempty"`
	Error    *ErrorInfo `json:"error,omitempty"`
}

// Conn is a WebSocket session with the relay. It identifies itself on every
// connect and reconnects with a fixed interval after the socket drops.
type Conn struct {
	client   *Client
	url      string
	dialer   *websocket.Dialer
	interval time.Duration
	attempts int

	onMessage    func(Message)
	onHistory    func([]Message)
	onError      func(ErrorInfo)
	onConnection func(bool)

	writeMu sync.Mutex
	mu      sync.Mutex
	ws      *websocket.Conn
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

// NewConn creates a session for c.ClientID. Register handlers before Connect.
func NewConn(c *Client) *Conn {
	u := c.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &Conn{
		client:   c,
		url:      u + "/ws",
		dialer:   websocket.DefaultDialer,
		interval: ReconnectInterval,
		attempts: MaxReconnectAttempts,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnMessage registers the handler for ai replies.
func (c *Conn) OnMessage(fn func(Message)) { c.onMessage = fn }

// OnHistory registers the handler for the transcript sent after identify.
func (c *Conn) OnHistory(fn func([]Message)) { c.onHistory = fn }

// OnError registers the handler for relay errors.
func (c *Conn) OnError(fn func(ErrorInfo)) { c.onError = fn }

// OnConnectionChange registers a handler called when the socket goes up or down.
func (c *Conn) OnConnectionChange(fn func(bool)) { c.onConnection = fn }

// Connect dials the relay and sends identify.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	closed, url := c.closed, c.url
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	ws, _, err := c.dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return err
	}
	if err := ws.WriteJSON(map[string]string{"type": "identify", "clientId": c.client.ClientID}); err != nil {
		ws.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	c.ws = ws
	c.mu.Unlock()

	if c.onConnection != nil {
		c.onConnection(true)
	}
	go c.readLoop(ws)
	return nil
}

// Connected reports whether the socket is currently up.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Done is closed once the session ends for good, after Close or when
// every reconnect attempt failed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		c.handle(f)
	}

	ws.Close()
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if c.onConnection != nil {
		c.onConnection(false)
	}
	if !closed {
		c.reconnect()
	}
}

func (c *Conn) handle(f frame) {
	switch f.Type {
	case "message":
		if f.Message != nil && c.onMessage != nil {
			c.onMessage(*f.Message)
		}
	case "history":
		if c.onHistory != nil {
			c.onHistory(f.Messages)
		}
	case "error":
		if f.Error != nil && c.onError != nil {
			c.onError(*f.Error)
		}
	}
}

func (c *Conn) reconnect() {
	for attempt := 1; attempt <= c.attempts; attempt++ {
		select {
		case <-c.stop:
			return
		case <-time.After(c.interval):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
	}
	c.finish()
}

func (c *Conn) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// write reports whether v was written to a live socket.
func (c *Conn) write(v any) bool {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteJSON(v) == nil
}

// Send delivers content over the socket. While the socket is down the
// message is stored in the fallback channel instead; live reports which
// path was taken.
func (c *Conn) Send(ctx context.Context, content string) (live bool, err error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false, ErrClosed
	}

	if c.write(map[string]string{"type": "message", "content": content}) {
		return true, nil
	}
	if _, err := c.client.AppendHistory(ctx, content); err != nil {
		return false, err
	}
	return false, nil
}

// SendProjectEvent announces a project change over the socket, falling
// back to the HTTP endpoint while the socket is down.
func (c *Conn) SendProjectEvent(ctx context.Context, eventType, projectID string, metadata map[string]any) error {
	sent := c.write(map[string]any{
		"type":      "project_event",
		"eventType": eventType,
		"projectId": projectID,
		"metadata":  metadata,
	})
	if sent {
		return nil
	}
	return c.client.NotifyProjectEvent(ctx, ProjectEvent{ProjectID: projectID, Action: eventType, Details: metadata})
}

// Close ends the session and stops reconnecting.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	c.finish()
	if ws == nil {
		return nil
	}

	c.writeMu.Lock()
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return ws.Close()
}
