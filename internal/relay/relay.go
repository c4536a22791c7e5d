// Package relay implements the WebSocket session relay at /ws.
//
// Each connection moves from unidentified to identified once it sends an
// identify frame. Message frames are recorded in the transcript in read
// order; their replies are produced concurrently and written as they become
// ready.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rzx/internal/commands"
	"github.com/eldtechnologies/rzx/internal/ids"
	"github.com/eldtechnologies/rzx/internal/metrics"
	"github.com/eldtechnologies/rzx/internal/models"
	"github.com/eldtechnologies/rzx/internal/transcript"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Dispatcher turns user text into a reply.
type Dispatcher interface {
	Dispatch(ctx context.Context, content string) (commands.Reply, error)
}

// EventRecorder stores project events announced by clients.
type EventRecorder interface {
	Record(ev models.ProjectEvent) models.ProjectEvent
}

// Relay serves WebSocket chat sessions.
type Relay struct {
	logger     zerolog.Logger
	cache      *transcript.Cache
	dispatcher Dispatcher
	events     EventRecorder
	upgrader   websocket.Upgrader

	// ctx outlives individual connections and is cancelled only when
	// Shutdown gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[*session]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a Relay. events may be nil.
func New(logger zerolog.Logger, cache *transcript.Cache, dispatcher Dispatcher, events EventRecorder) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With().Str("component", "relay").Logger(),
		cache:      cache,
		dispatcher: dispatcher,
		events:     events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*session]struct{}),
	}
}

// session is the state of one connection.
type session struct {
	conn   *websocket.Conn
	remote string

	writeMu sync.Mutex

	mu       sync.Mutex
	clientID string
}

func (s *session) identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

func (s *session) identify(clientID string) {
	s.mu.Lock()
	s.clientID = clientID
	s.mu.Unlock()
}

// send serializes v and writes it. Writes on one connection never interleave.
func (s *session) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := &session{conn: conn, remote: req.RemoteAddr}

	if !r.track(s) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	r.logger.Info().Str("remote", s.remote).Msg("websocket connected")
	r.serve(s)
}

func (r *Relay) track(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.conns[s] = struct{}{}
	r.wg.Add(1)
	metrics.WSConnections.Inc()
	return true
}

func (r *Relay) untrack(s *session) {
	r.mu.Lock()
	delete(r.conns, s)
	r.mu.Unlock()
	metrics.WSConnections.Dec()
	r.wg.Done()
}

func (r *Relay) serve(s *session) {
	done := make(chan struct{})

	defer func() {
		close(done)
		s.conn.Close()
		r.untrack(s)

		ev := r.logger.Info().Str("remote", s.remote)
		if id := s.identity(); id != "" {
			ev = ev.Str("client_id", id)
		}
		ev.Msg("websocket closed")
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := s.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				r.logger.Warn().Err(err).Str("remote", s.remote).Msg("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		r.handleFrame(s, data)
	}
}

func (r *Relay) handleFrame(s *session, data []byte) {
	in, err := decode(data)
	if err != nil {
		metrics.WSFrames.WithLabelValues("malformed").Inc()
		r.logger.Warn().Err(err).Str("remote", s.remote).Msg("malformed frame ignored")
		return
	}

	if in.Type == TypeIdentify {
		metrics.WSFrames.WithLabelValues(TypeIdentify).Inc()
		r.handleIdentify(s, in)
		return
	}

	clientID := s.identity()
	if clientID == "" {
		metrics.WSFrames.WithLabelValues("unidentified").Inc()
		r.sendError(s, "You need to identify first", "send an identify frame before "+in.Type)
		return
	}

	switch in.Type {
	case TypeMessage:
		metrics.WSFrames.WithLabelValues(TypeMessage).Inc()
		r.handleMessage(s, clientID, in)
	case TypeProjectEvent:
		metrics.WSFrames.WithLabelValues(TypeProjectEvent).Inc()
		r.handleProjectEvent(s, clientID, in)
	default:
		metrics.WSFrames.WithLabelValues("unknown").Inc()
		r.logger.Warn().Str("type", in.Type).Str("client_id", clientID).Msg("unknown frame type ignored")
	}
}

func (r *Relay) handleIdentify(s *session, in inbound) {
	clientID := strings.TrimSpace(in.ClientID)
	if clientID == "" {
		clientID = strings.TrimSpace(in.UserID)
	}
	if clientID == "" {
		clientID = ids.AnonymousClientID()
	}
	s.identify(clientID)

	r.logger.Info().Str("client_id", clientID).Msg("client identified")

	if err := s.send(HistoryFrame{Type: TypeHistory, Messages: r.cache.History(clientID)}); err != nil {
		r.logger.Warn().Err(err).Str("client_id", clientID).Msg("failed to send history")
	}
}

// handleMessage records the user message and answers it in the background.
// The reply is recorded even if the connection closes first, so a
// reconnecting client finds it in its history.
func (r *Relay) handleMessage(s *session, clientID string, in inbound) {
	if in.Content == nil || strings.TrimSpace(*in.Content) == "" {
		r.sendError(s, "Message content is required", "")
		return
	}

	userMsg := models.NewUserMessage(clientID, *in.Content)
	r.cache.Append(r.ctx, clientID, userMsg)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		reply, err := r.dispatcher.Dispatch(r.ctx, userMsg.Content)
		if err != nil {
			r.logger.Error().Err(err).Str("client_id", clientID).Msg("failed to process message")
			r.sendError(s, "Error processing message", err.Error())
			return
		}

		aiMsg := models.NewAIMessage(userMsg, reply.Content)
		r.cache.Append(r.ctx, clientID, aiMsg)
		if err := s.send(MessageFrame{Type: TypeMessage, Message: aiMsg}); err != nil {
			r.logger.Warn().Err(err).Str("client_id", clientID).Msg("failed to send reply")
		}
	}()
}

func (r *Relay) handleProjectEvent(s *session, clientID string, in inbound) {
	if in.ProjectID == "" || in.EventType == "" {
		r.sendError(s, "Incomplete project event", "projectId and eventType are required")
		return
	}
	if r.events == nil {
		return
	}

	details := in.Metadata
	if details == nil {
		details = map[string]any{}
	}
	details["clientId"] = clientID
	r.events.Record(models.ProjectEvent{ProjectID: in.ProjectID, Action: in.EventType, Details: details})
}

func (r *Relay) sendError(s *session, message, details string) {
	if err := s.send(ErrorFrame{Type: TypeError, Error: ErrorPayload{Message: message, Details: details}}); err != nil {
		r.logger.Warn().Err(err).Str("remote", s.remote).Msg("failed to send error")
	}
}

// Connections returns the number of open connections.
func (r *Relay) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Wait blocks until every connection and every in-flight reply is finished.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// Shutdown refuses new connections, closes open ones and waits for in-flight
// replies to drain. When ctx expires first the pending replies are cancelled.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for s := range r.conns {
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		s.conn.Close()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
