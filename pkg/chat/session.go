// Package chat keeps one WebSocket per session to the chat endpoint and
// dispatches incoming messages into a per-room timeline.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
	"mentorhub/pkg/domain"
)

const (
	ActionSend    = "send_message"
	ActionMessage = "new_message"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Action  string         `json:"action"`
	RoomID  domain.ID      `json:"room_id"`
	Message domain.Message `json:"message"`
}

// Incoming is what the message handler receives.
type Incoming struct {
	RoomID domain.ID
	Entry  Entry
}

// Session is one chat connection. Reconnect policy belongs to the caller.
type Session struct {
	endpoint string
	origin   string
	logger   *slog.Logger
	timeline *Timeline
	now      func() time.Time

	mu        sync.Mutex
	conn      *websocket.Conn
	userID    domain.ID
	onMessage func(Incoming)
	onStatus  func(bool)
}

type Option func(*Session)

// WithOrigin sets the Origin header sent in the handshake.
func WithOrigin(origin string) Option {
	return func(s *Session) {
		if origin != "" {
			s.origin = origin
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeline shares a timeline across sessions.
func WithTimeline(t *Timeline) Option {
	return func(s *Session) {
		if t != nil {
			s.timeline = t
		}
	}
}

// NewSession validates the ws:// or wss:// endpoint.
func NewSession(endpoint string, opts ...Option) (*Session, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("chat endpoint %q must be a ws:// or wss:// URL", endpoint)
	}
	originScheme := "http"
	if u.Scheme == "wss" {
		originScheme = "https"
	}
	s := &Session{
		endpoint: u.String(),
		origin:   originScheme + "://" + u.Host,
		logger:   slog.Default(),
		timeline: NewTimeline(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Timeline returns the message state fed by this session.
func (s *Session) Timeline() *Timeline { return s.timeline }

// OnMessage installs the single incoming-message handler.
func (s *Session) OnMessage(fn func(Incoming)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnStatus installs the connection status handler. It is called with true
// when the socket opens and false as soon as it closes.
func (s *Session) OnStatus(fn func(bool)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

// Connect opens the socket, closing any socket this session already holds.
// The token travels both as a query parameter and as a bearer header.
func (s *Session) Connect(ctx context.Context, token string, userID domain.ID) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("chat: access token is required")
	}
	s.Close()

	u, _ := url.Parse(s.endpoint)
	q := u.Query()
	q.Set("token", token)
	if !userID.IsZero() {
		q.Set("user_id", userID.String())
	}
	u.RawQuery = q.Encode()

	cfg, err := websocket.NewConfig(u.String(), s.origin)
	if err != nil {
		return fmt.Errorf("chat config: %w", err)
	}
	cfg.Header.Set("Authorization", "Bearer "+token)
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return fmt.Errorf("chat dial: %w", err)
	}

	s.mu.Lock()
	if s.conn != nil {
		// A concurrent Connect won; keep one socket.
		_ = s.conn.Close()
	}
	s.conn = conn
	s.userID = userID
	status := s.onStatus
	s.mu.Unlock()
	s.timeline.SetSelf(userID)

	s.logger.Info("chat_connected", "user_id", userID.String())
	if status != nil {
		status(true)
	}
	go s.readLoop(conn)
	return nil
}

// IsConnected reports whether a socket is open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send records the message in the timeline and writes it. It returns false
// without blocking when the socket is not open; the message is then marked
// failed. A written message stays pending until the server echoes it.
func (s *Session) Send(content string, roomID domain.ID) bool {
	content = strings.TrimSpace(content)
	if content == "" || roomID.IsZero() {
		return false
	}
	s.mu.Lock()
	conn, sender := s.conn, s.userID
	s.mu.Unlock()

	msg := domain.Message{SenderID: sender, Content: content, Timestamp: s.now().UTC()}
	localID := s.timeline.AddLocal(roomID, msg)
	if conn == nil {
		s.timeline.MarkFailed(localID)
		return false
	}
	env := Envelope{Action: ActionSend, RoomID: roomID, Message: msg}
	if err := websocket.JSON.Send(conn, env); err != nil {
		s.logger.Warn("chat_send_failed", "room_id", roomID.String(), "err", err)
		s.timeline.MarkFailed(localID)
		s.drop(conn)
		return false
	}
	return true
}

// Close closes the socket if one is open.
func (s *Session) Close() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		s.drop(conn)
	}
}

// drop closes conn and, if it was the current socket, reports the disconnect once.
func (s *Session) drop(conn *websocket.Conn) {
	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
	}
	status := s.onStatus
	s.mu.Unlock()
	_ = conn.Close()
	if current {
		s.logger.Info("chat_disconnected")
		if status != nil {
			status(false)
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.drop(conn)
	for {
		var frame []byte
		if err := websocket.Message.Receive(conn, &frame); err != nil {
			s.logger.Debug("chat_read_stopped", "err", err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			s.logger.Debug("chat_frame_malformed", "err", err)
			continue
		}
		if env.Action != ActionMessage {
			s.logger.Debug("chat_action_ignored", "action", env.Action)
			continue
		}
		room := env.RoomID
		if room.IsZero() {
			room = env.Message.RoomID
		}
		entry, fresh := s.timeline.Receive(room, env.Message)
		if !fresh {
			continue
		}
		s.mu.Lock()
		handler := s.onMessage
		s.mu.Unlock()
		if handler != nil {
			handler(Incoming{RoomID: room, Entry: entry})
		}
	}
}
