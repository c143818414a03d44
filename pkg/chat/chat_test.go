package chat

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/websocket"
	"mentorhub/pkg/domain"
)

// echoServer answers every send_message with a new_message carrying a server
// id and timestamp, and also pushes an unrelated action first.
func echoServer(t *testing.T, closed *atomic.Int32) (*httptest.Server, string) {
	t.Helper()
	var seq atomic.Int32
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		defer func() {
			if closed != nil {
				closed.Add(1)
			}
		}()
		if ws.Request().URL.Query().Get("token") == "" {
			return
		}
		_ = websocket.JSON.Send(ws, Envelope{Action: "typing", RoomID: "r1"})
		for {
			var env Envelope
			if err := websocket.JSON.Receive(ws, &env); err != nil {
				return
			}
			if env.Action != ActionSend {
				continue
			}
			n := seq.Add(1)
			env.Action = ActionMessage
			env.Message.ID = domain.ID("m" + string(rune('0'+n)))
			env.Message.Timestamp = time.Date(2026, 1, 1, 0, 0, int(n), 0, time.UTC)
			if err := websocket.JSON.Send(ws, env); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendWhileClosedReturnsFalseAndMarksFailed(t *testing.T) {
	s, err := NewSession("ws://127.0.0.1:1/ws/chat")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.Send("hello", "r1") {
		t.Fatalf("send on closed socket must return false")
	}
	msgs := s.Timeline().Messages("r1")
	if len(msgs) != 1 || msgs[0].Status != StatusFailed || msgs[0].Message.Content != "hello" {
		t.Fatalf("expected one failed message, got %+v", msgs)
	}
}

func TestNewSessionRejectsHTTPURL(t *testing.T) {
	if _, err := NewSession("http://example.test/chat"); err == nil {
		t.Fatalf("expected error for non-websocket URL")
	}
}

func TestSendAndReceiveEcho(t *testing.T) {
	_, wsURL := echoServer(t, nil)
	s, err := NewSession(wsURL)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	statuses := make(chan bool, 4)
	s.OnStatus(func(up bool) { statuses <- up })
	received := make(chan Incoming, 4)
	s.OnMessage(func(in Incoming) { received <- in })

	if err := s.Connect(context.Background(), "tok", "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	if up := <-statuses; !up || !s.IsConnected() {
		t.Fatalf("expected connected status")
	}

	if !s.Send("hi there", "r1") {
		t.Fatalf("send should succeed on open socket")
	}
	select {
	case in := <-received:
		if in.RoomID != "r1" || in.Entry.Message.ID != "m1" || in.Entry.Status != StatusSent {
			t.Fatalf("unexpected incoming: %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for echo")
	}
	msgs := s.Timeline().Messages("r1")
	if len(msgs) != 1 || msgs[0].Status != StatusSent || msgs[0].Message.SenderID != "u1" {
		t.Fatalf("echo should confirm the pending message, got %+v", msgs)
	}

	s.Close()
	if up := <-statuses; up || s.IsConnected() {
		t.Fatalf("expected disconnected status after close")
	}
}

func TestReconnectReplacesSocket(t *testing.T) {
	var closed atomic.Int32
	_, wsURL := echoServer(t, &closed)
	s, err := NewSession(wsURL)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ctx := context.Background()
	if err := s.Connect(ctx, "tok", "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Connect(ctx, "tok", "u1"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for closed.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if closed.Load() != 1 {
		t.Fatalf("expected first socket closed, got %d closed", closed.Load())
	}
	if !s.IsConnected() {
		t.Fatalf("second socket should be open")
	}
	s.Close()
}

func TestTimelineOrdersByServerTimestampAndDedupes(t *testing.T) {
	tl := NewTimeline()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	tl.Receive("r", domain.Message{ID: "b", Content: "second", Timestamp: base.Add(time.Minute)})
	tl.Receive("r", domain.Message{ID: "a", Content: "first", Timestamp: base})
	tl.Receive("r", domain.Message{ID: "c", Content: "tie-late", Timestamp: base.Add(time.Minute)})
	if _, fresh := tl.Receive("r", domain.Message{ID: "a", Content: "first", Timestamp: base}); fresh {
		t.Fatalf("duplicate id should not be applied")
	}
	added := tl.Merge("r", []domain.Message{{ID: "a"}, {ID: "z", Timestamp: base.Add(-time.Minute)}})
	if added != 1 {
		t.Fatalf("merge added %d, want 1", added)
	}
	var ids []string
	for _, e := range tl.Messages("r") {
		ids = append(ids, e.Message.ID.String())
	}
	if got := strings.Join(ids, ","); got != "z,a,b,c" {
		t.Fatalf("order = %s, want z,a,b,c", got)
	}
}
