package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"mentorhub/pkg/chat"
	"mentorhub/pkg/domain"
)

type platform struct {
	srv     *httptest.Server
	logouts atomic.Int32
	liked   atomic.Bool
}

func newPlatform(t *testing.T) *platform {
	t.Helper()
	p := &platform{}
	mux := http.NewServeMux()
	mux.HandleFunc("/users/login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("password") != "secret123" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"Incorrect email or password"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"acc-1","refresh_token":"ref-1","token_type":"bearer",`+
			`"user_profile":{"id":3,"first_name":"Ada","last_name":"L","email":"ada@example.com","user_type":"admin","new_role_values":{}}}`)
	})
	mux.HandleFunc("/users/logout", func(w http.ResponseWriter, r *http.Request) {
		p.logouts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/feed/posts", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		reaction := "none"
		count := 1
		if p.liked.Load() {
			reaction, count = "like", 2
		}
		writeJSON(w, map[string]any{
			"items": []map[string]any{{
				"id": 11, "content": "hello mentors", "reaction_count": count, "user_reaction": reaction,
				"author": map[string]any{"id": 5, "name": "Grace"},
			}},
		})
	})
	mux.HandleFunc("/feed/posts/11/reactions", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		p.liked.Store(r.Method == http.MethodPut)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/bookings", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		writeJSON(w, []map[string]any{{"id": 1, "status": "pending"}, {"id": 2, "status": "pending"}})
	})
	mux.HandleFunc("/bookings/2/confirm", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		writeJSON(w, map[string]any{"id": 2, "status": "confirmed"})
	})
	mux.HandleFunc("/admin/users", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		users := make([]map[string]any, 0, 12)
		for i := 1; i <= 12; i++ {
			users = append(users, map[string]any{"id": i, "email": fmt.Sprintf("u%d@example.com", i), "new_role_values": map[string]any{}})
		}
		writeJSON(w, map[string]any{"results": users})
	})
	mux.HandleFunc("/chat/rooms/9/messages", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		writeJSON(w, []map[string]any{{"id": 100, "sender_id": 5, "content": "welcome", "timestamp": "2026-01-02T10:00:00Z"}})
	})
	mux.Handle("/ws/chat", websocket.Handler(func(conn *websocket.Conn) {
		if conn.Request().URL.Query().Get("token") != "acc-1" {
			return
		}
		for {
			var env chat.Envelope
			if err := websocket.JSON.Receive(conn, &env); err != nil {
				return
			}
			env.Action = chat.ActionMessage
			env.Message.ID = "101"
			if err := websocket.JSON.Send(conn, env); err != nil {
				return
			}
		}
	}))
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer acc-1" {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type cli struct {
	env map[string]string
}

func newCLI(t *testing.T, apiURL string) *cli {
	return &cli{env: map[string]string{
		envAPIBaseURL: apiURL,
		envStateDir:   t.TempDir(),
	}}
}

func (c *cli) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	code := run(ctx, args, func(k string) string { return c.env[k] }, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestMissingBaseURLIsFatal(t *testing.T) {
	c := &cli{env: map[string]string{envStateDir: t.TempDir()}}
	code, _, stderr := c.run(t, "whoami")
	if code != 1 || !strings.Contains(stderr, envAPIBaseURL) {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestUnknownCommand(t *testing.T) {
	c := &cli{env: map[string]string{}}
	if code, _, _ := c.run(t, "frobnicate"); code != 2 {
		t.Fatalf("unknown command should exit 2, got %d", code)
	}
}

func TestSessionSurvivesBetweenRuns(t *testing.T) {
	p := newPlatform(t)
	c := newCLI(t, p.srv.URL)

	if code, _, _ := c.run(t, "login", "-u", "ada@example.com", "-p", "wrong-pass"); code != 1 {
		t.Fatalf("bad login exit %d, want 1", code)
	}
	code, out, stderr := c.run(t, "login", "-u", "ada@example.com", "-p", "secret123")
	if code != 0 || !strings.Contains(out, "signed in as Ada L") {
		t.Fatalf("login: code=%d out=%q stderr=%q", code, out, stderr)
	}

	code, out, _ = c.run(t, "whoami")
	if code != 0 || !strings.HasPrefix(out, "signed-in") || !strings.Contains(out, "home:   /admin") {
		t.Fatalf("whoami after restart: code=%d out=%q", code, out)
	}

	code, _, _ = c.run(t, "logout")
	if code != 0 {
		t.Fatalf("logout exit %d", code)
	}
	if p.logouts.Load() != 1 {
		t.Fatalf("remote logout calls = %d, want 1", p.logouts.Load())
	}
	_, out, _ = c.run(t, "whoami")
	if !strings.HasPrefix(out, "signed-out") {
		t.Fatalf("whoami after logout = %q", out)
	}
}

func TestProtectedCommandWithoutSession(t *testing.T) {
	p := newPlatform(t)
	c := newCLI(t, p.srv.URL)
	code, _, stderr := c.run(t, "feed")
	if code != 1 || !strings.Contains(stderr, "please sign in") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestFeedLikeAndBookings(t *testing.T) {
	p := newPlatform(t)
	c := newCLI(t, p.srv.URL)
	if code, _, stderr := c.run(t, "login", "-u", "ada@example.com", "-p", "secret123"); code != 0 {
		t.Fatalf("login: %s", stderr)
	}

	code, out, _ := c.run(t, "feed")
	if code != 0 || !strings.Contains(out, "[11] Grace") || !strings.Contains(out, "1 likes") {
		t.Fatalf("feed: code=%d out=%q", code, out)
	}
	code, out, _ = c.run(t, "like", "11")
	if code != 0 || !strings.Contains(out, "liked post 11 (2 likes)") {
		t.Fatalf("like: code=%d out=%q", code, out)
	}
	if !p.liked.Load() {
		t.Fatalf("server did not record the like")
	}

	code, out, _ = c.run(t, "bookings", "confirm", "2")
	if code != 0 || !strings.Contains(out, "booking 2 is confirmed") {
		t.Fatalf("confirm: code=%d out=%q", code, out)
	}
	code, out, _ = c.run(t, "bookings", "-size", "1", "-page", "9")
	if code != 0 || !strings.Contains(out, "page 2 of 2") {
		t.Fatalf("bookings page clamp: code=%d out=%q", code, out)
	}
}

func TestAdminUsersPaging(t *testing.T) {
	p := newPlatform(t)
	c := newCLI(t, p.srv.URL)
	if code, _, stderr := c.run(t, "login", "-u", "ada@example.com", "-p", "secret123"); code != 0 {
		t.Fatalf("login: %s", stderr)
	}
	code, out, _ := c.run(t, "admin", "users", "-page", "2", "-size", "5")
	if code != 0 || !strings.Contains(out, "page 2 of 3 (12 rows)") {
		t.Fatalf("admin users: code=%d out=%q", code, out)
	}
	if !strings.Contains(out, "u6@example.com") || strings.Contains(out, "u5@example.com") {
		t.Fatalf("wrong rows on page 2: %q", out)
	}
}

func TestChatHistoryAndSend(t *testing.T) {
	p := newPlatform(t)
	c := newCLI(t, p.srv.URL)
	if code, _, stderr := c.run(t, "login", "-u", "ada@example.com", "-p", "secret123"); code != 0 {
		t.Fatalf("login: %s", stderr)
	}
	code, out, _ := c.run(t, "chat", "history", "9")
	if code != 0 || !strings.Contains(out, "5: welcome") {
		t.Fatalf("history: code=%d out=%q", code, out)
	}
	code, out, stderr := c.run(t, "chat", "send", "-wait", "3s", "9", "hi", "there")
	if code != 0 || !strings.Contains(out, "sent 101") {
		t.Fatalf("send: code=%d out=%q stderr=%q", code, out, stderr)
	}
	if !strings.Contains(stderr, "connected") {
		t.Fatalf("expected connection status on stderr, got %q", stderr)
	}
}

func TestChatEndpoint(t *testing.T) {
	cases := map[string]string{
		"http://api.local":        "ws://api.local/ws/chat",
		"https://api.local/v1/":   "wss://api.local/v1/ws/chat",
		"https://api.local/v1?x=": "wss://api.local/v1/ws/chat",
	}
	for in, want := range cases {
		if got := chatEndpoint(in); got != want {
			t.Fatalf("chatEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLandingUsesRoleHome(t *testing.T) {
	if got := landing(domain.User{ID: "1"}); got != "/onboarding" {
		t.Fatalf("landing for new user = %q", got)
	}
	if got := landing(domain.User{ID: "1", RoleValues: map[string]any{}}); got != "/home" {
		t.Fatalf("landing for onboarded user = %q", got)
	}
}
