package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mentorhub/pkg/domain"
)

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrMissingBaseURL) {
		t.Fatalf("expected ErrMissingBaseURL, got %v", err)
	}
	if _, err := New("not a url"); err == nil {
		t.Fatalf("expected relative base URL to be rejected")
	}
}

func TestLoginUsesPasswordGrantAndDecodesProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/login" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "password" {
			t.Errorf("grant_type = %q, want password", got)
		}
		if r.PostForm.Get("username") != "a@b.com" || r.PostForm.Get("password") != "x" {
			t.Errorf("unexpected credentials: %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"t1","refresh_token":"r1","token_type":"bearer","user_profile":{"id":1,"new_role_values":null}}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	payload, err := c.Login(context.Background(), "a@b.com", "x")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if payload.AccessToken != "t1" || payload.RefreshToken != "r1" {
		t.Fatalf("unexpected tokens: %+v", payload)
	}
	if payload.User.ID != "1" {
		t.Fatalf("user id = %q, want 1", payload.User.ID)
	}
	if !payload.User.NeedsOnboarding() {
		t.Fatalf("null role values should require onboarding")
	}
}

func TestLoginSurfacesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Incorrect email or password"}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	_, err := c.Login(context.Background(), "a@b.com", "bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "Incorrect email or password" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestLoginValidatesBeforeSending(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	_, err := c.Login(context.Background(), "", "x")
	var valErr *ValidationError
	if !errors.As(err, &valErr) || valErr.Field != "username" {
		t.Fatalf("expected username validation error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("request should not be sent, got %d calls", calls)
	}
}

func TestErrorMessagePriority(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"message":"m","error":"e","detail":"d"}`, "m"},
		{`{"error":"e","detail":"d"}`, "e"},
		{`{"detail":"d"}`, "d"},
		{`{"detail":[{"msg":"field required"},{"msg":"too short"}]}`, "field required; too short"},
		{`not json`, "500 Internal Server Error"},
	}
	for _, tc := range cases {
		if got := errorMessage([]byte(tc.body), "500 Internal Server Error"); got != tc.want {
			t.Fatalf("errorMessage(%s) = %q, want %q", tc.body, got, tc.want)
		}
	}
}

func TestNetworkErrorWhenServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := New(url)
	_, err := c.ListPosts(context.Background(), "token", "")
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %T %v", err, err)
	}
	if UserMessage(err) != netErr.UserMessage() {
		t.Fatalf("unexpected user message: %q", UserMessage(err))
	}
}

func TestProtectedCallRequiresToken(t *testing.T) {
	c, _ := New("http://127.0.0.1:1")
	if _, err := c.ListPosts(context.Background(), "", ""); !errors.Is(err, ErrSignInRequired) {
		t.Fatalf("expected ErrSignInRequired, got %v", err)
	}
	if UserMessage(ErrSignInRequired) != "please sign in to continue" {
		t.Fatalf("unexpected sign-in message")
	}
}

func TestListPostsSendsCursorAndBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.URL.Query().Get("cursor"); got != "c2" {
			t.Errorf("cursor = %q, want c2", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items":       []map[string]any{{"id": 7, "content": "hello"}},
			"next_cursor": "c3",
		})
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	page, err := c.ListPosts(context.Background(), "tok", "c2")
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "7" || page.NextCursor != "c3" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestReactionEndpoints(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.RequestURI())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	ctx := context.Background()
	if err := c.ReactPost(ctx, "tok", "p1", domain.ReactionLike); err != nil {
		t.Fatalf("react post: %v", err)
	}
	if err := c.UnreactComment(ctx, "tok", "c1", domain.ReactionLike); err != nil {
		t.Fatalf("unreact comment: %v", err)
	}
	want := []string{
		"PUT /feed/posts/p1/reactions?type=like",
		"DELETE /feed/comments/c1/reactions?type=like",
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("requests = %v, want %v", got, want)
	}
}

func TestListDecodingAcceptsArrayAndEnvelope(t *testing.T) {
	var bare listResponse[domain.Booking]
	if err := json.Unmarshal([]byte(`[{"id":1,"status":"pending"}]`), &bare); err != nil {
		t.Fatalf("decode array: %v", err)
	}
	var wrapped listResponse[domain.Booking]
	if err := json.Unmarshal([]byte(`{"results":[{"id":2,"status":"confirmed"}]}`), &wrapped); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if len(bare.Items) != 1 || bare.Items[0].ID != "1" {
		t.Fatalf("unexpected bare items: %+v", bare.Items)
	}
	if len(wrapped.Items) != 1 || wrapped.Items[0].Status != domain.BookingConfirmed {
		t.Fatalf("unexpected wrapped items: %+v", wrapped.Items)
	}
}

func TestRegisterValidation(t *testing.T) {
	req := RegisterRequest{
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Email:           "ada@example.com",
		Password:        "longenough",
		ConfirmPassword: "different1",
	}
	var valErr *ValidationError
	if err := req.Validate(); !errors.As(err, &valErr) || valErr.Field != "confirm_password" {
		t.Fatalf("expected confirm_password error, got %v", err)
	}
	req.ConfirmPassword = req.Password
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}
