package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mentorhub/pkg/apiclient"
	"mentorhub/pkg/domain"
	"mentorhub/pkg/session"
	"mentorhub/pkg/tokens"
)

const loginResponse = `{"access_token":"acc-1","refresh_token":"ref-1","token_type":"bearer",` +
	`"user_profile":{"id":7,"email":"m@example.com","user_type":"mentee","new_role_values":null}}`

type fakeAPI struct {
	logouts atomic.Int32
	logout  chan string
	meEmpty atomic.Bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{logout: make(chan string, 4)}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/users/login":
		_ = r.ParseForm()
		if r.PostForm.Get("password") != "secret123" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"Incorrect email or password"}`)
			return
		}
		_, _ = io.WriteString(w, loginResponse)
	case "/users/refresh":
		_ = r.ParseForm()
		if r.PostForm.Get("refresh_token") != "ref-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"invalid refresh token"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"acc-2","refresh_token":"ref-2","token_type":"bearer"}`)
	case "/users/logout":
		f.logouts.Add(1)
		f.logout <- r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	case "/users/me":
		if r.Header.Get("Authorization") != "Bearer acc-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.meEmpty.Load() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = io.WriteString(w, `{"id":7,"email":"m@example.com","user_type":"mentee","new_role_values":{"goal":"career"}}`)
	default:
		http.NotFound(w, r)
	}
}

type harness struct {
	web    *httptest.Server
	client *http.Client
	api    *fakeAPI
	redis  *miniredis.Miniredis
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	api := newFakeAPI()
	apiSrv := httptest.NewServer(api)
	t.Cleanup(apiSrv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	static := t.TempDir()
	if err := os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>app</html>"), 0o600); err != nil {
		t.Fatalf("write index: %v", err)
	}

	client, err := apiclient.New(apiSrv.URL)
	if err != nil {
		t.Fatalf("api client: %v", err)
	}
	cfg := Config{
		API:       client,
		Redis:     rdb,
		Sessions:  session.NewRedisPersister(rdb, time.Hour),
		Cookies:   tokens.Options{Secure: false},
		StaticDir: static,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	web := httptest.NewServer(srv.Router())
	t.Cleanup(web.Close)

	jar, _ := cookiejar.New(nil)
	return &harness{
		web: web,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		api:   api,
		redis: mr,
	}
}

func (h *harness) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.web.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) login(t *testing.T) sessionResponse {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/auth/login", `{"username":"m@example.com","password":"secret123"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return out
}

func (h *harness) cookie(name string) *http.Cookie {
	u, _ := url.Parse(h.web.URL)
	for _, c := range h.client.Jar.Cookies(u) {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func findSetCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestNewRequiresRedisAndAPI(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected missing api client error")
	}
	client, _ := apiclient.New("http://127.0.0.1:1")
	if _, err := New(Config{API: client}); err == nil {
		t.Fatalf("expected missing redis error")
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestLoginThenGuardSendsToOnboarding(t *testing.T) {
	h := newHarness(t, nil)

	out := h.login(t)
	if out.Redirect != "/onboarding" {
		t.Fatalf("redirect = %q, want /onboarding", out.Redirect)
	}
	if out.User == nil || out.User.ID != "7" {
		t.Fatalf("unexpected user: %+v", out.User)
	}
	for _, name := range []string{tokens.AccessCookie, tokens.RefreshCookie, tokens.UserCookie, DeviceCookie} {
		if h.cookie(name) == nil {
			t.Fatalf("cookie %s not set", name)
		}
	}

	resp := h.do(t, http.MethodGet, "/home", "")
	if resp.StatusCode != http.StatusTemporaryRedirect || resp.Header.Get("Location") != "/onboarding" {
		t.Fatalf("/home: status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	resp = h.do(t, http.MethodGet, "/login", "")
	if resp.Header.Get("Location") != "/onboarding" {
		t.Fatalf("/login should bounce to onboarding, got %q", resp.Header.Get("Location"))
	}
	resp = h.do(t, http.MethodGet, "/onboarding", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/onboarding status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "app") {
		t.Fatalf("expected SPA index, got %q", body)
	}
}

func TestAnonymousPageRedirectsToLogin(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.do(t, http.MethodGet, "/bookings?tab=pending", "")
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	want := "/login?redirect=%2Fbookings%3Ftab%3Dpending"
	if got := resp.Header.Get("Location"); got != want {
		t.Fatalf("location = %q, want %q", got, want)
	}
	resp = h.do(t, http.MethodGet, "/login", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("anonymous /login status = %d", resp.StatusCode)
	}
}

func TestLoginErrorsAreMapped(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/api/auth/login", `{"username":"m@example.com","password":"wrong-pass"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", resp.StatusCode)
	}
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out["error"] != "Incorrect email or password" {
		t.Fatalf("unexpected error body: %v", out)
	}

	resp = h.do(t, http.MethodPost, "/api/auth/login", `{"username":"","password":"x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("validation status = %d", resp.StatusCode)
	}
	out = nil
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out["field"] != "username" {
		t.Fatalf("expected username field error, got %v", out)
	}
	if h.cookie(tokens.AccessCookie) != nil {
		t.Fatalf("failed login must not set tokens")
	}
}

func TestLoginRateLimited(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.LoginRateLimitPerMinute = 1 })
	h.login(t)
	resp := h.do(t, http.MethodPost, "/api/auth/login", `{"username":"m@example.com","password":"secret123"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second login status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func TestLogoutClearsCookiesAndRevokesInBackground(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	resp := h.do(t, http.MethodPost, "/api/auth/logout", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	if c := findSetCookie(resp, tokens.AccessCookie); c == nil || c.MaxAge >= 0 {
		t.Fatalf("access cookie not expired: %+v", c)
	}
	select {
	case auth := <-h.api.logout:
		if auth != "Bearer acc-1" {
			t.Fatalf("remote logout bearer = %q", auth)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("remote logout was not called")
	}

	resp = h.do(t, http.MethodGet, "/home", "")
	if !strings.HasPrefix(resp.Header.Get("Location"), "/login") {
		t.Fatalf("signed-out visitor should go to login, got %q", resp.Header.Get("Location"))
	}
}

func TestSessionPatchCompletesOnboarding(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	resp := h.do(t, http.MethodPatch, "/api/session", `{"new_role_values":{"goal":"career"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.User == nil || out.User.NeedsOnboarding() || out.User.Email != "m@example.com" {
		t.Fatalf("merge failed: %+v", out.User)
	}
	if out.Redirect != "/home" {
		t.Fatalf("redirect = %q, want /home", out.Redirect)
	}

	resp = h.do(t, http.MethodGet, "/home", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/home after onboarding status = %d", resp.StatusCode)
	}
	resp = h.do(t, http.MethodGet, "/onboarding", "")
	if resp.Header.Get("Location") != "/home" {
		t.Fatalf("onboarded user should leave /onboarding, got %q", resp.Header.Get("Location"))
	}
}

func TestSessionPatchKeepsServerCopyOfUser(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	resp := h.do(t, http.MethodPatch, "/api/session", `{"user_type":"admin","new_role_values":{"goal":"lead"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.User == nil || out.User.UserType != domain.UserTypeMentee || out.User.RoleValues["goal"] != "career" {
		t.Fatalf("session should hold the API's user, got %+v", out.User)
	}
	if out.Redirect != "/home" {
		t.Fatalf("redirect = %q, want /home", out.Redirect)
	}

	resp = h.do(t, http.MethodGet, "/login", "")
	if loc := resp.Header.Get("Location"); loc != "/home" {
		t.Fatalf("guard on /login sends to %q, want /home", loc)
	}
}

func TestSessionPatchWithoutResponseBodyMergesRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.api.meEmpty.Store(true)
	h.login(t)

	resp := h.do(t, http.MethodPatch, "/api/session", `{"new_role_values":{"goal":"switch"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.User == nil || out.User.ID != "7" || out.User.RoleValues["goal"] != "switch" {
		t.Fatalf("empty response should fall back to the submitted fields, got %+v", out.User)
	}
}

func TestSessionRestoresCookiesFromSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	device := h.cookie(DeviceCookie)
	u, _ := url.Parse(h.web.URL)
	jar, _ := cookiejar.New(nil)
	jar.SetCookies(u, []*http.Cookie{{Name: DeviceCookie, Value: device.Value, Path: "/"}})
	h.client.Jar = jar

	resp := h.do(t, http.MethodGet, "/api/session", "")
	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != session.StatusSignedIn.String() {
		t.Fatalf("status = %q, want signed-in", out.Status)
	}
	if c := findSetCookie(resp, tokens.AccessCookie); c == nil || c.Value != "acc-1" {
		t.Fatalf("access cookie not restored: %+v", c)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	resp := h.do(t, http.MethodPost, "/api/auth/refresh", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}
	if c := findSetCookie(resp, tokens.AccessCookie); c == nil || c.Value != "acc-2" {
		t.Fatalf("access cookie not rotated: %+v", c)
	}
	if c := h.cookie(tokens.RefreshCookie); c == nil || c.Value != "ref-2" {
		t.Fatalf("refresh cookie not rotated: %+v", c)
	}
}

func TestRefreshWithoutSession(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.do(t, http.MethodPost, "/api/auth/refresh", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestUnknownAPIPathIsJSON404(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.do(t, http.MethodGet, "/api/nope", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}
}

func TestLandingFor(t *testing.T) {
	onboarded := map[string]any{"goal": "x"}
	cases := []struct {
		name      string
		userType  string
		roles     map[string]any
		requested string
		want      string
	}{
		{"needs onboarding", "mentee", nil, "/bookings", "/onboarding"},
		{"safe request", "mentee", onboarded, "/bookings", "/bookings"},
		{"external request", "mentee", onboarded, "https://evil.example", "/home"},
		{"login loop", "mentee", onboarded, "/login?redirect=/x", "/home"},
		{"admin home", "admin", onboarded, "", "/admin"},
	}
	for _, tc := range cases {
		u := domain.User{ID: "1", UserType: domain.UserType(tc.userType), RoleValues: tc.roles}
		if got := landingFor(u, tc.requested); got != tc.want {
			t.Fatalf("%s: landingFor = %q, want %q", tc.name, got, tc.want)
		}
	}
}
