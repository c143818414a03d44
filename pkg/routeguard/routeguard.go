// Package routeguard decides, per navigation request, whether a page may be
// rendered or the visitor must be sent elsewhere. It keeps no state between
// requests; every decision reads the cookies fresh.
package routeguard

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"mentorhub/pkg/domain"
	"mentorhub/pkg/tokens"
)

const (
	LoginPath      = "/login"
	OnboardingPath = "/onboarding"
	HomePath       = "/home"
	AdminHomePath  = "/admin"
)

var (
	defaultPublicPaths  = []string{"/", "/login", "/register", "/forgot-password", "/reset-password"}
	defaultSkipPrefixes = []string{"/api/", "/_next/", "/static/", "/assets/", "/favicon.ico", "/healthz"}
)

// Request is what the guard knows about one navigation.
type Request struct {
	Path          string
	RawQuery      string
	Authenticated bool
	// User is nil when the user cookie is absent or cannot be decoded.
	User *domain.User
}

type Action int

const (
	Allow Action = iota
	Redirect
)

type Decision struct {
	Action   Action
	Location string
}

// Guard holds the path tables.
type Guard struct {
	PublicPaths  []string
	SkipPrefixes []string
	Logger       *slog.Logger
	// RequestLogger, when set, picks the logger for one request, so redirect
	// lines carry that request's attributes.
	RequestLogger func(context.Context) *slog.Logger
}

// New returns a guard with the standard path tables.
func New(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		PublicPaths:  append([]string(nil), defaultPublicPaths...),
		SkipPrefixes: append([]string(nil), defaultSkipPrefixes...),
		Logger:       logger,
	}
}

// Decide applies the navigation table.
func (g *Guard) Decide(req Request) Decision {
	path := req.Path
	if path == "" {
		path = "/"
	}
	if g.skipped(path) {
		return Decision{Action: Allow}
	}
	needsOnboarding := req.User != nil && req.User.NeedsOnboarding()

	if g.public(path) {
		if req.Authenticated {
			return redirect(g.landing(path, req, needsOnboarding))
		}
		return Decision{Action: Allow}
	}
	if !req.Authenticated {
		return redirect(LoginRedirect(path, req.RawQuery))
	}
	onOnboarding := matchesPath(path, OnboardingPath)
	if needsOnboarding && !onOnboarding {
		return redirect(OnboardingPath)
	}
	if !needsOnboarding && onOnboarding {
		return redirect(HomeFor(req.User))
	}
	return Decision{Action: Allow}
}

// Middleware runs the guard before next and answers redirects itself.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := FromHTTP(w, r)
		d := g.Decide(req)
		if d.Action == Redirect {
			g.loggerFor(r).Debug("route_guard_redirect", "path", r.URL.Path, "location", d.Location, "authenticated", req.Authenticated)
			http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) loggerFor(r *http.Request) *slog.Logger {
	if g.RequestLogger != nil {
		if l := g.RequestLogger(r.Context()); l != nil {
			return l
		}
	}
	return g.Logger
}

// FromHTTP reads the guard inputs from the request cookies. An unreadable
// user cookie yields a nil user rather than an error.
func FromHTTP(w http.ResponseWriter, r *http.Request) Request {
	store := tokens.NewHTTPStorage(w, r, tokens.DefaultOptions())
	req := Request{
		Path:          r.URL.Path,
		RawQuery:      r.URL.RawQuery,
		Authenticated: !store.Read().Empty(),
	}
	if user, ok, err := store.ReadUser(); ok && err == nil {
		req.User = &user
	}
	return req
}

// HomeFor returns the landing page for the user's role.
func HomeFor(user *domain.User) string {
	if user != nil && user.UserType == domain.UserTypeAdmin {
		return AdminHomePath
	}
	return HomePath
}

// LoginRedirect builds /login?redirect=<path[?query]>.
func LoginRedirect(path, rawQuery string) string {
	target := path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return LoginPath + "?" + url.Values{"redirect": {target}}.Encode()
}

// SafeRedirect returns target when it is a same-site absolute path and
// fallback otherwise.
func SafeRedirect(target, fallback string) string {
	target = strings.TrimSpace(target)
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return target
}

// landing picks where a signed-in visitor of a public page goes. A login page
// carrying a redirect target sends them back there once onboarded.
func (g *Guard) landing(path string, req Request, needsOnboarding bool) string {
	if needsOnboarding {
		return OnboardingPath
	}
	home := HomeFor(req.User)
	if path != LoginPath || req.RawQuery == "" {
		return home
	}
	q, err := url.ParseQuery(req.RawQuery)
	if err != nil {
		return home
	}
	target := SafeRedirect(q.Get("redirect"), home)
	if u, err := url.Parse(target); err != nil || g.public(u.Path) || g.skipped(u.Path) {
		return home
	}
	return target
}

func redirect(location string) Decision {
	return Decision{Action: Redirect, Location: location}
}

func (g *Guard) public(path string) bool {
	for _, p := range g.PublicPaths {
		if matchesPath(path, p) {
			return true
		}
	}
	return false
}

func (g *Guard) skipped(path string) bool {
	for _, prefix := range g.SkipPrefixes {
		if path == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// matchesPath reports an exact match or a sub-path of base. "/" only matches itself.
func matchesPath(path, base string) bool {
	if base == "/" {
		return path == "/"
	}
	return path == base || strings.HasPrefix(path, strings.TrimSuffix(base, "/")+"/")
}
