package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mentorhub/internal/ratelimit"
	"mentorhub/internal/util"
	"mentorhub/pkg/apiclient"
	"mentorhub/pkg/routeguard"
	"mentorhub/pkg/session"
	"mentorhub/pkg/tokens"
)

// DeviceCookie identifies the browser so each one gets its own session snapshot.
const DeviceCookie = "mentorhub_device"

const deviceCookieMaxAge = 365 * 24 * 60 * 60

// Config wires required dependencies for the HTTP server.
type Config struct {
	API                        *apiclient.Client
	Redis                      redis.UniversalClient
	Sessions                   session.Persister
	Cookies                    tokens.Options
	StaticDir                  string
	TrustedProxies             *util.TrustedProxies
	RemoteLogoutTimeout        time.Duration
	SignupRateLimitPerMinute   int
	LoginRateLimitPerMinute    int
	RefreshRateLimitPerMinute  int
	PasswordRateLimitPerMinute int
}

// Server is the web edge in front of the single-page client.
type Server struct {
	api             *apiclient.Client
	sessions        session.Persister
	cookies         tokens.Options
	trusted         *util.TrustedProxies
	revokeTimeout   time.Duration
	guard           *routeguard.Guard
	pages           http.Handler
	mux             *http.ServeMux
	signupLimiter   *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	refreshLimiter  *ratelimit.FixedWindowLimiter
	passwordLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.API == nil {
		return nil, errors.New("server: api client is required")
	}
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	refreshLimit := cfg.RefreshRateLimitPerMinute
	if refreshLimit <= 0 {
		refreshLimit = 20
	}
	passwordLimit := cfg.PasswordRateLimitPerMinute
	if passwordLimit <= 0 {
		passwordLimit = 10
	}
	rateWindow := time.Minute
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "mentorhub:web:ratelimit:" + name
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("signup", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	refreshLimiter, err := newLimiter("refresh", refreshLimit)
	if err != nil {
		return nil, err
	}
	passwordLimiter, err := newLimiter("password", passwordLimit)
	if err != nil {
		return nil, err
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = session.NewMemoryPersister()
	}
	s := &Server{
		api:             cfg.API,
		sessions:        sessions,
		cookies:         cfg.Cookies,
		trusted:         cfg.TrustedProxies,
		revokeTimeout:   cfg.RemoteLogoutTimeout,
		guard:           routeguard.New(nil),
		pages:           newSPAHandler(cfg.StaticDir),
		mux:             http.NewServeMux(),
		signupLimiter:   signupLimiter,
		loginLimiter:    loginLimiter,
		refreshLimiter:  refreshLimiter,
		passwordLimiter: passwordLimiter,
	}
	s.guard.RequestLogger = util.LoggerFromContext
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("web", s.trusted, util.WithSecurityHeaders(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("/api/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/forgot-password", s.handleForgotPassword)
	s.mux.HandleFunc("/api/auth/reset-password", s.handleResetPassword)
	s.mux.HandleFunc("/api/session", s.handleSession)
	s.mux.HandleFunc("/api/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	// pages
	s.mux.Handle("/", s.guard.Middleware(s.pages))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionFor builds the session store for one request. Cookies are the
// request/response pair; the snapshot is keyed by the device cookie.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) *session.Store {
	opts := []session.Option{
		session.WithKey(session.StorageKey + ":" + s.deviceID(w, r)),
		session.WithRevoker(s.api),
		session.WithLogger(util.LoggerFromContext(r.Context())),
	}
	if s.revokeTimeout > 0 {
		opts = append(opts, session.WithRevokeTimeout(s.revokeTimeout))
	}
	return session.New(tokens.NewHTTPStorage(w, r, s.cookies), s.sessions, opts...)
}

func (s *Server) deviceID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(DeviceCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookie,
		Value:    id,
		Path:     "/",
		Domain:   s.cookies.Domain,
		MaxAge:   deviceCookieMaxAge,
		Secure:   s.cookies.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	// Later lookups in this request must see the same id.
	r.AddCookie(&http.Cookie{Name: DeviceCookie, Value: id})
	return id
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAPIError maps client runtime errors onto edge responses.
func writeAPIError(w http.ResponseWriter, err error) {
	var valErr *apiclient.ValidationError
	var apiErr *apiclient.APIError
	var netErr *apiclient.NetworkError
	switch {
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": valErr.Message, "field": valErr.Field})
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		writeError(w, status, apiErr.Message)
	case errors.As(err, &netErr):
		writeError(w, http.StatusBadGateway, netErr.UserMessage())
	case errors.Is(err, apiclient.ErrSignInRequired), errors.Is(err, session.ErrSignedOut):
		writeError(w, http.StatusUnauthorized, apiclient.ErrSignInRequired.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.trusted.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + s.trusted.ClientIP(r)
	allowed, retryAfter := limiter.Allow(r.Context(), key)
	if allowed {
		return true
	}
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
