package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"mentorhub/internal/util"
	"mentorhub/pkg/apiclient"
	"mentorhub/pkg/domain"
	"mentorhub/pkg/routeguard"
	"mentorhub/pkg/session"
)

const maxBodyBytes = 1 << 20

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Redirect string `json:"redirect"`
}

type registerRequest struct {
	FirstName       string          `json:"first_name"`
	LastName        string          `json:"last_name"`
	Email           string          `json:"email"`
	Password        string          `json:"password"`
	ConfirmPassword string          `json:"confirm_password"`
	UserType        domain.UserType `json:"user_type"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type sessionResponse struct {
	Status   string       `json:"status"`
	User     *domain.User `json:"user,omitempty"`
	Redirect string       `json:"redirect,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "web.login", "rate_limited")
		return
	}
	req, err := decodeLogin(w, r)
	if err != nil {
		s.audit(r, "web.login", "fail", "reason", "invalid_body")
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	username := req.Username
	if username == "" {
		username = req.Email
	}
	payload, err := s.api.Login(r.Context(), username, req.Password)
	if err != nil {
		s.audit(r, "web.login", "fail", "reason", err.Error())
		writeAPIError(w, err)
		return
	}
	store := s.sessionFor(w, r)
	if err := store.Login(r.Context(), payload); err != nil {
		s.audit(r, "web.login", "fail", "reason", err.Error())
		if errors.Is(err, session.ErrInvalidPayload) {
			writeError(w, http.StatusBadGateway, "login response is missing the token or user")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not store session")
		return
	}
	user := payload.User
	s.audit(r, "web.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, sessionResponse{
		Status:   session.StatusSignedIn.String(),
		User:     &user,
		Redirect: landingFor(user, req.Redirect),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	store := s.sessionFor(w, r)
	if err := store.InitializeAuth(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Warn("session_hydrate_failed", "err", err)
	}
	user, _ := store.CurrentUser()
	store.Logout(r.Context())
	s.audit(r, "web.logout", "success", "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.refreshLimiter, "too many refresh attempts") {
		s.audit(r, "web.refresh", "rate_limited")
		return
	}
	store := s.sessionFor(w, r)
	if err := store.InitializeAuth(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Warn("session_hydrate_failed", "err", err)
	}
	snap := store.Snapshot()
	if snap.User == nil || snap.RefreshToken == "" {
		s.audit(r, "web.refresh", "fail", "reason", "missing_refresh_token")
		writeAPIError(w, apiclient.ErrSignInRequired)
		return
	}
	payload, err := s.api.Refresh(r.Context(), snap.RefreshToken)
	if err != nil {
		s.audit(r, "web.refresh", "fail", "user_id", snap.User.ID, "reason", err.Error())
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.Unauthorized() {
			store.Logout(r.Context())
		}
		writeAPIError(w, err)
		return
	}
	if err := store.Refresh(r.Context(), payload); err != nil {
		s.audit(r, "web.refresh", "fail", "user_id", snap.User.ID, "reason", err.Error())
		writeAPIError(w, err)
		return
	}
	user, status := store.CurrentUser()
	s.audit(r, "web.refresh", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, sessionResponse{Status: status.String(), User: &user})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "web.register", "rate_limited")
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "web.register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.api.Register(r.Context(), apiclient.RegisterRequest{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		UserType:        req.UserType,
	})
	if err != nil {
		s.audit(r, "web.register", "fail", "reason", err.Error())
		writeAPIError(w, err)
		return
	}
	s.audit(r, "web.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "too many password reset attempts") {
		s.audit(r, "web.password.forgot", "rate_limited")
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.api.ForgotPassword(r.Context(), req.Email); err != nil {
		s.audit(r, "web.password.forgot", "fail", "reason", err.Error())
		writeAPIError(w, err)
		return
	}
	s.audit(r, "web.password.forgot", "success")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "too many password reset attempts") {
		s.audit(r, "web.password.reset", "rate_limited")
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.api.ResetPassword(r.Context(), req.Token, req.Password, req.ConfirmPassword); err != nil {
		s.audit(r, "web.password.reset", "fail", "reason", err.Error())
		writeAPIError(w, err)
		return
	}
	s.audit(r, "web.password.reset", "success")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSession reads the hydrated session (GET) or merges onboarding answers
// into the signed-in user (PATCH).
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPatch:
	default:
		methodNotAllowed(w)
		return
	}
	store := s.sessionFor(w, r)
	if err := store.InitializeAuth(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Warn("session_hydrate_failed", "err", err)
	}
	if r.Method == http.MethodGet {
		user, status := store.CurrentUser()
		resp := sessionResponse{Status: status.String()}
		if status == session.StatusSignedIn {
			resp.User = &user
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	token, err := store.AccessToken()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	var fields map[string]any
	if err := decodeJSON(r, &fields); err != nil || len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	delete(fields, "id")
	updated, err := s.api.UpdateMe(r.Context(), token, fields)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	var user domain.User
	if updated.IsZero() {
		user, err = store.UpdateUser(r.Context(), fields)
	} else {
		user, err = store.ReplaceUser(r.Context(), updated)
	}
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Status:   session.StatusSignedIn.String(),
		User:     &user,
		Redirect: landingFor(user, ""),
	})
}

// landingFor picks where the client goes after sign-in. Onboarding always
// wins; otherwise a safe requested path, else the role's home.
func landingFor(user domain.User, requested string) string {
	if user.NeedsOnboarding() {
		return routeguard.OnboardingPath
	}
	home := routeguard.HomeFor(&user)
	target := routeguard.SafeRedirect(requested, home)
	if target == routeguard.LoginPath || strings.HasPrefix(target, routeguard.LoginPath+"?") {
		return home
	}
	return target
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

// decodeLogin accepts the JSON body the SPA sends and the plain form post
// used when scripts are disabled.
func decodeLogin(w http.ResponseWriter, r *http.Request) (loginRequest, error) {
	var req loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.Username = r.PostForm.Get("username")
		req.Email = r.PostForm.Get("email")
		req.Password = r.PostForm.Get("password")
		req.Redirect = r.PostForm.Get("redirect")
		return req, nil
	}
	err := decodeJSON(r, &req)
	return req, err
}
