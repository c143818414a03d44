// Package session holds the signed-in user and token pair, mirrors them into
// cookies and persists a snapshot so the state survives restarts.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mentorhub/pkg/apiclient"
	"mentorhub/pkg/domain"
	"mentorhub/pkg/tokens"
)

// StorageKey names the persisted snapshot.
const StorageKey = "auth-storage"

const defaultRevokeTimeout = 5 * time.Second

var (
	// ErrSignedOut is returned by operations that need a signed-in user.
	ErrSignedOut = errors.New("session: no signed-in user")
	// ErrInvalidPayload is returned when a login payload breaks the token/user pairing.
	ErrInvalidPayload = errors.New("session: login payload requires an access token and a user")
)

// Status is the tri-state answer of CurrentUser.
type Status int

const (
	// StatusUnknown means the store has not been hydrated yet. It is not "signed out".
	StatusUnknown Status = iota
	StatusSignedOut
	StatusSignedIn
)

func (s Status) String() string {
	switch s {
	case StatusSignedOut:
		return "signed-out"
	case StatusSignedIn:
		return "signed-in"
	default:
		return "unknown"
	}
}

// Persister stores session snapshots by key.
type Persister interface {
	Load(ctx context.Context, key string) (domain.Session, bool, error)
	Save(ctx context.Context, key string, snap domain.Session) error
	Delete(ctx context.Context, key string) error
}

// Revoker ends the session server-side. *apiclient.Client implements it.
type Revoker interface {
	Logout(ctx context.Context, token, refreshToken string) error
}

// Store is the session state shared by every authenticated call.
type Store struct {
	mu       sync.Mutex
	tokens   tokens.Storage
	persist  Persister
	key      string
	revoker  Revoker
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
	state    domain.Session
	hydrated bool

	background sync.WaitGroup
}

// Option customizes a Store.
type Option func(*Store)

// WithKey overrides the snapshot key.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithRevoker enables the remote logout call.
func WithRevoker(r Revoker) Option {
	return func(s *Store) { s.revoker = r }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRevokeTimeout bounds the background logout request.
func WithRevokeTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds an unhydrated store. A nil persister keeps snapshots in memory.
func New(tok tokens.Storage, persist Persister, opts ...Option) *Store {
	if persist == nil {
		persist = NewMemoryPersister()
	}
	s := &Store{
		tokens:  tok,
		persist: persist,
		key:     StorageKey,
		logger:  slog.Default(),
		timeout: defaultRevokeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login stores the token pair and user in cookies, memory and the snapshot.
func (s *Store) Login(ctx context.Context, payload domain.AuthPayload) error {
	if payload.AccessToken == "" || payload.User.ID.IsZero() {
		return ErrInvalidPayload
	}
	user := payload.User
	next := domain.Session{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		User:         &user,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens.Store(next.AccessToken, next.RefreshToken)
	if err := s.tokens.StoreUser(user); err != nil {
		return fmt.Errorf("store user cookie: %w", err)
	}
	s.state = next
	s.hydrated = true
	if err := s.persist.Save(ctx, s.key, next); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Logout clears cookies, memory and the snapshot. It never fails: the remote
// logout runs in the background and its errors are only logged.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	prev := s.state
	s.tokens.Clear()
	s.state = domain.Session{}
	s.hydrated = true
	if err := s.persist.Delete(ctx, s.key); err != nil {
		s.logger.Warn("session_snapshot_delete_failed", "key", s.key, "err", err)
	}
	s.mu.Unlock()

	if s.revoker == nil || prev.AccessToken == "" {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		if err := s.revoker.Logout(rctx, prev.AccessToken, prev.RefreshToken); err != nil {
			s.logger.Warn("remote_logout_failed", "err", err)
		}
	}()
}

// Wait blocks until background logout calls have finished.
func (s *Store) Wait() {
	s.background.Wait()
}

// UpdateUser shallow-merges fields into the current user. Keys use the
// user's JSON names; a nil value clears the field.
func (s *Store) UpdateUser(ctx context.Context, partial map[string]any) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.User == nil {
		return domain.User{}, ErrSignedOut
	}
	merged, err := mergeUser(*s.state.User, partial)
	if err != nil {
		return domain.User{}, err
	}
	return s.setUserLocked(ctx, merged)
}

// ReplaceUser stores the server's copy of the current user, as returned by a
// profile update. The stored id is kept when the server omits it.
func (s *Store) ReplaceUser(ctx context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.User == nil {
		return domain.User{}, ErrSignedOut
	}
	if user.ID.IsZero() {
		user.ID = s.state.User.ID
	}
	return s.setUserLocked(ctx, user)
}

func (s *Store) setUserLocked(ctx context.Context, user domain.User) (domain.User, error) {
	if err := s.tokens.StoreUser(user); err != nil {
		return domain.User{}, fmt.Errorf("store user cookie: %w", err)
	}
	s.state.User = &user
	if err := s.persist.Save(ctx, s.key, s.state); err != nil {
		return user, fmt.Errorf("persist session: %w", err)
	}
	return user, nil
}

// Refresh replaces the token pair in place. The user is replaced only when
// the payload carries one.
func (s *Store) Refresh(ctx context.Context, payload domain.AuthPayload) error {
	if payload.AccessToken == "" {
		return ErrInvalidPayload
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.User == nil {
		return ErrSignedOut
	}
	s.state.AccessToken = payload.AccessToken
	if payload.RefreshToken != "" {
		s.state.RefreshToken = payload.RefreshToken
	}
	if !payload.User.ID.IsZero() {
		user := payload.User
		s.state.User = &user
	}
	s.tokens.Store(s.state.AccessToken, s.state.RefreshToken)
	if err := s.tokens.StoreUser(*s.state.User); err != nil {
		return fmt.Errorf("store user cookie: %w", err)
	}
	if err := s.persist.Save(ctx, s.key, s.state); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// InitializeAuth reconciles the snapshot with the cookies and marks the store
// hydrated. When the snapshot holds tokens but the cookies are gone, the
// cookies are rewritten from the snapshot. Later calls are no-ops.
func (s *Store) InitializeAuth(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hydrated {
		return nil
	}
	defer func() { s.hydrated = true }()

	snap, ok, err := s.persist.Load(ctx, s.key)
	if err != nil {
		s.logger.Warn("session_snapshot_load_failed", "key", s.key, "err", err)
		ok = false
	}
	cookies := s.tokens.Read()
	cookieUser, hasCookieUser, userErr := s.tokens.ReadUser()
	if userErr != nil {
		s.logger.Debug("user_cookie_unreadable", "err", userErr)
		hasCookieUser = false
	}

	switch {
	case ok && snap.Authenticated() && snap.User != nil && cookies.Empty():
		s.tokens.Store(snap.AccessToken, snap.RefreshToken)
		if err := s.tokens.StoreUser(*snap.User); err != nil {
			return fmt.Errorf("restore user cookie: %w", err)
		}
		s.state = snap
	case ok && snap.Authenticated() && snap.User != nil:
		// Cookies may hold a newer pair written elsewhere.
		snap.AccessToken = cookies.Access
		if cookies.Refresh != "" {
			snap.RefreshToken = cookies.Refresh
		}
		s.state = snap
	case !cookies.Empty() && hasCookieUser:
		user := cookieUser
		s.state = domain.Session{AccessToken: cookies.Access, RefreshToken: cookies.Refresh, User: &user}
		if err := s.persist.Save(ctx, s.key, s.state); err != nil {
			s.logger.Warn("session_snapshot_save_failed", "key", s.key, "err", err)
		}
	default:
		s.state = domain.Session{}
	}
	return nil
}

// Hydrated reports whether InitializeAuth (or a login/logout) has run.
func (s *Store) Hydrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrated
}

// CurrentUser returns the signed-in user. Before hydration the status is
// StatusUnknown and callers must not treat it as signed out.
func (s *Store) CurrentUser() (domain.User, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hydrated {
		return domain.User{}, StatusUnknown
	}
	if s.state.User == nil || s.state.AccessToken == "" {
		return domain.User{}, StatusSignedOut
	}
	return *s.state.User, StatusSignedIn
}

// AccessToken returns the bearer for protected calls, or
// apiclient.ErrSignInRequired when there is none or it has expired.
func (s *Store) AccessToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := s.state.AccessToken
	if tok == "" || tokens.Expired(tok, s.now()) {
		return "", apiclient.ErrSignInRequired
	}
	return tok, nil
}

// Snapshot returns a copy of the in-memory session.
func (s *Store) Snapshot() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.state
	if snap.User != nil {
		u := *snap.User
		snap.User = &u
	}
	return snap
}

func mergeUser(user domain.User, partial map[string]any) (domain.User, error) {
	if len(partial) == 0 {
		return user, nil
	}
	base, err := json.Marshal(user)
	if err != nil {
		return domain.User{}, fmt.Errorf("encode user: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return domain.User{}, fmt.Errorf("decode user: %w", err)
	}
	for k, v := range partial {
		fields[k] = v
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return domain.User{}, fmt.Errorf("encode merged user: %w", err)
	}
	var merged domain.User
	if err := json.Unmarshal(data, &merged); err != nil {
		return domain.User{}, fmt.Errorf("merge user fields: %w", err)
	}
	return merged, nil
}
