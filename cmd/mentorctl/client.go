package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mentorhub/internal/util"
	"mentorhub/pkg/apiclient"
	"mentorhub/pkg/domain"
	"mentorhub/pkg/session"
	"mentorhub/pkg/tokens"
)

const (
	envAPIBaseURL = "MENTORHUB_API_BASE_URL"
	envWSURL      = "MENTORHUB_WS_URL"
	envStateDir   = "MENTORHUB_STATE_DIR"
	envLogLevel   = "MENTORHUB_LOG_LEVEL"
	envPassword   = "MENTORHUB_PASSWORD"

	defaultChatPath = "/ws/chat"
)

// env is the environment lookup; tests swap it for a map.
type env func(string) string

// client bundles the runtime pieces every command shares. The cookie jar
// plays the browser's cookie role and the state directory plays local storage.
type client struct {
	api     *apiclient.Client
	session *session.Store
	logger  *slog.Logger
	wsURL   string
	getenv  env
	out     io.Writer
	errOut  io.Writer
}

func newClient(ctx context.Context, getenv env, stdout, stderr io.Writer) (*client, error) {
	level := getenv(envLogLevel)
	if strings.TrimSpace(level) == "" {
		level = "warn"
	}
	logger := util.NewLogger(stderr, level)

	base := getenv(envAPIBaseURL)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	api, err := apiclient.New(base, apiclient.WithHTTPClient(&http.Client{
		Jar:     jar,
		Timeout: 15 * time.Second,
	}))
	if err != nil {
		return nil, err
	}
	jarStorage, err := tokens.NewJarStorage(jar, api.BaseURL(), tokens.DefaultOptions())
	if err != nil {
		return nil, err
	}
	stateDir, err := resolveStateDir(getenv)
	if err != nil {
		return nil, err
	}
	persist, err := session.NewFilePersister(stateDir)
	if err != nil {
		return nil, err
	}
	store := session.New(jarStorage, persist,
		session.WithRevoker(api),
		session.WithLogger(logger),
	)
	if err := store.InitializeAuth(ctx); err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}

	wsURL := strings.TrimSpace(getenv(envWSURL))
	if wsURL == "" {
		wsURL = chatEndpoint(api.BaseURL())
	}
	return &client{
		api:     api,
		session: store,
		logger:  logger,
		wsURL:   wsURL,
		getenv:  getenv,
		out:     stdout,
		errOut:  stderr,
	}, nil
}

func resolveStateDir(getenv env) (string, error) {
	if dir := strings.TrimSpace(getenv(envStateDir)); dir != "" {
		return dir, nil
	}
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("no state directory (set %s): %w", envStateDir, err)
	}
	return filepath.Join(cfgDir, "mentorhub"), nil
}

// chatEndpoint derives the socket URL from the API base: http becomes ws,
// https becomes wss.
func chatEndpoint(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + defaultChatPath
	u.RawQuery = ""
	return u.String()
}

// signedIn returns the current user or the sign-in error.
func (c *client) signedIn() (domain.User, error) {
	user, status := c.session.CurrentUser()
	if status != session.StatusSignedIn {
		return domain.User{}, apiclient.ErrSignInRequired
	}
	return user, nil
}

func (c *client) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// notify records a failed optimistic action after its rollback. The error
// itself is returned to run, which prints it once.
func (c *client) notify(op string, err error) {
	c.logger.Debug("action_rolled_back", "op", op, "err", err)
}

// usageError marks bad command-line input; it exits with status 2.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func isUsage(err error) bool {
	var u *usageError
	return errors.As(err, &u)
}
