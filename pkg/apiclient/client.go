package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"mentorhub/pkg/domain"
)

const (
	loginPath   = "/users/login"
	refreshPath = "/users/refresh"

	maxErrorBody = 1 << 16
)

// Client calls the platform REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (cookie jar, transport, timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New constructs a REST client. An empty base URL fails immediately.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api base URL %q is not an absolute URL", baseURL)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Login exchanges credentials for tokens using the password grant.
func (c *Client) Login(ctx context.Context, username, password string) (domain.AuthPayload, error) {
	if err := ValidateCredentials(username, password); err != nil {
		return domain.AuthPayload{}, err
	}
	conf := c.tokenConfig(loginPath)
	tok, err := conf.PasswordCredentialsToken(c.oauthContext(ctx), strings.TrimSpace(username), password)
	if err != nil {
		return domain.AuthPayload{}, c.tokenError("login", err)
	}
	return payloadFromToken(tok)
}

// Refresh trades a refresh token for a new token pair. The user profile is
// only present when the API chooses to send it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (domain.AuthPayload, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return domain.AuthPayload{}, ErrSignInRequired
	}
	conf := c.tokenConfig(refreshPath)
	tok, err := conf.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return domain.AuthPayload{}, c.tokenError("refresh", err)
	}
	return payloadFromToken(tok)
}

// Logout revokes the session server-side.
func (c *Client) Logout(ctx context.Context, token, refreshToken string) error {
	var payload any
	if strings.TrimSpace(refreshToken) != "" {
		payload = map[string]string{"refresh_token": refreshToken}
	}
	return c.doJSON(ctx, http.MethodPost, "/users/logout", token, payload, nil)
}

// RegisterRequest is the sign-up form.
type RegisterRequest struct {
	FirstName       string          `json:"first_name"`
	LastName        string          `json:"last_name"`
	Email           string          `json:"email"`
	Password        string          `json:"password"`
	ConfirmPassword string          `json:"-"`
	UserType        domain.UserType `json:"user_type,omitempty"`
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (domain.User, error) {
	if err := req.Validate(); err != nil {
		return domain.User{}, err
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	var user domain.User
	if err := c.doJSON(ctx, http.MethodPost, "/users/register", "", req, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// ForgotPassword requests a reset email.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	payload := map[string]string{"email": strings.TrimSpace(strings.ToLower(email))}
	return c.doJSON(ctx, http.MethodPost, "/users/forgot-password", "", payload, nil)
}

// ResetPassword sets a new password with the emailed reset token.
func (c *Client) ResetPassword(ctx context.Context, resetToken, password, confirm string) error {
	if strings.TrimSpace(resetToken) == "" {
		return &ValidationError{Field: "token", Message: "reset link is invalid or incomplete"}
	}
	if err := ValidateNewPassword(password, confirm); err != nil {
		return err
	}
	payload := map[string]string{"token": resetToken, "new_password": password}
	return c.doJSON(ctx, http.MethodPost, "/users/reset-password", "", payload, nil)
}

// UpdateMe merges profile fields (onboarding answers) into the current user.
func (c *Client) UpdateMe(ctx context.Context, token string, fields map[string]any) (domain.User, error) {
	var user domain.User
	if err := c.doAuthed(ctx, http.MethodPatch, "/users/me", token, fields, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (c *Client) tokenConfig(path string) *oauth2.Config {
	return &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.baseURL + path,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) tokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status, statusText := 0, ""
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
			statusText = retrieveErr.Response.Status
		}
		return &APIError{Status: status, Message: errorMessage(retrieveErr.Body, statusText)}
	}
	return &NetworkError{Op: op, Err: err}
}

func payloadFromToken(tok *oauth2.Token) (domain.AuthPayload, error) {
	payload := domain.AuthPayload{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	raw := tok.Extra("user_profile")
	if raw == nil {
		return payload, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return domain.AuthPayload{}, fmt.Errorf("encode user profile: %w", err)
	}
	if err := json.Unmarshal(data, &payload.User); err != nil {
		return domain.AuthPayload{}, fmt.Errorf("decode user profile: %w", err)
	}
	return payload, nil
}

// doJSON issues a JSON request and decodes a successful response into out.
func (c *Client) doJSON(ctx context.Context, method, path, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// doAuthed is doJSON for protected endpoints.
func (c *Client) doAuthed(ctx context.Context, method, path, token string, payload any, out any) error {
	if strings.TrimSpace(token) == "" {
		return ErrSignInRequired
	}
	return c.doJSON(ctx, method, path, token, payload, out)
}

func escapeID(id domain.ID) string {
	return url.PathEscape(id.String())
}
