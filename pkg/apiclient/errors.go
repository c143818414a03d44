package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrMissingBaseURL is returned when no API base URL is configured. It is fatal.
	ErrMissingBaseURL = errors.New("api base URL is not configured (set MENTORHUB_API_BASE_URL)")

	// ErrSignInRequired is returned when a protected action has no access token.
	ErrSignInRequired = errors.New("please sign in to continue")
)

// APIError is a non-2xx response from the REST API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Unauthorized reports whether the server rejected the credentials.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// NetworkError means no response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UserMessage is the text shown to end users for connectivity failures.
func (e *NetworkError) UserMessage() string {
	return "unable to reach the server, please check your connection"
}

// ValidationError blocks a request before it is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// UserMessage returns the text suited for an end-user notification.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.UserMessage()
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Unauthorized() {
			return ErrSignInRequired.Error()
		}
		return apiErr.Message
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Message
	}
	if errors.Is(err, ErrSignInRequired) {
		return ErrSignInRequired.Error()
	}
	return err.Error()
}

// errorMessage extracts the server message, checking message, error and detail in that order.
func errorMessage(body []byte, status string) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"message", "error", "detail"} {
			if msg := rawMessageText(payload[key]); msg != "" {
				return msg
			}
		}
	}
	if status == "" {
		return "request failed"
	}
	return status
}

func rawMessageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	// FastAPI-style validation errors carry a list of {msg} objects under detail.
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if m := strings.TrimSpace(item.Msg); m != "" {
				msgs = append(msgs, m)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
