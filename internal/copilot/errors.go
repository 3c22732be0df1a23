package copilot

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

var (
	// ErrNotAuthorized means no delegated credential exists yet.
	ErrNotAuthorized = errors.New("not authorized, please complete authorization first")

	// ErrPollingExhausted means a device code was polled MaxPollAttempts times without a grant.
	ErrPollingExhausted = errors.New("device authorization polling exhausted")

	// ErrNoDeviceCode means a poll was requested before any device code was issued.
	ErrNoDeviceCode = errors.New("no device code available")
)

// AuthError is a failed call to the identity provider or the session token endpoint.
type AuthError struct {
	Op         string
	StatusCode int
	Status     string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx answer from a Copilot API endpoint. Body holds the upstream payload.
type APIError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *APIError) Error() string {
	return "Upstream API error: " + e.Status
}

// statusText returns the reason phrase of a response, e.g. "Unauthorized" for "401 Unauthorized".
func statusText(code int, status string) string {
	text := strings.TrimSpace(strings.TrimPrefix(status, strconv.Itoa(code)))
	if text == "" {
		text = http.StatusText(code)
	}

	return text
}
