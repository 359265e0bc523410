package authclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNoRefreshToken means a refresh was requested with nothing stored. No network call was made.
	ErrNoRefreshToken = errors.New("no refresh token stored")
	// ErrRefreshFailed wraps every refresh endpoint failure. The session has been cleared.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrRefreshInProgress is returned instead of starting a second concurrent refresh.
	ErrRefreshInProgress = errors.New("token refresh already in progress")
	// ErrSessionCleared means the session was cleared while a refresh was in flight; its result was discarded.
	ErrSessionCleared = errors.New("session cleared during refresh")
	// ErrMalformedResponse is a 2xx response that lacks the expected fields.
	ErrMalformedResponse = errors.New("malformed identity response")
)

// APIError is a non-2xx answer from the identity API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("identity api error (%d): %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the identity API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// newAPIError prefers the envelope's message, then the raw body, then the status text.
func newAPIError(status int, body []byte) *APIError {
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(body, &env) == nil {
		msg = strings.TrimSpace(env.Message)
		if msg == "" {
			msg = strings.TrimSpace(env.Error)
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}
