package authclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrReauthenticationRequired means the stored credentials can no longer be refreshed and
	// the user has to sign in again.
	ErrReauthenticationRequired = errors.New("authclient: reauthentication required")
	// ErrTimeout is returned when the refresh round-trip exceeds its deadline.
	ErrTimeout = errors.New("authclient: refresh timed out")
)

var rejectionCodes = map[string]struct{}{
	"INVALID_TOKEN":       {},
	"SESSION_REVOKED":     {},
	"STALE_REFRESH_TOKEN": {},
}

// APIError is an error envelope returned by the auth API.
type APIError struct {
	Status            int    `json:"-"`
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authclient: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsAuthRejection reports whether the server refused the refresh token itself, as opposed to a
// transient failure.
func IsAuthRejection(err error) bool {
	if errors.Is(err, ErrReauthenticationRequired) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if _, ok := rejectionCodes[strings.ToUpper(apiErr.Code)]; ok {
		return true
	}
	return apiErr.Status == http.StatusUnauthorized
}
