package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoCredentials is returned before any request is sent when no access token is stored.
	ErrNoCredentials = errors.New("not logged in: no access token stored")

	// ErrSessionExpired means the refresh token was missing or rejected; both tokens are cleared.
	ErrSessionExpired = errors.New("session expired: please log in again")
)

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s: %d %s (%s)", e.Method, e.Path, e.StatusCode, msg, e.Code)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, msg)
}

// IsStatus reports whether err is a StatusError with the given status code.
func IsStatus(err error, statusCode int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == statusCode
}
