package authclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRefreshFailed wraps every failure of the refresh endpoint call.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrNoRefreshToken is returned when a refresh is needed but no refresh
	// credential is stored.
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrMalformedRefreshResponse indicates a refresh response without the
	// expected credential fields under either casing.
	ErrMalformedRefreshResponse = errors.New("invalid refresh token response format")
	// ErrUnauthorized marks an authentication failure that survived recovery.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEmailNotVerified is returned by Login for local accounts that have
	// not confirmed their email address.
	ErrEmailNotVerified = errors.New("please verify your email before logging in")
	// ErrInvalidResponse is returned when a success envelope carries no data.
	ErrInvalidResponse = errors.New("invalid response from server")

	errRefreshAborted = errors.New("token refresh aborted")
)

// APIError is a non-2xx response from the remote service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.codeOrStatus(), e.Message)
	}
	return fmt.Sprintf("api error %d (%s)", e.StatusCode, e.codeOrStatus())
}

func (e *APIError) codeOrStatus() string {
	if e.Code != "" {
		return e.Code
	}
	return http.StatusText(e.StatusCode)
}

// Is lets errors.Is(err, ErrUnauthorized) match a 401 APIError.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}
