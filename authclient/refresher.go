package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"golang.org/x/oauth2"
)

// RefreshPath is the refresh endpoint, relative to the API base URL.
const RefreshPath = "/v1/auth/refresh"

// refreshTimeout bounds a single refresh call, independent of the request
// that triggered it.
const refreshTimeout = 10 * time.Second

// RefreshFunc exchanges refreshToken for a new credential pair. In cookie
// mode refreshToken is always "" and the session cookie authenticates the
// call.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// Refresher calls the refresh endpoint on a client that never passes
// through the authenticating Transport, so a rejected refresh cannot
// recurse into another refresh.
type Refresher struct {
	endpoint string
	mode     Mode
	client   *retry.Client
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRefresher returns a Refresher posting to baseURL+RefreshPath through
// client.
func NewRefresher(baseURL string, mode Mode, client *retry.Client, logger *slog.Logger) *Refresher {
	return &Refresher{
		endpoint: baseURL + RefreshPath,
		mode:     mode,
		client:   client,
		timeout:  refreshTimeout,
		logger:   logger,
	}
}

// Refresh implements RefreshFunc.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload := []byte("{}")
	if r.mode == ModeClient {
		var err error
		payload, err = json.Marshal(map[string]string{"refreshToken": refreshToken})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		}
	}

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		r.endpoint,
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrRefreshFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	r.logger.Debug("refresh request", "mode", r.mode, "refresh_token", refreshToken)

	resp, err := r.client.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrRefreshFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, &oauth2.RetrieveError{
			Response: resp,
			Body:     body,
		})
	}

	if r.mode == ModeCookie {
		// The new session cookie is already in the jar. A body is optional.
		token, err := ParseRefreshResponse(body)
		if err != nil {
			return &oauth2.Token{TokenType: "Bearer"}, nil
		}
		return token, nil
	}

	token, err := ParseRefreshResponse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	// Fixed mode: the server kept the old refresh token.
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}
