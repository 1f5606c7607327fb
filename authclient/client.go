// Package authclient is the authenticated HTTP client for the Spectrity
// API: it attaches credentials, refreshes them on a 401 with at most one
// refresh in flight, replays the failed request once, and ends the
// session when recovery fails.
package authclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"

	"github.com/spectrity/essence-cli/credentials"
	"github.com/spectrity/essence-cli/logging"
)

const (
	// DefaultTimeout bounds each attempt of an API request.
	DefaultTimeout = 30 * time.Second
	// DefaultUserAgent is sent when Config.UserAgent is empty.
	DefaultUserAgent = "essence-cli"

	statusProbeTimeout = 10 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Mode    Mode
	Store   credentials.Store

	// Navigator receives the login redirect when a session ends. Nil
	// disables redirects.
	Navigator Navigator
	// CurrentPath reports the page the user is on. Auth pages never
	// redirect.
	CurrentPath func() string

	Hooks     Hooks
	Logger    *slog.Logger
	Timeout   time.Duration
	UserAgent string

	// Base is the underlying round tripper. Defaults to a TLS 1.2+
	// transport with Timeout as response header timeout.
	Base http.RoundTripper
	// Refresh overrides the refresh endpoint call.
	Refresh RefreshFunc
}

// Client talks to the API on behalf of the logged-in user.
type Client struct {
	baseURL     string
	mode        Mode
	store       credentials.Store
	http        *http.Client
	plain       *retry.Client
	coordinator Coordinator
	terminator  *Terminator
	hooks       Hooks
	logger      *slog.Logger
}

// New builds a Client for cfg.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("credential store is required")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeClient
	case ModeClient, ModeCookie:
	default:
		return nil, fmt.Errorf("unknown credential mode %q", cfg.Mode)
	}
	if cfg.Hooks == nil {
		cfg.Hooks = NopHooks{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Base == nil {
		cfg.Base = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.Timeout,
		}
	}

	var jar http.CookieJar
	if cfg.Mode == ModeCookie {
		j, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		jar = j
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	plain, err := retry.NewClient(
		retry.WithHTTPClient(&http.Client{Transport: cfg.Base, Jar: jar}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}

	terminator := NewTerminator(cfg.Store, cfg.Navigator, cfg.CurrentPath, cfg.Hooks, cfg.Logger)

	refresh := cfg.Refresh
	if refresh == nil {
		refresh = NewRefresher(baseURL, cfg.Mode, plain, cfg.Logger).Refresh
	}

	var coordinator Coordinator
	if cfg.Mode == ModeCookie {
		coordinator = NewSharedCoordinator(cfg.Store, refresh, terminator, cfg.Hooks, cfg.Logger)
	} else {
		coordinator = NewQueueCoordinator(cfg.Store, refresh, terminator, cfg.Hooks, cfg.Logger)
	}

	transport := &Transport{
		base:        cfg.Base,
		mode:        cfg.Mode,
		store:       cfg.Store,
		coordinator: coordinator,
		terminator:  terminator,
		hooks:       cfg.Hooks,
		logger:      cfg.Logger,
		userAgent:   cfg.UserAgent,
		jar:         jar,
	}

	return &Client{
		baseURL:     baseURL,
		mode:        cfg.Mode,
		store:       cfg.Store,
		http:        &http.Client{Transport: transport, Jar: jar},
		plain:       plain,
		coordinator: coordinator,
		terminator:  terminator,
		hooks:       cfg.Hooks,
		logger:      cfg.Logger,
	}, nil
}

// HTTPClient returns the authenticating client for direct use.
func (c *Client) HTTPClient() *http.Client { return c.http }

// Coordinator returns the refresh coordinator.
func (c *Client) Coordinator() Coordinator { return c.coordinator }

// Terminator returns the session termination handler.
func (c *Client) Terminator() *Terminator { return c.terminator }

// Store returns the credential store.
func (c *Client) Store() credentials.Store { return c.store }

// Mode returns the credential mode.
func (c *Client) Mode() Mode { return c.mode }

// Do sends req through the authenticating pipeline.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

// Login authenticates with email and password and stores the returned
// credentials.
func (c *Client) Login(ctx context.Context, email, password string, rememberMe bool) (*User, error) {
	c.logger.Debug("login started", "email", email, "remember_me", rememberMe)

	body, err := json.Marshal(map[string]any{
		"email":      email,
		"password":   password,
		"rememberMe": rememberMe,
	})
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/auth/login", body)
	if err != nil {
		return nil, err
	}
	raw, err := c.doPlain(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	var user *User
	if c.mode == ModeCookie {
		user, err = c.storeCookieLogin(raw)
	} else {
		user, err = c.storeClientLogin(raw)
	}
	if err != nil {
		return nil, err
	}

	if user.Provider == "LOCAL" && !user.IsEmailVerified {
		c.store.ClearTokens()
		return nil, ErrEmailNotVerified
	}

	c.logger.Info("login complete", "user_id", user.ID)
	return user, nil
}

func (c *Client) storeClientLogin(raw []byte) (*User, error) {
	token, err := ParseRefreshResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid login response: %w", err)
	}
	userRaw := UserFromToken(token)
	if token.RefreshToken == "" || userRaw == nil {
		return nil, fmt.Errorf("%w: missing refresh token or user", ErrMalformedRefreshResponse)
	}

	var user User
	if err := json.Unmarshal(userRaw, &user); err != nil {
		return nil, fmt.Errorf("invalid user in login response: %w", err)
	}

	c.store.SetTokens(token.AccessToken, token.RefreshToken)
	if uc, ok := c.store.(userCache); ok {
		uc.SetUser(string(userRaw))
	}
	return &user, nil
}

func (c *Client) storeCookieLogin(raw []byte) (*User, error) {
	data, err := unwrap(raw)
	if err != nil {
		return nil, err
	}
	var payload struct {
		User *User `json:"user"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.User == nil {
		return nil, ErrInvalidResponse
	}
	if token, err := ParseRefreshResponse(raw); err == nil {
		c.store.SetAccessToken(token.AccessToken)
	}
	return payload.User, nil
}

// CurrentUser fetches the logged-in user.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if _, err := c.getJSON(ctx, "/v1/auth/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// InitializeAuth restores a session at startup. It returns (nil, nil) when
// no credentials are stored, and the current user otherwise. An expired
// access credential is refreshed transparently by the transport.
func (c *Client) InitializeAuth(ctx context.Context) (*User, error) {
	if c.mode == ModeClient && !c.store.HasTokens() {
		c.logger.Debug("no stored session")
		return nil, nil
	}
	return c.CurrentUser(ctx)
}

// CheckAuthStatus probes the status endpoint without triggering recovery.
func (c *Client) CheckAuthStatus(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(NoRecover(ctx), statusProbeTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/auth/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("auth status probe failed", "error", err)
		return false
	}
	defer drain(resp)
	return resp.StatusCode == http.StatusOK
}

// Sessions lists the active sessions of the current user.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if _, err := c.getJSON(ctx, "/v1/auth/sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// RevokeSession ends one session by id.
func (c *Client) RevokeSession(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/auth/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// EssenceFeed fetches a page of summarized posts, newest first.
func (c *Client) EssenceFeed(ctx context.Context, page, limit int) (*FeedPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sortBy", "created_at")
	q.Set("sortOrder", "desc")

	var posts []Post
	env, err := c.getJSON(ctx, "/v1/posts/essence-feed?"+q.Encode(), &posts)
	if err != nil {
		return nil, err
	}
	out := &FeedPage{Posts: posts}
	if env.Pagination != nil {
		out.Pagination = *env.Pagination
	}
	return out, nil
}

// Logout ends the current session. Local credentials are cleared even if
// the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.store.ClearTokens()

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/auth/logout", nil)
	if err != nil {
		return err
	}
	if c.mode == ModeClient {
		if token := c.store.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if _, err := c.doPlain(ctx, req); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

// LogoutAll ends every session of the user. Local credentials are cleared
// only when the server confirms.
func (c *Client) LogoutAll(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/auth/logout-all", nil)
	if err != nil {
		return err
	}
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("logout-all failed: %w", err)
	}
	c.store.ClearTokens()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// getJSON GETs path and decodes the envelope's data into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) (*envelope, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return decodeData(raw, out)
}

// postJSON POSTs in as JSON through the authenticating client and decodes
// the envelope's data into out. A nil out skips the data.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) (*envelope, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return decodeEnvelope(raw)
	}
	return decodeData(raw, out)
}

// postPlain POSTs in as JSON on the credential-free client, for endpoints
// used before a session exists.
func (c *Client) postPlain(ctx context.Context, path string, in any) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	return c.doPlain(ctx, req)
}

func decodeEnvelope(raw []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !env.Success {
		return nil, apiErrorFrom(http.StatusOK, &env, ErrInvalidResponse)
	}
	return &env, nil
}

func decodeData(raw []byte, out any) (*envelope, error) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, apiErrorFrom(http.StatusOK, env, ErrInvalidResponse)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return nil, fmt.Errorf("failed to parse response data: %w", err)
	}
	return env, nil
}

// do sends req through the authenticating client and returns the body of
// a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	return readResponse(resp)
}

// doPlain sends req on the credential-free retrying client.
func (c *Client) doPlain(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := c.plain.DoWithContext(ctx, req)
	if err != nil {
		return nil, err
	}
	return readResponse(resp)
}

func readResponse(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env envelope
		_ = json.Unmarshal(body, &env)
		return nil, apiErrorFrom(resp.StatusCode, &env, nil)
	}
	return body, nil
}

func apiErrorFrom(status int, env *envelope, fallback error) error {
	apiErr := &APIError{StatusCode: status, Message: env.Message}
	if env.Error != nil {
		apiErr.Code = env.Error.Code
		if env.Error.Message != "" {
			apiErr.Message = env.Error.Message
		}
	}
	if fallback != nil && apiErr.Code == "" && apiErr.Message == "" {
		return fallback
	}
	return apiErr
}

// unwrap returns the envelope's data, or raw itself for bare objects.
func unwrap(raw []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return raw, nil
	}
	return env.Data, nil
}
