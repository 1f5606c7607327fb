package authclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_AttachesBearerAndHeaders(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/dashboard")
	c.store.SetTokens("at-1", "rt-1")

	user, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.FirstName)
	assert.Equal(t, []string{"Bearer at-1"}, api.authHeaders)
	assert.Equal(t, int32(0), api.refreshCalls.Load())
}

func TestTransport_NoCredentialSendsNoHeader(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		io.WriteString(w, `{"success":true,"data":{"id":"u-1"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, ModeClient, "/")
	_, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{""}, got)
}

func TestTransport_BurstSharesOneRefresh(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.refreshDelay = 50 * time.Millisecond
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/dashboard")
	c.store.SetTokens("at-1", "rt-1")

	api.expire()
	api.hold(5)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.CurrentUser(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	assert.Equal(t, int32(1), api.refreshCalls.Load())

	headers := api.authHeaders
	require.Len(t, headers, 2*n)
	replays := 0
	for _, h := range headers {
		switch h {
		case "Bearer at-1":
		case "Bearer at-2":
			replays++
		default:
			t.Errorf("unexpected Authorization header %q", h)
		}
	}
	assert.Equal(t, n, replays, "every replay carries the refreshed token")
	assert.Equal(t, "at-2", c.store.AccessToken())
	assert.Equal(t, "rt-2", c.store.RefreshToken())
	assert.Empty(t, c.nav.Locations())
}

func TestTransport_ReplayRejectedTerminates(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.alwaysReject = true
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/dashboard")
	c.store.SetTokens("at-1", "rt-1")

	_, err := c.CurrentUser(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, int32(1), api.refreshCalls.Load(), "a replay never refreshes again")
	assert.Equal(t, int32(2), api.meCalls.Load(), "the request is replayed exactly once")
	assert.False(t, c.store.HasTokens())
	assert.Equal(t, []string{"/login?session=expired"}, c.nav.Locations())
	assert.Equal(t, []string{
		"refresh_started",
		"refresh_succeeded",
		"request_retried",
		"session_terminated",
	}, c.hooks.Events())
}

func TestTransport_RefreshFailureRejectsAllQueued(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.refreshDelay = 50 * time.Millisecond
	api.refreshFail = true
	api.refreshStatus = http.StatusBadRequest
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/dashboard")
	c.store.SetTokens("at-1", "rt-1")

	api.expire()
	api.hold(5)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.CurrentUser(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.ErrorIs(t, err, ErrRefreshFailed, "request %d", i)
	}
	assert.Equal(t, int32(1), api.refreshCalls.Load())
	assert.False(t, c.store.HasTokens())
	assert.Empty(t, c.store.AccessToken())
	assert.Equal(t, []string{"/login?session=expired"}, c.nav.Locations())
	assert.False(t, c.Coordinator().Refreshing())
}

func TestTransport_NoRedirectOnAuthPages(t *testing.T) {
	for _, page := range []string{"/login", "/register", "/forgot-password", "/login?next=/feed"} {
		t.Run(page, func(t *testing.T) {
			api := newFakeAPI("at-1", "rt-1")
			api.refreshFail = true
			srv := api.serve(t)
			c := newTestClient(t, srv, ModeClient, page)
			c.store.SetTokens("stale", "rt-1")

			_, err := c.CurrentUser(context.Background())
			assert.ErrorIs(t, err, ErrRefreshFailed)
			assert.False(t, c.store.HasTokens(), "credentials are cleared regardless of page")
			assert.Empty(t, c.nav.Locations())
		})
	}
}

func TestTransport_NonAuthErrorsPassThrough(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.meStatus = http.StatusInternalServerError
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/dashboard")
	c.store.SetTokens("at-1", "rt-1")

	_, err := c.CurrentUser(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "SERVER_ERROR", apiErr.Code)
	assert.NotErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, int32(0), api.refreshCalls.Load())
	assert.Equal(t, "rt-1", c.store.RefreshToken())
	assert.Empty(t, c.nav.Locations())
}

func TestTransport_NetworkErrorPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(t, srv, ModeClient, "/dashboard")
	c.store.SetTokens("at-1", "rt-1")
	srv.Close()

	_, err := c.CurrentUser(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, "rt-1", c.store.RefreshToken())
	assert.Empty(t, c.nav.Locations())
}

func TestTransport_MissingRefreshTokenFailsFast(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/dashboard")
	c.store.SetAccessToken("stale")

	_, err := c.CurrentUser(context.Background())
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, int32(0), api.refreshCalls.Load())
	assert.Empty(t, c.store.AccessToken())
	assert.Equal(t, []string{"/login?session=expired"}, c.nav.Locations())
}

func TestTransport_RefreshWithoutNewRefreshTokenKeepsOld(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.omitRefresh = true
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/dashboard")
	c.store.SetTokens("at-1", "rt-1")
	api.expire()

	_, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-2", c.store.AccessToken())
	assert.Equal(t, "rt-1", c.store.RefreshToken())
}

func TestTransport_ReplaysBodyAndRequestID(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/dashboard")
	c.store.SetTokens("at-1", "rt-1")
	api.expire()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/echo", io.NopCloser(jsonBody(`{"url":"https://example.com/p/1"}`)))
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"url":"https://example.com/p/1"}`, string(body))

	require.Len(t, api.echoBodies, 2)
	assert.Equal(t, api.echoBodies[0], api.echoBodies[1])
	require.Len(t, api.requestIDs, 2)
	assert.NotEmpty(t, api.requestIDs[0])
	assert.Equal(t, api.requestIDs[0], api.requestIDs[1])
	assert.Equal(t, []string{"Bearer at-1", "Bearer at-2"}, api.authHeaders)
}

func TestTransport_NoRecoverSurfaces401(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/dashboard")
	c.store.SetTokens("stale", "rt-1")

	req, err := http.NewRequestWithContext(NoRecover(context.Background()), http.MethodGet, srv.URL+"/v1/auth/me", nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(0), api.refreshCalls.Load())
	assert.Equal(t, "rt-1", c.store.RefreshToken())
	assert.Empty(t, c.nav.Locations())
}

func TestTransport_CancelledCallerDoesNotCancelRefresh(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.refreshDelay = 100 * time.Millisecond
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/dashboard")
	c.store.SetTokens("at-1", "rt-1")
	api.expire()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.CurrentUser(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.NotErrorIs(t, err, ErrRefreshFailed)

	// The detached refresh completes and stores its result.
	require.Eventually(t, func() bool {
		return c.store.AccessToken() == "at-2"
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), api.refreshCalls.Load())
}

func TestTransport_CookieModeRecovers(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.cookie = true
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeCookie, "/dashboard")

	_, err := c.Login(context.Background(), "ada@example.com", "pw", false)
	require.NoError(t, err)

	api.expire()
	user, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)

	assert.Equal(t, int32(1), api.refreshCalls.Load())
	assert.Equal(t, []string{"{}"}, api.refreshBodies)
	for _, h := range api.authHeaders {
		assert.Empty(t, h, "cookie mode never sends a bearer header")
	}
	assert.Empty(t, c.store.RefreshToken())
}

func TestTransport_CookieModeReplaySendsRefreshedCookie(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.cookie = true
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeCookie, "/dashboard")

	_, err := c.Login(context.Background(), "ada@example.com", "pw", false)
	require.NoError(t, err)
	api.expire()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/v1/auth/me", nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"at-1", "at-2"}, api.cookiesSeen, "the replay reloads cookies from the jar")
	assert.Equal(t, int32(2), api.meCalls.Load())
	assert.Empty(t, c.nav.Locations())
	assert.NotContains(t, c.hooks.Events(), "session_terminated")
}

func TestTransport_CookieModeBurstSharesOneRefresh(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.cookie = true
	api.refreshDelay = 50 * time.Millisecond
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeCookie, "/dashboard")

	_, err := c.Login(context.Background(), "ada@example.com", "pw", false)
	require.NoError(t, err)
	api.expire()
	api.hold(5)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.CurrentUser(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	assert.Equal(t, int32(1), api.refreshCalls.Load())
}

func TestTransport_CookieModeRefreshFailure(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.cookie = true
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeCookie, "/feed")

	_, err := c.Login(context.Background(), "ada@example.com", "pw", false)
	require.NoError(t, err)
	api.expire()
	api.refreshFail = true

	_, err = c.CurrentUser(context.Background())
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, []string{"/login?session=expired"}, c.nav.Locations())
	assert.False(t, c.store.HasTokens())
}
