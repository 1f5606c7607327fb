package authclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectrity/essence-cli/credentials"
	"github.com/spectrity/essence-cli/mockapi"
)

func TestNew_Validation(t *testing.T) {
	store := credentials.NewClientStore(credentials.NewMemoryBackend(), nil)

	_, err := New(Config{Store: store})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "http://x"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "http://x", Store: store, Mode: "session"})
	assert.Error(t, err)

	c, err := New(Config{BaseURL: "http://x/", Store: store})
	require.NoError(t, err)
	assert.Equal(t, ModeClient, c.Mode())
	assert.Equal(t, "http://x", c.baseURL)
}

func TestClient_LoginStoresCredentials(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/login")

	user, err := c.Login(context.Background(), "ada@example.com", "pw", true)
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, "Ada", user.FirstName)

	assert.Equal(t, "at-1", c.store.AccessToken())
	assert.Equal(t, "rt-1", c.store.RefreshToken())
	assert.Contains(t, c.store.(*credentials.ClientStore).User(), `"u-1"`)
}

func TestClient_LoginRejectsUnverifiedEmail(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.loginBody = `{"success":true,"data":{"user":{"id":"u-1","provider":"LOCAL","is_email_verified":false},"accessToken":"at-1","refreshToken":"rt-1"}}`
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/login")

	_, err := c.Login(context.Background(), "ada@example.com", "pw", false)
	assert.ErrorIs(t, err, ErrEmailNotVerified)
	assert.False(t, c.store.HasTokens())
}

func TestClient_LoginMalformedResponse(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.loginBody = `{"success":true,"data":{"accessToken":"at-1"}}`
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/login")

	_, err := c.Login(context.Background(), "ada@example.com", "pw", false)
	assert.ErrorIs(t, err, ErrMalformedRefreshResponse)
	assert.False(t, c.store.HasTokens())
}

func TestClient_LogoutAlwaysClears(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.logoutStatus = http.StatusBadRequest
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/feed")
	c.store.SetTokens("at-1", "rt-1")

	err := c.Logout(context.Background())
	assert.Error(t, err)
	assert.False(t, c.store.HasTokens())
	assert.Equal(t, int32(0), api.refreshCalls.Load())
}

func TestClient_LogoutAllKeepsCredentialsOnFailure(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	api.logoutStatus = http.StatusBadRequest
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/feed")
	c.store.SetTokens("at-1", "rt-1")

	require.Error(t, c.LogoutAll(context.Background()))
	assert.True(t, c.store.HasTokens())

	api.mu.Lock()
	api.logoutStatus = 0
	api.mu.Unlock()
	require.NoError(t, c.LogoutAll(context.Background()))
	assert.False(t, c.store.HasTokens())
}

func TestClient_InitializeAuth(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/")

	user, err := c.InitializeAuth(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Equal(t, int32(0), api.meCalls.Load(), "no stored session means no network call")

	// Only the refresh credential survived a restart.
	c.store.SetTokens("", "rt-1")
	api.expire()
	user, err = c.InitializeAuth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, int32(1), api.refreshCalls.Load())
}

func TestClient_CheckAuthStatus(t *testing.T) {
	api := newFakeAPI("at-1", "rt-1")
	srv := api.serve(t)
	c := newTestClient(t, srv, ModeClient, "/")

	c.store.SetTokens("at-1", "rt-1")
	assert.True(t, c.CheckAuthStatus(context.Background()))

	api.expire()
	assert.False(t, c.CheckAuthStatus(context.Background()))
	assert.Equal(t, int32(0), api.refreshCalls.Load(), "the probe never triggers recovery")
}

func newMockBackend(t *testing.T, opts mockapi.Options) (*mockapi.Server, *httptest.Server) {
	t.Helper()
	api := mockapi.New(opts)
	api.AddUser("ada@example.com", "pw", "Ada", "Lovelace", true)
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv
}

func TestClient_AgainstMockAPI(t *testing.T) {
	api, srv := newMockBackend(t, mockapi.Options{})
	c := newTestClient(t, srv, ModeClient, "/feed")
	ctx := context.Background()

	user, err := c.Login(ctx, "ada@example.com", "pw", false)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", user.DisplayName())

	page, err := c.EssenceFeed(ctx, 1, 3)
	require.NoError(t, err)
	assert.Len(t, page.Posts, 3)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	assert.True(t, page.Posts[0].CreatedAt.After(page.Posts[1].CreatedAt), "newest first")

	api.ExpireAccessTokens()
	me, err := c.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, user.ID, me.ID)
	assert.Equal(t, 1, api.RefreshCalls())

	sessions, err := c.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, c.Logout(ctx))
	assert.False(t, c.store.HasTokens())
	assert.Equal(t, 0, api.SessionCount())
}

func TestClient_BurstAgainstMockAPI(t *testing.T) {
	api, srv := newMockBackend(t, mockapi.Options{RefreshDelay: 50 * time.Millisecond})
	c := newTestClient(t, srv, ModeClient, "/feed")
	ctx := context.Background()

	_, err := c.Login(ctx, "ada@example.com", "pw", false)
	require.NoError(t, err)
	api.ExpireAccessTokens()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.EssenceFeed(ctx, 1, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, api.RefreshCalls())
}

func TestClient_RevokeSession(t *testing.T) {
	api, srv := newMockBackend(t, mockapi.Options{})
	ctx := context.Background()

	other := newTestClient(t, srv, ModeClient, "/feed")
	_, err := other.Login(ctx, "ada@example.com", "pw", false)
	require.NoError(t, err)
	sessions, err := other.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	c := newTestClient(t, srv, ModeClient, "/settings/sessions")
	_, err = c.Login(ctx, "ada@example.com", "pw", false)
	require.NoError(t, err)
	require.Equal(t, 2, api.SessionCount())

	require.NoError(t, c.RevokeSession(ctx, sessions[0].ID))
	assert.Equal(t, 1, api.SessionCount())

	err = c.RevokeSession(ctx, "no-such-session")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.True(t, c.store.HasTokens(), "a 404 does not end the session")
}

func TestClient_RevokedSessionEndsLocally(t *testing.T) {
	api, srv := newMockBackend(t, mockapi.Options{})
	c := newTestClient(t, srv, ModeClient, "/feed")
	ctx := context.Background()

	_, err := c.Login(ctx, "ada@example.com", "pw", false)
	require.NoError(t, err)
	api.RevokeAll()

	_, err = c.CurrentUser(ctx)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.False(t, c.store.HasTokens())
	assert.Equal(t, []string{"/login?session=expired"}, c.nav.Locations())
}

func TestClient_CookieModeAgainstMockAPI(t *testing.T) {
	api, srv := newMockBackend(t, mockapi.Options{Cookie: true})
	c := newTestClient(t, srv, ModeCookie, "/feed")
	ctx := context.Background()

	_, err := c.Login(ctx, "ada@example.com", "pw", true)
	require.NoError(t, err)
	assert.NotEmpty(t, c.store.AccessToken())
	assert.Empty(t, c.store.RefreshToken())

	api.ExpireAccessTokens()
	_, err = c.EssenceFeed(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, api.RefreshCalls())
	assert.True(t, c.CheckAuthStatus(ctx))
}
