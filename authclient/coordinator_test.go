package authclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/spectrity/essence-cli/credentials"
	"github.com/spectrity/essence-cli/logging"
)

func newCoordinatorFixture(t *testing.T) (*credentials.ClientStore, *recordingNavigator, *Terminator) {
	t.Helper()
	store := credentials.NewClientStore(credentials.NewMemoryBackend(), nil)
	nav := &recordingNavigator{}
	term := NewTerminator(store, nav, func() string { return "/feed" }, NopHooks{}, logging.Discard())
	return store, nav, term
}

func TestQueueCoordinator_QueuedCallersShareOutcome(t *testing.T) {
	store, _, term := newCoordinatorFixture(t)
	store.SetTokens("at-1", "rt-1")

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	refresh := func(ctx context.Context, rt string) (*oauth2.Token, error) {
		calls.Add(1)
		assert.Equal(t, "rt-1", rt)
		close(started)
		<-release
		return &oauth2.Token{AccessToken: "at-2", RefreshToken: "rt-2"}, nil
	}
	c := NewQueueCoordinator(store, refresh, term, NopHooks{}, logging.Discard())

	const waiters = 4
	results := make(chan string, waiters+1)

	go func() {
		tok, err := c.EnsureFreshCredential(context.Background(), "at-1")
		assert.NoError(t, err)
		results <- tok
	}()
	<-started
	assert.True(t, c.Refreshing())

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.EnsureFreshCredential(context.Background(), "at-1")
			assert.NoError(t, err)
			results <- tok
		}()
	}
	require.Eventually(t, func() bool { return c.Pending() == waiters }, time.Second, time.Millisecond)

	close(release)
	wg.Wait()

	for i := 0; i < waiters+1; i++ {
		assert.Equal(t, "at-2", <-results)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, c.Pending())
	assert.False(t, c.Refreshing())
	assert.Equal(t, "rt-2", store.RefreshToken())
}

func TestQueueCoordinator_FailureRejectsQueueAndResets(t *testing.T) {
	store, nav, term := newCoordinatorFixture(t)
	store.SetTokens("at-1", "rt-1")

	boom := errors.New("refresh rejected")
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	refresh := func(ctx context.Context, rt string) (*oauth2.Token, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil, boom
	}
	c := NewQueueCoordinator(store, refresh, term, NopHooks{}, logging.Discard())

	errs := make(chan error, 3)
	go func() {
		_, err := c.EnsureFreshCredential(context.Background(), "at-1")
		errs <- err
	}()
	<-started
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.EnsureFreshCredential(context.Background(), "at-1")
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return c.Pending() == 2 }, time.Second, time.Millisecond)
	close(release)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, <-errs, boom)
	}
	assert.False(t, store.HasTokens())
	assert.Equal(t, []string{"/login?session=expired"}, nav.Locations())

	// A later cycle starts fresh.
	store.SetTokens("at-3", "rt-3")
	_, err := c.EnsureFreshCredential(context.Background(), "at-3")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueueCoordinator_ReusesRotatedToken(t *testing.T) {
	store, _, term := newCoordinatorFixture(t)
	store.SetTokens("at-2", "rt-2")

	c := NewQueueCoordinator(store, func(context.Context, string) (*oauth2.Token, error) {
		t.Fatal("refresh must not run")
		return nil, nil
	}, term, NopHooks{}, logging.Discard())

	tok, err := c.EnsureFreshCredential(context.Background(), "at-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", tok)
}

func TestQueueCoordinator_NoRefreshToken(t *testing.T) {
	store, nav, term := newCoordinatorFixture(t)
	store.SetAccessToken("at-1")

	var calls atomic.Int32
	c := NewQueueCoordinator(store, func(context.Context, string) (*oauth2.Token, error) {
		calls.Add(1)
		return nil, nil
	}, term, NopHooks{}, logging.Discard())

	_, err := c.EnsureFreshCredential(context.Background(), "at-1")
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, int32(0), calls.Load())
	assert.Len(t, nav.Locations(), 1)
	assert.False(t, c.Refreshing())
}

func TestQueueCoordinator_QueuedCallerCancellation(t *testing.T) {
	store, _, term := newCoordinatorFixture(t)
	store.SetTokens("at-1", "rt-1")

	started := make(chan struct{})
	release := make(chan struct{})
	c := NewQueueCoordinator(store, func(ctx context.Context, rt string) (*oauth2.Token, error) {
		close(started)
		<-release
		return &oauth2.Token{AccessToken: "at-2", RefreshToken: "rt-2"}, nil
	}, term, NopHooks{}, logging.Discard())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.EnsureFreshCredential(context.Background(), "at-1")
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.EnsureFreshCredential(ctx, "at-1")
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	<-done
	assert.Equal(t, "at-2", store.AccessToken())
}

func TestQueueCoordinator_StoresUserFromResponse(t *testing.T) {
	store, _, term := newCoordinatorFixture(t)
	store.SetTokens("at-1", "rt-1")

	c := NewQueueCoordinator(store, func(context.Context, string) (*oauth2.Token, error) {
		return ParseRefreshResponse([]byte(`{"data":{"accessToken":"at-2","refreshToken":"rt-2","user":{"id":"u-9"}}}`))
	}, term, NopHooks{}, logging.Discard())

	_, err := c.EnsureFreshCredential(context.Background(), "at-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"u-9"}`, store.User())
}

func TestSharedCoordinator_ConcurrentCallersShareOneCall(t *testing.T) {
	store := credentials.NewCookieStore(nil, nil)
	term := NewTerminator(store, nil, nil, NopHooks{}, logging.Discard())

	var calls atomic.Int32
	c := NewSharedCoordinator(store, func(ctx context.Context, rt string) (*oauth2.Token, error) {
		calls.Add(1)
		assert.Empty(t, rt)
		time.Sleep(50 * time.Millisecond)
		return &oauth2.Token{AccessToken: "at-2"}, nil
	}, term, NopHooks{}, logging.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.EnsureFreshCredential(context.Background(), "")
			assert.NoError(t, err)
			assert.Equal(t, "at-2", tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "at-2", store.AccessToken())
	assert.False(t, c.Refreshing())
}

func TestSharedCoordinator_FailureTerminates(t *testing.T) {
	store := credentials.NewCookieStore(nil, nil)
	store.SetAccessToken("at-1")
	nav := &recordingNavigator{}
	term := NewTerminator(store, nav, func() string { return "/feed" }, NopHooks{}, logging.Discard())

	c := NewSharedCoordinator(store, func(context.Context, string) (*oauth2.Token, error) {
		return nil, ErrRefreshFailed
	}, term, NopHooks{}, logging.Discard())

	_, err := c.EnsureFreshCredential(context.Background(), "")
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Empty(t, store.AccessToken())
	assert.Equal(t, []string{"/login?session=expired"}, nav.Locations())
}

func TestSharedCoordinator_CancelledWaiterLeavesRefreshRunning(t *testing.T) {
	store := credentials.NewCookieStore(nil, nil)
	term := NewTerminator(store, nil, nil, NopHooks{}, logging.Discard())

	started := make(chan struct{})
	release := make(chan struct{})
	c := NewSharedCoordinator(store, func(ctx context.Context, _ string) (*oauth2.Token, error) {
		close(started)
		<-release
		return &oauth2.Token{AccessToken: "at-2"}, ctx.Err()
	}, term, NopHooks{}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.EnsureFreshCredential(ctx, "ignored")
		errCh <- err
	}()
	<-started
	assert.True(t, c.Refreshing())

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.True(t, c.Refreshing(), "the refresh outlives its caller")

	close(release)
	require.Eventually(t, func() bool {
		return !c.Refreshing() && store.AccessToken() == "at-2"
	}, time.Second, 10*time.Millisecond)
}
