package authclient

import (
	"context"
	"log/slog"
	"sync"

	"github.com/spectrity/essence-cli/credentials"
)

// Mode selects where the credentials live.
type Mode string

const (
	// ModeClient keeps both credentials in a store readable by this process.
	ModeClient Mode = "client"
	// ModeCookie keeps them in HttpOnly cookies handled by the cookie jar.
	ModeCookie Mode = "cookie"
)

// Coordinator ensures at most one refresh is in flight. Callers that need
// a fresh credential while a refresh is running wait for its outcome.
//
// stale is the access credential the rejected request carried. When the
// store already holds a different one and nothing is refreshing, that one
// is returned without a new refresh.
type Coordinator interface {
	EnsureFreshCredential(ctx context.Context, stale string) (string, error)
	Refreshing() bool
}

type refreshResult struct {
	token string
	err   error
}

// QueueCoordinator is the client-held coordinator. The first caller runs
// the refresh; later callers are parked in a queue and settled in arrival
// order with the same outcome.
type QueueCoordinator struct {
	store      credentials.Store
	refresh    RefreshFunc
	terminator *Terminator
	hooks      Hooks
	logger     *slog.Logger

	mu         sync.Mutex
	refreshing bool
	queue      []chan refreshResult
}

// NewQueueCoordinator returns a coordinator refreshing through fn. A failed
// refresh clears the store and hands off to terminator.
func NewQueueCoordinator(
	store credentials.Store,
	fn RefreshFunc,
	terminator *Terminator,
	hooks Hooks,
	logger *slog.Logger,
) *QueueCoordinator {
	return &QueueCoordinator{
		store:      store,
		refresh:    fn,
		terminator: terminator,
		hooks:      hooks,
		logger:     logger,
	}
}

// Refreshing reports whether a refresh is in flight.
func (c *QueueCoordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// Pending returns the number of callers waiting on the current refresh.
func (c *QueueCoordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// EnsureFreshCredential returns a credential newer than stale, starting a
// refresh or queueing behind the one in flight.
func (c *QueueCoordinator) EnsureFreshCredential(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	if !c.refreshing && stale != "" {
		// A refresh that completed after this request was sent has
		// already stored its result.
		if current := c.store.AccessToken(); current != "" && current != stale {
			c.mu.Unlock()
			c.logger.Debug("access token already rotated, reusing")
			return current, nil
		}
	}
	if c.refreshing {
		ch := make(chan refreshResult, 1)
		c.queue = append(c.queue, ch)
		c.mu.Unlock()

		c.logger.Debug("refresh in progress, request queued")
		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.refreshing = true
	c.mu.Unlock()

	token, err := "", errRefreshAborted
	defer func() { c.settle(token, err) }()

	token, err = c.run(ctx)
	return token, err
}

func (c *QueueCoordinator) run(ctx context.Context) (string, error) {
	c.hooks.RefreshStarted()

	refreshToken := c.store.RefreshToken()
	if refreshToken == "" {
		c.fail(ErrNoRefreshToken)
		return "", ErrNoRefreshToken
	}

	// The refresh outlives a cancelled trigger; queued callers depend on it.
	token, err := c.refresh(context.WithoutCancel(ctx), refreshToken)
	if err != nil {
		c.fail(err)
		return "", err
	}

	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	c.store.SetTokens(token.AccessToken, newRefresh)
	if raw := UserFromToken(token); raw != nil {
		if uc, ok := c.store.(userCache); ok {
			uc.SetUser(string(raw))
		}
	}

	c.logger.Info("access token refreshed")
	c.hooks.RefreshSucceeded()
	return token.AccessToken, nil
}

func (c *QueueCoordinator) fail(err error) {
	c.logger.Warn("token refresh failed", "error", err)
	c.store.ClearTokens()
	c.hooks.RefreshFailed(err)
	c.terminator.Terminate(ReasonSessionExpired)
}

// settle releases every queued caller in arrival order and resets the
// coordinator for the next cycle.
func (c *QueueCoordinator) settle(token string, err error) {
	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.refreshing = false
	c.mu.Unlock()

	if len(queue) > 0 {
		c.logger.Debug("settling queued requests", "count", len(queue), "ok", err == nil)
	}
	for _, ch := range queue {
		ch <- refreshResult{token: token, err: err}
	}
}

// userCache is implemented by stores that keep a profile snapshot.
type userCache interface {
	User() string
	SetUser(raw string)
}
