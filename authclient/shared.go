package authclient

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/spectrity/essence-cli/credentials"
)

const refreshKey = "refresh"

// SharedCoordinator is the cookie-held coordinator: concurrent callers
// share one in-flight refresh call and all observe its result.
type SharedCoordinator struct {
	store      credentials.Store
	refresh    RefreshFunc
	terminator *Terminator
	hooks      Hooks
	logger     *slog.Logger

	group  singleflight.Group
	active atomic.Bool
}

// NewSharedCoordinator returns a coordinator refreshing through fn.
func NewSharedCoordinator(
	store credentials.Store,
	fn RefreshFunc,
	terminator *Terminator,
	hooks Hooks,
	logger *slog.Logger,
) *SharedCoordinator {
	return &SharedCoordinator{
		store:      store,
		refresh:    fn,
		terminator: terminator,
		hooks:      hooks,
		logger:     logger,
	}
}

// Refreshing reports whether a refresh is in flight.
func (c *SharedCoordinator) Refreshing() bool {
	return c.active.Load()
}

// EnsureFreshCredential joins the in-flight refresh or starts one. The
// stale value is ignored since cookies are not readable. A cancelled ctx
// abandons the wait but not the refresh.
func (c *SharedCoordinator) EnsureFreshCredential(ctx context.Context, _ string) (string, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		c.active.Store(true)
		defer c.active.Store(false)
		return c.run(detached)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("joined in-flight refresh")
		}
		if res.Err != nil {
			return "", res.Err
		}
		token, _ := res.Val.(string)
		return token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *SharedCoordinator) run(ctx context.Context) (string, error) {
	c.hooks.RefreshStarted()

	token, err := c.refresh(ctx, "")
	if err != nil {
		c.logger.Warn("session refresh failed", "error", err)
		c.store.ClearTokens()
		c.hooks.RefreshFailed(err)
		c.terminator.Terminate(ReasonSessionExpired)
		return "", err
	}

	if token.AccessToken != "" {
		c.store.SetAccessToken(token.AccessToken)
	}
	c.logger.Info("session refreshed")
	c.hooks.RefreshSucceeded()
	return token.AccessToken, nil
}
