package authclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/spectrity/essence-cli/credentials"
)

// LogoutWatcher reacts to another process sharing the credential backend.
// When the refresh credential disappears the local session is dropped
// without touching the backend or the network; when one appears OnLogin
// runs so the caller can re-initialize.
type LogoutWatcher struct {
	backend    credentials.Backend
	store      credentials.Store
	terminator *Terminator
	interval   time.Duration
	logger     *slog.Logger

	// OnLogin is called when a refresh credential shows up after being absent.
	OnLogin func()
}

// NewLogoutWatcher returns a watcher polling backend every interval.
func NewLogoutWatcher(
	backend credentials.Backend,
	store credentials.Store,
	terminator *Terminator,
	interval time.Duration,
	logger *slog.Logger,
) *LogoutWatcher {
	return &LogoutWatcher{
		backend:    backend,
		store:      store,
		terminator: terminator,
		interval:   interval,
		logger:     logger,
	}
}

// Run blocks until ctx ends.
func (w *LogoutWatcher) Run(ctx context.Context) error {
	return credentials.Watch(ctx, w.backend, credentials.RefreshTokenKey, w.interval, w.handle)
}

func (w *LogoutWatcher) handle(c credentials.Change) {
	switch {
	case c.Removed():
		w.logger.Info("logged out in another session")
		if f, ok := w.store.(interface{ Forget() }); ok {
			f.Forget()
		}
		w.terminator.redirect(ReasonLoggedOutElsewhere)
	case c.Added():
		w.logger.Info("logged in from another session")
		if w.OnLogin != nil {
			w.OnLogin()
		}
	}
}
