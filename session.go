package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spectrity/essence-cli/authclient"
	"github.com/spectrity/essence-cli/credentials"
	"github.com/spectrity/essence-cli/tui"
)

const (
	storeFile   = "file"
	storeRedis  = "redis"
	storeMemory = "memory"

	redisPingTimeout = 5 * time.Second
)

// session bundles the credential backend, store and client a command
// runs against.
type session struct {
	cfg      *config
	backend  credentials.Backend
	store    credentials.Store
	client   *authclient.Client
	location string
	logger   *slog.Logger
	close    func() error

	redirected atomic.Pointer[string]
}

// openBackend returns the credential backend selected by cfg.Store, a
// human-readable location for it and a close func.
func openBackend(ctx context.Context, cfg *config) (credentials.Backend, string, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store {
	case storeFile:
		b := credentials.NewFileBackend(cfg.TokenFile, cfg.APIURL)
		return b, b.Path(), noop, nil

	case storeRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, "", nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return credentials.NewRedisBackend(rdb, "essence:"+cfg.APIURL), "redis://" + cfg.RedisAddr, rdb.Close, nil

	case storeMemory:
		return credentials.NewMemoryBackend(), "memory", noop, nil

	default:
		return nil, "", nil, fmt.Errorf("unknown token store %q", cfg.Store)
	}
}

// newStore picks the credential store for the mode. Cookie mode keeps the
// backend only for legacy cleanup.
func newStore(mode authclient.Mode, backend credentials.Backend, logger *slog.Logger) credentials.Store {
	if mode == authclient.ModeCookie {
		return credentials.NewCookieStore(backend, logger)
	}
	return credentials.NewClientStore(backend, logger)
}

func newSession(ctx context.Context, cfg *config, d tui.Displayer, logger *slog.Logger) (*session, error) {
	backend, location, closeFn, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:      cfg,
		backend:  backend,
		store:    newStore(cfg.Mode, backend, logger),
		location: location,
		logger:   logger,
		close:    closeFn,
	}

	s.client, err = authclient.New(authclient.Config{
		BaseURL: cfg.APIURL,
		Mode:    cfg.Mode,
		Store:   s.store,
		Navigator: authclient.NavigatorFunc(func(location string) {
			s.redirected.Store(&location)
		}),
		CurrentPath: func() string { return cfg.Page },
		Hooks:       d,
		Logger:      logger,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		_ = closeFn()
		return nil, err
	}
	return s, nil
}

// Redirected returns the login location the session was sent to, if it
// ended during the command.
func (s *session) Redirected() (string, bool) {
	p := s.redirected.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// explain adds a re-login hint when err ended the session.
func (s *session) explain(err error) error {
	if err == nil {
		return nil
	}
	if loc, ok := s.Redirected(); ok {
		return fmt.Errorf("%w (session ended, redirected to %s; run `essence login`)", err, loc)
	}
	return err
}

// runSession resolves config, opens a session and runs fn with a displayer.
func runSession(
	f *flags,
	page string,
	fn func(ctx context.Context, s *session, d tui.Displayer) error,
) error {
	cfg, err := f.resolve(page)
	if err != nil {
		return err
	}
	warnPlaintext(os.Stderr, cfg.APIURL)

	return withDisplayer(cfg.Debug, func(ctx context.Context, d tui.Displayer, logger *slog.Logger) error {
		s, err := newSession(ctx, cfg, d, logger)
		if err != nil {
			return err
		}
		defer s.close()
		return s.explain(fn(ctx, s, d))
	})
}
