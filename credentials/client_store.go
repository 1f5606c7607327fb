package credentials

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/spectrity/essence-cli/logging"
)

const backendTimeout = 5 * time.Second

// ClientStore is the client-held variant: both credentials are readable by
// this process and persisted in a durable Backend. The access credential
// is also cached in memory; after a restart the cache is rebuilt from the
// backend on first read.
type ClientStore struct {
	backend Backend
	logger  *slog.Logger

	mu     sync.RWMutex
	access string
}

// NewClientStore returns a ClientStore persisting to backend.
func NewClientStore(backend Backend, logger *slog.Logger) *ClientStore {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ClientStore{backend: backend, logger: logger}
}

// Backend returns the durable backend.
func (s *ClientStore) Backend() Backend {
	return s.backend
}

func (s *ClientStore) AccessToken() string {
	s.mu.RLock()
	access := s.access
	s.mu.RUnlock()
	if access != "" {
		return access
	}

	stored := s.get(AccessTokenKey)
	if stored == "" {
		return ""
	}

	s.mu.Lock()
	if s.access == "" {
		s.access = stored
	}
	access = s.access
	s.mu.Unlock()
	return access
}

func (s *ClientStore) SetAccessToken(token string) {
	s.mu.Lock()
	s.access = token
	s.mu.Unlock()
	s.set(AccessTokenKey, token)
}

func (s *ClientStore) RefreshToken() string {
	return s.get(RefreshTokenKey)
}

func (s *ClientStore) SetTokens(access, refresh string) {
	s.mu.Lock()
	s.access = access
	s.mu.Unlock()
	s.set(AccessTokenKey, access)
	s.set(RefreshTokenKey, refresh)
	s.logger.Debug("tokens stored",
		"access_token", logging.Summarize(access),
		"refresh_token", logging.Summarize(refresh),
	)
}

// ClearTokens removes both credentials and the cached user profile.
func (s *ClientStore) ClearTokens() {
	s.Forget()
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := s.backend.Delete(ctx, AccessTokenKey, RefreshTokenKey, UserKey); err != nil {
		s.logger.Warn("failed to clear stored credentials", "error", err)
		return
	}
	s.logger.Debug("stored credentials cleared")
}

// Forget drops in-memory state only, leaving the backend untouched.
func (s *ClientStore) Forget() {
	s.mu.Lock()
	s.access = ""
	s.mu.Unlock()
}

func (s *ClientStore) HasTokens() bool {
	return s.RefreshToken() != ""
}

// User returns the cached user profile snapshot, if any.
func (s *ClientStore) User() string {
	return s.get(UserKey)
}

// SetUser caches a user profile snapshot alongside the credentials.
func (s *ClientStore) SetUser(raw string) {
	s.set(UserKey, raw)
}

func (s *ClientStore) get(key string) string {
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	val, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("credential read failed", "key", key, "error", err)
		return ""
	}
	return val
}

func (s *ClientStore) set(key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := s.backend.Set(ctx, key, value); err != nil {
		s.logger.Warn("credential write failed", "key", key, "error", err)
	}
}
