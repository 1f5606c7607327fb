package credentials

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/spectrity/essence-cli/logging"
)

// CookieStore is the cookie-held variant. The real credentials live in
// HttpOnly session cookies managed by the transport; this store only keeps
// a short-lived copy of the access credential for optimistic checks. It is
// never authoritative.
type CookieStore struct {
	legacy Backend
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	access string
	expiry time.Time
}

// NewCookieStore returns a CookieStore. legacy may be nil; when set,
// ClearTokens also removes keys left behind by the client-held variant.
func NewCookieStore(legacy Backend, logger *slog.Logger) *CookieStore {
	if logger == nil {
		logger = logging.Discard()
	}
	return &CookieStore{legacy: legacy, logger: logger, now: time.Now}
}

func (s *CookieStore) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.expiry.IsZero() && s.now().After(s.expiry) {
		s.access = ""
		s.expiry = time.Time{}
	}
	return s.access
}

// SetAccessToken caches token until its JWT exp claim, or indefinitely for
// opaque tokens.
func (s *CookieStore) SetAccessToken(token string) {
	expiry, _ := TokenExpiry(token)
	s.setAccess(token, expiry)
}

// SetAccessTokenTTL caches token for ttl.
func (s *CookieStore) SetAccessTokenTTL(token string, ttl time.Duration) {
	var expiry time.Time
	if ttl > 0 {
		expiry = s.now().Add(ttl)
	}
	s.setAccess(token, expiry)
}

func (s *CookieStore) setAccess(token string, expiry time.Time) {
	s.mu.Lock()
	s.access = token
	s.expiry = expiry
	s.mu.Unlock()
	s.logger.Debug("access token cached", "access_token", logging.Summarize(token))
}

// RefreshToken always returns "": the refresh credential is an HttpOnly
// cookie this process cannot read.
func (s *CookieStore) RefreshToken() string {
	s.logger.Warn("refresh token requested but it is held in an HttpOnly cookie")
	return ""
}

// SetTokens caches access; refresh is set server-side and ignored here.
func (s *CookieStore) SetTokens(access, refresh string) {
	s.SetAccessToken(access)
	if refresh != "" {
		s.logger.Info("refresh token provided but ignored, the session cookie carries it")
	}
}

func (s *CookieStore) ClearTokens() {
	s.mu.Lock()
	s.access = ""
	s.expiry = time.Time{}
	s.mu.Unlock()

	if s.legacy != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		defer cancel()
		if err := s.legacy.Delete(ctx, AccessTokenKey, RefreshTokenKey, UserKey); err != nil {
			s.logger.Warn("failed to clear legacy credentials", "error", err)
		}
	}
	s.logger.Debug("cached credentials cleared")
}

// Forget drops in-memory state.
func (s *CookieStore) Forget() {
	s.mu.Lock()
	s.access = ""
	s.expiry = time.Time{}
	s.mu.Unlock()
}

// HasTokens approximates session presence from the access cache.
func (s *CookieStore) HasTokens() bool {
	return s.AccessToken() != ""
}
