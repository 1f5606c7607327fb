// Package mockapi is an in-memory stand-in for the Spectrity API. It
// issues short-lived JWT access tokens and rotating refresh tokens, can
// run in bearer or cookie mode, and exposes knobs to force expiry and
// refresh failures. The CLI serves it with `essence mock-server`; tests
// mount it on httptest.
package mockapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/spectrity/essence-cli/logging"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	// AccessCookie and RefreshCookie name the session cookies in cookie mode.
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

var errInvalidToken = errors.New("invalid access token")

// Options configures a Server.
type Options struct {
	// AccessTTL is the lifetime of minted access tokens.
	AccessTTL time.Duration
	// Cookie switches credentials to HttpOnly cookies.
	Cookie bool
	// RefreshDelay slows every refresh call down.
	RefreshDelay time.Duration
	// Secret signs access tokens. Random when empty.
	Secret []byte
	Logger *slog.Logger
}

type account struct {
	ID        string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Verified  bool
	CreatedAt time.Time
	LastLogin *time.Time
}

type session struct {
	ID           string
	UserID       string
	RefreshToken string
	UserAgent    string
	IPAddress    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
}

type accessClaims struct {
	SID string `json:"sid"`
	Gen int64  `json:"gen"`
	jwt.RegisteredClaims
}

// Server is the fake API.
type Server struct {
	opts   Options
	router *mux.Router
	logger *slog.Logger

	mu           sync.Mutex
	accounts     map[string]*account // by email
	sessions     map[string]*session // by id
	refresh      map[string]string   // refresh token to session id
	verifyTokens map[string]string   // verification token to email
	resetTokens  map[string]string   // reset token to email
	scraped      []map[string]any    // oldest first

	gen          atomic.Int64
	failRefresh  atomic.Bool
	refreshCalls atomic.Int32
	requests     atomic.Int32
}

// New returns a Server with no accounts.
func New(opts Options) *Server {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = defaultAccessTTL
	}
	if len(opts.Secret) == 0 {
		opts.Secret = []byte(uuid.NewString())
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	s := &Server{
		opts:     opts,
		logger:   opts.Logger,
		accounts:     make(map[string]*account),
		sessions:     make(map[string]*session),
		refresh:      make(map[string]string),
		verifyTokens: make(map[string]string),
		resetTokens:  make(map[string]string),
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.countRequests)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/auth/login", s.handleLogin).Methods("POST")
	v1.HandleFunc("/auth/refresh", s.handleRefresh).Methods("POST")
	v1.HandleFunc("/auth/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
	v1.HandleFunc("/auth/verify-email", s.handleVerifyEmail).Methods("POST")
	v1.HandleFunc("/auth/resend-verification", s.handleResendVerification).Methods("POST")
	v1.HandleFunc("/auth/forgot-password", s.handleForgotPassword).Methods("POST")
	v1.HandleFunc("/auth/reset-password", s.handleResetPassword).Methods("POST")
	v1.HandleFunc("/auth/google", s.handleGoogle).Methods("GET")

	authed := v1.NewRoute().Subrouter()
	authed.Use(s.requireAuth)
	authed.HandleFunc("/auth/me", s.handleMe).Methods("GET")
	authed.HandleFunc("/auth/sessions", s.handleSessions).Methods("GET")
	authed.HandleFunc("/auth/sessions/{id}", s.handleRevokeSession).Methods("DELETE")
	authed.HandleFunc("/auth/logout", s.handleLogout).Methods("POST")
	authed.HandleFunc("/auth/logout-all", s.handleLogoutAll).Methods("POST")
	authed.HandleFunc("/auth/change-password", s.handleChangePassword).Methods("POST")
	authed.HandleFunc("/posts", s.handlePosts).Methods("GET")
	authed.HandleFunc("/posts/essence-feed", s.handleFeed).Methods("GET")
	authed.HandleFunc("/posts/scrape", s.handleScrape).Methods("POST")
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddUser registers an account and returns its id.
func (s *Server) AddUser(email, password, firstName, lastName string, verified bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := &account{
		ID:        uuid.NewString(),
		Email:     email,
		Password:  password,
		FirstName: firstName,
		LastName:  lastName,
		Verified:  verified,
		CreatedAt: time.Now().UTC(),
	}
	s.accounts[email] = acc
	return acc.ID
}

// ExpireAccessTokens invalidates every access token issued so far.
// Refresh tokens stay valid.
func (s *Server) ExpireAccessTokens() {
	s.gen.Add(1)
}

// FailRefresh makes refresh calls fail with 401 while set.
func (s *Server) FailRefresh(fail bool) {
	s.failRefresh.Store(fail)
}

// RevokeAll ends every session, as an administrator would.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*session)
	s.refresh = make(map[string]string)
}

// RefreshCalls returns how many refresh requests were received.
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

// Requests returns how many requests were received in total.
func (s *Server) Requests() int {
	return int(s.requests.Load())
}

// VerificationToken returns the pending email verification token of
// email, as it would appear in the verification mail.
func (s *Server) VerificationToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tokenFor(s.verifyTokens, email)
}

// ResetToken returns the pending password reset token of email.
func (s *Server) ResetToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tokenFor(s.resetTokens, email)
}

func tokenFor(tokens map[string]string, email string) string {
	for token, owner := range tokens {
		if owner == email {
			return token
		}
	}
	return ""
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		s.logger.Debug("mock request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) mintAccess(sess *session) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.opts.AccessTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		SID: sess.ID,
		Gen: s.gen.Load(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(s.opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// parseAccess validates tokenStr and returns the live session it belongs to.
func (s *Server) parseAccess(tokenStr string) (*session, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &accessClaims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return s.opts.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidToken, err)
	}
	if claims.Gen != s.gen.Load() {
		return nil, fmt.Errorf("%w: expired by server", errInvalidToken)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[claims.SID]
	if !ok {
		return nil, fmt.Errorf("%w: session revoked", errInvalidToken)
	}
	sess.LastActivity = time.Now().UTC()
	cp := *sess
	return &cp, nil
}

// rotate replaces the refresh token of the session holding old.
func (s *Server) rotate(old string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid, ok := s.refresh[old]
	if !ok {
		return nil, errors.New("unknown refresh token")
	}
	delete(s.refresh, old)
	sess, ok := s.sessions[sid]
	if !ok || time.Now().After(sess.ExpiresAt) {
		delete(s.sessions, sid)
		return nil, errors.New("session expired")
	}
	sess.RefreshToken = uuid.NewString()
	s.refresh[sess.RefreshToken] = sess.ID
	cp := *sess
	return &cp, nil
}

func (s *Server) accountByID(id string) *account {
	for _, acc := range s.accounts {
		if acc.ID == id {
			return acc
		}
	}
	return nil
}
