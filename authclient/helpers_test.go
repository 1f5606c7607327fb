package authclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/spectrity/essence-cli/credentials"
)

// fakeAPI is a scriptable backend. Access and refresh tokens are plain
// strings so tests can assert on them directly.
type fakeAPI struct {
	cookie bool

	mu            sync.Mutex
	access        string
	refresh       string
	rotations     int
	refreshDelay  time.Duration
	refreshFail   bool
	refreshStatus int
	omitRefresh   bool
	alwaysReject  bool
	meStatus      int
	logoutStatus  int
	loginBody     string
	holdN         int
	held          int
	gate          chan struct{}
	refreshBodies []string
	authHeaders   []string
	cookiesSeen   []string
	echoBodies    []string
	requestIDs    []string

	refreshCalls atomic.Int32
	meCalls      atomic.Int32
	logoutCalls  atomic.Int32
}

func newFakeAPI(access, refresh string) *fakeAPI {
	return &fakeAPI{access: access, refresh: refresh, gate: make(chan struct{})}
}

// hold delays the first n rejections until all n have arrived.
func (f *fakeAPI) hold(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdN = n
}

// expire invalidates the current access token without touching refresh.
func (f *fakeAPI) expire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access = "expired-" + f.access
}

func (f *fakeAPI) serve(t *testing.T) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/v1/auth/login", f.handleLogin).Methods("POST")
	r.HandleFunc("/v1/auth/refresh", f.handleRefresh).Methods("POST")
	r.HandleFunc("/v1/auth/me", f.handleMe).Methods("GET")
	r.HandleFunc("/v1/auth/status", f.handleStatus).Methods("GET")
	r.HandleFunc("/v1/auth/logout", f.handleLogout).Methods("POST")
	r.HandleFunc("/v1/auth/logout-all", f.handleLogout).Methods("POST")
	r.HandleFunc("/v1/echo", f.handleEcho).Methods("POST")
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeAPI) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
	if f.alwaysReject {
		return false
	}
	if f.cookie {
		c, err := r.Cookie("sid")
		if err != nil {
			f.cookiesSeen = append(f.cookiesSeen, "")
			return false
		}
		f.cookiesSeen = append(f.cookiesSeen, c.Value)
		return c.Value == f.access
	}
	return r.Header.Get("Authorization") == "Bearer "+f.access
}

func (f *fakeAPI) reject(w http.ResponseWriter) {
	f.mu.Lock()
	var gate chan struct{}
	if f.held < f.holdN {
		f.held++
		gate = f.gate
		if f.held == f.holdN {
			close(f.gate)
		}
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-time.After(2 * time.Second):
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	io.WriteString(w, `{"success":false,"error":{"code":"TOKEN_EXPIRED","message":"access token expired"}}`)
}

func (f *fakeAPI) setSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: "sid", Value: f.access, Path: "/", HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: "rt", Value: f.refresh, Path: "/", HttpOnly: true})
}

func (f *fakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cookie {
		f.setSessionCookies(w)
	}
	body := f.loginBody
	if body == "" {
		body = fmt.Sprintf(`{"success":true,"data":{"user":{"id":"u-1","email":"ada@example.com","first_name":"Ada","provider":"LOCAL","is_email_verified":true},"access_token":%q,"refresh_token":%q}}`, f.access, f.refresh)
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

func (f *fakeAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	f.refreshCalls.Add(1)
	raw, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.refreshBodies = append(f.refreshBodies, string(raw))
	delay := f.refreshDelay
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()

	var presented string
	if f.cookie {
		if c, err := r.Cookie("rt"); err == nil {
			presented = c.Value
		}
	} else {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.Unmarshal(raw, &req)
		presented = req.RefreshToken
	}

	if f.refreshFail || presented != f.refresh {
		status := http.StatusUnauthorized
		if f.refreshStatus != 0 {
			status = f.refreshStatus
		}
		w.WriteHeader(status)
		io.WriteString(w, `{"success":false,"error":{"code":"INVALID_REFRESH_TOKEN"}}`)
		return
	}

	f.rotations++
	f.access = fmt.Sprintf("at-%d", f.rotations+1)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case f.cookie:
		f.refresh = fmt.Sprintf("rt-%d", f.rotations+1)
		f.setSessionCookies(w)
		io.WriteString(w, `{"success":true}`)
	case f.omitRefresh:
		fmt.Fprintf(w, `{"accessToken":%q}`, f.access)
	default:
		f.refresh = fmt.Sprintf("rt-%d", f.rotations+1)
		fmt.Fprintf(w, `{"success":true,"data":{"accessToken":%q,"refreshToken":%q}}`, f.access, f.refresh)
	}
}

func (f *fakeAPI) handleMe(w http.ResponseWriter, r *http.Request) {
	f.meCalls.Add(1)
	f.mu.Lock()
	status := f.meStatus
	f.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		io.WriteString(w, `{"success":false,"error":{"code":"SERVER_ERROR","message":"boom"}}`)
		return
	}
	if !f.authorized(r) {
		f.reject(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"success":true,"data":{"id":"u-1","email":"ada@example.com","first_name":"Ada","last_name":"Lovelace","provider":"LOCAL","is_email_verified":true,"is_active":true}}`)
}

func (f *fakeAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	io.WriteString(w, `{"success":true}`)
}

func (f *fakeAPI) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.logoutCalls.Add(1)
	f.mu.Lock()
	status := f.logoutStatus
	f.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		io.WriteString(w, `{"success":false,"error":{"code":"LOGOUT_FAILED"}}`)
		return
	}
	io.WriteString(w, `{"success":true}`)
}

func (f *fakeAPI) handleEcho(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.echoBodies = append(f.echoBodies, string(raw))
	f.requestIDs = append(f.requestIDs, r.Header.Get(RequestIDHeader))
	f.mu.Unlock()
	if !f.authorized(r) {
		f.reject(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

type recordingNavigator struct {
	mu        sync.Mutex
	locations []string
}

func (n *recordingNavigator) Navigate(location string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.locations = append(n.locations, location)
}

func (n *recordingNavigator) Locations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.locations...)
}

type recordingHooks struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHooks) add(e string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *recordingHooks) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *recordingHooks) RefreshStarted()            { h.add("refresh_started") }
func (h *recordingHooks) RefreshSucceeded()          { h.add("refresh_succeeded") }
func (h *recordingHooks) RefreshFailed(error)        { h.add("refresh_failed") }
func (h *recordingHooks) RequestRetried(_, _ string) { h.add("request_retried") }
func (h *recordingHooks) SessionTerminated(string)   { h.add("session_terminated") }

type testClient struct {
	*Client
	store credentials.Store
	nav   *recordingNavigator
	hooks *recordingHooks
}

func newTestClient(t *testing.T, srv *httptest.Server, mode Mode, page string) *testClient {
	t.Helper()
	var store credentials.Store
	if mode == ModeCookie {
		store = credentials.NewCookieStore(nil, nil)
	} else {
		store = credentials.NewClientStore(credentials.NewMemoryBackend(), nil)
	}
	nav := &recordingNavigator{}
	hooks := &recordingHooks{}
	c, err := New(Config{
		BaseURL:     srv.URL,
		Mode:        mode,
		Store:       store,
		Navigator:   nav,
		CurrentPath: func() string { return page },
		Hooks:       hooks,
		Base:        srv.Client().Transport,
	})
	require.NoError(t, err)
	return &testClient{Client: c, store: store, nav: nav, hooks: hooks}
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}
