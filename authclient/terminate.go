package authclient

import (
	"log/slog"
	"net/url"

	"github.com/spectrity/essence-cli/credentials"
)

// LoginPath is where terminated sessions are sent.
const LoginPath = "/login"

// Reason is the query string appended to LoginPath on termination.
type Reason string

const (
	ReasonSessionExpired     Reason = "session=expired"
	ReasonLoggedOutElsewhere Reason = "reason=logged-out-elsewhere"
)

// authPages are reachable without a session and never redirect to login.
var authPages = map[string]bool{
	"/login":           true,
	"/register":        true,
	"/forgot-password": true,
}

// Navigator moves the user to another location. The CLI renders it as a
// hint; a UI shell would switch screens.
type Navigator interface {
	Navigate(location string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(location string)

func (f NavigatorFunc) Navigate(location string) { f(location) }

// Terminator ends the local session: credentials are cleared and, when
// there is somewhere to navigate, the user is sent to the login page.
type Terminator struct {
	store       credentials.Store
	navigator   Navigator
	currentPath func() string
	hooks       Hooks
	logger      *slog.Logger
}

// NewTerminator returns a Terminator. A nil navigator disables redirects;
// a nil currentPath is treated as "/".
func NewTerminator(
	store credentials.Store,
	navigator Navigator,
	currentPath func() string,
	hooks Hooks,
	logger *slog.Logger,
) *Terminator {
	if currentPath == nil {
		currentPath = func() string { return "/" }
	}
	return &Terminator{
		store:       store,
		navigator:   navigator,
		currentPath: currentPath,
		hooks:       hooks,
		logger:      logger,
	}
}

// RedirectTarget returns the location the user would be sent to for
// reason, and false when no redirect applies from the current page.
func (t *Terminator) RedirectTarget(reason Reason) (string, bool) {
	if t.navigator == nil {
		return "", false
	}
	if authPages[pathOnly(t.currentPath())] {
		return "", false
	}
	return LoginPath + "?" + string(reason), true
}

// Terminate clears credentials and redirects. It is idempotent.
func (t *Terminator) Terminate(reason Reason) {
	t.store.ClearTokens()
	t.redirect(reason)
}

func (t *Terminator) redirect(reason Reason) {
	location, ok := t.RedirectTarget(reason)
	if !ok {
		t.logger.Debug("session ended without redirect", "reason", string(reason))
		return
	}
	t.logger.Info("session ended", "reason", string(reason), "location", location)
	t.hooks.SessionTerminated(location)
	t.navigator.Navigate(location)
}

func pathOnly(p string) string {
	u, err := url.Parse(p)
	if err != nil || u.Path == "" {
		return p
	}
	return u.Path
}
