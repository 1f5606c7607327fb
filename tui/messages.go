package tui

import (
	"time"
)

// Row is one labelled value in a result table.
type Row struct {
	Label string
	Value string
}

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgSessionFound signals that stored credentials were found.
type MsgSessionFound struct{}

// MsgNoSession signals that no stored credentials were found.
type MsgNoSession struct{}

// MsgLoggingIn signals that a login request is in progress.
type MsgLoggingIn struct{ Email string }

// MsgLoginOK signals that the login succeeded.
type MsgLoginOK struct{ Name string }

// MsgTokenSaved signals where the credentials were stored.
type MsgTokenSaved struct{ Location string }

// MsgFetching signals that an API request is in progress.
type MsgFetching struct{ What string }

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the token was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that token refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgRequestRetried signals that a rejected request is being replayed.
type MsgRequestRetried struct {
	Method string
	URL    string
}

// MsgSessionTerminated signals that the session ended and the user is
// being sent to location.
type MsgSessionTerminated struct{ Location string }

// MsgLoggedOut signals a completed logout.
type MsgLoggedOut struct{ All bool }

// MsgWatching signals that the cross-session watcher started.
type MsgWatching struct {
	Source string
	Since  time.Time
}

// MsgLoginDetected signals that another session logged in.
type MsgLoginDetected struct{}

// MsgDone signals successful completion with a result table.
type MsgDone struct {
	Title string
	Rows  []Row
}

// MsgFatal signals a fatal error that should terminate the flow.
type MsgFatal struct{ Err error }
