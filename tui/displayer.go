package tui

import (
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all user-facing output of the CLI. Its refresh and
// session methods match authclient.Hooks, so a Displayer can be handed to
// the client directly.
type Displayer interface {
	Banner()
	SessionFound()
	NoSession()
	LoggingIn(email string)
	LoginOK(name string)
	TokenSaved(location string)
	Fetching(what string)
	RefreshStarted()
	RefreshSucceeded()
	RefreshFailed(err error)
	RequestRetried(method, url string)
	SessionTerminated(location string)
	LoggedOut(all bool)
	Watching(source string)
	LoginDetected()
	Done(title string, rows []Row)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stdout is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== Essence CLI ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) SessionFound() {
	fmt.Fprintln(p.w, "Found stored session.")
}

func (p *PlainDisplayer) NoSession() {
	fmt.Fprintln(p.w, "Not logged in. Run `essence login` first.")
}

func (p *PlainDisplayer) LoggingIn(email string) {
	fmt.Fprintf(p.w, "Logging in as %s...\n", email)
}

func (p *PlainDisplayer) LoginOK(name string) {
	fmt.Fprintf(p.w, "Welcome, %s!\n", name)
}

func (p *PlainDisplayer) TokenSaved(location string) {
	fmt.Fprintf(p.w, "Session stored in %s\n", location)
}

func (p *PlainDisplayer) Fetching(what string) {
	fmt.Fprintf(p.w, "Fetching %s...\n", what)
}

func (p *PlainDisplayer) RefreshStarted() {
	fmt.Fprintln(p.w, "Access token rejected (401), refreshing...")
}

func (p *PlainDisplayer) RefreshSucceeded() {
	fmt.Fprintln(p.w, "Token refreshed successfully!")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) RequestRetried(method, url string) {
	fmt.Fprintf(p.w, "Retrying %s %s...\n", method, url)
}

func (p *PlainDisplayer) SessionTerminated(location string) {
	fmt.Fprintf(p.w, "Session ended. Please log in again (%s).\n", location)
}

func (p *PlainDisplayer) LoggedOut(all bool) {
	if all {
		fmt.Fprintln(p.w, "Logged out from all devices.")
		return
	}
	fmt.Fprintln(p.w, "Logged out.")
}

func (p *PlainDisplayer) Watching(source string) {
	fmt.Fprintf(p.w, "Watching %s for sign-outs (Ctrl+C to stop)...\n", source)
}

func (p *PlainDisplayer) LoginDetected() {
	fmt.Fprintln(p.w, "Logged in from another session.")
}

func (p *PlainDisplayer) Done(title string, rows []Row) {
	fmt.Fprintln(p.w, "\n========================================")
	if title != "" {
		fmt.Fprintln(p.w, title)
	}
	width := 0
	for _, r := range rows {
		width = max(width, len(r.Label))
	}
	for _, r := range rows {
		fmt.Fprintf(p.w, "%-*s  %s\n", width+1, r.Label+":", r.Value)
	}
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                    {}
func (NoopDisplayer) SessionFound()              {}
func (NoopDisplayer) NoSession()                 {}
func (NoopDisplayer) LoggingIn(_ string)         {}
func (NoopDisplayer) LoginOK(_ string)           {}
func (NoopDisplayer) TokenSaved(_ string)        {}
func (NoopDisplayer) Fetching(_ string)          {}
func (NoopDisplayer) RefreshStarted()            {}
func (NoopDisplayer) RefreshSucceeded()          {}
func (NoopDisplayer) RefreshFailed(_ error)      {}
func (NoopDisplayer) RequestRetried(_, _ string) {}
func (NoopDisplayer) SessionTerminated(_ string) {}
func (NoopDisplayer) LoggedOut(_ bool)           {}
func (NoopDisplayer) Watching(_ string)          {}
func (NoopDisplayer) LoginDetected()             {}
func (NoopDisplayer) Done(_ string, _ []Row)     {}
func (NoopDisplayer) Fatal(_ error)              {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) SessionFound() {
	t.p.Send(MsgSessionFound{})
}

func (t *ProgramDisplayer) NoSession() {
	t.p.Send(MsgNoSession{})
}

func (t *ProgramDisplayer) LoggingIn(email string) {
	t.p.Send(MsgLoggingIn{Email: email})
}

func (t *ProgramDisplayer) LoginOK(name string) {
	t.p.Send(MsgLoginOK{Name: name})
}

func (t *ProgramDisplayer) TokenSaved(location string) {
	t.p.Send(MsgTokenSaved{Location: location})
}

func (t *ProgramDisplayer) Fetching(what string) {
	t.p.Send(MsgFetching{What: what})
}

func (t *ProgramDisplayer) RefreshStarted() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshSucceeded() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) RequestRetried(method, url string) {
	t.p.Send(MsgRequestRetried{Method: method, URL: url})
}

func (t *ProgramDisplayer) SessionTerminated(location string) {
	t.p.Send(MsgSessionTerminated{Location: location})
}

func (t *ProgramDisplayer) LoggedOut(all bool) {
	t.p.Send(MsgLoggedOut{All: all})
}

func (t *ProgramDisplayer) Watching(source string) {
	t.p.Send(MsgWatching{Source: source, Since: time.Now()})
}

func (t *ProgramDisplayer) LoginDetected() {
	t.p.Send(MsgLoginDetected{})
}

func (t *ProgramDisplayer) Done(title string, rows []Row) {
	t.p.Send(MsgDone{Title: title, Rows: rows})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
