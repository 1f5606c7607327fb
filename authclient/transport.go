package authclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/spectrity/essence-cli/credentials"
)

// RequestIDHeader carries a per-request id, kept across the replay.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const (
	retriedKey ctxKey = iota
	noRecoverKey
)

// NoRecover marks requests whose 401 must be surfaced as-is, without a
// refresh attempt. Login and logout use it.
func NoRecover(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRecoverKey, true)
}

func noRecover(ctx context.Context) bool {
	v, _ := ctx.Value(noRecoverKey).(bool)
	return v
}

// Retried reports whether the request carrying ctx is already a replay.
func Retried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey).(bool)
	return v
}

type requestState int

const (
	statePrepared requestState = iota
	stateSent
	stateAuthFailed
	stateRecovering
	stateRetried
	stateCompleted
	stateTerminal
)

func (s requestState) String() string {
	switch s {
	case statePrepared:
		return "prepared"
	case stateSent:
		return "sent"
	case stateAuthFailed:
		return "auth_failed"
	case stateRecovering:
		return "recovering"
	case stateRetried:
		return "retried"
	case stateCompleted:
		return "completed"
	case stateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Transport attaches credentials to outgoing requests and recovers from a
// 401 by refreshing once and replaying the request once.
type Transport struct {
	base        http.RoundTripper
	mode        Mode
	store       credentials.Store
	coordinator Coordinator
	terminator  *Terminator
	hooks       Hooks
	logger      *slog.Logger
	userAgent   string

	// jar supplies the session cookies for a replay; the cookies the
	// client attached to the original request predate the refresh.
	jar http.CookieJar
}

func (t *Transport) transition(req *http.Request, from, to requestState) {
	t.logger.Debug("request state",
		"method", req.Method,
		"path", req.URL.Path,
		"request_id", req.Header.Get(RequestIDHeader),
		"from", from.String(),
		"to", to.String(),
	)
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	orig, err := t.snapshot(req)
	if err != nil {
		return nil, err
	}

	sent, token, err := t.prepare(orig, false)
	if err != nil {
		return nil, err
	}
	t.transition(orig, statePrepared, stateSent)

	resp, err := t.base.RoundTrip(sent)
	if err != nil {
		// Transport failures and timeouts pass through untouched.
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.transition(orig, stateSent, stateCompleted)
		return resp, nil
	}

	t.transition(orig, stateSent, stateAuthFailed)
	return t.recover(orig, token, resp)
}

func (t *Transport) recover(orig *http.Request, sentToken string, resp *http.Response) (*http.Response, error) {
	ctx := orig.Context()

	if noRecover(ctx) {
		t.transition(orig, stateAuthFailed, stateTerminal)
		return resp, nil
	}
	if Retried(ctx) {
		t.transition(orig, stateAuthFailed, stateTerminal)
		t.terminator.Terminate(ReasonSessionExpired)
		return resp, nil
	}

	// Marked before any async step so a second 401 cannot recurse.
	retry := orig.WithContext(context.WithValue(ctx, retriedKey, true))
	t.transition(orig, stateAuthFailed, stateRecovering)

	drain(resp)

	token, err := t.coordinator.EnsureFreshCredential(ctx, sentToken)
	if err != nil {
		t.transition(orig, stateRecovering, stateTerminal)
		return nil, fmt.Errorf("%s %s: %w", orig.Method, orig.URL.Path, err)
	}

	sent, _, err := t.prepare(retry, true)
	if err != nil {
		return nil, err
	}
	if t.mode == ModeClient && token != "" {
		sent.Header.Set("Authorization", "Bearer "+token)
	}
	t.hooks.RequestRetried(orig.Method, orig.URL.String())
	t.transition(orig, stateRecovering, stateRetried)

	resp, err = t.base.RoundTrip(sent)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.transition(orig, stateRetried, stateTerminal)
		t.terminator.Terminate(ReasonSessionExpired)
		return resp, nil
	}
	t.transition(orig, stateRetried, stateCompleted)
	return resp, nil
}

// snapshot clones req with a replayable body and a stable request id.
func (t *Transport) snapshot(req *http.Request) (*http.Request, error) {
	orig := req.Clone(req.Context())

	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
		orig.Body = io.NopCloser(bytes.NewReader(data))
		orig.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}

	if orig.Header.Get(RequestIDHeader) == "" {
		orig.Header.Set(RequestIDHeader, uuid.NewString())
	}
	return orig, nil
}

// prepare builds the request actually sent. It returns the access token
// attached, if any.
func (t *Transport) prepare(orig *http.Request, replay bool) (*http.Request, string, error) {
	out := orig.Clone(orig.Context())
	if replay && orig.GetBody != nil {
		body, err := orig.GetBody()
		if err != nil {
			return nil, "", fmt.Errorf("failed to rewind request body: %w", err)
		}
		out.Body = body
	}
	if replay && t.jar != nil {
		out.Header.Del("Cookie")
		for _, c := range t.jar.Cookies(out.URL) {
			out.AddCookie(c)
		}
	}

	if out.Header.Get("Accept") == "" {
		out.Header.Set("Accept", "application/json")
	}
	if t.userAgent != "" && out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", t.userAgent)
	}

	var token string
	if t.mode == ModeClient {
		token = t.store.AccessToken()
		if token != "" {
			out.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return out, token, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
