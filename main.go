package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spectrity/essence-cli/authclient"
	"github.com/spectrity/essence-cli/logging"
	"github.com/spectrity/essence-cli/tui"
)

const (
	defaultAPIURL    = "https://spectrity.com/api"
	defaultTokenFile = ".essence-tokens.json"
	defaultRedisAddr = "localhost:6379"
	defaultPage      = "/dashboard"
)

// ErrNotLoggedIn is returned by commands that need a stored session.
var ErrNotLoggedIn = errors.New("not logged in")

// flags holds raw command line values; empty means "not given".
type flags struct {
	apiURL    string
	mode      string
	store     string
	tokenFile string
	redisAddr string
	timeout   string
	page      string
	debug     bool
}

// config is the resolved configuration for one invocation.
type config struct {
	APIURL    string
	Mode      authclient.Mode
	Store     string
	TokenFile string
	RedisAddr string
	Timeout   time.Duration
	Page      string
	Debug     bool
}

func main() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		var shown *reportedError
		if !errors.As(err, &shown) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// reportedError marks an error the displayer has already shown.
type reportedError struct{ error }

func (e *reportedError) Unwrap() error { return e.error }

func newRootCommand() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "essence",
		Short: "Essence CLI - authenticated client for the Spectrity API",
		Long: `essence talks to the Spectrity API on behalf of a logged-in user.

Expired access tokens are refreshed transparently: concurrent requests share
a single refresh and are replayed once with the new token. When the session
cannot be recovered the stored credentials are cleared.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.apiURL, "api-url", "", "API base URL (default: "+defaultAPIURL+" or API_URL env)")
	pf.StringVar(&f.mode, "mode", "", "Credential mode: client or cookie (default: client or CREDENTIAL_MODE env)")
	pf.StringVar(&f.store, "store", "", "Token store: file, redis or memory (default: file or TOKEN_STORE env)")
	pf.StringVar(&f.tokenFile, "token-file", "", "Token storage file (default: "+defaultTokenFile+" or TOKEN_FILE env)")
	pf.StringVar(&f.redisAddr, "redis-addr", "", "Redis address for --store=redis (default: "+defaultRedisAddr+" or REDIS_ADDR env)")
	pf.StringVar(&f.timeout, "timeout", "", "Per-request timeout (default: 30s or API_TIMEOUT env)")
	pf.StringVar(&f.page, "current-page", "", "Page the session is viewed from (default: "+defaultPage+" or ESSENCE_PAGE env)")
	pf.BoolVar(&f.debug, "debug", false, "Enable auth debug logging (or DEBUG_AUTH env)")

	root.AddCommand(
		newLoginCommand(f),
		newMeCommand(f),
		newStatusCommand(f),
		newFeedCommand(f),
		newPostsCommand(f),
		newScrapeCommand(f),
		newSessionsCommand(f),
		newLogoutCommand(f, false),
		newLogoutCommand(f, true),
		newWatchCommand(f),
		newRegisterCommand(f),
		newVerifyEmailCommand(f),
		newResendVerificationCommand(f),
		newForgotPasswordCommand(f),
		newResetPasswordCommand(f),
		newChangePasswordCommand(f),
		newGoogleCommand(f),
		newMockServerCommand(f),
		newDemoCommand(f),
	)
	return root
}

// resolve applies priority flag > env > default and validates the result.
func (f *flags) resolve(page string) (*config, error) {
	cfg := &config{
		APIURL:    strings.TrimRight(getConfig(f.apiURL, "API_URL", defaultAPIURL), "/"),
		Mode:      authclient.Mode(getConfig(f.mode, "CREDENTIAL_MODE", string(authclient.ModeClient))),
		Store:     getConfig(f.store, "TOKEN_STORE", "file"),
		TokenFile: getConfig(f.tokenFile, "TOKEN_FILE", defaultTokenFile),
		RedisAddr: getConfig(f.redisAddr, "REDIS_ADDR", defaultRedisAddr),
		Page:      getConfig(f.page, "ESSENCE_PAGE", page),
		Debug:     f.debug || getBoolEnv("DEBUG_AUTH"),
	}

	if err := validateServerURL(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("invalid API_URL: %w", err)
	}

	switch cfg.Mode {
	case authclient.ModeClient, authclient.ModeCookie:
	default:
		return nil, fmt.Errorf("invalid CREDENTIAL_MODE %q (want client or cookie)", cfg.Mode)
	}

	switch cfg.Store {
	case storeFile, storeRedis, storeMemory:
	default:
		return nil, fmt.Errorf("invalid TOKEN_STORE %q (want file, redis or memory)", cfg.Store)
	}

	timeout, err := time.ParseDuration(getConfig(f.timeout, "API_TIMEOUT", authclient.DefaultTimeout.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid API_TIMEOUT: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("API_TIMEOUT must be positive, got: %s", timeout)
	}
	cfg.Timeout = timeout

	return cfg, nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// warnPlaintext prints the plaintext warning for http:// API URLs.
func warnPlaintext(w io.Writer, apiURL string) {
	if !strings.HasPrefix(strings.ToLower(apiURL), "http://") {
		return
	}
	fmt.Fprintln(w, "⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!")
	fmt.Fprintln(w, "⚠️  This is only safe for local development. Use HTTPS in production.")
	fmt.Fprintln(w)
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// newLogger returns the auth logger. Logs share stderr with the TUI, so a
// TTY session only logs when debugging, and then without the TUI.
func newLogger(debug, tty bool) *slog.Logger {
	if tty && !debug {
		return logging.Discard()
	}
	return logging.New(os.Stderr, debug)
}

// withDisplayer runs fn with a BubbleTea displayer on a TTY and plain
// output otherwise. Interrupts cancel the context passed to fn.
func withDisplayer(debug bool, fn func(ctx context.Context, d tui.Displayer, logger *slog.Logger) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tty := isTTY() && !debug
	logger := newLogger(debug, tty)

	if !tty {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		err := fn(ctx, d, logger)
		if err != nil {
			d.Fatal(err)
			return &reportedError{err}
		}
		return nil
	}

	// Run TUI program on stderr so stdout pipes are not corrupted
	m := tui.NewModel()
	// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
	// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		}
	}()

	d := tui.NewProgramDisplayer(p)
	d.Banner()
	err := fn(ctx, d, logger)
	if err != nil {
		d.Fatal(err)
	}
	p.Quit() // let BubbleTea drain terminal query responses before exiting
	wg.Wait()
	if err != nil {
		return &reportedError{err}
	}
	return nil
}
