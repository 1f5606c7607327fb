package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spectrity/essence-cli/authclient"
	"github.com/spectrity/essence-cli/logging"
	"github.com/spectrity/essence-cli/mockapi"
	"github.com/spectrity/essence-cli/tui"
)

const (
	demoEmail    = "demo@spectrity.com"
	demoPassword = "demo"

	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// mockOptions are the flags shared by mock-server and demo.
type mockOptions struct {
	accessTTL    time.Duration
	refreshDelay time.Duration
	cookie       bool
}

func (o *mockOptions) register(cmd *cobra.Command, defaultDelay time.Duration) {
	cmd.Flags().DurationVar(&o.accessTTL, "access-ttl", 15*time.Minute, "Access token lifetime")
	cmd.Flags().DurationVar(&o.refreshDelay, "refresh-delay", defaultDelay, "Artificial latency of the refresh endpoint")
	cmd.Flags().BoolVar(&o.cookie, "cookie", false, "Issue credentials as HttpOnly cookies")
}

func (o *mockOptions) server(logger *slog.Logger) *mockapi.Server {
	api := mockapi.New(mockapi.Options{
		AccessTTL:    o.accessTTL,
		Cookie:       o.cookie,
		RefreshDelay: o.refreshDelay,
		Logger:       logger,
	})
	api.AddUser(demoEmail, demoPassword, "Demo", "User", true)
	return api
}

func newMockServerCommand(f *flags) *cobra.Command {
	var addr string
	opts := &mockOptions{}

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve an in-memory Spectrity API for local development",
		Long: `mock-server serves the auth, account, session and post endpoints from
memory. One account is seeded: ` + demoEmail + ` / ` + demoPassword + `.
Verification and reset tokens are logged instead of mailed.`,
		Example: `  essence mock-server --addr :8080 --access-ttl 30s
  API_URL=http://localhost:8080 essence login --email ` + demoEmail + ` --password ` + demoPassword,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(os.Stderr, f.debug || getBoolEnv("DEBUG_AUTH"))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              addr,
				Handler:           opts.server(logger),
				ReadHeaderTimeout: readHeaderTimeout,
			}
			logger.Info("mock API listening",
				"addr", addr, "cookie", opts.cookie, "access_ttl", opts.accessTTL, "user", demoEmail)
			return serve(ctx, srv, nil)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	opts.register(cmd, 0)
	return cmd
}

// serve runs srv until ctx ends, then shuts it down gracefully. A nil ln
// makes srv listen on its own Addr.
func serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		if ln != nil {
			errCh <- srv.Serve(ln)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newDemoCommand(f *flags) *cobra.Command {
	var burst int
	opts := &mockOptions{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Show refresh coordination against an in-process mock API",
		Long: `demo starts the mock API in-process, logs in, expires the access token and
fires a burst of concurrent requests. All of them share one refresh. It then
makes refresh fail to show the session being ended.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if burst < 1 {
				return errors.New("--burst must be positive")
			}
			debug := f.debug || getBoolEnv("DEBUG_AUTH")
			return withDisplayer(debug, func(ctx context.Context, d tui.Displayer, logger *slog.Logger) error {
				return runDemo(ctx, d, logger, opts, burst)
			})
		},
	}

	cmd.Flags().IntVar(&burst, "burst", 5, "Number of concurrent requests")
	opts.register(cmd, 200*time.Millisecond)
	return cmd
}

func runDemo(ctx context.Context, d tui.Displayer, logger *slog.Logger, opts *mockOptions, burst int) error {
	api := opts.server(logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	srvCtx, stopServer := context.WithCancel(context.Background())
	srv := &http.Server{Handler: api, ReadHeaderTimeout: readHeaderTimeout}
	served := make(chan error, 1)
	go func() { served <- serve(srvCtx, srv, ln) }()
	defer func() {
		stopServer()
		<-served
	}()

	mode := authclient.ModeClient
	if opts.cookie {
		mode = authclient.ModeCookie
	}
	cfg := &config{
		APIURL:  "http://" + ln.Addr().String(),
		Mode:    mode,
		Store:   storeMemory,
		Timeout: authclient.DefaultTimeout,
		Page:    defaultPage,
	}
	s, err := newSession(ctx, cfg, d, logger)
	if err != nil {
		return err
	}
	defer s.close()

	d.LoggingIn(demoEmail)
	user, err := s.client.Login(ctx, demoEmail, demoPassword, false)
	if err != nil {
		return err
	}
	d.LoginOK(user.DisplayName())

	api.ExpireAccessTokens()
	d.Fetching(strconv.Itoa(burst) + " feed pages concurrently")

	g, gctx := errgroup.WithContext(ctx)
	for i := range burst {
		g.Go(func() error {
			_, err := s.client.EssenceFeed(gctx, i%2+1, 3)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("burst: %w", err)
	}
	refreshes := api.RefreshCalls()

	api.FailRefresh(true)
	api.ExpireAccessTokens()
	d.Fetching("profile with refresh disabled")
	_, failErr := s.client.CurrentUser(ctx)
	if failErr == nil {
		return errors.New("expected the session to end after a failed refresh")
	}
	location, _ := s.Redirected()

	d.Done("Refresh coordination demo", []tui.Row{
		{Label: "Mode", Value: string(mode)},
		{Label: "Concurrent requests", Value: strconv.Itoa(burst)},
		{Label: "Refresh calls", Value: strconv.Itoa(refreshes)},
		{Label: "After refresh failure", Value: failErr.Error()},
		{Label: "Redirected to", Value: orDash(location)},
		{Label: "Credentials kept", Value: strconv.FormatBool(s.store.HasTokens())},
	})
	return nil
}
