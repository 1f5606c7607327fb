package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spectrity/essence-cli/authclient"
	"github.com/spectrity/essence-cli/credentials"
	"github.com/spectrity/essence-cli/logging"
	"github.com/spectrity/essence-cli/tui"
)

const captionPreview = 60

func newLoginCommand(f *flags) *cobra.Command {
	var email, password string
	var remember bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		Example: `  essence login --email ada@example.com --password secret
  ESSENCE_PASSWORD=secret essence login --email ada@example.com --remember`,
		RunE: func(cmd *cobra.Command, args []string) error {
			password = getConfig(password, "ESSENCE_PASSWORD", "")
			if password == "" {
				return errors.New("password is required (--password or ESSENCE_PASSWORD env)")
			}
			return runSession(f, authclient.LoginPath, func(ctx context.Context, s *session, d tui.Displayer) error {
				d.LoggingIn(email)
				user, err := s.client.Login(ctx, email, password, remember)
				if err != nil {
					return err
				}
				d.LoginOK(user.DisplayName())
				if s.cfg.Mode == authclient.ModeClient {
					d.TokenSaved(s.location)
				}
				d.Done("Logged in", userRows(user))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (or ESSENCE_PASSWORD env)")
	cmd.Flags().BoolVar(&remember, "remember", false, "Request a long-lived session")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newMeCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the logged-in user, restoring the session if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(f, defaultPage, func(ctx context.Context, s *session, d tui.Displayer) error {
				d.Fetching("profile")
				user, err := s.client.InitializeAuth(ctx)
				if err != nil {
					return err
				}
				if user == nil {
					d.NoSession()
					return ErrNotLoggedIn
				}
				d.SessionFound()
				d.Done("Profile", userRows(user))
				return nil
			})
		},
	}
}

func newStatusCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe whether the stored session is accepted, without refreshing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(f, defaultPage, func(ctx context.Context, s *session, d tui.Displayer) error {
				if !s.store.HasTokens() {
					d.NoSession()
				}
				d.Fetching("auth status")
				ok := s.client.CheckAuthStatus(ctx)
				d.Done("Auth status", statusRows(s, ok))
				return nil
			})
		},
	}
}

func newFeedCommand(f *flags) *cobra.Command {
	var page, limit int

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List the essence feed, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if page < 1 || limit < 1 {
				return errors.New("--page and --limit must be positive")
			}
			return runSession(f, "/essence", func(ctx context.Context, s *session, d tui.Displayer) error {
				d.Fetching("essence feed")
				feed, err := s.client.EssenceFeed(ctx, page, limit)
				if err != nil {
					return err
				}
				title := fmt.Sprintf("Essence feed (%d posts)", len(feed.Posts))
				if p := feed.Pagination; p.TotalPages > 0 {
					title = fmt.Sprintf("Essence feed page %d/%d (%d posts)", p.Page, p.TotalPages, p.Total)
				}
				d.Done(title, postRows(feed.Posts))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 10, "Posts per page")
	return cmd
}

func newPostsCommand(f *flags) *cobra.Command {
	var q authclient.PostsQuery
	var summarized string

	cmd := &cobra.Command{
		Use:   "posts",
		Short: "List scraped posts, with or without summaries",
		Example: `  essence posts --type REEL --sort like_count
  essence posts --summarized=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if q.Page < 1 || q.Limit < 1 {
				return errors.New("--page and --limit must be positive")
			}
			if summarized != "" {
				v, err := strconv.ParseBool(summarized)
				if err != nil {
					return fmt.Errorf("invalid --summarized %q", summarized)
				}
				q.HasSummary = &v
			}
			return runSession(f, "/posts", func(ctx context.Context, s *session, d tui.Displayer) error {
				d.Fetching("posts")
				page, err := s.client.Posts(ctx, q)
				if err != nil {
					return err
				}
				title := fmt.Sprintf("Posts (%d)", len(page.Posts))
				if p := page.Pagination; p.TotalPages > 0 {
					title = fmt.Sprintf("Posts page %d/%d (%d posts)", p.Page, p.TotalPages, p.Total)
				}
				d.Done(title, postRows(page.Posts))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&q.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&q.Limit, "limit", 10, "Posts per page")
	cmd.Flags().StringVar(&q.SortBy, "sort", "created_at", "Sort field: created_at, like_count or comments_count")
	cmd.Flags().StringVar(&q.SortOrder, "order", "desc", "Sort order: asc or desc")
	cmd.Flags().StringVar(&q.PostType, "type", "", "Post type: IMAGE, VIDEO, CAROUSEL or REEL")
	cmd.Flags().StringVar(&q.OwnerUsername, "owner", "", "Owner username")
	cmd.Flags().StringVar(&q.SummaryStatus, "status", "", "Summary status: NONE, GENERATING, COMPLETED or FAILED")
	cmd.Flags().StringVar(&q.Search, "search", "", "Caption search")
	cmd.Flags().StringVar(&summarized, "summarized", "", "Only posts with (true) or without (false) a summary")
	return cmd
}

func newScrapeCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:     "scrape <post-url>",
		Short:   "Submit an Instagram post for scraping and summarizing",
		Example: `  essence scrape https://www.instagram.com/p/C1a2B3/`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(f, "/scrape", func(ctx context.Context, s *session, d tui.Displayer) error {
				d.Fetching(args[0])
				post, err := s.client.Scrape(ctx, args[0])
				if err != nil {
					return err
				}
				d.Done("Post submitted", []tui.Row{
					{Label: "ID", Value: post.ID},
					{Label: "Short code", Value: post.ShortCode},
					{Label: "Type", Value: post.PostType},
					{Label: "Summary", Value: orDash(post.SummaryStatus)},
				})
				return nil
			})
		},
	}
}

func newSessionsCommand(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List active sessions of the logged-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(f, "/settings/sessions", func(ctx context.Context, s *session, d tui.Displayer) error {
				d.Fetching("sessions")
				sessions, err := s.client.Sessions(ctx)
				if err != nil {
					return err
				}
				d.Done(fmt.Sprintf("%d active sessions", len(sessions)), sessionRows(sessions))
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <session-id>",
		Short: "Revoke one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return runSession(f, "/settings/sessions", func(ctx context.Context, s *session, d tui.Displayer) error {
				d.Fetching("session " + id)
				if err := s.client.RevokeSession(ctx, id); err != nil {
					return err
				}
				d.Done("Session revoked", []tui.Row{{Label: "ID", Value: id}})
				return nil
			})
		},
	})
	return cmd
}

func newLogoutCommand(f *flags, all bool) *cobra.Command {
	use, short, title := "logout", "Log out this session", "Logged out"
	if all {
		use, short, title = "logout-all", "Log out every session of the user", "Logged out everywhere"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(f, defaultPage, func(ctx context.Context, s *session, d tui.Displayer) error {
				if !s.store.HasTokens() {
					d.NoSession()
					return nil
				}
				var err error
				if all {
					err = s.client.LogoutAll(ctx)
				} else {
					err = s.client.Logout(ctx)
				}
				if err != nil {
					return err
				}
				d.LoggedOut(all)
				d.Done(title, []tui.Row{{Label: "Store", Value: s.location}})
				return nil
			})
		},
	}
}

func newWatchCommand(f *flags) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow logins and logouts made by other processes sharing the token store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(f, defaultPage, func(ctx context.Context, s *session, d tui.Displayer) error {
				if s.cfg.Store == storeMemory {
					return errors.New("watch needs a shared token store (--store=file or --store=redis)")
				}

				w := authclient.NewLogoutWatcher(s.backend, s.store, s.client.Terminator(), interval, s.logger)
				w.OnLogin = func() {
					d.LoginDetected()
					if user, err := s.client.InitializeAuth(ctx); err == nil && user != nil {
						d.LoginOK(user.DisplayName())
					}
				}

				d.Watching(s.location)
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				d.Done("Stopped watching", []tui.Row{{Label: "Store", Value: s.location}})
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", credentials.DefaultWatchInterval, "Polling interval")
	return cmd
}

func userRows(u *authclient.User) []tui.Row {
	rows := []tui.Row{
		{Label: "Name", Value: u.DisplayName()},
		{Label: "Email", Value: u.Email},
		{Label: "ID", Value: u.ID},
	}
	if u.Role != "" {
		rows = append(rows, tui.Row{Label: "Role", Value: u.Role})
	}
	if u.Provider != "" {
		rows = append(rows, tui.Row{Label: "Provider", Value: u.Provider})
	}
	rows = append(rows, tui.Row{Label: "Verified", Value: strconv.FormatBool(u.IsEmailVerified)})
	if u.LastLoginAt != nil {
		rows = append(rows, tui.Row{Label: "Last login", Value: u.LastLoginAt.Local().Format(time.DateTime)})
	}
	return rows
}

func statusRows(s *session, authenticated bool) []tui.Row {
	access := logging.Summarize(s.store.AccessToken())
	token := "none"
	if access.Exists {
		token = fmt.Sprintf("%s (%d chars, %s...)", access.Type, access.Length, access.Prefix)
	}
	rows := []tui.Row{
		{Label: "Authenticated", Value: strconv.FormatBool(authenticated)},
		{Label: "Mode", Value: string(s.cfg.Mode)},
		{Label: "Store", Value: s.location},
		{Label: "Access token", Value: token},
	}
	if exp, ok := credentials.TokenExpiry(s.store.AccessToken()); ok {
		rows = append(rows, tui.Row{Label: "Expires in", Value: time.Until(exp).Round(time.Second).String()})
	}
	return rows
}

func postRows(posts []authclient.Post) []tui.Row {
	rows := make([]tui.Row, 0, len(posts))
	for _, p := range posts {
		caption := strings.Join(strings.Fields(p.Caption), " ")
		if r := []rune(caption); len(r) > captionPreview {
			caption = string(r[:captionPreview]) + "..."
		}
		rows = append(rows, tui.Row{
			Label: p.CreatedAt.Local().Format(time.DateTime),
			Value: fmt.Sprintf("@%s  %s  (♥ %d)", p.OwnerUsername, caption, p.LikeCount),
		})
	}
	return rows
}

func sessionRows(sessions []authclient.Session) []tui.Row {
	rows := make([]tui.Row, 0, len(sessions))
	for _, s := range sessions {
		agent := s.UserAgent
		if agent == "" {
			agent = "unknown client"
		}
		rows = append(rows, tui.Row{
			Label: s.ID,
			Value: fmt.Sprintf("%s from %s, last active %s", agent, orDash(s.IPAddress), s.LastActivityAt.Local().Format(time.DateTime)),
		})
	}
	return rows
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
