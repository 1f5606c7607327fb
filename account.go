package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/spectrity/essence-cli/authclient"
	"github.com/spectrity/essence-cli/tui"
)

const minPasswordLength = 8

func newRegisterCommand(f *flags) *cobra.Command {
	var req authclient.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account; a verification mail is sent",
		Example: `  essence register --email grace@example.com --first-name Grace --password hopper123
  essence verify-email <token>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Password = getConfig(req.Password, "ESSENCE_PASSWORD", "")
			if len(req.Password) < minPasswordLength {
				return errors.New("password must be at least 8 characters (--password or ESSENCE_PASSWORD env)")
			}
			return runSession(f, "/register", func(ctx context.Context, s *session, d tui.Displayer) error {
				d.Fetching("registration")
				user, err := s.client.Register(ctx, req)
				if err != nil {
					return err
				}
				d.Done("Registered, check your mail to verify", userRows(user))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "Password, at least 8 characters (or ESSENCE_PASSWORD env)")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "Last name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newVerifyEmailCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-email <token>",
		Short: "Confirm an email address with the token from the verification mail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(f, "/verify-email", func(ctx context.Context, s *session, d tui.Displayer) error {
				d.Fetching("email verification")
				if err := s.client.VerifyEmail(ctx, args[0]); err != nil {
					return err
				}
				d.Done("Email verified", []tui.Row{{Label: "Next", Value: "essence login"}})
				return nil
			})
		},
	}
}

// newMailCommand builds the commands that only ask the server to send a
// mail to an address.
func newMailCommand(f *flags, use, short, page, title string, send func(*authclient.Client, context.Context, string) error) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(f, page, func(ctx context.Context, s *session, d tui.Displayer) error {
				d.Fetching(use)
				if err := send(s.client, ctx, email); err != nil {
					return err
				}
				d.Done(title, []tui.Row{{Label: "Email", Value: email}})
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newResendVerificationCommand(f *flags) *cobra.Command {
	return newMailCommand(f, "resend-verification", "Send the verification mail again", "/verify-email",
		"Verification mail requested", (*authclient.Client).ResendVerification)
}

func newForgotPasswordCommand(f *flags) *cobra.Command {
	return newMailCommand(f, "forgot-password", "Send a password reset mail", "/forgot-password",
		"Reset mail requested", (*authclient.Client).ForgotPassword)
}

func newResetPasswordCommand(f *flags) *cobra.Command {
	var token, password string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password with the token from the reset mail",
		RunE: func(cmd *cobra.Command, args []string) error {
			password = getConfig(password, "ESSENCE_NEW_PASSWORD", "")
			if len(password) < minPasswordLength {
				return errors.New("new password must be at least 8 characters (--password or ESSENCE_NEW_PASSWORD env)")
			}
			return runSession(f, "/reset-password", func(ctx context.Context, s *session, d tui.Displayer) error {
				d.Fetching("password reset")
				if err := s.client.ResetPassword(ctx, token, password); err != nil {
					return err
				}
				d.Done("Password reset, all sessions ended", []tui.Row{{Label: "Next", Value: "essence login"}})
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Token from the reset mail")
	cmd.Flags().StringVar(&password, "password", "", "New password (or ESSENCE_NEW_PASSWORD env)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newChangePasswordCommand(f *flags) *cobra.Command {
	var current, next string

	cmd := &cobra.Command{
		Use:   "change-password",
		Short: "Change the password of the logged-in user; every session ends",
		RunE: func(cmd *cobra.Command, args []string) error {
			current = getConfig(current, "ESSENCE_PASSWORD", "")
			next = getConfig(next, "ESSENCE_NEW_PASSWORD", "")
			if current == "" {
				return errors.New("current password is required (--current or ESSENCE_PASSWORD env)")
			}
			if len(next) < minPasswordLength {
				return errors.New("new password must be at least 8 characters (--new or ESSENCE_NEW_PASSWORD env)")
			}
			return runSession(f, "/settings", func(ctx context.Context, s *session, d tui.Displayer) error {
				if !s.store.HasTokens() {
					d.NoSession()
					return ErrNotLoggedIn
				}
				d.Fetching("password change")
				if err := s.client.ChangePassword(ctx, current, next); err != nil {
					return err
				}
				d.LoggedOut(true)
				d.Done("Password changed", []tui.Row{
					{Label: "Store", Value: s.location},
					{Label: "Next", Value: "essence login"},
				})
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&current, "current", "", "Current password (or ESSENCE_PASSWORD env)")
	cmd.Flags().StringVar(&next, "new", "", "New password (or ESSENCE_NEW_PASSWORD env)")
	return cmd
}

func newGoogleCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "google-url",
		Short: "Print the URL that starts Google sign-in in a browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(f, authclient.LoginPath, func(ctx context.Context, s *session, d tui.Displayer) error {
				d.Fetching("Google sign-in URL")
				g, err := s.client.GoogleAuthURL(ctx)
				if err != nil {
					return err
				}
				d.Done("Open in a browser", []tui.Row{
					{Label: "URL", Value: g.AuthURL},
					{Label: "State", Value: g.State},
				})
				return nil
			})
		},
	}
}
