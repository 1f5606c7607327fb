package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// RegisterRequest creates a local account.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// GoogleAuth is the start of the Google sign-in flow.
type GoogleAuth struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
}

// Register creates an account. No session is started: local accounts
// must verify their email before Login succeeds.
func (c *Client) Register(ctx context.Context, r RegisterRequest) (*User, error) {
	if r.Email == "" || r.Password == "" {
		return nil, errors.New("email and password are required")
	}
	c.logger.Debug("register started", "email", r.Email)

	raw, err := c.postPlain(ctx, "/v1/auth/register", r)
	if err != nil {
		return nil, fmt.Errorf("register failed: %w", err)
	}
	var user User
	if _, err := decodeData(raw, &user); err != nil {
		return nil, fmt.Errorf("register failed: %w", err)
	}
	c.logger.Info("account registered", "user_id", user.ID)
	return &user, nil
}

// VerifyEmail confirms an email address with the token from the
// verification mail.
func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	return c.accountAction(ctx, "verify email", "/v1/auth/verify-email", map[string]string{"token": token})
}

// ResendVerification asks for a new verification mail.
func (c *Client) ResendVerification(ctx context.Context, email string) error {
	return c.accountAction(ctx, "resend verification", "/v1/auth/resend-verification", map[string]string{"email": email})
}

// ForgotPassword asks for a password reset mail. The server answers the
// same way whether or not the account exists.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.accountAction(ctx, "forgot password", "/v1/auth/forgot-password", map[string]string{"email": email})
}

// ResetPassword sets a new password with the token from the reset mail.
func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	return c.accountAction(ctx, "reset password", "/v1/auth/reset-password", map[string]string{
		"token":    token,
		"password": password,
	})
}

func (c *Client) accountAction(ctx context.Context, name, path string, payload any) error {
	raw, err := c.postPlain(ctx, path, payload)
	if err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	if _, err := decodeEnvelope(raw); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	c.logger.Debug("account action complete", "action", name)
	return nil
}

// ChangePassword replaces the password of the logged-in user. The server
// ends every session on success, so local credentials are cleared too.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	_, err := c.postJSON(ctx, "/v1/auth/change-password", map[string]string{
		"currentPassword": current,
		"newPassword":     next,
	}, nil)
	if err != nil {
		return fmt.Errorf("change password failed: %w", err)
	}
	c.store.ClearTokens()
	c.logger.Info("password changed, sessions ended")
	return nil
}

// GoogleAuthURL returns the URL that starts Google sign-in.
func (c *Client) GoogleAuthURL(ctx context.Context) (*GoogleAuth, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/auth/google", nil)
	if err != nil {
		return nil, err
	}
	raw, err := c.doPlain(ctx, req)
	if err != nil {
		return nil, err
	}
	var out GoogleAuth
	if _, err := decodeData(raw, &out); err != nil {
		return nil, err
	}
	if out.AuthURL == "" {
		return nil, ErrInvalidResponse
	}
	return &out, nil
}
