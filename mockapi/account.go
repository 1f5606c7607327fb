package mockapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const minPasswordLength = 8

// issueLocked replaces any pending token of email with a new one.
func issueLocked(tokens map[string]string, email string) string {
	for token, owner := range tokens {
		if owner == email {
			delete(tokens, token)
		}
	}
	token := uuid.NewString()
	tokens[token] = email
	return token
}

// dropUserSessionsLocked ends every session of userID.
func (s *Server) dropUserSessionsLocked(userID string) {
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			s.dropSessionLocked(sess)
		}
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return false
	}
	return true
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": true, "message": message})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "a valid email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "password must be at least 8 characters")
		return
	}

	s.mu.Lock()
	if _, exists := s.accounts[req.Email]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "EMAIL_EXISTS", "an account with this email already exists")
		return
	}
	acc := &account{
		ID:        uuid.NewString(),
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		CreatedAt: time.Now().UTC(),
	}
	s.accounts[acc.Email] = acc
	token := issueLocked(s.verifyTokens, acc.Email)
	user := userJSON(acc)
	s.mu.Unlock()

	s.logger.Info("mock verification mail", "email", acc.Email, "token", token)
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Registration successful. Please verify your email.",
		"data":    user,
	})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	email, ok := s.verifyTokens[req.Token]
	if ok {
		delete(s.verifyTokens, req.Token)
		if acc := s.accounts[email]; acc != nil {
			acc.Verified = true
		}
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "verification token is invalid or expired")
		return
	}
	writeMessage(w, http.StatusOK, "Email verified")
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	s.mu.Lock()
	var token string
	if acc := s.accounts[email]; acc != nil && !acc.Verified {
		token = issueLocked(s.verifyTokens, email)
	}
	s.mu.Unlock()

	if token != "" {
		s.logger.Info("mock verification mail", "email", email, "token", token)
	}
	writeMessage(w, http.StatusOK, "If the account exists and is unverified, a new mail has been sent")
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	s.mu.Lock()
	var token string
	if s.accounts[email] != nil {
		token = issueLocked(s.resetTokens, email)
	}
	s.mu.Unlock()

	if token != "" {
		s.logger.Info("mock password reset mail", "email", email, "token", token)
	}
	writeMessage(w, http.StatusOK, "If the account exists, a reset mail has been sent")
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "password must be at least 8 characters")
		return
	}

	s.mu.Lock()
	email, ok := s.resetTokens[req.Token]
	acc := s.accounts[email]
	if ok && acc != nil {
		delete(s.resetTokens, req.Token)
		acc.Password = req.Password
		s.dropUserSessionsLocked(acc.ID)
	}
	s.mu.Unlock()

	if !ok || acc == nil {
		writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "reset token is invalid or expired")
		return
	}
	writeMessage(w, http.StatusOK, "Password reset")
}

// handleChangePassword answers a wrong current password with 400, never
// 401, so clients do not mistake it for an expired session.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	current := sessionFrom(r)
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "password must be at least 8 characters")
		return
	}

	s.mu.Lock()
	acc := s.accountByID(current.UserID)
	if acc == nil || acc.Password != req.CurrentPassword {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "INVALID_PASSWORD", "current password is incorrect")
		return
	}
	acc.Password = req.NewPassword
	s.dropUserSessionsLocked(acc.ID)
	s.mu.Unlock()

	if s.opts.Cookie {
		clearSessionCookies(w)
	}
	writeMessage(w, http.StatusOK, "Password changed. Please log in again.")
}

func (s *Server) handleGoogle(w http.ResponseWriter, r *http.Request) {
	state := strings.ReplaceAll(uuid.NewString(), "-", "")
	q := url.Values{}
	q.Set("client_id", "mock-client")
	q.Set("redirect_uri", "http://"+r.Host+"/v1/auth/google/callback")
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	writeData(w, map[string]any{
		"authUrl": "https://accounts.google.com/o/oauth2/v2/auth?" + q.Encode(),
		"state":   state,
	})
}
