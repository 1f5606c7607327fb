package mockapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type ctxKey struct{}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   map[string]any{"code": code, "message": message, "statusCode": status},
	})
}

func userJSON(acc *account) map[string]any {
	return map[string]any{
		"id":                acc.ID,
		"email":             acc.Email,
		"first_name":        acc.FirstName,
		"last_name":         acc.LastName,
		"role":              "USER",
		"provider":          "LOCAL",
		"is_email_verified": acc.Verified,
		"is_active":         true,
		"avatar_url":        nil,
		"created_at":        acc.CreatedAt,
		"last_login_at":     acc.LastLogin,
	}
}

func (s *Server) setSessionCookies(w http.ResponseWriter, access, refresh string, accessExp, refreshExp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name: AccessCookie, Value: access, Path: "/",
		Expires: accessExp, HttpOnly: true, SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name: RefreshCookie, Value: refresh, Path: "/",
		Expires: refreshExp, HttpOnly: true, SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		RememberMe bool   `json:"rememberMe"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}

	now := time.Now().UTC()
	s.mu.Lock()
	acc, ok := s.accounts[req.Email]
	if !ok || acc.Password != req.Password {
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
		return
	}
	ttl := 24 * time.Hour
	if req.RememberMe {
		ttl = defaultRefreshTTL
	}
	sess := &session{
		ID:           uuid.NewString(),
		UserID:       acc.ID,
		RefreshToken: uuid.NewString(),
		UserAgent:    r.UserAgent(),
		IPAddress:    clientIP(r),
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastActivity: now,
	}
	s.sessions[sess.ID] = sess
	s.refresh[sess.RefreshToken] = sess.ID
	acc.LastLogin = &now
	user := userJSON(acc)
	cp := *sess
	s.mu.Unlock()

	access, exp, err := s.mintAccess(&cp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to issue token")
		return
	}

	s.logger.Info("mock login", "user_id", acc.ID, "session_id", cp.ID)

	data := map[string]any{
		"user":        user,
		"accessToken": access,
		"expiresAt":   exp.UTC().Format(time.RFC3339),
	}
	if s.opts.Cookie {
		s.setSessionCookies(w, access, cp.RefreshToken, exp, cp.ExpiresAt)
	} else {
		data["refreshToken"] = cp.RefreshToken
	}
	writeData(w, data)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if s.opts.RefreshDelay > 0 {
		time.Sleep(s.opts.RefreshDelay)
	}
	if s.failRefresh.Load() {
		writeError(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token rejected")
		return
	}

	var old string
	if s.opts.Cookie {
		if c, err := r.Cookie(RefreshCookie); err == nil {
			old = c.Value
		}
	} else {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		old = req.RefreshToken
	}
	if old == "" {
		writeError(w, http.StatusUnauthorized, "MISSING_REFRESH_TOKEN", "refresh token required")
		return
	}

	sess, err := s.rotate(old)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", err.Error())
		return
	}
	access, exp, err := s.mintAccess(sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to issue token")
		return
	}

	if s.opts.Cookie {
		s.setSessionCookies(w, access, sess.RefreshToken, exp, sess.ExpiresAt)
		writeData(w, map[string]any{"accessToken": access, "expiresAt": exp.UTC().Format(time.RFC3339)})
		return
	}
	writeData(w, map[string]any{
		"accessToken":  access,
		"refreshToken": sess.RefreshToken,
		"expiresAt":    exp.UTC().Format(time.RFC3339),
	})
}

func (s *Server) accessToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if s.opts.Cookie {
		if c, err := r.Cookie(AccessCookie); err == nil {
			return c.Value
		}
	}
	return ""
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.accessToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		sess, err := s.parseAccess(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "access token is invalid or expired")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, sess)))
	})
}

func sessionFrom(r *http.Request) *session {
	sess, _ := r.Context().Value(ctxKey{}).(*session)
	return sess
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	token := s.accessToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "not authenticated")
		return
	}
	if _, err := s.parseAccess(token); err != nil {
		writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "not authenticated")
		return
	}
	writeData(w, map[string]any{"authenticated": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	s.mu.Lock()
	acc := s.accountByID(sess.UserID)
	var user map[string]any
	if acc != nil {
		user = userJSON(acc)
	}
	s.mu.Unlock()
	if user == nil {
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
		return
	}
	writeData(w, user)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	current := sessionFrom(r)
	s.mu.Lock()
	out := make([]map[string]any, 0)
	for _, sess := range s.sessions {
		if sess.UserID != current.UserID {
			continue
		}
		out = append(out, map[string]any{
			"id":               sess.ID,
			"user_id":          sess.UserID,
			"ip_address":       sess.IPAddress,
			"user_agent":       sess.UserAgent,
			"device_info":      nil,
			"login_provider":   "LOCAL",
			"created_at":       sess.CreatedAt,
			"expires_at":       sess.ExpiresAt,
			"last_activity_at": sess.LastActivity,
		})
	}
	s.mu.Unlock()
	writeData(w, out)
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	current := sessionFrom(r)
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok && sess.UserID == current.UserID {
		s.dropSessionLocked(sess)
	}
	s.mu.Unlock()

	if !ok || sess.UserID != current.UserID {
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Session revoked"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	current := sessionFrom(r)
	s.mu.Lock()
	if sess, ok := s.sessions[current.ID]; ok {
		s.dropSessionLocked(sess)
	}
	s.mu.Unlock()
	if s.opts.Cookie {
		clearSessionCookies(w)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out"})
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	current := sessionFrom(r)
	s.mu.Lock()
	for _, sess := range s.sessions {
		if sess.UserID == current.UserID {
			s.dropSessionLocked(sess)
		}
	}
	s.mu.Unlock()
	if s.opts.Cookie {
		clearSessionCookies(w)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out from all devices"})
}

func (s *Server) dropSessionLocked(sess *session) {
	delete(s.refresh, sess.RefreshToken)
	delete(s.sessions, sess.ID)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
