// Package logging builds the structured loggers used across essence.
//
// Every logger returned here redacts credential-bearing attributes before
// they reach the output, so callers may log request and response payloads
// without first scrubbing them.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// New returns a text logger writing to w. Auth debug output is only
// emitted when debug is set.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: RedactAttr,
	}))
}

// NewJSON is like New but emits JSON lines.
func NewJSON(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: RedactAttr,
	}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// RedactAttr is a slog ReplaceAttr hook. Sensitive keys are replaced
// outright, and structured values are sanitized recursively.
func RedactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	if IsSensitiveKey(a.Key) {
		if a.Value.Kind() == slog.KindString && a.Value.String() == "" {
			return a
		}
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() == slog.KindAny {
		return slog.Any(a.Key, Sanitize(a.Value.Any()))
	}
	return a
}

// TokenSummary describes a credential without revealing it.
type TokenSummary struct {
	Exists bool   `json:"exists"`
	Length int    `json:"length,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Summarize builds a TokenSummary for token.
func Summarize(token string) TokenSummary {
	if token == "" {
		return TokenSummary{}
	}
	s := TokenSummary{Exists: true, Length: len(token), Type: "Unknown"}
	if len(token) > 4 {
		s.Prefix = token[:4]
	}
	if strings.Count(token, ".") == 2 {
		if _, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{}); err == nil {
			s.Type = "JWT"
		}
	}
	return s
}

// LogValue lets a TokenSummary be logged under any key, including keys
// that would otherwise be redacted as a whole.
func (s TokenSummary) LogValue() slog.Value {
	if !s.Exists {
		return slog.GroupValue(slog.Bool("exists", false))
	}
	return slog.GroupValue(
		slog.Bool("exists", true),
		slog.Int("length", s.Length),
		slog.String("prefix", s.Prefix),
		slog.String("type", s.Type),
	)
}
