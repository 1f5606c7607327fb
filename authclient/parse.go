package authclient

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/spectrity/essence-cli/credentials"
)

// ParseRefreshResponse extracts the credential pair from a refresh (or
// login) response body. The backend is inconsistent about casing, so every
// field is looked up as camelCase first and snake_case second. Both the
// {success, data: {...}} envelope and a bare object are accepted.
//
// The access credential is required. A missing refresh credential is not
// an error here; callers decide whether to keep the previous one. The
// user object, when present, is attached as the "user" extra.
func ParseRefreshResponse(raw []byte) (*oauth2.Token, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformedRefreshResponse)
	}

	if rawSuccess, ok := top["success"]; ok {
		var success bool
		if err := json.Unmarshal(rawSuccess, &success); err == nil && !success {
			return nil, fmt.Errorf("%w: success is false", ErrMalformedRefreshResponse)
		}
	}

	body := top
	if rawData, ok := top["data"]; ok {
		var data map[string]json.RawMessage
		if err := json.Unmarshal(rawData, &data); err != nil || data == nil {
			return nil, fmt.Errorf("%w: data is not an object", ErrMalformedRefreshResponse)
		}
		body = data
	}

	access := firstString(body, "accessToken", "access_token")
	if access == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrMalformedRefreshResponse)
	}

	token := &oauth2.Token{
		AccessToken:  access,
		RefreshToken: firstString(body, "refreshToken", "refresh_token"),
		TokenType:    "Bearer",
		Expiry:       parseExpiry(body, access),
	}

	if user, ok := body["user"]; ok && string(user) != "null" {
		token = token.WithExtra(map[string]any{"user": user})
	}
	return token, nil
}

// UserFromToken returns the raw user object attached by
// ParseRefreshResponse, or nil.
func UserFromToken(token *oauth2.Token) json.RawMessage {
	if token == nil {
		return nil
	}
	raw, _ := token.Extra("user").(json.RawMessage)
	return raw
}

// firstString returns the first non-empty string value among keys.
func firstString(body map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := body[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func parseExpiry(body map[string]json.RawMessage, access string) time.Time {
	if s := firstString(body, "expiresAt", "expires_at"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	for _, k := range []string{"expiresIn", "expires_in"} {
		raw, ok := body[k]
		if !ok {
			continue
		}
		var secs int64
		if err := json.Unmarshal(raw, &secs); err == nil && secs > 0 {
			return time.Now().Add(time.Duration(secs) * time.Second)
		}
	}
	if t, ok := credentials.TokenExpiry(access); ok {
		return t
	}
	return time.Time{}
}
