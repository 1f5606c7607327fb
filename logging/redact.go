package logging

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Redacted replaces the value of every sensitive field.
const Redacted = "***REDACTED***"

// maxDepth bounds recursion into nested payloads.
const maxDepth = 5

// sensitiveFields are matched as case-insensitive substrings of a key.
var sensitiveFields = []string{
	"token",
	"accesstoken",
	"refreshtoken",
	"access_token",
	"refresh_token",
	"password",
	"secret",
	"authorization",
	"cookie",
	"session",
	"apikey",
	"api_key",
}

// IsSensitiveKey reports whether a field named key must never be logged.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Sanitize returns a copy of v with all sensitive fields redacted.
// Structs are normalized through their JSON encoding so that tagged field
// names (refresh_token, accessToken) are matched the way they go on the wire.
func Sanitize(v any) any {
	return sanitize(v, 0)
}

func sanitize(v any, depth int) any {
	if depth > maxDepth {
		return "[Max Depth Reached]"
	}

	switch val := v.(type) {
	case nil:
		return nil
	case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if IsSensitiveKey(k) {
				out[k] = redactValue(item)
				continue
			}
			out[k] = sanitize(item, depth+1)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if IsSensitiveKey(k) {
				out[k] = redactValue(item)
				continue
			}
			out[k] = item
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitize(item, depth+1)
		}
		return out
	case error:
		return val.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
	default:
		return v
	}

	// Anything else is normalized through JSON.
	data, err := json.Marshal(v)
	if err != nil {
		return "[Unserializable]"
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "[Unserializable]"
	}
	return sanitize(generic, depth)
}

// redactValue keeps empty values recognizable as empty.
func redactValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		return Redacted
	case bool:
		if !val {
			return nil
		}
		return Redacted
	default:
		return Redacted
	}
}
