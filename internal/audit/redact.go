package audit

import (
	"encoding/json"
	"strings"
)

// globalRedactPatterns are key substrings that always trigger redaction
// before tool arguments enter the audit trail.
var globalRedactPatterns = []string{
	"token",
	"key",
	"secret",
	"password",
	"authorization",
	"cookie",
	"credential",
}

const redactedValue = "[REDACTED]"

// Redact replaces sensitive values in a JSON arguments object with
// [REDACTED]. Keys match case-insensitively against the global patterns and
// the optional per-tool hints.
func Redact(params json.RawMessage, hints []string) json.RawMessage {
	if len(params) == 0 {
		return params
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(params, &obj); err != nil {
		return params
	}

	changed := false
	for key, val := range obj {
		if shouldRedact(key, hints) {
			redacted, _ := json.Marshal(redactedValue)
			obj[key] = redacted
			changed = true
			continue
		}
		if redacted := Redact(val, hints); string(redacted) != string(val) {
			obj[key] = redacted
			changed = true
		}
	}

	if !changed {
		return params
	}

	result, err := json.Marshal(obj)
	if err != nil {
		return params
	}
	return result
}

// RedactArgs applies Redact to a decoded argument map, returning a copy with
// sensitive values replaced. Used when building audit fields.
func RedactArgs(args map[string]any, hints []string) map[string]any {
	if len(args) == 0 {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if shouldRedact(k, hints) {
			out[k] = redactedValue
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = RedactArgs(nested, hints)
			continue
		}
		out[k] = v
	}
	return out
}

// shouldRedact checks if a key matches any global pattern or hint.
func shouldRedact(key string, hints []string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range globalRedactPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	for _, hint := range hints {
		if strings.Contains(lower, strings.ToLower(hint)) {
			return true
		}
	}
	return false
}
