package approval

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseResponse normalizes a provider's raw reply into a Response. Two
// shapes are accepted: a structured JSON object, or line/semicolon
// separated key=value (or key:value) pairs. Unknown input returns an error
// value; it never panics.
func ParseResponse(raw string) (*Response, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty approval response")
	}

	if strings.HasPrefix(raw, "{") {
		return parseJSONResponse(raw)
	}
	return parseKVResponse(raw)
}

type jsonResponse struct {
	RequestID      string          `json:"request_id"`
	Decision       string          `json:"decision"`
	SelectedScopes json.RawMessage `json:"selected_scopes"`
	LeaseSeconds   json.RawMessage `json:"lease_seconds"`
	ErrorMessage   string          `json:"error_message"`
}

func parseJSONResponse(raw string) (*Response, error) {
	var jr jsonResponse
	if err := json.Unmarshal([]byte(raw), &jr); err != nil {
		return nil, fmt.Errorf("parse approval response: %w", err)
	}

	decision, err := parseDecision(jr.Decision)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		RequestID:    jr.RequestID,
		Decision:     decision,
		ErrorMessage: jr.ErrorMessage,
	}

	if len(jr.SelectedScopes) > 0 {
		var scopes []string
		if err := json.Unmarshal(jr.SelectedScopes, &scopes); err != nil {
			// Also accept a comma-separated string.
			var s string
			if err2 := json.Unmarshal(jr.SelectedScopes, &s); err2 != nil {
				return nil, fmt.Errorf("parse selected_scopes: %w", err)
			}
			scopes = splitScopes(s)
		}
		resp.SelectedScopes = scopes
	}

	if len(jr.LeaseSeconds) > 0 {
		var n int
		if err := json.Unmarshal(jr.LeaseSeconds, &n); err != nil {
			var s string
			if err2 := json.Unmarshal(jr.LeaseSeconds, &s); err2 != nil {
				return nil, fmt.Errorf("parse lease_seconds: %w", err)
			}
			n, err = parseLeaseSeconds(s)
			if err != nil {
				return nil, err
			}
		}
		if n < 0 {
			return nil, fmt.Errorf("lease_seconds must be non-negative, got %d", n)
		}
		resp.LeaseSeconds = n
	}
	return resp, nil
}

func parseKVResponse(raw string) (*Response, error) {
	resp := &Response{}
	sawDecision := false

	for _, pair := range splitPairs(raw) {
		key, val, ok := cutPair(pair)
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "request_id":
			resp.RequestID = val
		case "decision":
			d, err := parseDecision(val)
			if err != nil {
				return nil, err
			}
			resp.Decision = d
			sawDecision = true
		case "selected_scopes", "scopes":
			resp.SelectedScopes = splitScopes(val)
		case "lease_seconds":
			n, err := parseLeaseSeconds(val)
			if err != nil {
				return nil, err
			}
			resp.LeaseSeconds = n
		case "error_message", "error":
			resp.ErrorMessage = val
		}
	}

	if !sawDecision {
		return nil, fmt.Errorf("approval response has no decision")
	}
	return resp, nil
}

// splitPairs separates on newlines and semicolons.
func splitPairs(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		for _, pair := range strings.Split(line, ";") {
			if p := strings.TrimSpace(pair); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// cutPair splits "key=value" or "key: value".
func cutPair(pair string) (key, val string, ok bool) {
	eq := strings.Index(pair, "=")
	colon := strings.Index(pair, ":")
	sep := eq
	if sep == -1 || (colon != -1 && colon < sep) {
		sep = colon
	}
	if sep == -1 {
		return "", "", false
	}
	return strings.TrimSpace(pair[:sep]), strings.TrimSpace(pair[sep+1:]), true
}

func parseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "approve", "yes", "y":
		return DecisionApproved, nil
	case "denied", "deny", "no", "n":
		return DecisionDenied, nil
	case "timeout":
		return DecisionTimeout, nil
	case "error":
		return DecisionError, nil
	default:
		return "", fmt.Errorf("unknown decision %q", s)
	}
}

func parseLeaseSeconds(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse lease_seconds %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("lease_seconds must be non-negative, got %d", n)
	}
	return n, nil
}

// splitScopes accepts a JSON array or a comma-separated list.
func splitScopes(s string) []string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var scopes []string
		if err := json.Unmarshal([]byte(s), &scopes); err == nil {
			return scopes
		}
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
