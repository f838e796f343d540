package approval

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseResponseJSON(t *testing.T) {
	raw := `{
		"request_id": "req-1",
		"decision": "approved",
		"selected_scopes": ["fs:write", "resource:path:/tmp/x"],
		"lease_seconds": 300
	}`
	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.RequestID != "req-1" || resp.Decision != DecisionApproved {
		t.Errorf("resp = %+v", resp)
	}
	want := []string{"fs:write", "resource:path:/tmp/x"}
	if !reflect.DeepEqual(resp.SelectedScopes, want) {
		t.Errorf("scopes = %v", resp.SelectedScopes)
	}
	if resp.LeaseSeconds != 300 {
		t.Errorf("lease = %d", resp.LeaseSeconds)
	}
}

func TestParseResponseJSONStringyFields(t *testing.T) {
	// Providers driven by form posts send everything as strings.
	raw := `{"decision":"yes","selected_scopes":"fs:write, fs:delete","lease_seconds":"60"}`
	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Decision != DecisionApproved {
		t.Errorf("decision = %q", resp.Decision)
	}
	if !reflect.DeepEqual(resp.SelectedScopes, []string{"fs:write", "fs:delete"}) {
		t.Errorf("scopes = %v", resp.SelectedScopes)
	}
	if resp.LeaseSeconds != 60 {
		t.Errorf("lease = %d", resp.LeaseSeconds)
	}
}

func TestParseResponseKeyValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Response
	}{
		{
			name: "newline separated",
			raw:  "decision=approved\nscopes=fs:write\nlease_seconds=120",
			want: Response{Decision: DecisionApproved, SelectedScopes: []string{"fs:write"}, LeaseSeconds: 120},
		},
		{
			name: "semicolon separated with colons",
			raw:  "decision: deny; error_message: not today",
			want: Response{Decision: DecisionDenied, ErrorMessage: "not today"},
		},
		{
			name: "request id carried",
			raw:  "request_id=abc\ndecision=timeout",
			want: Response{RequestID: "abc", Decision: DecisionTimeout},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseResponse(tt.raw)
			if err != nil {
				t.Fatalf("ParseResponse(%q): %v", tt.raw, err)
			}
			if !reflect.DeepEqual(*resp, tt.want) {
				t.Errorf("got %+v, want %+v", *resp, tt.want)
			}
		})
	}
}

func TestParseDecisionAliases(t *testing.T) {
	for _, s := range []string{"approved", "approve", "yes", "y", "YES", " Approved "} {
		d, err := parseDecision(s)
		if err != nil || d != DecisionApproved {
			t.Errorf("parseDecision(%q) = (%q, %v)", s, d, err)
		}
	}
	for _, s := range []string{"denied", "deny", "no", "n", "No"} {
		d, err := parseDecision(s)
		if err != nil || d != DecisionDenied {
			t.Errorf("parseDecision(%q) = (%q, %v)", s, d, err)
		}
	}
	if _, err := parseDecision("maybe"); err == nil {
		t.Error("parseDecision(maybe) accepted")
	}
}

func TestParseResponseRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   \n "},
		{"no decision", "scopes=fs:write"},
		{"unknown decision", "decision=maybe"},
		{"negative lease", `{"decision":"approved","lease_seconds":-1}`},
		{"negative lease kv", "decision=approved\nlease_seconds=-5"},
		{"malformed json", `{"decision":`},
		{"free text", "sure go ahead"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseResponse(tt.raw); err == nil {
				t.Errorf("ParseResponse(%q) accepted", tt.raw)
			}
		})
	}
}

func TestSplitScopes(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"fs:write", []string{"fs:write"}},
		{"fs:write, fs:delete", []string{"fs:write", "fs:delete"}},
		{`["a","b"]`, []string{"a", "b"}},
		{"", nil},
		{" , , ", nil},
	}
	for _, tt := range tests {
		if got := splitScopes(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitScopes(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCutPair(t *testing.T) {
	key, val, ok := cutPair("decision = approved")
	if !ok || key != "decision" || val != "approved" {
		t.Errorf("cutPair = (%q, %q, %v)", key, val, ok)
	}
	// The first separator wins, so scope values keep their colons.
	key, val, ok = cutPair("scopes=resource:path:/tmp/x")
	if !ok || key != "scopes" || !strings.HasPrefix(val, "resource:path:") {
		t.Errorf("cutPair = (%q, %q, %v)", key, val, ok)
	}
	if _, _, ok := cutPair("no separator here"); ok {
		t.Error("pair without separator accepted")
	}
}
