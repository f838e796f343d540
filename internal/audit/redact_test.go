package audit

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		hints []string
		want  string
	}{
		{
			name: "global patterns",
			in:   `{"path":"/tmp/x","api_key":"abc","Password":"hunter2"}`,
			want: `{"Password":"[REDACTED]","api_key":"[REDACTED]","path":"/tmp/x"}`,
		},
		{
			name: "nested objects",
			in:   `{"config":{"auth_token":"abc","host":"db"}}`,
			want: `{"config":{"auth_token":"[REDACTED]","host":"db"}}`,
		},
		{
			name:  "per-tool hints",
			in:    `{"connection_string":"postgres://u:p@h/db","query":"select 1"}`,
			hints: []string{"connection_string"},
			want:  `{"connection_string":"[REDACTED]","query":"select 1"}`,
		},
		{
			name: "clean object unchanged",
			in:   `{"path":"/tmp/x","limit":10}`,
			want: `{"path":"/tmp/x","limit":10}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(json.RawMessage(tt.in), tt.hints)

			var gotObj, wantObj map[string]any
			if err := json.Unmarshal(got, &gotObj); err != nil {
				t.Fatalf("output not JSON: %v", err)
			}
			if err := json.Unmarshal([]byte(tt.want), &wantObj); err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(gotObj, wantObj) {
				t.Errorf("Redact(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedactNonObjectPassthrough(t *testing.T) {
	for _, in := range []string{"", "null", "[1,2]", "not json"} {
		got := Redact(json.RawMessage(in), nil)
		if string(got) != in {
			t.Errorf("Redact(%q) = %q, want input unchanged", in, got)
		}
	}
}

func TestRedactArgs(t *testing.T) {
	args := map[string]any{
		"path":       "/tmp/x",
		"secret_ref": "vault://x",
		"nested":     map[string]any{"cookie": "session=1", "field": "ok"},
	}
	got := RedactArgs(args, nil)

	if got["path"] != "/tmp/x" {
		t.Errorf("path = %v", got["path"])
	}
	if got["secret_ref"] != redactedValue {
		t.Errorf("secret_ref = %v", got["secret_ref"])
	}
	nested := got["nested"].(map[string]any)
	if nested["cookie"] != redactedValue || nested["field"] != "ok" {
		t.Errorf("nested = %v", nested)
	}

	// The input map is left untouched.
	if args["secret_ref"] != "vault://x" {
		t.Error("RedactArgs mutated its input")
	}
}
