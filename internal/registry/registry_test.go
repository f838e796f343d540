package registry

import (
	"encoding/json"
	"strings"
	"testing"
)

func testRecord(id string, risk RiskLevel) ToolRecord {
	return ToolRecord{
		ToolID:      id,
		ServerID:    "srv",
		Description: "test tool " + id,
		Tags:        []string{"test"},
		Risk:        risk,
		SchemaMin:   json.RawMessage(`{"type":"object"}`),
		SchemaFull:  json.RawMessage(`{"type":"object","properties":{}}`),
	}
}

func testServers() []ServerRecord {
	return []ServerRecord{{ID: "srv", Description: "test server"}}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ToolRecord)
		wantErr string
	}{
		{"missing tool id", func(r *ToolRecord) { r.ToolID = "" }, "tool_id"},
		{"missing server", func(r *ToolRecord) { r.ServerID = "" }, "server_id"},
		{"missing description", func(r *ToolRecord) { r.Description = "" }, "description_1line"},
		{"missing tags", func(r *ToolRecord) { r.Tags = nil }, "tag"},
		{"bad risk", func(r *ToolRecord) { r.Risk = "extreme" }, "risk"},
		{"missing schema_min", func(r *ToolRecord) { r.SchemaMin = nil }, "schema_min"},
		{"missing schema_full", func(r *ToolRecord) { r.SchemaFull = nil }, "schema_full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord("t1", RiskSafe)
			tt.mutate(&rec)
			_, err := New(testServers(), []ToolRecord{rec})
			if err == nil {
				t.Fatal("invalid record accepted")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaMinTokenBudget(t *testing.T) {
	rec := testRecord("fat", RiskSafe)
	// 51 whitespace-separated tokens.
	rec.SchemaMin = json.RawMessage(strings.Repeat("x ", 51))
	if _, err := New(testServers(), []ToolRecord{rec}); err == nil {
		t.Error("oversized schema_min accepted")
	}

	rec.SchemaMin = json.RawMessage(strings.TrimSpace(strings.Repeat("x ", 50)))
	if _, err := New(testServers(), []ToolRecord{rec}); err != nil {
		t.Errorf("50-token schema_min rejected: %v", err)
	}
}

func TestBootstrapSet(t *testing.T) {
	want := []string{ToolSearch, ToolGetSchema, ToolExpandSchema}
	got := BootstrapTools()
	if len(got) != len(want) {
		t.Fatalf("BootstrapTools() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("BootstrapTools()[%d] = %q, want %q", i, got[i], want[i])
		}
		if !IsBootstrap(want[i]) {
			t.Errorf("IsBootstrap(%q) = false", want[i])
		}
	}
	if IsBootstrap("read_file") {
		t.Error("IsBootstrap(read_file) = true")
	}
}

func TestCandidateOmitsSchemas(t *testing.T) {
	rec := testRecord("t1", RiskSensitive)
	rec.RequiredScopes = []string{"fs:write"}
	c := rec.Candidate()

	if c.ToolID != "t1" || c.Risk != RiskSensitive {
		t.Errorf("candidate = %+v", c)
	}
	data, _ := json.Marshal(c)
	if strings.Contains(string(data), "schema") {
		t.Errorf("candidate JSON leaks schema fields: %s", data)
	}

	// The candidate's slices are copies.
	c.Tags[0] = "mutated"
	if rec.Tags[0] == "mutated" {
		t.Error("candidate shares tag slice with record")
	}
}

func TestParseRiskLevel(t *testing.T) {
	for _, s := range []string{"safe", "sensitive", "dangerous"} {
		if _, err := ParseRiskLevel(s); err != nil {
			t.Errorf("ParseRiskLevel(%q): %v", s, err)
		}
	}
	for _, s := range []string{"", "SAFE", "extreme"} {
		if _, err := ParseRiskLevel(s); err == nil {
			t.Errorf("ParseRiskLevel(%q) accepted", s)
		}
	}
}
