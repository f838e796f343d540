package registry

import (
	"encoding/json"
	"fmt"
	"time"
)

// RiskLevel classifies how dangerous a tool is to invoke.
type RiskLevel string

const (
	RiskSafe      RiskLevel = "safe"
	RiskSensitive RiskLevel = "sensitive"
	RiskDangerous RiskLevel = "dangerous"
)

// ParseRiskLevel validates a risk level string.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case RiskSafe, RiskSensitive, RiskDangerous:
		return RiskLevel(s), nil
	default:
		return "", fmt.Errorf("invalid risk level %q (must be safe, sensitive, or dangerous)", s)
	}
}

// ToolRecord is a static catalog entry for one downstream tool.
type ToolRecord struct {
	ToolID          string          `json:"tool_id"`
	ServerID        string          `json:"server_id"`
	Description     string          `json:"description_1line"`
	DescriptionFull string          `json:"description_full,omitempty"`
	Tags            []string        `json:"tags"`
	Risk            RiskLevel       `json:"risk_level"`
	RequiredScopes  []string        `json:"required_scopes,omitempty"`
	RedactHints     []string        `json:"redact_hints,omitempty"`
	SchemaMin       json.RawMessage `json:"schema_min"`
	SchemaFull      json.RawMessage `json:"schema_full"`
	RegisteredAt    time.Time       `json:"registered_at"`
}

// ServerRecord describes a downstream tool server. Purely descriptive; the
// gateway never executes tools itself.
type ServerRecord struct {
	ID          string    `json:"id"`
	Description string    `json:"description,omitempty"`
	Risk        RiskLevel `json:"risk_level,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Availability annotates a search candidate with its governance posture at
// search time.
type Availability string

const (
	Allowed          Availability = "allowed"
	RequiresApproval Availability = "requires_approval"
	Blocked          Availability = "blocked"
)

// ToolCandidate is a search result. It carries everything a ToolRecord does
// except the schemas, which stay hidden until a lease is granted.
type ToolCandidate struct {
	ToolID          string       `json:"tool_id"`
	ServerID        string       `json:"server_id"`
	Description     string       `json:"description_1line"`
	DescriptionFull string       `json:"description_full,omitempty"`
	Tags            []string     `json:"tags"`
	Risk            RiskLevel    `json:"risk_level"`
	RequiredScopes  []string     `json:"required_scopes,omitempty"`
	Relevance       float64      `json:"relevance_score"`
	AllowedInMode   Availability `json:"allowed_in_mode"`
}

// Candidate vends a read-only search candidate for a record. Schemas are
// deliberately omitted.
func (r *ToolRecord) Candidate() ToolCandidate {
	return ToolCandidate{
		ToolID:          r.ToolID,
		ServerID:        r.ServerID,
		Description:     r.Description,
		DescriptionFull: r.DescriptionFull,
		Tags:            append([]string(nil), r.Tags...),
		Risk:            r.Risk,
		RequiredScopes:  append([]string(nil), r.RequiredScopes...),
	}
}

// validate checks the record invariants before admission to the registry.
func (r *ToolRecord) validate() error {
	if r.ToolID == "" {
		return fmt.Errorf("tool_id is required")
	}
	if r.ServerID == "" {
		return fmt.Errorf("tool %q: server_id is required", r.ToolID)
	}
	if r.Description == "" {
		return fmt.Errorf("tool %q: description_1line is required", r.ToolID)
	}
	if len(r.Tags) == 0 {
		return fmt.Errorf("tool %q: at least one tag is required", r.ToolID)
	}
	if _, err := ParseRiskLevel(string(r.Risk)); err != nil {
		return fmt.Errorf("tool %q: %w", r.ToolID, err)
	}
	if len(r.SchemaMin) == 0 {
		return fmt.Errorf("tool %q: schema_min is required", r.ToolID)
	}
	if n := schemaTokenCount(r.SchemaMin); n > schemaMinTokenBudget {
		return fmt.Errorf("tool %q: schema_min is %d tokens (budget %d)", r.ToolID, n, schemaMinTokenBudget)
	}
	if len(r.SchemaFull) == 0 {
		return fmt.Errorf("tool %q: schema_full is required", r.ToolID)
	}
	return nil
}
