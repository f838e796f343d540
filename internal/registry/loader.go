package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the top-level registry YAML structure. Unknown
// top-level keys are ignored.
type FileConfig struct {
	Servers []serverConfig `yaml:"servers"`
	Tools   []toolConfig   `yaml:"tools"`
}

type serverConfig struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description,omitempty"`
	Risk        string   `yaml:"risk_level,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

type toolConfig struct {
	ToolID          string   `yaml:"tool_id"`
	ServerID        string   `yaml:"server_id"`
	Description     string   `yaml:"description_1line"`
	DescriptionFull string   `yaml:"description_full,omitempty"`
	Tags            []string `yaml:"tags"`
	Risk            string   `yaml:"risk_level"`
	RequiredScopes  []string `yaml:"required_scopes,omitempty"`
	RedactHints     []string `yaml:"redact_hints,omitempty"`
	SchemaMin       yaml.Node `yaml:"schema_min"`
	SchemaFull      yaml.Node `yaml:"schema_full"`
}

// ValidationError holds all validation failures for a registry file.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("registry validation failed: %s", strings.Join(e.Errors, "; "))
}

// Load parses and validates the registry configuration file. A missing file
// is an error: the gateway must not start without a catalog.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry config: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from raw YAML bytes.
func Parse(data []byte) (*Registry, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse registry config: %w", err)
	}

	var errs []string
	now := time.Now().UTC()

	servers := make([]ServerRecord, 0, len(cfg.Servers))
	for i, s := range cfg.Servers {
		rec := ServerRecord{ID: s.ID, Description: s.Description, Tags: s.Tags}
		if s.Risk != "" {
			risk, err := ParseRiskLevel(s.Risk)
			if err != nil {
				errs = append(errs, fmt.Sprintf("servers[%d]: %v", i, err))
				continue
			}
			rec.Risk = risk
		}
		servers = append(servers, rec)
	}

	tools := make([]ToolRecord, 0, len(cfg.Tools))
	for i, t := range cfg.Tools {
		schemaMin, err := schemaJSON(&t.SchemaMin)
		if err != nil {
			errs = append(errs, fmt.Sprintf("tools[%d] (%s): schema_min: %v", i, t.ToolID, err))
			continue
		}
		schemaFull, err := schemaJSON(&t.SchemaFull)
		if err != nil {
			errs = append(errs, fmt.Sprintf("tools[%d] (%s): schema_full: %v", i, t.ToolID, err))
			continue
		}
		tools = append(tools, ToolRecord{
			ToolID:          t.ToolID,
			ServerID:        t.ServerID,
			Description:     t.Description,
			DescriptionFull: t.DescriptionFull,
			Tags:            t.Tags,
			Risk:            RiskLevel(t.Risk),
			RequiredScopes:  t.RequiredScopes,
			RedactHints:     t.RedactHints,
			SchemaMin:       schemaMin,
			SchemaFull:      schemaFull,
			RegisteredAt:    now,
		})
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	reg, err := New(servers, tools)
	if err != nil {
		return nil, &ValidationError{Errors: []string{err.Error()}}
	}
	return reg, nil
}

// schemaJSON converts a YAML schema node (inline mapping or JSON string) to
// compact JSON bytes.
func schemaJSON(n *yaml.Node) (json.RawMessage, error) {
	if n == nil || n.Kind == 0 {
		return nil, nil
	}
	// A scalar node holds the schema as a literal JSON string.
	if n.Kind == yaml.ScalarNode {
		raw := []byte(n.Value)
		if len(raw) == 0 {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return json.Marshal(v)
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
