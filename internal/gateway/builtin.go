package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/revittco/toolgate/internal/lease"
	"github.com/revittco/toolgate/internal/policy"
	"github.com/revittco/toolgate/internal/registry"
	"github.com/revittco/toolgate/internal/token"
)

// bootstrapToolDefinitions returns the fixed tool set every client sees.
// These three are the only entry points into progressive discovery.
func bootstrapToolDefinitions() []Tool {
	return []Tool{
		{
			Name: registry.ToolSearch,
			Description: "Search the tool catalog by free text. Returns ranked candidates " +
				"with descriptions and risk levels, but no schemas.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {
						"type": "string",
						"description": "Free-text query matched against tool names, descriptions, and tags"
					},
					"top_k": {
						"type": "integer",
						"description": "Maximum number of results (default 8)"
					}
				},
				"required": ["query"]
			}`),
		},
		{
			Name: registry.ToolGetSchema,
			Description: "Request a tool's input schema. Subject to governance policy; " +
				"on success the tool is leased to this session and appears in tools/list.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"tool_name": {
						"type": "string",
						"description": "Tool id from search_tools results"
					},
					"expand": {
						"type": "boolean",
						"description": "Return the full schema instead of the minimized one"
					}
				},
				"required": ["tool_name"]
			}`),
		},
		{
			Name: registry.ToolExpandSchema,
			Description: "Return the full input schema for a tool this session already " +
				"holds a lease for.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"tool_name": {
						"type": "string",
						"description": "Tool id of a leased tool"
					}
				},
				"required": ["tool_name"]
			}`),
		},
	}
}

func (h *handler) handleBuiltinCall(
	ctx context.Context, req CallToolRequest,
) (json.RawMessage, *RPCError) {
	switch req.Name {
	case registry.ToolSearch:
		var args struct {
			Query string `json:"query"`
			TopK  int    `json:"top_k"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		return h.handleSearchTools(ctx, args.Query, args.TopK)

	case registry.ToolGetSchema:
		var args struct {
			ToolName string `json:"tool_name"`
			Expand   bool   `json:"expand"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		if args.ToolName == "" {
			return nil, &RPCError{Code: CodeInvalidParams, Message: "tool_name is required"}
		}
		return h.handleGetToolSchema(ctx, args.ToolName, args.Expand)

	case registry.ToolExpandSchema:
		var args struct {
			ToolName string `json:"tool_name"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		if args.ToolName == "" {
			return nil, &RPCError{Code: CodeInvalidParams, Message: "tool_name is required"}
		}
		return h.handleExpandToolSchema(ctx, args.ToolName)

	default:
		return nil, &RPCError{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("unknown built-in: %s", req.Name),
		}
	}
}

// handleSearchTools ranks catalog tools for the query under the current
// governance mode. Results carry no schemas.
func (h *handler) handleSearchTools(ctx context.Context, query string, topK int) (json.RawMessage, *RPCError) {
	if strings.TrimSpace(query) == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "query is required"}
	}

	mode := h.state.Mode(ctx)
	candidates := h.index.Search(query, mode, topK)
	if len(candidates) == 0 {
		return marshalToolResult(fmt.Sprintf("No tools found matching %q.", query)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tools:\n", len(candidates))
	for _, c := range candidates {
		fmt.Fprintf(&b, "\n## %s [%s]\n%s\n", c.ToolID, c.Risk, c.Description)
		if len(c.Tags) > 0 {
			fmt.Fprintf(&b, "Tags: %s\n", strings.Join(c.Tags, ", "))
		}
		fmt.Fprintf(&b, "Relevance: %.3f | Availability: %s\n", c.Relevance, c.AllowedInMode)
	}
	b.WriteString("\nCall get_tool_schema(tool_name) to lease a tool and obtain its schema.\n")
	return marshalToolResult(b.String()), nil
}

// handleGetToolSchema is the sole route by which a non-bootstrap tool enters
// a client's lease set. Policy is evaluated at schema-exposure time: block
// returns an error without the schema, require_approval elicits before any
// schema is revealed, allow grants immediately.
func (h *handler) handleGetToolSchema(ctx context.Context, toolName string, expand bool) (json.RawMessage, *RPCError) {
	rec := h.reg.Get(toolName)
	if rec == nil {
		return marshalErrorResult(fmt.Sprintf("unknown tool %q", toolName)), nil
	}

	clientID := h.sessions.sessionID()
	mode := h.state.Mode(ctx)

	leaseSeconds := 0
	decision := policy.Evaluate(mode, rec.Risk, rec.ToolID)
	switch decision.Action {
	case policy.Block:
		if mode == policy.ModeReadOnly {
			h.auditor.BlockedReadOnly(clientID, toolName)
		}
		return marshalErrorResult(msgBlocked), nil

	case policy.RequireApproval:
		out := h.seekApproval(ctx, clientID, toolName, nil)
		if !out.Approved {
			return marshalErrorResult(msgNeedsApproval), nil
		}
		leaseSeconds = out.LeaseSeconds

	case policy.Allow:
		// Fall through to the grant.
	}

	l, err := h.grantLease(ctx, rec, clientID, mode, leaseSeconds)
	if err != nil {
		return nil, &RPCError{Code: CodeInternalError, Message: "lease grant failed: " + err.Error()}
	}

	schema := rec.SchemaMin
	if expand {
		schema = rec.SchemaFull
	}
	return marshalSchemaResult(rec.ToolID, schema, l), nil
}

// handleExpandToolSchema returns the full schema for an already-leased tool.
// The lease grant authorized the schema, so governance is not re-evaluated.
func (h *handler) handleExpandToolSchema(ctx context.Context, toolName string) (json.RawMessage, *RPCError) {
	clientID := h.sessions.sessionID()
	l, err := h.leases.Validate(ctx, clientID, toolName)
	if err != nil {
		return marshalErrorResult(msgNoLease), nil
	}

	rec := h.reg.Get(toolName)
	if rec == nil {
		return marshalErrorResult(msgNoLease), nil
	}
	return marshalSchemaResult(rec.ToolID, rec.SchemaFull, l), nil
}

// grantLease issues the risk-tiered lease with a bound capability token.
// leaseSeconds > 0 (from an approval) overrides the class TTL; the call
// budget always comes from the risk class.
func (h *handler) grantLease(
	ctx context.Context, rec *registry.ToolRecord, clientID string, mode policy.Mode, leaseSeconds int,
) (*lease.Lease, error) {
	c := h.leaseClasses.class(rec.Risk)
	ttl := c.TTL
	if leaseSeconds > 0 {
		ttl = time.Duration(leaseSeconds) * time.Second
	}

	tok, err := token.Generate(clientID, rec.ToolID, ttl, h.secret, "")
	if err != nil {
		return nil, err
	}
	l, err := h.leases.Grant(ctx, clientID, rec.ToolID, ttl, c.Calls, string(mode), tok)
	if err != nil {
		return nil, err
	}
	h.sessions.clearExhausted(rec.ToolID)
	return l, nil
}

func marshalSchemaResult(toolID string, schema json.RawMessage, l *lease.Lease) json.RawMessage {
	payload := map[string]any{
		"tool_id": toolID,
		"schema":  schema,
		"lease": map[string]any{
			"expires_at":      l.ExpiresAt.Format(time.RFC3339),
			"calls_remaining": l.CallsRemaining,
		},
	}
	data, _ := json.Marshal(payload)
	return marshalToolResult(string(data))
}
