package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/revittco/toolgate/internal/approval"
	"github.com/revittco/toolgate/internal/audit"
	"github.com/revittco/toolgate/internal/compress"
	"github.com/revittco/toolgate/internal/lease"
	"github.com/revittco/toolgate/internal/policy"
	"github.com/revittco/toolgate/internal/registry"
	"github.com/revittco/toolgate/internal/retrieval"
	"github.com/revittco/toolgate/internal/state"
	"github.com/revittco/toolgate/internal/token"
)

// Neutral client-facing governance messages. These never hint at tool
// schemas or internal policy detail.
const (
	msgNoLease        = "no lease — request a schema first"
	msgBlocked        = "blocked by policy"
	msgNeedsApproval  = "requires approval"
	msgLeaseExhausted = "lease exhausted"
	msgBadToken       = "invalid capability token"
)

// LeaseClass bounds one risk level's default grant.
type LeaseClass struct {
	TTL   time.Duration
	Calls int
}

// LeaseClasses maps risk levels to their default lease bounds.
type LeaseClasses map[registry.RiskLevel]LeaseClass

// DefaultLeaseClasses returns the standard risk-tiered lease bounds: safe
// tools get long generous leases, dangerous ones short single-call grants.
func DefaultLeaseClasses() LeaseClasses {
	return LeaseClasses{
		registry.RiskSafe:      {TTL: time.Hour, Calls: 50},
		registry.RiskSensitive: {TTL: 15 * time.Minute, Calls: 3},
		registry.RiskDangerous: {TTL: 5 * time.Minute, Calls: 1},
	}
}

func (lc LeaseClasses) class(risk registry.RiskLevel) LeaseClass {
	if c, ok := lc[risk]; ok && c.TTL > 0 && c.Calls > 0 {
		return c
	}
	// Unknown risk gets the most restrictive bounds.
	return LeaseClass{TTL: 5 * time.Minute, Calls: 1}
}

// handler implements the MCP methods and the governance middleware. Every
// tools/call for a non-bootstrap tool runs the full gate sequence.
type handler struct {
	reg          *registry.Registry
	index        *retrieval.Index
	leases       *lease.Manager
	state        *state.Store
	auditor      *audit.Logger
	pipeline     *approval.Pipeline
	builder      *approval.Builder
	forward      Forwarder
	secret       []byte
	leaseClasses LeaseClasses
	compressAt   int // 0 disables response shaping
	sessions     *sessionManager
}

func newHandler(cfg Config) *handler {
	classes := cfg.LeaseClasses
	if classes == nil {
		classes = DefaultLeaseClasses()
	}
	fwd := cfg.Forwarder
	if fwd == nil {
		fwd = UnroutedForwarder()
	}
	return &handler{
		reg:          cfg.Registry,
		index:        cfg.Index,
		leases:       cfg.Leases,
		state:        cfg.State,
		auditor:      cfg.Auditor,
		pipeline:     cfg.Approvals,
		builder:      cfg.Builder,
		forward:      fwd,
		secret:       cfg.Secret,
		leaseClasses: classes,
		compressAt:   cfg.CompressThreshold,
		sessions:     newSessionManager(),
	}
}

func (h *handler) handleInitialize(
	ctx context.Context, params json.RawMessage,
) (json.RawMessage, *RPCError) {
	var p InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}

	id := h.sessions.create(p.ClientInfo)
	slog.Info("session created", "session_id", id, "client", p.ClientInfo.Name)

	result := InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: ServerCapability{
			Tools: &ToolCapability{ListChanged: true},
		},
		ServerInfo: ServerInfo{Name: "toolgate", Version: "0.1.0"},
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, &RPCError{Code: CodeInternalError, Message: err.Error()}
	}
	return data, nil
}

// handleToolsList advertises the bootstrap set plus every tool the session
// currently holds a live lease for. Clients never see tools they cannot
// invoke.
func (h *handler) handleToolsList(ctx context.Context) (json.RawMessage, *RPCError) {
	tools := bootstrapToolDefinitions()

	clientID := h.sessions.sessionID()
	if clientID != "" {
		held, err := h.leases.ListForClient(ctx, clientID)
		if err != nil {
			slog.Warn("lease listing failed, advertising bootstrap only", "error", err)
		}
		for _, l := range held {
			rec := h.reg.Get(l.ToolID)
			if rec == nil {
				continue
			}
			tools = append(tools, Tool{
				Name:        rec.ToolID,
				Description: rec.Description,
				InputSchema: rec.SchemaMin,
			})
		}
	}

	result := map[string]any{"tools": tools}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, &RPCError{Code: CodeInternalError, Message: err.Error()}
	}
	return data, nil
}

// handleToolsCall is the governance middleware. Gate order: lease, token,
// mode, then the mode-specific path. The lease is consumed only after a
// successful forward; failed calls never burn budget.
func (h *handler) handleToolsCall(
	ctx context.Context, params json.RawMessage,
) (json.RawMessage, *RPCError) {
	var req CallToolRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}

	if registry.IsBootstrap(req.Name) {
		return h.handleBuiltinCall(ctx, req)
	}

	clientID := h.sessions.sessionID()

	// Lease gate.
	l, err := h.leases.Validate(ctx, clientID, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, lease.ErrExhausted):
			return marshalErrorResult(msgLeaseExhausted), nil
		case errors.Is(err, lease.ErrNoLease):
			// Exhaustion deletes the lease key; the session remembers so the
			// client hears "exhausted", not "missing", until a new grant.
			if h.sessions.wasExhausted(req.Name) {
				return marshalErrorResult(msgLeaseExhausted), nil
			}
			return marshalErrorResult(msgNoLease), nil
		default:
			// Store errors fail closed.
			slog.Error("lease validation failed", "tool", req.Name, "error", err)
			return marshalErrorResult(msgNoLease), nil
		}
	}

	// Capability token gate. A lease carrying a bad token is revoked on the
	// spot; a forged token must not leave a usable grant behind.
	if l.CapabilityToken != "" {
		if !token.Verify(l.CapabilityToken, clientID, req.Name, h.secret, "") {
			if _, err := h.leases.Revoke(ctx, clientID, req.Name); err != nil {
				slog.Error("revoke after token failure", "tool", req.Name, "error", err)
			}
			return marshalErrorResult(msgBadToken), nil
		}
	}

	mode := h.state.Mode(ctx)
	h.auditor.ToolInvoked(clientID, req.Name, string(mode))

	rec := h.reg.Get(req.Name)
	if rec == nil {
		// A lease for an unregistered tool should not exist; fail closed.
		slog.Warn("leased tool missing from registry", "tool", req.Name)
		return marshalErrorResult(msgBlocked), nil
	}

	return h.dispatch(ctx, mode, rec, clientID, req, decodeArgs(req.Arguments))
}

// dispatch routes the call along the mode-specific governance path.
func (h *handler) dispatch(
	ctx context.Context, mode policy.Mode, rec *registry.ToolRecord,
	clientID string, req CallToolRequest, args map[string]any,
) (json.RawMessage, *RPCError) {
	switch mode {
	case policy.ModeBypass:
		h.auditor.BypassExecuted(clientID, req.Name)
		return h.forwardCall(ctx, rec, clientID, req)

	case policy.ModeReadOnly:
		if rec.Risk == registry.RiskSafe {
			return h.forwardCall(ctx, rec, clientID, req)
		}
		h.auditor.BlockedReadOnly(clientID, req.Name)
		return marshalErrorResult(msgBlocked), nil

	case policy.ModePermission:
		if rec.Risk == registry.RiskSafe {
			return h.forwardCall(ctx, rec, clientID, req)
		}

		// Elevation shortcut: an identical approved call inside its window
		// skips re-prompting.
		contextKey := approval.ContextKey(req.Name, args)
		ekey := state.ElevationKey(req.Name, contextKey, clientID)
		if h.state.CheckElevation(ctx, ekey) {
			h.auditor.ElevationUsed(clientID, req.Name, contextKey)
			return h.forwardCall(ctx, rec, clientID, req)
		}

		out := h.seekApproval(ctx, clientID, req.Name, args)
		if !out.Approved {
			return marshalErrorResult(msgNeedsApproval), nil
		}
		return h.forwardCall(ctx, rec, clientID, req)

	default:
		// state.Mode degrades unknown stored values to permission, so this
		// branch is unreachable in normal operation; it still records the
		// block and fails closed.
		slog.Error("unknown governance mode", "mode", mode)
		h.auditor.Log(audit.EventBlockedReadOnly, clientID, "", map[string]any{
			"tool_id": req.Name,
			"mode":    string(mode),
		})
		return marshalErrorResult(msgBlocked), nil
	}
}

// seekApproval runs the elicitation pipeline, failing closed when approvals
// are not wired.
func (h *handler) seekApproval(ctx context.Context, sessionID, toolName string, args map[string]any) approval.Outcome {
	if h.pipeline == nil || h.builder == nil {
		slog.Warn("approval pipeline not configured, denying", "tool", toolName)
		return approval.Outcome{Decision: approval.DecisionDenied, Reason: "approvals not configured"}
	}
	req := h.builder.Build(sessionID, toolName, args)
	return h.pipeline.Seek(ctx, req)
}

// forwardCall dispatches downstream, consumes the lease on success, and
// shapes the response. A consume lost to a concurrent racer after the
// forward already succeeded is logged, not surfaced; the work was done.
func (h *handler) forwardCall(
	ctx context.Context, rec *registry.ToolRecord, clientID string, req CallToolRequest,
) (json.RawMessage, *RPCError) {
	result, err := h.forward.Call(ctx, rec.ServerID, req.Name, req.Arguments)
	if err != nil {
		return nil, &RPCError{
			Code:    CodeProcessError,
			Message: "downstream call failed: " + err.Error(),
		}
	}

	consumed, err := h.leases.Consume(ctx, clientID, req.Name)
	switch {
	case err != nil:
		slog.Warn("lease consume failed after successful forward",
			"tool", req.Name, "client_id", clientID, "error", err)
	case consumed.CallsRemaining == 0:
		h.sessions.markExhausted(req.Name)
	}

	return h.shape(result), nil
}

// shape applies the output compressor when enabled. Compression failures
// fall back to the raw result.
func (h *handler) shape(result json.RawMessage) json.RawMessage {
	if h.compressAt <= 0 {
		return result
	}
	return compress.EncodeRaw(result, h.compressAt)
}

func decodeArgs(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil
	}
	return args
}
