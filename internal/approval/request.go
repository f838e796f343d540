package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/revittco/toolgate/internal/audit"
	"github.com/revittco/toolgate/internal/registry"
)

const (
	commandKeyLen  = 50  // command context keys keep only the head
	argPreviewCap  = 400 // rendered argument preview in the message
	defaultTimeout = 300 // seconds
)

// Builder assembles approval requests. This is the single authoritative
// implementation of context-key extraction and required-scope building; the
// middleware and the discovery endpoints both go through it.
type Builder struct {
	reg       *registry.Registry
	artifacts *ArtifactStore // nil disables artifact rendering
	timeout   int            // seconds
}

// NewBuilder creates a Builder. artifacts may be nil; timeoutSeconds <= 0
// falls back to the default.
func NewBuilder(reg *registry.Registry, artifacts *ArtifactStore, timeoutSeconds int) *Builder {
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultTimeout
	}
	return &Builder{reg: reg, artifacts: artifacts, timeout: timeoutSeconds}
}

// Build constructs the approval request for one tool call. Argument values
// are redacted before they reach the approver message or the on-disk
// artifacts; context keys and scopes are derived from the raw values first.
// Artifact rendering is best-effort: failures are logged and the approval
// proceeds without them.
func (b *Builder) Build(sessionID, toolName string, args map[string]any) *Request {
	contextKey := ContextKey(toolName, args)
	req := &Request{
		RequestID:      newRequestID(sessionID, toolName, contextKey),
		ToolName:       toolName,
		RequiredScopes: b.RequiredScopes(toolName, args),
		TimeoutSeconds: b.timeout,
		SessionID:      sessionID,
		Arguments:      audit.RedactArgs(args, b.redactHints(toolName)),
		ContextKey:     contextKey,
	}
	req.Message = renderMessage(req)

	if b.artifacts != nil {
		htmlPath, jsonPath, err := b.artifacts.Write(req)
		if err != nil {
			slog.Warn("approval artifact rendering failed", "request_id", req.RequestID, "error", err)
		} else {
			req.ArtifactHTML = htmlPath
			req.ArtifactJSON = jsonPath
		}
	}
	return req
}

// ContextKey derives a coarse identifier for the target of a tool call,
// used to scope elevations without over-collecting. File operations key on
// the path (move keys on the source), command execution on the command
// head, VCS operations on the working directory, and admin operations on
// the tool name itself.
func ContextKey(toolName string, args map[string]any) string {
	if p := stringArg(args, "path"); p != "" {
		return p
	}
	if src := stringArg(args, "source"); src != "" {
		return src
	}
	if cmd := stringArg(args, "command"); cmd != "" {
		if len(cmd) > commandKeyLen {
			return cmd[:commandKeyLen]
		}
		return cmd
	}
	if cwd := stringArg(args, "cwd"); cwd != "" {
		return cwd
	}
	return toolName
}

// RequiredScopes computes the union of the tool's registered base scopes
// and argument-derived resource scopes. Unregistered tools fall back to a
// single tool-shaped scope.
func (b *Builder) RequiredScopes(toolName string, args map[string]any) []string {
	rec := b.reg.Get(toolName)
	if rec == nil {
		slog.Warn("building scopes for unregistered tool", "tool", toolName)
		return []string{"tool:" + toolName}
	}

	set := make(map[string]bool, len(rec.RequiredScopes)+2)
	for _, s := range rec.RequiredScopes {
		set[s] = true
	}
	if p := stringArg(args, "path"); p != "" {
		set["resource:path:"+p] = true
	}
	if src := stringArg(args, "source"); src != "" {
		set["resource:path:"+src] = true
	}
	if dst := stringArg(args, "destination"); dst != "" {
		set["resource:path:"+dst] = true
	}
	if cmd := stringArg(args, "command"); cmd != "" {
		if len(cmd) > commandKeyLen {
			cmd = cmd[:commandKeyLen]
		}
		set["resource:command:"+cmd] = true
	}
	if cwd := stringArg(args, "cwd"); cwd != "" {
		set["resource:path:"+cwd] = true
	}

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// redactHints returns the tool's declared sensitive-key hints, if any.
func (b *Builder) redactHints(toolName string) []string {
	if rec := b.reg.Get(toolName); rec != nil {
		return rec.RedactHints
	}
	return nil
}

// newRequestID is stable for one approval: short session and context hashes
// plus a millisecond timestamp.
func newRequestID(sessionID, toolName, contextKey string) string {
	return fmt.Sprintf("%s_%s_%s_%d",
		shortHash(sessionID), toolName, shortHash(contextKey), time.Now().UnixMilli())
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

// renderMessage produces the Markdown shown to the approver.
func renderMessage(req *Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Approval required: `%s`\n\n", req.ToolName)
	fmt.Fprintf(&b, "Request `%s` from session `%s`.\n\n", req.RequestID, req.SessionID)

	if len(req.Arguments) > 0 {
		preview, _ := json.Marshal(req.Arguments)
		if len(preview) > argPreviewCap {
			preview = append(preview[:argPreviewCap], []byte("...")...)
		}
		fmt.Fprintf(&b, "Arguments:\n```json\n%s\n```\n\n", preview)
	}

	b.WriteString("Scopes to grant (all are required, none may be added):\n")
	for _, s := range req.RequiredScopes {
		fmt.Fprintf(&b, "- `%s`\n", s)
	}
	b.WriteString("\nReply with a decision (approved/denied), the scopes, and a ")
	b.WriteString("lease duration in seconds (0 = single use).\n")
	return b.String()
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
