package audit

// Event tags form a closed set; every governance decision maps to exactly
// one of these.
const (
	EventToolInvoked       = "tool_invoked"
	EventApprovalRequested = "approval_requested"
	EventApprovalGranted   = "approval_granted"
	EventApprovalDenied    = "approval_denied"
	EventApprovalTimeout   = "approval_timeout"
	EventElevationUsed     = "scoped_elevation_used"
	EventElevationGranted  = "scoped_elevation_granted"
	EventElevationsRevoked = "elevations_revoked"
	EventModeChanged       = "mode_changed"
	EventBlockedReadOnly   = "blocked_read_only"
	EventBypassExecuted    = "bypass_executed"
)

// Typed helpers for the common events. All of them are fail-soft: they log
// diagnostics on write failure but never return an error to callers.

// ToolInvoked records the start of a governed tool call.
func (l *Logger) ToolInvoked(sessionID, toolID, mode string) {
	l.Log(EventToolInvoked, sessionID, "", map[string]any{
		"tool_id": toolID,
		"mode":    mode,
	})
}

// ApprovalRequested records an elicitation being dispatched.
func (l *Logger) ApprovalRequested(sessionID, requestID, toolID string, scopes []string) {
	l.Log(EventApprovalRequested, sessionID, requestID, map[string]any{
		"tool_id":         toolID,
		"required_scopes": scopes,
	})
}

// ApprovalGranted records a successful approval.
func (l *Logger) ApprovalGranted(sessionID, requestID, toolID string, leaseSeconds int) {
	l.Log(EventApprovalGranted, sessionID, requestID, map[string]any{
		"tool_id":       toolID,
		"lease_seconds": leaseSeconds,
	})
}

// ApprovalDenied records a denial, including scope-law violations converted
// to denials.
func (l *Logger) ApprovalDenied(sessionID, requestID, toolID, reason string) {
	l.Log(EventApprovalDenied, sessionID, requestID, map[string]any{
		"tool_id": toolID,
		"reason":  reason,
	})
}

// ApprovalTimeout records a provider that never answered in time.
func (l *Logger) ApprovalTimeout(sessionID, requestID, toolID string, timeoutSeconds int) {
	l.Log(EventApprovalTimeout, sessionID, requestID, map[string]any{
		"tool_id":         toolID,
		"timeout_seconds": timeoutSeconds,
	})
}

// ElevationUsed records a call that skipped prompting via a cached approval.
func (l *Logger) ElevationUsed(sessionID, toolID, contextKey string) {
	l.Log(EventElevationUsed, sessionID, "", map[string]any{
		"tool_id":     toolID,
		"context_key": contextKey,
	})
}

// ElevationGranted records a new scoped elevation.
func (l *Logger) ElevationGranted(sessionID, requestID, toolID, contextKey string, ttlSeconds int) {
	l.Log(EventElevationGranted, sessionID, requestID, map[string]any{
		"tool_id":     toolID,
		"context_key": contextKey,
		"ttl_seconds": ttlSeconds,
	})
}

// ElevationsRevoked records a bulk revocation sweep.
func (l *Logger) ElevationsRevoked(sessionID string, count int) {
	l.Log(EventElevationsRevoked, sessionID, "", map[string]any{
		"count": count,
	})
}

// ModeChanged records a governance mode transition.
func (l *Logger) ModeChanged(sessionID, from, to string) {
	l.Log(EventModeChanged, sessionID, "", map[string]any{
		"from": from,
		"to":   to,
	})
}

// BlockedReadOnly records a mutating call rejected in read-only mode.
func (l *Logger) BlockedReadOnly(sessionID, toolID string) {
	l.Log(EventBlockedReadOnly, sessionID, "", map[string]any{
		"tool_id": toolID,
	})
}

// BypassExecuted records a call that skipped governance in bypass mode.
func (l *Logger) BypassExecuted(sessionID, toolID string) {
	l.Log(EventBypassExecuted, sessionID, "", map[string]any{
		"tool_id": toolID,
	})
}
