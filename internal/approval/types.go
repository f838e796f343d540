package approval

import "errors"

// Decision is the outcome reported by an approval provider.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
	DecisionTimeout  Decision = "timeout"
	DecisionError    Decision = "error"
)

// Sentinel errors.
var (
	ErrNoProvider  = errors.New("no approval provider available")
	ErrUnavailable = errors.New("approval provider unavailable")
)

// Request is one elicitation. It lives only for the duration of the
// approval exchange.
type Request struct {
	RequestID      string         `json:"request_id"`
	ToolName       string         `json:"tool_name"`
	Message        string         `json:"message"`
	RequiredScopes []string       `json:"required_scopes"`
	ArtifactHTML   string         `json:"artifact_html,omitempty"`
	ArtifactJSON   string         `json:"artifact_json,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	SessionID      string         `json:"session_id"`
	Arguments      map[string]any `json:"arguments,omitempty"`
	ContextKey     string         `json:"context_key"`
}

// Response is the provider's answer, normalized from whatever shape the
// provider produced. selected_scopes must equal required_scopes exactly for
// an approval to stand.
type Response struct {
	RequestID      string   `json:"request_id"`
	Decision       Decision `json:"decision"`
	SelectedScopes []string `json:"selected_scopes,omitempty"`
	LeaseSeconds   int      `json:"lease_seconds"`
	ErrorMessage   string   `json:"error_message,omitempty"`
}
