package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/revittco/toolgate/internal/audit"
	"github.com/revittco/toolgate/internal/state"
)

// Outcome is the pipeline's verdict on one approval exchange. Only Approved
// outcomes carry a lease duration.
type Outcome struct {
	Approved     bool
	Decision     Decision
	LeaseSeconds int
	Reason       string
}

// Pipeline runs the full approval exchange: pick a provider, elicit,
// enforce the scope laws, cache the elevation, and audit every step.
// Everything that is not an explicit, scope-valid approval denies.
type Pipeline struct {
	selector *Selector
	state    *state.Store
	auditor  *audit.Logger
	bus      *Bus
}

// NewPipeline wires the approval pipeline. bus may be nil.
func NewPipeline(selector *Selector, st *state.Store, auditor *audit.Logger, bus *Bus) *Pipeline {
	return &Pipeline{selector: selector, state: st, auditor: auditor, bus: bus}
}

// Seek elicits an approval for req and returns the verdict. Seek never
// returns an error for a human "no"; errors are reserved for broken wiring,
// and even those collapse to a denied Outcome for the caller's purposes.
func (p *Pipeline) Seek(ctx context.Context, req *Request) Outcome {
	p.auditor.ApprovalRequested(req.SessionID, req.RequestID, req.ToolName, req.RequiredScopes)
	p.publish(EventPending, req, nil)

	provider, err := p.selector.Pick(ctx)
	if err != nil {
		slog.Warn("no approval channel, denying", "tool", req.ToolName, "error", err)
		return p.deny(req, fmt.Sprintf("no approval channel available: %v", err))
	}

	resp, err := provider.RequestApproval(ctx, req)
	if err != nil {
		slog.Error("approval provider failed", "provider", provider.Name(), "error", err)
		return p.deny(req, fmt.Sprintf("approval provider %s failed: %v", provider.Name(), err))
	}

	switch resp.Decision {
	case DecisionApproved:
		if err := ValidateSelectedScopes(resp.SelectedScopes, req.RequiredScopes); err != nil {
			// A malformed approval is treated exactly like a denial.
			p.publish(EventResolved, req, resp)
			out := p.deny(req, fmt.Sprintf("scope violation: %v", err))
			return out
		}
		p.auditor.ApprovalGranted(req.SessionID, req.RequestID, req.ToolName, resp.LeaseSeconds)
		if resp.LeaseSeconds > 0 {
			p.cacheElevation(ctx, req, resp.LeaseSeconds)
		}
		p.publish(EventResolved, req, resp)
		return Outcome{Approved: true, Decision: DecisionApproved, LeaseSeconds: resp.LeaseSeconds}

	case DecisionTimeout:
		p.auditor.ApprovalTimeout(req.SessionID, req.RequestID, req.ToolName, req.TimeoutSeconds)
		p.publish(EventResolved, req, resp)
		return Outcome{Decision: DecisionTimeout, Reason: "approval timed out"}

	case DecisionError:
		p.publish(EventResolved, req, resp)
		return p.deny(req, "approval channel error: "+resp.ErrorMessage)

	default:
		p.publish(EventResolved, req, resp)
		return p.deny(req, "denied by approver")
	}
}

func (p *Pipeline) deny(req *Request, reason string) Outcome {
	p.auditor.ApprovalDenied(req.SessionID, req.RequestID, req.ToolName, reason)
	return Outcome{Decision: DecisionDenied, Reason: reason}
}

// cacheElevation records the grant so identical (tool, context, session)
// calls inside the window skip re-prompting. A cache write failure is not a
// denial; the approval already happened.
func (p *Pipeline) cacheElevation(ctx context.Context, req *Request, leaseSeconds int) {
	key := state.ElevationKey(req.ToolName, req.ContextKey, req.SessionID)
	ttl := time.Duration(leaseSeconds) * time.Second
	if err := p.state.GrantElevation(ctx, key, ttl); err != nil {
		slog.Warn("elevation cache write failed", "tool", req.ToolName, "error", err)
		return
	}
	p.auditor.ElevationGranted(req.SessionID, req.RequestID, req.ToolName, req.ContextKey, leaseSeconds)
}

func (p *Pipeline) publish(t EventType, req *Request, resp *Response) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(&Event{Type: t, Request: req, Response: resp})
}
