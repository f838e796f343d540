package approval

import (
	"context"
	"errors"
	"time"
)

// ElicitFunc sends an approval request to the connected client over the
// transport and returns the client's raw reply text.
type ElicitFunc func(ctx context.Context, req *Request) (string, error)

// ElicitationProvider asks the LLM client itself (or the human driving it)
// through the transport's elicitation channel.
type ElicitationProvider struct {
	elicit ElicitFunc
}

// NewElicitationProvider wraps a transport elicitation callback. A nil
// callback makes the provider permanently unavailable.
func NewElicitationProvider(fn ElicitFunc) *ElicitationProvider {
	return &ElicitationProvider{elicit: fn}
}

func (p *ElicitationProvider) Name() string { return "elicitation" }

func (p *ElicitationProvider) IsAvailable(context.Context) bool {
	return p.elicit != nil
}

// RequestApproval dispatches the request and parses the structured or
// key=value reply. Context or timeout elapse returns DecisionTimeout.
func (p *ElicitationProvider) RequestApproval(ctx context.Context, req *Request) (*Response, error) {
	if p.elicit == nil {
		return nil, ErrUnavailable
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := p.elicit(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return &Response{RequestID: req.RequestID, Decision: DecisionTimeout}, nil
		}
		return &Response{
			RequestID:    req.RequestID,
			Decision:     DecisionError,
			ErrorMessage: err.Error(),
		}, nil
	}

	resp, err := ParseResponse(raw)
	if err != nil {
		return &Response{
			RequestID:    req.RequestID,
			Decision:     DecisionError,
			ErrorMessage: err.Error(),
		}, nil
	}
	resp.RequestID = req.RequestID
	return resp, nil
}
