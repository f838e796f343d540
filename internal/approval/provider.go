package approval

import (
	"context"
	"fmt"
	"log/slog"
)

// Provider is one way of reaching a human approver. RequestApproval must
// honor the request's timeout and report elapse as DecisionTimeout, not as
// an error.
type Provider interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	RequestApproval(ctx context.Context, req *Request) (*Response, error)
}

// Selector picks a provider: the configured one if set, otherwise the first
// that probes available in preference order. No provider means fail closed.
type Selector struct {
	providers []Provider
	preferred string
}

// NewSelector creates a Selector over providers in preference order.
// preferred may be empty.
func NewSelector(preferred string, providers ...Provider) *Selector {
	return &Selector{providers: providers, preferred: preferred}
}

// Pick returns the provider to use for the next elicitation.
func (s *Selector) Pick(ctx context.Context) (Provider, error) {
	if s.preferred != "" {
		for _, p := range s.providers {
			if p.Name() != s.preferred {
				continue
			}
			if !p.IsAvailable(ctx) {
				return nil, fmt.Errorf("%w: configured provider %q not ready", ErrUnavailable, s.preferred)
			}
			return p, nil
		}
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNoProvider, s.preferred)
	}

	for _, p := range s.providers {
		if p.IsAvailable(ctx) {
			return p, nil
		}
		slog.Debug("approval provider not available", "provider", p.Name())
	}
	return nil, ErrNoProvider
}
