// Package policy implements the tri-state governance decision matrix.
//
// Evaluate is a pure function: no I/O, no hidden state, safe on the hot
// path. Fail-safe rules: unknown modes and unknown risk levels both degrade
// to requiring approval rather than allowing or silently blocking.
package policy

import "github.com/revittco/toolgate/internal/registry"

// Mode is the global governance dial.
type Mode string

const (
	ModeReadOnly   Mode = "read_only"
	ModePermission Mode = "permission"
	ModeBypass     Mode = "bypass"
)

// Valid reports whether m is one of the three known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeReadOnly, ModePermission, ModeBypass:
		return true
	}
	return false
}

// Action is the outcome of a policy evaluation.
type Action string

const (
	Allow           Action = "allow"
	Block           Action = "block"
	RequireApproval Action = "require_approval"
)

// Decision pairs an action with a short operator-facing reason. The reason
// never reaches clients.
type Decision struct {
	Action Action
	Reason string
}

// Evaluate maps (mode, risk, tool) to a decision. Bootstrap tools
// short-circuit to allow in every mode.
func Evaluate(mode Mode, risk registry.RiskLevel, toolID string) Decision {
	if registry.IsBootstrap(toolID) {
		return Decision{Allow, "bootstrap tool"}
	}

	switch mode {
	case ModeBypass:
		return Decision{Allow, "bypass mode"}

	case ModeReadOnly:
		switch risk {
		case registry.RiskSafe:
			return Decision{Allow, "safe tool in read-only mode"}
		case registry.RiskSensitive, registry.RiskDangerous:
			return Decision{Block, "mutating tool blocked in read-only mode"}
		default:
			return Decision{RequireApproval, "unknown risk level"}
		}

	case ModePermission:
		switch risk {
		case registry.RiskSafe:
			return Decision{Allow, "safe tool"}
		case registry.RiskSensitive, registry.RiskDangerous:
			return Decision{RequireApproval, "requires human approval"}
		default:
			return Decision{RequireApproval, "unknown risk level"}
		}

	default:
		return Decision{RequireApproval, "unknown governance mode"}
	}
}
