package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// Forwarder dispatches an authorized tool call to its downstream server.
// The gateway never executes tools itself; it only governs access.
type Forwarder interface {
	Call(ctx context.Context, serverID, toolName string, args json.RawMessage) (json.RawMessage, error)
}

// ForwarderFunc adapts a function to the Forwarder interface.
type ForwarderFunc func(ctx context.Context, serverID, toolName string, args json.RawMessage) (json.RawMessage, error)

func (f ForwarderFunc) Call(ctx context.Context, serverID, toolName string, args json.RawMessage) (json.RawMessage, error) {
	return f(ctx, serverID, toolName, args)
}

// UnroutedForwarder rejects every call. Used when no downstream transport
// is configured; governance decisions and auditing still run in full.
func UnroutedForwarder() Forwarder {
	return ForwarderFunc(func(_ context.Context, serverID, toolName string, _ json.RawMessage) (json.RawMessage, error) {
		return nil, fmt.Errorf("no downstream transport for server %q (tool %q)", serverID, toolName)
	})
}
