package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/revittco/toolgate/internal/approval"
	"github.com/revittco/toolgate/internal/audit"
	"github.com/revittco/toolgate/internal/lease"
	"github.com/revittco/toolgate/internal/registry"
	"github.com/revittco/toolgate/internal/retrieval"
	"github.com/revittco/toolgate/internal/state"
)

// Notifier sends JSON-RPC notifications to the connected client.
type Notifier interface {
	Notify(method string, params any) error
}

// Config wires the governance components into a Server. Registry, Leases,
// State, Auditor, and Secret are required; the rest have working defaults.
type Config struct {
	Registry  *registry.Registry
	Index     *retrieval.Index
	Leases    *lease.Manager
	State     *state.Store
	Auditor   *audit.Logger
	Approvals *approval.Pipeline
	Builder   *approval.Builder
	Forwarder Forwarder
	Secret    []byte

	// LeaseClasses maps risk levels to TTL and call budgets. Nil uses the
	// defaults.
	LeaseClasses LeaseClasses

	// CompressThreshold enables response shaping when positive; sequences
	// longer than the threshold are elided.
	CompressThreshold int
}

// Server is the governed MCP gateway over a newline-delimited JSON-RPC
// stream.
type Server struct {
	handler *handler
	mu      sync.Mutex // protects stdout writes
	w       io.Writer  // set at start of run(), used for notifications
}

// NewServer creates the gateway server. Lease grants, revocations, and
// exhaustions fire tools/list_changed notifications to the affected client.
func NewServer(cfg Config) *Server {
	s := &Server{handler: newHandler(cfg)}

	if cfg.Leases != nil {
		cfg.Leases.OnListChanged(func(clientID string) {
			if clientID != s.handler.sessions.sessionID() {
				return
			}
			if err := s.Notify("notifications/tools/list_changed", nil); err != nil {
				slog.Debug("list_changed notification dropped", "error", err)
			}
		})
	}
	return s
}

// RunStdio runs the MCP server over stdin/stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.run(ctx, os.Stdin, os.Stdout)
}

// RunConn runs the MCP server over an arbitrary reader/writer pair.
func (s *Server) RunConn(ctx context.Context, r io.Reader, w io.Writer) error {
	return s.run(ctx, r, w)
}

func (s *Server) run(ctx context.Context, r io.Reader, w io.Writer) error {
	s.w = w

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.dispatch(ctx, line)
		if resp == nil {
			continue // notification, no response needed
		}

		if err := s.writeResponse(w, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, line []byte) *RPCResponse {
	var req RPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return &RPCResponse{
			JSONRPC: "2.0",
			Error: &RPCError{
				Code:    CodeParseError,
				Message: "invalid JSON: " + err.Error(),
			},
		}
	}

	// Notifications have no ID; don't send a response.
	if req.ID == nil {
		s.handleNotification(req)
		return nil
	}

	var result json.RawMessage
	var rpcErr *RPCError

	switch req.Method {
	case "initialize":
		result, rpcErr = s.handler.handleInitialize(ctx, req.Params)
	case "ping":
		result, _ = json.Marshal(map[string]any{})
	case "tools/list":
		result, rpcErr = s.handler.handleToolsList(ctx)
	case "tools/call":
		result, rpcErr = s.handler.handleToolsCall(ctx, req.Params)
	default:
		rpcErr = &RPCError{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("unknown method: %s", req.Method),
		}
	}

	resp := &RPCResponse{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return resp
}

func (s *Server) handleNotification(req RPCRequest) {
	switch req.Method {
	case "notifications/initialized":
		slog.Info("client initialized", "session_id", s.handler.sessions.sessionID())
	default:
		slog.Debug("unhandled notification", "method", req.Method)
	}
}

// Notify sends a JSON-RPC notification (no id field) to the client.
func (s *Server) Notify(method string, params any) error {
	if s.w == nil {
		return fmt.Errorf("server not running")
	}

	notif := struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(notif)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = s.w.Write(data)
	return err
}

func (s *Server) writeResponse(w io.Writer, resp *RPCResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
