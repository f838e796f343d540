package approval

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func terminalRequest() *Request {
	return &Request{
		RequestID:      "req-1",
		ToolName:       "write_file",
		Message:        "## Approval required: `write_file`",
		RequiredScopes: []string{"fs:write"},
		SessionID:      "sess-1",
		TimeoutSeconds: 5,
	}
}

func TestTerminalApproveFlow(t *testing.T) {
	in := strings.NewReader("y\nfs:write\n300\n")
	var out bytes.Buffer
	p := newTerminalProviderIO(in, &out)

	resp, err := p.RequestApproval(context.Background(), terminalRequest())
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if resp.Decision != DecisionApproved {
		t.Fatalf("decision = %q", resp.Decision)
	}
	if len(resp.SelectedScopes) != 1 || resp.SelectedScopes[0] != "fs:write" {
		t.Errorf("scopes = %v", resp.SelectedScopes)
	}
	if resp.LeaseSeconds != 300 {
		t.Errorf("lease = %d", resp.LeaseSeconds)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("request id = %q", resp.RequestID)
	}
	if !strings.Contains(out.String(), "write_file") {
		t.Error("prompt omits tool name")
	}
}

func TestTerminalEmptyScopesDefaultToRequired(t *testing.T) {
	in := strings.NewReader("approved\n\n\n")
	p := newTerminalProviderIO(in, &bytes.Buffer{})

	req := terminalRequest()
	req.RequiredScopes = []string{"fs:write", "resource:path:/tmp/x"}
	resp, err := p.RequestApproval(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Decision != DecisionApproved {
		t.Fatalf("decision = %q", resp.Decision)
	}
	if len(resp.SelectedScopes) != 2 {
		t.Errorf("scopes = %v, want the full required set", resp.SelectedScopes)
	}
	if resp.LeaseSeconds != 0 {
		t.Errorf("empty lease line = %d, want 0", resp.LeaseSeconds)
	}
}

func TestTerminalDeny(t *testing.T) {
	for _, answer := range []string{"n\n", "deny\n", "\n", "whatever\n"} {
		p := newTerminalProviderIO(strings.NewReader(answer), &bytes.Buffer{})
		resp, err := p.RequestApproval(context.Background(), terminalRequest())
		if err != nil {
			t.Fatalf("answer %q: %v", answer, err)
		}
		if resp.Decision != DecisionDenied {
			t.Errorf("answer %q: decision = %q, want denied", answer, resp.Decision)
		}
	}
}

func TestTerminalClosedInputIsError(t *testing.T) {
	// EOF before any answer means there is no operator on the other end.
	p := newTerminalProviderIO(strings.NewReader(""), &bytes.Buffer{})
	resp, err := p.RequestApproval(context.Background(), terminalRequest())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Decision != DecisionError {
		t.Errorf("decision = %q, want error", resp.Decision)
	}
}

func TestTerminalTimeout(t *testing.T) {
	// A reader that never produces input.
	blocked := make(chan struct{})
	t.Cleanup(func() { close(blocked) })
	p := newTerminalProviderIO(blockingReader{blocked}, &bytes.Buffer{})

	req := terminalRequest()
	req.TimeoutSeconds = 1
	start := time.Now()
	resp, err := p.RequestApproval(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Decision != DecisionTimeout {
		t.Errorf("decision = %q, want timeout", resp.Decision)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout fired late")
	}
}

func TestTerminalContextCancellation(t *testing.T) {
	blocked := make(chan struct{})
	t.Cleanup(func() { close(blocked) })
	p := newTerminalProviderIO(blockingReader{blocked}, &bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	resp, err := p.RequestApproval(ctx, terminalRequest())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Decision != DecisionTimeout {
		t.Errorf("decision = %q, want timeout on cancellation", resp.Decision)
	}
}

func TestTerminalInjectedStreamsAvailable(t *testing.T) {
	p := newTerminalProviderIO(strings.NewReader(""), &bytes.Buffer{})
	if !p.IsAvailable(context.Background()) {
		t.Error("injected streams reported unavailable")
	}
	if p.Name() != "terminal" {
		t.Errorf("name = %q", p.Name())
	}
}

// blockingReader blocks until the channel closes, then reports EOF.
type blockingReader struct {
	done chan struct{}
}

func (r blockingReader) Read([]byte) (int, error) {
	<-r.done
	return 0, errors.New("input closed")
}
