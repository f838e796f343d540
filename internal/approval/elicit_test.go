package approval

import (
	"context"
	"errors"
	"testing"
)

func TestElicitationApproved(t *testing.T) {
	p := NewElicitationProvider(func(ctx context.Context, req *Request) (string, error) {
		return `{"decision":"approved","selected_scopes":["fs:write"],"lease_seconds":60}`, nil
	})
	if !p.IsAvailable(context.Background()) {
		t.Fatal("provider with callback reported unavailable")
	}

	resp, err := p.RequestApproval(context.Background(), terminalRequest())
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if resp.Decision != DecisionApproved || resp.LeaseSeconds != 60 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("request id = %q", resp.RequestID)
	}
}

func TestElicitationTimeoutAndCancellation(t *testing.T) {
	p := NewElicitationProvider(func(ctx context.Context, req *Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	req := terminalRequest()
	req.TimeoutSeconds = 1
	resp, err := p.RequestApproval(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Decision != DecisionTimeout {
		t.Errorf("deadline elapse: decision = %q, want timeout", resp.Decision)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err = p.RequestApproval(ctx, terminalRequest())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Decision != DecisionTimeout {
		t.Errorf("cancellation: decision = %q, want timeout", resp.Decision)
	}
}

func TestElicitationTransportError(t *testing.T) {
	p := NewElicitationProvider(func(ctx context.Context, req *Request) (string, error) {
		return "", errors.New("client rejected elicitation")
	})
	resp, err := p.RequestApproval(context.Background(), terminalRequest())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Decision != DecisionError || resp.ErrorMessage == "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestElicitationUnparseableReply(t *testing.T) {
	p := NewElicitationProvider(func(ctx context.Context, req *Request) (string, error) {
		return "sure, sounds fine", nil
	})
	resp, err := p.RequestApproval(context.Background(), terminalRequest())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Decision != DecisionError {
		t.Errorf("decision = %q, want error for free-text reply", resp.Decision)
	}
}

func TestElicitationNilCallback(t *testing.T) {
	p := NewElicitationProvider(nil)
	if p.IsAvailable(context.Background()) {
		t.Error("nil callback reported available")
	}
	if _, err := p.RequestApproval(context.Background(), terminalRequest()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestDesktopProvider(t *testing.T) {
	p := &DesktopProvider{}
	if p.Name() != "desktop" {
		t.Errorf("name = %q", p.Name())
	}

	t.Setenv("DBUS_SESSION_BUS_ADDRESS", "")
	t.Setenv("DISPLAY", ":0")
	if p.IsAvailable(context.Background()) {
		t.Error("available without a session bus")
	}

	t.Setenv("DBUS_SESSION_BUS_ADDRESS", "unix:path=/run/user/1000/bus")
	t.Setenv("DISPLAY", ":0")
	if !p.IsAvailable(context.Background()) {
		t.Error("unavailable with session bus and display")
	}

	// The desktop channel is probe-only until a dialog backend exists.
	if _, err := p.RequestApproval(context.Background(), terminalRequest()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
