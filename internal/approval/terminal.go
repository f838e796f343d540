package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// TerminalProvider prompts an operator on an interactive terminal. It is
// the last resort in the preference order.
type TerminalProvider struct {
	in  io.Reader
	out io.Writer
}

// NewTerminalProvider prompts on stderr and reads from stdin.
func NewTerminalProvider() *TerminalProvider {
	return &TerminalProvider{in: os.Stdin, out: os.Stderr}
}

// newTerminalProviderIO injects streams. Tests only.
func newTerminalProviderIO(in io.Reader, out io.Writer) *TerminalProvider {
	return &TerminalProvider{in: in, out: out}
}

func (p *TerminalProvider) Name() string { return "terminal" }

// IsAvailable reports whether the input is an interactive terminal. With
// stdio transports stdin carries the protocol stream, so this is only true
// when the provider was given a real tty.
func (p *TerminalProvider) IsAvailable(context.Context) bool {
	f, ok := p.in.(*os.File)
	if !ok {
		return p.in != nil // injected streams are assumed interactive
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// RequestApproval prints the request and collects decision, scopes, and
// lease duration. Timeout elapse returns DecisionTimeout.
func (p *TerminalProvider) RequestApproval(ctx context.Context, req *Request) (*Response, error) {
	fmt.Fprintf(p.out, "\n%s\n", req.Message)
	fmt.Fprintf(p.out, "approve %s? [y/N] (then scopes, then lease seconds): ", req.ToolName)

	type result struct {
		resp *Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := p.readResponse(req)
		ch <- result{resp, err}
	}()

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return &Response{
				RequestID:    req.RequestID,
				Decision:     DecisionError,
				ErrorMessage: r.err.Error(),
			}, nil
		}
		r.resp.RequestID = req.RequestID
		return r.resp, nil
	case <-timer.C:
		return &Response{RequestID: req.RequestID, Decision: DecisionTimeout}, nil
	case <-ctx.Done():
		return &Response{RequestID: req.RequestID, Decision: DecisionTimeout}, nil
	}
}

func (p *TerminalProvider) readResponse(req *Request) (*Response, error) {
	scanner := bufio.NewScanner(p.in)

	decision, err := readLine(scanner)
	if err != nil {
		return nil, err
	}
	d, err := parseDecision(decision)
	if err != nil {
		// An empty or unrecognized answer denies.
		return &Response{Decision: DecisionDenied}, nil
	}
	if d != DecisionApproved {
		return &Response{Decision: d}, nil
	}

	fmt.Fprintf(p.out, "scopes [enter = exactly the %d requested]: ", len(req.RequiredScopes))
	scopesLine, err := readLine(scanner)
	if err != nil {
		return nil, err
	}
	scopes := splitScopes(scopesLine)
	if len(scopes) == 0 {
		scopes = append([]string(nil), req.RequiredScopes...)
	}

	fmt.Fprint(p.out, "lease seconds [0 = single use]: ")
	leaseLine, err := readLine(scanner)
	if err != nil {
		return nil, err
	}
	lease := 0
	if strings.TrimSpace(leaseLine) != "" {
		lease, err = parseLeaseSeconds(leaseLine)
		if err != nil {
			return nil, err
		}
	}

	return &Response{
		Decision:       DecisionApproved,
		SelectedScopes: scopes,
		LeaseSeconds:   lease,
	}, nil
}

func readLine(scanner *bufio.Scanner) (string, error) {
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return scanner.Text(), nil
}
