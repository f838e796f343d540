package approval

import (
	"context"
	"os"
)

// DesktopProvider targets a GUI approval dialog over the desktop session
// bus. Headless deployments (the common case for a gateway) never probe
// available, so selection falls through to elicitation or the terminal.
type DesktopProvider struct{}

// NewDesktopProvider creates the GUI provider.
func NewDesktopProvider() *DesktopProvider { return &DesktopProvider{} }

func (p *DesktopProvider) Name() string { return "desktop" }

// IsAvailable requires a desktop session bus.
func (p *DesktopProvider) IsAvailable(context.Context) bool {
	return os.Getenv("DBUS_SESSION_BUS_ADDRESS") != "" && os.Getenv("DISPLAY") != ""
}

// RequestApproval is not implemented for headless builds; the selector only
// reaches it when a session bus is present, and even then we fail closed
// rather than fake a dialog.
func (p *DesktopProvider) RequestApproval(ctx context.Context, req *Request) (*Response, error) {
	return nil, ErrUnavailable
}
