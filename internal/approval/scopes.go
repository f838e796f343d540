package approval

import "fmt"

// ValidateSelectedScopes enforces the scope laws on an approved response:
// the selection must be non-empty, must cover every required scope, and
// must not add scopes that were never requested. Violations convert the
// approval into a denial upstream.
func ValidateSelectedScopes(selected, required []string) error {
	if len(selected) == 0 {
		return fmt.Errorf("approval selected no scopes")
	}

	req := make(map[string]bool, len(required))
	for _, s := range required {
		req[s] = true
	}
	sel := make(map[string]bool, len(selected))
	for _, s := range selected {
		sel[s] = true
	}

	for s := range req {
		if !sel[s] {
			return fmt.Errorf("approval missing required scope %q", s)
		}
	}
	for s := range sel {
		if !req[s] {
			return fmt.Errorf("approval added unrequested scope %q", s)
		}
	}
	return nil
}
