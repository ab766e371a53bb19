package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an external binary a stage collaborator shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	// Optional requirements are reported but never block the daemon.
	Optional bool
}

// Status is a Requirement plus the result of resolving it on PATH.
type Status struct {
	Requirement
	Available bool
	Detail    string
}

// Check resolves one requirement. Command is trimmed before lookup.
func Check(req Requirement) Status {
	req.Command = strings.TrimSpace(req.Command)
	req.Description = strings.TrimSpace(req.Description)
	status := Status{Requirement: req}
	switch {
	case req.Command == "":
		status.Detail = "command not configured"
	default:
		if _, err := exec.LookPath(req.Command); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", req.Command)
		} else {
			status.Available = true
		}
	}
	return status
}

// CheckBinaries resolves each requirement in order.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, len(requirements))
	for i, req := range requirements {
		results[i] = Check(req)
	}
	return results
}
