// Package preflight runs startup precondition checks. Failing checks
// degrade the engine but never prevent it from serving.
package preflight

import (
	"fmt"
	"os/exec"
	"os/user"

	"github.com/terminuslabs/terminus/internal/config"
)

// Check is one precondition and its outcome.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Run evaluates every precondition against cfg. ready is true only when
// all checks pass; issues lists the failing details for /readyz.
func Run(cfg *config.Config) (ready bool, checks []Check) {
	snap := cfg.Snapshot()
	ready = true

	add := func(name string, ok bool, detail string) {
		checks = append(checks, Check{Name: name, OK: ok, Detail: detail})
		if !ok {
			ready = false
		}
	}

	if snap.Planner.APIKey != "" {
		add("api_key", true, "OPENAI_API_KEY present")
	} else if snap.Planner.Fake {
		add("api_key", true, "fake mode, no API key needed")
	} else {
		add("api_key", false, "OPENAI_API_KEY not set; running in offline fallback mode")
	}

	if snap.Sandbox.SkipUserCheck {
		add("sandbox_user", true, "user check skipped")
	} else if _, err := user.Lookup(snap.Sandbox.User); err == nil {
		add("sandbox_user", true, fmt.Sprintf("user %q exists", snap.Sandbox.User))
	} else {
		add("sandbox_user", false, fmt.Sprintf("sandbox user %q not found: %v", snap.Sandbox.User, err))
	}

	if snap.Sandbox.ForceLocal {
		add("sudo", true, "local execution forced")
	} else if _, err := exec.LookPath("sudo"); err == nil {
		add("sudo", true, "sudo on PATH")
	} else {
		add("sudo", false, "sudo not on PATH; commands run as current user")
	}

	return ready, checks
}

// Issues extracts the failing details from checks.
func Issues(checks []Check) []string {
	issues := make([]string, 0)
	for _, c := range checks {
		if !c.OK {
			issues = append(issues, c.Detail)
		}
	}
	return issues
}
