package sandbox

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SanitizePolicy gates every command before it can reach a shell.
type SanitizePolicy struct {
	MaxCommandLen int
	Strict        bool     // reject ASCII control chars (tab allowed)
	Allowlist     []string // permitted first argv tokens, nil = any
}

// Check validates cmd against the policy. It never panics and never
// spawns anything; the returned reason is suitable for client display.
func (p SanitizePolicy) Check(cmd string) (bool, string) {
	if strings.TrimSpace(cmd) == "" {
		return false, "Empty command"
	}
	maxLen := p.MaxCommandLen
	if maxLen <= 0 {
		maxLen = 2000
	}
	if len(cmd) > maxLen {
		return false, fmt.Sprintf("Command exceeds maximum length of %d characters", maxLen)
	}

	if strings.ContainsAny(cmd, "\n\r\x00") {
		return false, "Command contains disallowed newline or NUL characters"
	}

	if p.Strict {
		for i := 0; i < len(cmd); i++ {
			b := cmd[i]
			if (b < 0x20 && b != '\t') || b == 0x7f {
				return false, "Command contains disallowed control characters"
			}
		}
	}

	if len(p.Allowlist) > 0 {
		tokens, err := shlex.Split(cmd)
		if err != nil || len(tokens) == 0 {
			return false, "Unable to parse command for allowlist check"
		}
		first := tokens[0]
		allowed := false
		for _, a := range p.Allowlist {
			if first == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, fmt.Sprintf("Command '%s' not permitted by allowlist", first)
		}
	}

	return true, ""
}
