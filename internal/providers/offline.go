package providers

import (
	"context"
	"strings"
)

// Offline mode exercises the full workflow loop without any upstream
// model. It activates when no API key is configured or when fake mode
// is forced, and produces deterministic plans and commands.

// OfflinePlanner splits the goal on "->" so multi-part demo goals like
// "print hello -> cause failure -> remediate -> done" become multi-step
// plans. A plain goal becomes a one-step plan.
type OfflinePlanner struct{}

// Plan never fails and never blocks.
func (OfflinePlanner) Plan(ctx context.Context, goal, sessionID, prevResponseID string) ([]string, error) {
	if steps, ok := remediationSteps(goal); ok {
		return steps, nil
	}
	var steps []string
	for _, part := range strings.Split(goal, "->") {
		if p := strings.TrimSpace(part); p != "" {
			steps = append(steps, p)
		}
	}
	if len(steps) == 0 {
		steps = []string{"Analyze and begin: " + goal}
	}
	if len(steps) > maxPlanSteps {
		steps = steps[:maxPlanSteps]
	}
	return steps, nil
}

// remediationSteps recognizes the engine's revision prompts and resumes
// the original goal after the failed step, so the demo failure path
// recovers instead of replaying the failing step until the re-plan
// limit trips.
func remediationSteps(prompt string) ([]string, bool) {
	if !strings.HasPrefix(prompt, "Re-plan after command failure.") &&
		!strings.HasPrefix(prompt, "Revise plan after failure.") {
		return nil, false
	}
	var goal, failed string
	for _, line := range strings.Split(prompt, "\n") {
		if v, ok := strings.CutPrefix(line, "Original goal: "); ok {
			goal = v
		}
		if v, ok := strings.CutPrefix(line, "Failed step: "); ok {
			failed = v
		}
	}
	var steps []string
	after := false
	for _, part := range strings.Split(goal, "->") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		if after {
			steps = append(steps, p)
		}
		if p == failed {
			after = true
		}
	}
	if len(steps) == 0 {
		steps = []string{"remediate"}
	}
	return steps, true
}

// offlineCommands maps sub-task substrings to fixed commands, checked in
// order. The failure mapping forces a non-zero exit to drive the
// re-plan path end to end.
var offlineCommands = []struct {
	contains string
	command  string
}{
	{"print hello", "echo hello"},
	{"print completion", "echo done"},
	{"print done", "echo done"},
	{"cause failure", "bash -lc 'exit 1'"},
	{"remediate", "echo remediate"},
}

// OfflineTranslator maps sub-tasks to deterministic single-line commands.
type OfflineTranslator struct{}

// Translate never fails; unknown tasks produce a harmless noop.
func (OfflineTranslator) Translate(ctx context.Context, subTask, sessionID, prevResponseID string) (string, error) {
	task := strings.ToLower(strings.TrimSpace(subTask))
	for _, m := range offlineCommands {
		if strings.Contains(task, m.contains) {
			return m.command, nil
		}
	}
	return "echo noop", nil
}
