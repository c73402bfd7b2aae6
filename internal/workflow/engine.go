// Package workflow implements the per-goal execution state machine:
// validate, plan, translate and run each step in the sandbox, and
// re-plan on failure until the plan completes or a terminal error stops
// the loop.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/terminuslabs/terminus/internal/metrics"
	"github.com/terminuslabs/terminus/internal/sandbox"
	"github.com/terminuslabs/terminus/pkg/protocol"
)

// Planner produces an ordered step list for a goal or a revision prompt.
type Planner interface {
	Plan(ctx context.Context, goal, sessionID, prevResponseID string) ([]string, error)
}

// Translator turns one plan step into a single-line shell command.
type Translator interface {
	Translate(ctx context.Context, subTask, sessionID, prevResponseID string) (string, error)
}

// Executor runs a command and reports its full result.
type Executor interface {
	Execute(ctx context.Context, command string) sandbox.Result
}

// Emitter delivers one event to the workflow's client. Calls happen
// from the workflow goroutine only, in order.
type Emitter func(protocol.Event)

// Options bound a single workflow run.
type Options struct {
	MaxGoalLen int // reject longer goals
	MaxReplans int // revision attempts before the workflow gives up
	MaxHistory int // step records kept for revision prompts
}

// directPrefixes mark plan steps that are already shell commands and
// skip translation.
var directPrefixes = []string{
	"if", "while", "curl", "sudo", "rm", "wget",
	"apt", "apt-get", "dnf", "yum", "brew", "winget", "choco",
	"bash", "echo", "cat", "ls", "cd", "mkdir", "touch",
}

// forbiddenPrefixes block commands that would open GUI terminals or
// invoke Windows-only shells. Matched case-insensitively.
var forbiddenPrefixes = []string{
	"open -a terminal",
	"cmd ",
	"cmd.exe",
	"start ",
	"powershell",
}

// StepRecord is one executed step as serialized into revision prompts.
type StepRecord struct {
	Step           string  `json:"step"`
	Command        string  `json:"command"`
	Stdout         string  `json:"stdout"`
	Stderr         string  `json:"stderr"`
	ExitCode       int     `json:"exit_code"`
	SandboxLatency float64 `json:"sandbox_latency"`
}

// Engine drives workflows. One Engine serves all clients; each Run call
// is an independent workflow on its own goroutine.
type Engine struct {
	planner    Planner
	translator Translator
	executor   Executor
	opts       Options
}

// NewEngine wires the three collaborators.
func NewEngine(planner Planner, translator Translator, executor Executor, opts Options) *Engine {
	if opts.MaxGoalLen <= 0 {
		opts.MaxGoalLen = 2000
	}
	if opts.MaxReplans <= 0 {
		opts.MaxReplans = 10
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 200
	}
	return &Engine{planner: planner, translator: translator, executor: executor, opts: opts}
}

// NewSessionID mints a short workflow id for logs and upstream
// correlation tags.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Run executes one goal to completion. Exactly one terminal event is
// emitted: workflow_complete on success, or the error_detected that
// stopped the loop. Cancellation via ctx emits a cancelled error and
// returns promptly.
func (e *Engine) Run(ctx context.Context, sessionID, goal string, emit Emitter) {
	log := slog.With("session_id", sessionID)

	goal = strings.TrimSpace(goal)
	if goal == "" {
		emit(errorEvent(protocol.CategoryValidation, "Goal must be a non-empty string", "validate"))
		return
	}
	if len(goal) > e.opts.MaxGoalLen {
		emit(errorEvent(protocol.CategoryValidation,
			fmt.Sprintf("Goal too long (>%d chars)", e.opts.MaxGoalLen), "validate"))
		return
	}

	log.Info("workflow started", "goal_len", len(goal))

	ctx, span := startRun(ctx, sessionID)
	defer span.End()

	plan, err := e.timedPlan(ctx, goal, sessionID)
	if err != nil {
		if e.cancelled(ctx, emit, log) {
			return
		}
		log.Error("planner failed", "error", err)
		emit(errorEvent(protocol.CategoryPlanner, fmt.Sprintf("Planner error: %v", err), "planning"))
		return
	}
	emit(protocol.Event{Type: protocol.EventPlanGenerated, Payload: protocol.PlanGeneratedPayload{Plan: plan}})

	var history []StepRecord
	replans := 0
	stepIndex := 0

	for stepIndex < len(plan) {
		if e.cancelled(ctx, emit, log) {
			return
		}

		step := plan[stepIndex]
		command := step

		if !isDirectCommand(step) {
			command, err = e.timedTranslate(ctx, step, sessionID)
			if err == nil && isForbiddenCommand(command) {
				err = fmt.Errorf("forbidden command: %s", command)
			}
			if err != nil {
				if e.cancelled(ctx, emit, log) {
					return
				}
				log.Error("translation failed", "step", step, "error", err)
				emit(errorEvent(protocol.CategoryExecutor, fmt.Sprintf("Executor error: %v", err), step))

				plan, err = e.replan(ctx, &replans, goal, sessionID,
					revisePrompt(goal, step, err, history), emit)
				if err != nil {
					if e.cancelled(ctx, emit, log) {
						return
					}
					log.Error("re-planning failed", "error", err)
					emit(errorEvent(protocol.CategoryPlanner, fmt.Sprintf("Re-planning failed: %v", err), step))
					return
				}
				stepIndex = 0
				continue
			}
			log.Info("step translated", "step_index", stepIndex, "step", step, "command", command)
		}

		emit(protocol.Event{Type: protocol.EventStepExecuting, Payload: protocol.StepExecutingPayload{
			Step:    step,
			Command: command,
		}})

		metrics.StepsExecuted.Inc()
		result, sbxLatency := e.timedExecute(ctx, step, command)

		if e.cancelled(ctx, emit, log) {
			return
		}

		emit(protocol.Event{Type: protocol.EventStepResult, Payload: protocol.StepResultPayload{
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			ExitCode: result.ExitCode,
		}})

		history = append(history, StepRecord{
			Step:           step,
			Command:        command,
			Stdout:         result.Stdout,
			Stderr:         result.Stderr,
			ExitCode:       result.ExitCode,
			SandboxLatency: sbxLatency.Seconds(),
		})
		if len(history) > e.opts.MaxHistory {
			history = history[len(history)-e.opts.MaxHistory:]
		}

		if result.ExitCode != 0 {
			metrics.StepsFailed.Inc()
			log.Warn("step failed", "step_index", stepIndex, "step", step, "exit_code", result.ExitCode)
			emit(errorEvent(protocol.CategorySandbox,
				orUnknown(truncate(result.Stderr, 2000)), step))

			plan, err = e.replan(ctx, &replans, goal, sessionID,
				replanPrompt(goal, step, command, result.Stderr, history), emit)
			if err != nil {
				if e.cancelled(ctx, emit, log) {
					return
				}
				log.Error("re-planning failed", "error", err)
				emit(errorEvent(protocol.CategoryPlanner, fmt.Sprintf("Re-planning failed: %v", err), step))
				return
			}
			stepIndex = 0
			continue
		}

		stepIndex++
	}

	emit(protocol.Event{Type: protocol.EventWorkflowComplete, Payload: protocol.WorkflowCompletePayload{
		Status: "success",
	}})
	log.Info("workflow complete", "steps", len(history))
}

// replan emits re_planning and requests a revised plan, enforcing the
// revision budget. The budget error is returned without the re_planning
// event so the caller's terminal error is the last thing the client sees.
func (e *Engine) replan(ctx context.Context, replans *int, goal, sessionID, prompt string, emit Emitter) ([]string, error) {
	if *replans >= e.opts.MaxReplans {
		return nil, fmt.Errorf("re-plan limit reached (%d)", e.opts.MaxReplans)
	}
	*replans++

	emit(protocol.Event{Type: protocol.EventRePlanning, Payload: protocol.RePlanningPayload{}})

	plan, err := e.timedPlan(ctx, prompt, sessionID)
	if err != nil {
		return nil, err
	}
	emit(protocol.Event{Type: protocol.EventPlanGenerated, Payload: protocol.PlanGeneratedPayload{Plan: plan}})
	return plan, nil
}

// cancelled reports whether ctx is done and, if so, emits the single
// cancelled terminal event.
func (e *Engine) cancelled(ctx context.Context, emit Emitter, log *slog.Logger) bool {
	if ctx.Err() == nil {
		return false
	}
	log.Info("workflow cancelled")
	emit(errorEvent(protocol.CategoryCancelled, "Workflow cancelled", "cancel"))
	return true
}

// revisePrompt asks the planner to recover from a translation failure.
func revisePrompt(goal, step string, cause error, history []StepRecord) string {
	return fmt.Sprintf(
		"Revise plan after failure.\nOriginal goal: %s\nFailed step: %s\nError: %v\nHistory: %s",
		goal, step, cause, historyJSON(history))
}

// replanPrompt asks the planner to recover from a failed command.
func replanPrompt(goal, step, command, stderr string, history []StepRecord) string {
	return fmt.Sprintf(
		"Re-plan after command failure.\nOriginal goal: %s\nFailed step: %s\nCommand: %s\nstderr: %s\nHistory: %s",
		goal, step, command, truncate(stderr, 2000), historyJSON(history))
}

func historyJSON(history []StepRecord) string {
	if history == nil {
		history = []StepRecord{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return "[]"
	}
	return truncate(string(data), 4000)
}

func isDirectCommand(step string) bool {
	for _, pfx := range directPrefixes {
		if strings.HasPrefix(step, pfx) {
			return true
		}
	}
	return false
}

func isForbiddenCommand(command string) bool {
	lower := strings.ToLower(command)
	for _, pfx := range forbiddenPrefixes {
		if strings.HasPrefix(lower, pfx) {
			return true
		}
	}
	return false
}

func errorEvent(category, msg, failedStep string) protocol.Event {
	return protocol.Event{
		Type: protocol.EventErrorDetected,
		Payload: protocol.ErrorDetectedPayload{
			Error:      protocol.Categorize(category, msg),
			FailedStep: failedStep,
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown error"
	}
	return s
}
