package protocol

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion identifies the wire contract served on /ws.
const ProtocolVersion = 1

// WebSocket event names pushed from server to client.
const (
	EventStatus           = "status"
	EventPlanGenerated    = "plan_generated"
	EventStepExecuting    = "step_executing"
	EventStepResult       = "step_result"
	EventErrorDetected    = "error_detected"
	EventRePlanning       = "re_planning"
	EventWorkflowComplete = "workflow_complete"
)

// Event names received from client.
const (
	EventExecuteGoal = "execute_goal"
)

// Error categories carried inside error_detected payloads as a leading
// bracketed token, e.g. "[sandbox] exit 1".
const (
	CategoryValidation = "validation"
	CategoryRateLimit  = "rate_limit"
	CategoryPlanner    = "planner"
	CategoryExecutor   = "executor"
	CategorySandbox    = "sandbox"
	CategoryCancelled  = "cancelled"
)

// Categorize prefixes a message with its bracketed error category.
func Categorize(category, msg string) string {
	return fmt.Sprintf("[%s] %s", category, msg)
}

// Frame is the raw inbound envelope: {"type": ..., "payload": ...}.
// Payload decoding is deferred until the type is known.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Event is the outbound envelope delivered to exactly one client.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ExecuteGoalPayload is the payload of an inbound execute_goal frame.
type ExecuteGoalPayload struct {
	Goal string `json:"goal"`
}

// StatusPayload carries connection and lifecycle notices.
type StatusPayload struct {
	Message string `json:"message"`
}

// PlanGeneratedPayload carries a full plan, on initial planning and on
// every re-plan.
type PlanGeneratedPayload struct {
	Plan []string `json:"plan"`
}

// StepExecutingPayload announces a step right before its command runs.
type StepExecutingPayload struct {
	Step    string `json:"step"`
	Command string `json:"command"`
}

// StepResultPayload carries the sandbox result of one command.
type StepResultPayload struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// ErrorDetectedPayload reports a categorized failure. FailedStep names the
// step (or phase marker such as "validate", "rate_limit", "cancel") that
// produced the error.
type ErrorDetectedPayload struct {
	Error      string `json:"error"`
	FailedStep string `json:"failed_step"`
}

// RePlanningPayload announces that a revised plan is being requested.
type RePlanningPayload struct {
	Message string `json:"message,omitempty"`
}

// WorkflowCompletePayload is the terminal success event of a workflow.
type WorkflowCompletePayload struct {
	Status string `json:"status"`
}
