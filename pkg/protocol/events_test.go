package protocol

import (
	"encoding/json"
	"testing"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		category string
		msg      string
		want     string
	}{
		{CategorySandbox, "exit 1", "[sandbox] exit 1"},
		{CategoryValidation, "Goal must be a non-empty string", "[validation] Goal must be a non-empty string"},
		{CategoryRateLimit, "Rate limit: wait 1.5s", "[rate_limit] Rate limit: wait 1.5s"},
		{CategoryCancelled, "Workflow cancelled", "[cancelled] Workflow cancelled"},
	}
	for _, tt := range tests {
		if got := Categorize(tt.category, tt.msg); got != tt.want {
			t.Errorf("Categorize(%q, %q) = %q, want %q", tt.category, tt.msg, got, tt.want)
		}
	}
}

func TestFrameDefersPayloadDecoding(t *testing.T) {
	raw := `{"type":"execute_goal","payload":{"goal":"check disk"}}`
	var frame Frame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != EventExecuteGoal {
		t.Errorf("type = %q", frame.Type)
	}
	var payload ExecuteGoalPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Goal != "check disk" {
		t.Errorf("goal = %q", payload.Goal)
	}
}

func TestEventWireShape(t *testing.T) {
	data, err := json.Marshal(Event{
		Type:    EventStepResult,
		Payload: StepResultPayload{Stdout: "ok\n", ExitCode: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"step_result","payload":{"stdout":"ok\n","stderr":"","exit_code":0}}`
	if string(data) != want {
		t.Errorf("wire = %s, want %s", data, want)
	}
}
