package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "json object",
			text: `{"plan": ["check disk", "clean logs"]}`,
			want: []string{"check disk", "clean logs"},
		},
		{
			name: "bare json array",
			text: `["step a", "step b"]`,
			want: []string{"step a", "step b"},
		},
		{
			name: "bullet list",
			text: "- check disk\n* clean logs\n• restart service",
			want: []string{"check disk", "clean logs", "restart service"},
		},
		{
			name: "numbered list",
			text: "1. check disk\n2. clean logs",
			want: []string{"check disk", "clean logs"},
		},
		{
			name: "plain lines with blanks",
			text: "check disk\n\nclean logs\n",
			want: []string{"check disk", "clean logs"},
		},
		{
			name: "json object with blank entries dropped",
			text: `{"plan": ["check disk", "  ", ""]}`,
			want: []string{"check disk"},
		},
		{
			name: "empty text",
			text: "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParsePlan(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParsePlan(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func plannerTestServer(t *testing.T, text string, capture *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			if err := json.NewDecoder(r.Body).Decode(capture); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Write([]byte(textResponse(text)))
	}))
}

func TestPlannerPlan(t *testing.T) {
	var body map[string]interface{}
	srv := plannerTestServer(t, `{"plan": ["inspect service", "restart service"]}`, &body)
	defer srv.Close()

	client := NewResponsesClient("k", srv.URL).WithRetryConfig(fastRetry())
	p := NewPlanner(client, "gpt-5", PlannerOptions{StrictJSON: true, SafetyPrefix: "terminus-"})

	steps, err := p.Plan(context.Background(), "fix the service", "abc123", "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := []string{"inspect service", "restart service"}
	if !reflect.DeepEqual(steps, want) {
		t.Errorf("steps = %v, want %v", steps, want)
	}

	if body["model"] != "gpt-5" {
		t.Errorf("model = %v", body["model"])
	}
	if _, ok := body["response_format"]; !ok {
		t.Error("strict JSON mode did not send response_format")
	}
	meta, _ := body["metadata"].(map[string]interface{})
	if meta["safety_identifier"] != "terminus-abc123" {
		t.Errorf("safety_identifier = %v", meta["safety_identifier"])
	}
	if _, ok := body["previous_response_id"]; ok {
		t.Error("previous_response_id sent when empty")
	}
}

func TestPlannerPlanFallbackOnEmpty(t *testing.T) {
	srv := plannerTestServer(t, "", nil)
	defer srv.Close()

	client := NewResponsesClient("k", srv.URL).WithRetryConfig(fastRetry())
	p := NewPlanner(client, "gpt-5", PlannerOptions{})

	steps, err := p.Plan(context.Background(), "do the thing", "s1", "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := []string{"Analyze and begin: do the thing"}
	if !reflect.DeepEqual(steps, want) {
		t.Errorf("steps = %v, want %v", steps, want)
	}
}

func TestPlannerPlanClampsSteps(t *testing.T) {
	long := make([]string, 80)
	for i := range long {
		long[i] = fmt.Sprintf("step %d", i)
	}
	payload, _ := json.Marshal(map[string]interface{}{"plan": long})
	srv := plannerTestServer(t, string(payload), nil)
	defer srv.Close()

	client := NewResponsesClient("k", srv.URL).WithRetryConfig(fastRetry())
	p := NewPlanner(client, "gpt-5", PlannerOptions{})

	steps, err := p.Plan(context.Background(), "big goal", "s1", "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(steps) != maxPlanSteps {
		t.Errorf("len(steps) = %d, want %d", len(steps), maxPlanSteps)
	}
}

func TestPlannerPlanThreadsPreviousResponse(t *testing.T) {
	var body map[string]interface{}
	srv := plannerTestServer(t, `{"plan": ["retry step"]}`, &body)
	defer srv.Close()

	client := NewResponsesClient("k", srv.URL).WithRetryConfig(fastRetry())
	p := NewPlanner(client, "gpt-5", PlannerOptions{})

	if _, err := p.Plan(context.Background(), "goal", "s1", "resp_42"); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if body["previous_response_id"] != "resp_42" {
		t.Errorf("previous_response_id = %v", body["previous_response_id"])
	}
}

func TestPlannerBuildTools(t *testing.T) {
	p := NewPlanner(nil, "gpt-5", PlannerOptions{
		WebSearch:  true,
		FileSearch: true,
		MCPServers: []MCPServer{{Label: "deploy", URL: "https://mcp.example.com"}},
	})
	tools, choice := p.buildTools()
	if len(tools) != 3 {
		t.Fatalf("len(tools) = %d, want 3", len(tools))
	}
	if tools[0]["type"] != "web_search_preview" {
		t.Errorf("tools[0] = %v", tools[0])
	}
	if tools[1]["type"] != "file_search" {
		t.Errorf("tools[1] = %v", tools[1])
	}
	if tools[2]["require_approval"] != "never" {
		t.Errorf("mcp require_approval = %v, want default never", tools[2]["require_approval"])
	}
	if choice["type"] != "allowed_tools" || choice["mode"] != "auto" {
		t.Errorf("choice = %v", choice)
	}

	none := NewPlanner(nil, "gpt-5", PlannerOptions{})
	if tools, choice := none.buildTools(); tools != nil || choice != nil {
		t.Error("expected no tools when all options disabled")
	}
}

func TestPlannerSystemPromptDemandsJSON(t *testing.T) {
	if !strings.Contains(plannerSystemPrompt, `"plan"`) {
		t.Error("system prompt does not mention the plan key")
	}
}
