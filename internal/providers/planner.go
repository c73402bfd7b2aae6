package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const plannerSystemPrompt = "You are an expert DevOps and systems engineer Planner.\n" +
	"Task: Decompose the user's goal into a minimal, correct step-by-step plan.\n" +
	"Output STRICT JSON with a single key \"plan\": a JSON array of short, imperative steps.\n" +
	"Do not include explanations, only the JSON object."

// maxPlanSteps bounds plans on both the request schema and the parsed
// result, so a misbehaving model cannot run the engine forever.
const maxPlanSteps = 50

// planSchema is the strict structured-output schema for planner calls.
var planSchema = map[string]interface{}{
	"name": "plan_schema",
	"schema": map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"plan"},
		"properties": map[string]interface{}{
			"plan": map[string]interface{}{
				"type":     "array",
				"minItems": 1,
				"maxItems": maxPlanSteps,
				"items":    map[string]interface{}{"type": "string", "minLength": 1},
			},
		},
	},
	"strict": true,
}

// MCPServer describes one remote MCP server attachment for planner calls.
type MCPServer struct {
	Label           string
	URL             string
	RequireApproval string // default "never"
}

// PlannerOptions toggle the optional planner tools and request metadata.
type PlannerOptions struct {
	StrictJSON     bool
	WebSearch      bool
	FileSearch     bool
	VectorStoreIDs []string
	MCPServers     []MCPServer // empty = MCP disabled
	SafetyPrefix   string
}

// Planner turns a natural-language goal into an ordered list of steps.
type Planner struct {
	client *ResponsesClient
	model  string
	opts   PlannerOptions
}

// NewPlanner builds a planner on top of a Responses client.
func NewPlanner(client *ResponsesClient, model string, opts PlannerOptions) *Planner {
	return &Planner{client: client, model: model, opts: opts}
}

// Plan requests a plan for goal. The session id feeds the safety
// correlation tag; prevResponseID threads conversation state upstream
// and may be empty.
func (p *Planner) Plan(ctx context.Context, goal, sessionID, prevResponseID string) ([]string, error) {
	body := map[string]interface{}{
		"model": p.model,
		"input": []map[string]interface{}{
			{"role": "system", "content": plannerSystemPrompt},
			{"role": "user", "content": goal},
		},
		"reasoning": map[string]interface{}{"effort": "medium"},
		"text":      map[string]interface{}{"verbosity": "low"},
		"metadata":  safetyTag(p.opts.SafetyPrefix, sessionID),
	}
	if p.opts.StrictJSON {
		body["response_format"] = map[string]interface{}{
			"type":        "json_schema",
			"json_schema": planSchema,
		}
	}
	if tools, choice := p.buildTools(); len(tools) > 0 {
		body["tools"] = tools
		body["tool_choice"] = choice
	}
	if prevResponseID != "" {
		body["previous_response_id"] = prevResponseID
	}

	resp, err := p.client.Create(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("planner call: %w", err)
	}

	steps := ParsePlan(strings.TrimSpace(resp.Text()))
	if len(steps) == 0 {
		// Safety fallback: a one-step plan so the workflow can proceed.
		steps = []string{"Analyze and begin: " + goal}
	}
	if len(steps) > maxPlanSteps {
		steps = steps[:maxPlanSteps]
	}
	return steps, nil
}

// buildTools assembles the optional planner tool list plus the
// allowed_tools tool_choice constraining the model to exactly those.
func (p *Planner) buildTools() ([]map[string]interface{}, map[string]interface{}) {
	var tools []map[string]interface{}
	var allowed []map[string]interface{}

	if p.opts.WebSearch {
		tools = append(tools, map[string]interface{}{"type": "web_search_preview"})
		allowed = append(allowed, map[string]interface{}{"type": "web_search_preview"})
	}
	if p.opts.FileSearch {
		ids := p.opts.VectorStoreIDs
		if ids == nil {
			ids = []string{}
		}
		tools = append(tools, map[string]interface{}{"type": "file_search", "vector_store_ids": ids})
		allowed = append(allowed, map[string]interface{}{"type": "file_search"})
	}
	for _, srv := range p.opts.MCPServers {
		approval := srv.RequireApproval
		if approval == "" {
			approval = "never"
		}
		tools = append(tools, map[string]interface{}{
			"type":             "mcp",
			"server_label":     srv.Label,
			"server_url":       srv.URL,
			"require_approval": approval,
		})
		allowed = append(allowed, map[string]interface{}{"type": "mcp", "server_label": srv.Label})
	}

	if len(tools) == 0 {
		return nil, nil
	}
	choice := map[string]interface{}{
		"type":  "allowed_tools",
		"mode":  "auto",
		"tools": allowed,
	}
	return tools, choice
}

// ParsePlan extracts plan steps from model text. Accepts a JSON object
// {"plan": [...]}, a bare JSON array, or a plain bullet list; blank
// entries are dropped.
func ParsePlan(text string) []string {
	var obj struct {
		Plan []interface{} `json:"plan"`
	}
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj.Plan != nil {
		return cleanSteps(obj.Plan)
	}
	var arr []interface{}
	if err := json.Unmarshal([]byte(text), &arr); err == nil {
		return cleanSteps(arr)
	}

	var steps []string
	for _, line := range strings.Split(text, "\n") {
		raw := strings.TrimSpace(line)
		if raw == "" {
			continue
		}
		for _, prefix := range []string{"- ", "* ", "• ", "1. ", "2. ", "3. "} {
			if strings.HasPrefix(raw, prefix) {
				raw = raw[len(prefix):]
			}
		}
		if raw != "" {
			steps = append(steps, raw)
		}
	}
	return steps
}

func cleanSteps(items []interface{}) []string {
	var steps []string
	for _, it := range items {
		s := strings.TrimSpace(fmt.Sprintf("%v", it))
		if s != "" {
			steps = append(steps, s)
		}
	}
	return steps
}

func safetyTag(prefix, sessionID string) map[string]interface{} {
	return map[string]interface{}{"safety_identifier": prefix + sessionID}
}
