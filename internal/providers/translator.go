package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const translatorSystemPrompt = "You are a Translator. Output only one valid single-line bash command for the sub-task.\n" +
	"No explanations, no comments, no multi-line, no prompts for confirmation."

// ErrEmptyCommand is returned when the model produced no usable command.
var ErrEmptyCommand = errors.New("translator returned empty command")

// emitBashTool forces the model to hand back a single-line bash command
// through a strict function call instead of free text.
var emitBashTool = []map[string]interface{}{
	{
		"type":        "function",
		"name":        "emit_bash",
		"description": "Return a single-line executable bash command for the given sub-task. No comments.",
		"parameters": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Single-line bash command. Must not contain newlines.",
				},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
		"strict": true,
	},
}

// TranslatorOptions configure output extraction for translator calls.
type TranslatorOptions struct {
	StrictFunction bool
	// AllowTextFallback accepts free-text output when the model
	// ignores the emit_bash function in strict mode.
	AllowTextFallback bool
	SafetyPrefix      string
}

// Translator converts one plan step into a single-line bash command.
type Translator struct {
	client *ResponsesClient
	model  string
	opts   TranslatorOptions
}

// NewTranslator builds a translator on top of a Responses client.
func NewTranslator(client *ResponsesClient, model string, opts TranslatorOptions) *Translator {
	return &Translator{client: client, model: model, opts: opts}
}

// Translate maps subTask to a normalized single-line command.
// prevResponseID threads conversation state upstream and may be empty.
func (t *Translator) Translate(ctx context.Context, subTask, sessionID, prevResponseID string) (string, error) {
	body := map[string]interface{}{
		"model": t.model,
		"input": []map[string]interface{}{
			{"role": "system", "content": translatorSystemPrompt},
			{"role": "user", "content": subTask},
		},
		"reasoning": map[string]interface{}{"effort": "minimal"},
		"text":      map[string]interface{}{"verbosity": "low"},
		"metadata":  safetyTag(t.opts.SafetyPrefix, sessionID),
	}
	if t.opts.StrictFunction {
		body["tools"] = emitBashTool
		body["tool_choice"] = map[string]interface{}{
			"type": "allowed_tools",
			"mode": "required",
			"tools": []map[string]interface{}{
				{"type": "function", "name": "emit_bash"},
			},
		}
	}
	if prevResponseID != "" {
		body["previous_response_id"] = prevResponseID
	}

	resp, err := t.client.Create(ctx, body)
	if err != nil {
		return "", fmt.Errorf("translator call: %w", err)
	}

	var cmd string
	if t.opts.StrictFunction {
		if args, ok := resp.FunctionCallArgs("emit_bash"); ok {
			cmd = commandFromArgs(args)
		}
		if cmd == "" && t.opts.AllowTextFallback {
			cmd = resp.Text()
		}
	} else {
		raw := resp.Text()
		cmd = raw
		var obj struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal([]byte(raw), &obj); err == nil && strings.TrimSpace(obj.Command) != "" {
			cmd = obj.Command
		}
	}

	cmd = NormalizeCommand(cmd)
	if cmd == "" {
		return "", ErrEmptyCommand
	}
	return cmd, nil
}

func commandFromArgs(args string) string {
	var obj struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(args), &obj); err != nil {
		return ""
	}
	return strings.TrimSpace(obj.Command)
}

// NormalizeCommand collapses a shell snippet to a stable single line:
// newlines, carriage returns and tabs become spaces and runs of
// whitespace are squashed. Applying it twice changes nothing.
func NormalizeCommand(cmd string) string {
	return strings.Join(strings.Fields(cmd), " ")
}
