package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ResponsesClient talks to the OpenAI Responses API over raw HTTP.
// Request bodies are plain maps so optional fields can be dropped for
// endpoints that reject newer parameters.
type ResponsesClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	retry   RetryConfig
}

// optionalDropOrder lists request fields that may be stripped, in order,
// when the endpoint rejects them with a 400.
var optionalDropOrder = []string{
	"response_format",
	"tools",
	"tool_choice",
	"reasoning",
	"text",
	"metadata",
	"previous_response_id",
}

// NewResponsesClient builds a client for baseURL (default OpenAI v1).
func NewResponsesClient(apiKey, baseURL string) *ResponsesClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &ResponsesClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
		retry:   DefaultRetryConfig(),
	}
}

// WithRetryConfig overrides the backoff policy. Used by tests to avoid
// real delays.
func (c *ResponsesClient) WithRetryConfig(cfg RetryConfig) *ResponsesClient {
	c.retry = cfg
	return c
}

// Response is the subset of the Responses API object the engine reads.
type Response struct {
	ID         string       `json:"id"`
	OutputText string       `json:"output_text"`
	Output     []OutputItem `json:"output"`
}

// OutputItem is one entry of the response output array. Function calls
// appear as top-level items; text lives in nested content.
type OutputItem struct {
	Type      string        `json:"type"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Content   []ContentItem `json:"content,omitempty"`
}

// ContentItem is a nested content entry of an output item.
type ContentItem struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Text joins all nested content text, falling back to the convenience
// output_text field when the output array carries none.
func (r *Response) Text() string {
	var sb strings.Builder
	for _, item := range r.Output {
		for _, c := range item.Content {
			if c.Text != "" {
				sb.WriteString(c.Text)
			}
		}
	}
	if joined := strings.TrimSpace(sb.String()); joined != "" {
		return joined
	}
	return r.OutputText
}

// FunctionCallArgs returns the raw JSON arguments of the named function
// call, preferring top-level function_call items over nested content.
func (r *Response) FunctionCallArgs(name string) (string, bool) {
	for _, item := range r.Output {
		if item.Type == "function_call" && item.Name == name && item.Arguments != "" {
			return item.Arguments, true
		}
	}
	for _, item := range r.Output {
		for _, c := range item.Content {
			if c.Name == name && c.Arguments != "" {
				return c.Arguments, true
			}
		}
	}
	return "", false
}

// Create posts one Responses request with the configured retry policy.
// On a 400 it progressively drops optional fields and resubmits, so a
// request carrying parameters the endpoint does not know still succeeds
// in a reduced form. Compat drops do not consume retry budget.
func (c *ResponsesClient) Create(ctx context.Context, body map[string]interface{}) (*Response, error) {
	attempt := make(map[string]interface{}, len(body))
	for k, v := range body {
		attempt[k] = v
	}
	droppable := append([]string(nil), optionalDropOrder...)

	for {
		resp, err := RetryDo(ctx, c.retry, func() (*Response, error) {
			return c.doCreate(ctx, attempt)
		})
		if err == nil {
			return resp, nil
		}

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadRequest {
			return nil, err
		}
		dropped := false
		for i, key := range droppable {
			if _, present := attempt[key]; present {
				delete(attempt, key)
				droppable = append(droppable[:i], droppable[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			return nil, err
		}
	}
}

func (c *ResponsesClient) doCreate(ctx context.Context, body map[string]interface{}) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/responses", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
