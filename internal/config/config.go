package config

import (
	"sync"
)

// Config is the root configuration for the Terminus engine.
type Config struct {
	Gateway    GatewayConfig    `json:"gateway"`
	Planner    PlannerConfig    `json:"planner"`
	Translator TranslatorConfig `json:"translator"`
	Sandbox    SandboxConfig    `json:"sandbox"`
	Workflow   WorkflowConfig   `json:"workflow"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty"`
	mu         sync.RWMutex
}

// GatewayConfig configures the WebSocket listener and admission limits.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	RateLimitRPM   int      `json:"rate_limit_rpm"` // connection upgrades per minute, 0 = unlimited
	MaxGoalLen     int      `json:"max_goal_len"`
	MinIntervalSec float64  `json:"min_interval_sec"` // per-client gap between accepted goals
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// PlannerConfig configures the planner model client.
type PlannerConfig struct {
	APIKey             string            `json:"-"` // from env OPENAI_API_KEY only
	BaseURL            string            `json:"base_url,omitempty"`
	Model              string            `json:"model"`
	StrictJSON         bool              `json:"strict_json"`
	WebSearch          bool              `json:"web_search,omitempty"`
	FileSearch         bool              `json:"file_search,omitempty"`
	VectorStoreIDs     []string          `json:"vector_store_ids,omitempty"`
	MCP                bool              `json:"mcp,omitempty"`
	MCPServers         []MCPServerConfig `json:"mcp_servers,omitempty"`
	SafetyPrefix       string            `json:"safety_prefix"`
	Fake               bool              `json:"-"` // from env TERMINUS_FAKE only
}

// MCPServerConfig describes one remote MCP server attachment for the planner.
type MCPServerConfig struct {
	ServerLabel     string `json:"server_label"`
	ServerURL       string `json:"server_url"`
	RequireApproval string `json:"require_approval,omitempty"` // default "never"
}

// TranslatorConfig configures the step-to-command translator client.
type TranslatorConfig struct {
	Model             string `json:"model"`
	StrictFunction    bool   `json:"strict_function"`
	AllowTextFallback bool   `json:"allow_text_fallback,omitempty"`
}

// SandboxConfig configures command sanitation and execution.
type SandboxConfig struct {
	User           string `json:"user"`
	MaxCommandLen  int    `json:"max_command_len"`
	StrictSanitize bool   `json:"strict_sanitize"`
	Allowlist      string `json:"allowlist,omitempty"` // comma-separated first tokens, empty = any
	ForceLocal     bool   `json:"force_local,omitempty"`
	SkipUserCheck  bool   `json:"skip_user_check,omitempty"`
}

// WorkflowConfig bounds the execution loop.
type WorkflowConfig struct {
	MaxReplans int `json:"max_replans"` // re-plan attempts per workflow before giving up
	MaxHistory int `json:"max_history"` // step records retained for re-plan prompts
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"` // host:port, default localhost:4318
	Protocol    string `json:"protocol,omitempty"` // "http" (default) or "grpc"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Snapshot returns a copy of the current config values.
// Callers hold no reference into the live struct, so hot reload stays safe.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Gateway:    c.Gateway,
		Planner:    c.Planner,
		Translator: c.Translator,
		Sandbox:    c.Sandbox,
		Workflow:   c.Workflow,
		Telemetry:  c.Telemetry,
	}
}

// Update replaces the tunable sections under the write lock.
// Used by the config watcher on file change.
func (c *Config) Update(next *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = next.Gateway
	c.Planner = next.Planner
	c.Translator = next.Translator
	c.Sandbox = next.Sandbox
	c.Workflow = next.Workflow
	c.Telemetry = next.Telemetry
}

// Addr returns the listen address "host:port".
func (c *Config) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return addr(c.Gateway.Host, c.Gateway.Port)
}
