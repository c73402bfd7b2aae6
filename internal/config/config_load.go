package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			RateLimitRPM:   60,
			MaxGoalLen:     2000,
			MinIntervalSec: 2.0,
		},
		Planner: PlannerConfig{
			Model:        "gpt-5",
			StrictJSON:   true,
			SafetyPrefix: "terminus-",
		},
		Translator: TranslatorConfig{
			Model:          "gpt-oss-20b",
			StrictFunction: true,
		},
		Sandbox: SandboxConfig{
			User:           "sandboxuser",
			MaxCommandLen:  2000,
			StrictSanitize: true,
		},
		Workflow: WorkflowConfig{
			MaxReplans: 10,
			MaxHistory: 200,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "http",
			ServiceName: "terminus",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = truthy(v)
		}
	}

	envStr("TERMINUS_HOST", &c.Gateway.Host)
	envInt("TERMINUS_PORT", &c.Gateway.Port)
	envInt("MAX_GOAL_LEN", &c.Gateway.MaxGoalLen)
	if v := os.Getenv("EXECUTE_GOAL_MIN_INTERVAL_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.Gateway.MinIntervalSec = f
		}
	}

	envStr("OPENAI_API_KEY", &c.Planner.APIKey)
	envStr("OPENAI_BASE_URL", &c.Planner.BaseURL)
	envStr("PLANNER_MODEL", &c.Planner.Model)
	envBool("PLANNER_STRICT_JSON", &c.Planner.StrictJSON)
	envBool("ENABLE_PLANNER_WEB_SEARCH", &c.Planner.WebSearch)
	envBool("ENABLE_PLANNER_FILE_SEARCH", &c.Planner.FileSearch)
	envBool("ENABLE_PLANNER_MCP", &c.Planner.MCP)
	envStr("SAFETY_IDENTIFIER_PREFIX", &c.Planner.SafetyPrefix)
	envBool("TERMINUS_FAKE", &c.Planner.Fake)

	envStr("EXECUTOR_MODEL", &c.Translator.Model)
	envBool("EXECUTOR_STRICT_FUNCTION", &c.Translator.StrictFunction)
	envBool("EXECUTOR_ALLOW_TEXT_FALLBACK", &c.Translator.AllowTextFallback)

	envStr("SANDBOX_USER", &c.Sandbox.User)
	envInt("MAX_COMMAND_LEN", &c.Sandbox.MaxCommandLen)
	envBool("SANDBOX_STRICT_SANITIZE", &c.Sandbox.StrictSanitize)
	if v, ok := os.LookupEnv("SANDBOX_CMD_ALLOWLIST"); ok {
		c.Sandbox.Allowlist = v
	}
	envBool("SANDBOX_FORCE_LOCAL", &c.Sandbox.ForceLocal)
	envBool("SANDBOX_SKIP_USER_CHECK", &c.Sandbox.SkipUserCheck)

	envInt("WORKFLOW_MAX_REPLANS", &c.Workflow.MaxReplans)
	envInt("WORKFLOW_MAX_HISTORY", &c.Workflow.MaxHistory)

	envStr("TERMINUS_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("TERMINUS_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("TERMINUS_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("TERMINUS_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("TERMINUS_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// AllowlistTokens splits the comma-separated allowlist into trimmed tokens.
// Returns nil when the allowlist is empty (any first token permitted).
func (s SandboxConfig) AllowlistTokens() []string {
	if strings.TrimSpace(s.Allowlist) == "" {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(s.Allowlist, ",") {
		if t := strings.TrimSpace(tok); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// truthy mirrors the permissive boolean parse used for env flags:
// "1", "true", "yes", "on" (any case) are true, everything else false.
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
