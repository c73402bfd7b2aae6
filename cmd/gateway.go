package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/terminuslabs/terminus/internal/bus"
	"github.com/terminuslabs/terminus/internal/config"
	"github.com/terminuslabs/terminus/internal/gateway"
	"github.com/terminuslabs/terminus/internal/preflight"
	"github.com/terminuslabs/terminus/internal/providers"
	"github.com/terminuslabs/terminus/internal/sandbox"
	"github.com/terminuslabs/terminus/internal/session"
	"github.com/terminuslabs/terminus/internal/telemetry"
	"github.com/terminuslabs/terminus/internal/workflow"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the engine gateway (default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Reload reaches per-request values only (admission interval,
	// allowed origins); engine and sandbox limits bind at startup.
	// A missing config file is fine.
	if _, statErr := os.Stat(cfgPath); statErr == nil {
		if err := config.Watch(ctx, cfgPath, cfg); err != nil {
			slog.Warn("config watch unavailable", "error", err)
		}
	}

	ready, checks := preflight.Run(cfg)
	for _, c := range checks {
		if c.OK {
			slog.Debug("preflight check passed", "check", c.Name, "detail", c.Detail)
		} else {
			slog.Warn("preflight check failed", "check", c.Name, "detail", c.Detail)
		}
	}
	slog.Info("engine startup", "ready", ready, "issues", len(preflight.Issues(checks)))

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Snapshot().Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed", "error", err)
	} else {
		defer shutdownTelemetry(context.Background())
	}

	engine := buildEngine(cfg)
	sessions := session.NewRegistry()
	eventBus := bus.New()

	srv := gateway.NewServer(cfg, eventBus, engine, sessions)
	srv.SetReadiness(ready, preflight.Issues(checks))

	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("engine shutdown complete")
}

// buildEngine assembles planner, translator and executor from config.
// Without an API key the engine runs in deterministic offline mode.
func buildEngine(cfg *config.Config) *workflow.Engine {
	snap := cfg.Snapshot()

	policy := sandbox.SanitizePolicy{
		MaxCommandLen: snap.Sandbox.MaxCommandLen,
		Strict:        snap.Sandbox.StrictSanitize,
		Allowlist:     snap.Sandbox.AllowlistTokens(),
	}
	executor := sandbox.NewExecutor(policy, snap.Sandbox.User, snap.Sandbox.ForceLocal)
	slog.Info("sandbox executor ready", "sandboxed", executor.Sandboxed(), "user", snap.Sandbox.User)

	var planner workflow.Planner
	var translator workflow.Translator
	if snap.Planner.Fake || snap.Planner.APIKey == "" {
		slog.Info("offline mode: deterministic planner and translator")
		planner = providers.OfflinePlanner{}
		translator = providers.OfflineTranslator{}
	} else {
		client := providers.NewResponsesClient(snap.Planner.APIKey, snap.Planner.BaseURL)
		planner = providers.NewPlanner(client, snap.Planner.Model, providers.PlannerOptions{
			StrictJSON:     snap.Planner.StrictJSON,
			WebSearch:      snap.Planner.WebSearch,
			FileSearch:     snap.Planner.FileSearch,
			VectorStoreIDs: snap.Planner.VectorStoreIDs,
			MCPServers:     plannerMCPServers(snap.Planner),
			SafetyPrefix:   snap.Planner.SafetyPrefix,
		})
		translator = providers.NewTranslator(client, snap.Translator.Model, providers.TranslatorOptions{
			StrictFunction:    snap.Translator.StrictFunction,
			AllowTextFallback: snap.Translator.AllowTextFallback,
			SafetyPrefix:      snap.Planner.SafetyPrefix,
		})
	}

	return workflow.NewEngine(planner, translator, executor, workflow.Options{
		MaxGoalLen: snap.Gateway.MaxGoalLen,
		MaxReplans: snap.Workflow.MaxReplans,
		MaxHistory: snap.Workflow.MaxHistory,
	})
}

func plannerMCPServers(cfg config.PlannerConfig) []providers.MCPServer {
	if !cfg.MCP {
		return nil
	}
	servers := make([]providers.MCPServer, 0, len(cfg.MCPServers))
	for _, srv := range cfg.MCPServers {
		servers = append(servers, providers.MCPServer{
			Label:           srv.ServerLabel,
			URL:             srv.ServerURL,
			RequireApproval: srv.RequireApproval,
		})
	}
	return servers
}
