package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/terminuslabs/terminus/internal/config"
	"github.com/terminuslabs/terminus/internal/preflight"
	"github.com/terminuslabs/terminus/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("terminus doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	snap := cfg.Snapshot()

	fmt.Println()
	fmt.Println("  Planner:")
	if snap.Planner.Fake {
		fmt.Printf("    %-12s offline (fake mode)\n", "Mode:")
	} else if snap.Planner.APIKey != "" {
		fmt.Printf("    %-12s %s\n", "Model:", snap.Planner.Model)
		fmt.Printf("    %-12s %s\n", "API key:", maskKey(snap.Planner.APIKey))
	} else {
		fmt.Printf("    %-12s offline (no OPENAI_API_KEY)\n", "Mode:")
	}
	fmt.Printf("    %-12s %s\n", "Translator:", snap.Translator.Model)

	fmt.Println()
	fmt.Println("  Preflight:")
	ready, checks := preflight.Run(cfg)
	for _, c := range checks {
		status := "OK"
		if !c.OK {
			status = "DEGRADED"
		}
		fmt.Printf("    %-14s %-8s %s\n", c.Name+":", status, c.Detail)
	}

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("bash")
	checkBinary("sudo")
	checkBinary("curl")

	fmt.Println()
	if ready {
		fmt.Println("Doctor check complete: ready.")
	} else {
		fmt.Println("Doctor check complete: degraded (engine still serves).")
	}
}

func maskKey(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
