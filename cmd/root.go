package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terminuslabs/terminus/internal/config"
	"github.com/terminuslabs/terminus/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/terminuslabs/terminus/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "terminus",
	Short: "Terminus: AI DevOps agent execution engine",
	Long: "Terminus plans, translates and executes natural-language DevOps goals: " +
		"clients stream goals over WebSocket, the engine plans steps with an LLM, " +
		"runs each command in a privilege-dropped sandbox, and re-plans on failure.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $TERMINUS_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("terminus %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return config.ExpandHome(cfgFile)
	}
	if v := os.Getenv("TERMINUS_CONFIG"); v != "" {
		return config.ExpandHome(v)
	}
	return "config.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
