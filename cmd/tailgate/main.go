// Tailgate Core - Power Tailgate Control Service
//
// This is the main entry point for the Tailgate Core application.
// Tailgate Core simulates and controls a vehicle's power tailgate:
//   - A guarded state machine over the actuator
//   - Safety-gated action requests from HTTP, MQTT and configs
//   - A config engine with preconditions, monitors and post-actions
//   - A sequence orchestrator with recovery and safe mode
//
// Subcommands:
//
//	tailgate serve              run the full service
//	tailgate run <file|id>      run one config against the simulator
//	tailgate validate <file>    check a config library file
//	tailgate scenarios          list the built-in scenarios
//	tailgate scenarios run <id> run a built-in scenario
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/tailgate-core/migrations"

	"github.com/nerrad567/tailgate-core/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C and SIGTERM so every subcommand shuts down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. It is a function rather than a
// package variable so tests get a fresh tree with fresh flags.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "tailgate",
		Short:         "Power tailgate control service.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to configuration file (default $TAILGATE_CONFIG, else built-in defaults)")

	load := func() (*config.Config, error) {
		return loadConfig(configPath)
	}

	root.AddCommand(
		newServeCmd(load),
		newRunCmd(load),
		newValidateCmd(),
		newScenariosCmd(load),
	)
	return root
}

// loadConfig reads the configuration file. The --config flag wins over
// TAILGATE_CONFIG; with neither, the built-in defaults are used.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("TAILGATE_CONFIG")
	}
	if path == "" {
		cfg, err := config.Default()
		if err != nil {
			return nil, fmt.Errorf("loading default config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
