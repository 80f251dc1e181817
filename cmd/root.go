// Package cmd defines and implements the CLI commands for the pipelinectl
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lexatlas/acquisition-pipeline/internal/app"
	"github.com/lexatlas/acquisition-pipeline/internal/config"
	"github.com/lexatlas/acquisition-pipeline/internal/coordinator"
	"github.com/lexatlas/acquisition-pipeline/internal/progress"
)

var cfgFile string
var serverAddr string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the subset of *app.App the subcommands depend on. Kept as an
// interface, not the concrete type, so tests can inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Coordinator(sourceID string) (*coordinator.Actor, bool)
	Coordinators() map[string]*coordinator.Actor
	Config() config.Config
	Hub() *progress.Hub
}

// newApp is the application factory. It's a variable so tests can replace it
// with a mock factory.
var newApp func(ctx context.Context) (App, error) = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return app.New(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipelinectl",
		Short: "Controls the multi-source legal-document acquisition pipeline.",
		Long: `pipelinectl drives the acquisition pipeline's per-source coordinators:
starting, pausing, resuming, and cancelling runs, and reading back progress
and logs.

Without --addr, subcommands build the pipeline in-process from the loaded
config and talk to its Coordinators directly. With --addr, they instead
issue requests against a running instance's HTTP control surface.`,

		// Runs after config is loaded but before the subcommand's RunE. Only
		// builds the in-process application when no remote --addr is set;
		// remote subcommands need nothing but an HTTP client.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if serverAddr != "" {
				return nil
			}
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cobra.OnInitialize(func() {
		viper.SetEnvPrefix("PIPELINE")
		viper.AutomaticEnv()
	})

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (when unset, only built-in defaults and PIPELINE_* environment variables apply)")
	cmd.PersistentFlags().StringVar(&serverAddr, "addr", "", "HTTP control surface address, e.g. http://localhost:8080; when unset, runs in-process")
	cmd.PersistentFlags().StringVar(&sourceFlag, "source", "", "source id: dof, scjn, bjv, or cas")

	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newCancelCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	ExecuteContext(context.Background())
}

// ExecuteContext runs the root command bound to ctx, so callers can wire in
// signal-driven cancellation (e.g. the serve subcommand's graceful drain).
func ExecuteContext(ctx context.Context) {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

func requireSource() (string, error) {
	if sourceFlag == "" {
		return "", fmt.Errorf("--source is required")
	}
	return sourceFlag, nil
}
