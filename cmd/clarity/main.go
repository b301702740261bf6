// Package main is the entry point for the clarity CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Jmemon/contextual-clarity-sub001/internal/config"
	"github.com/Jmemon/contextual-clarity-sub001/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clarity",
		Short:         "Conversational spaced-repetition study sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.AddCommand(
		versionCmd(),
		serveCmd(),
		studyCmd(),
		setsCmd(),
		pointsCmd(),
		dueCmd(),
		configCmd(),
		initCmd(),
		mcpCmd(),
		serviceCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clarity %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, cron jobs and archiver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), app.RunParams{
				ConfigPath: configFlag(cmd),
				Version:    version,
			})
		},
	}
}

func configFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

// openRuntime loads configuration and builds a runtime. Logs go to stderr
// so command output stays clean.
func openRuntime(cmd *cobra.Command, opts app.BuildOptions) (*app.Runtime, error) {
	cfg, _, err := app.LoadConfig(configFlag(cmd))
	if err != nil {
		return nil, err
	}
	logger, err := app.NewLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return app.Build(cmd.Context(), cfg, logger, opts)
}

// loadConfig loads without validating, for commands that report problems.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := config.ResolvePath(configFlag(cmd))
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}
