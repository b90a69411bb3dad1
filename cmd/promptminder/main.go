// Package main provides the CLI entry point for the Prompt Minder
// experiment service.
//
// Prompt Minder runs A/B experiments over prompt variants: it stores
// experiment definitions, ingests result records, and serves ranked
// analysis reports over an HTTP API.
//
// # Basic Usage
//
// Start the server:
//
//	promptminder serve --config promptminder.yaml
//
// Manage database migrations:
//
//	promptminder migrate up
//	promptminder migrate status
//
// # Environment Variables
//
// Any ${VAR} reference in the configuration file is expanded from the
// environment, which is the intended way to inject secrets:
//
//   - DATABASE_URL: Postgres connection string
//   - JWT_SECRET: signing secret for API tokens
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "promptminder",
		Short: "Prompt A/B testing service",
		Long: `Prompt Minder runs A/B experiments over prompt variants.

It stores experiment definitions, ingests per-variant result records,
and serves ranked analysis reports over an HTTP API.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildMigrateCmd())
	rootCmd.AddCommand(buildVersionCmd())

	return rootCmd
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "promptminder %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
