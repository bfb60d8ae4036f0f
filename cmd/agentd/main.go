// Package main provides the CLI entry point for agentd, the multi-tenant
// conversational agent platform's gateway process.
//
// # Basic Usage
//
// Start the server:
//
//	agentd serve --config agentd.yaml
//
// Manage database migrations:
//
//	agentd migrate up
//	agentd migrate status
//
// List or create agents against a running database:
//
//	agentd agents list
//	agentd agents create --user u1 --name assistant --provider anthropic --model claude-sonnet-4-20250514
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree. Separated from main so tests can
// exercise it without touching os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "agentd",
		Short:   "agentd - multi-tenant conversational agent platform",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Long: `agentd hosts per-user AI agents, routes platform conversations
(Telegram, Discord) and a duplex chat socket to them, and federates each
agent's tool access through remote tool servers.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildMigrateCmd())
	rootCmd.AddCommand(buildAgentsCmd())

	return rootCmd
}
