// Package main provides the CLI entry point for the relaymesh agent
// runtime.
//
// relaymesh connects chat transports (whose wire adapters live outside
// this module) to LLM providers through the event bus, orchestrator and
// schedulers implemented here.
//
// # Basic usage
//
// Start the runtime:
//
//	relaymesh serve --config relaymesh.yaml
//
// Check configuration and database status:
//
//	relaymesh status --config relaymesh.yaml
//
// Initialize the scheduler/wait-task SQLite databases:
//
//	relaymesh migrate --config relaymesh.yaml
//
// # Environment variables
//
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY: LLM provider credentials.
//   - AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_REGION: Bedrock credentials.
//   - RELAYMESH_JOURNAL_DIR, RELAYMESH_AUDIT_LOG_PATH, RELAYMESH_RATE_LIMIT_RPM: config overrides (internal/config).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "relaymesh",
		Short:        "relaymesh - multi-agent conversational runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildStatusCmd(),
		buildScheduleCmd(),
		buildWaitTaskCmd(),
	)
	return root
}
