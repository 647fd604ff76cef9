// Package cmd provides the murmur CLI commands.
//
// Commands:
//   - serve: run the HTTP API server
//   - migrate: apply database migrations and exit
//   - version: print build information
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/murmurhq/murmur/internal/log"
)

var rootCmd = &cobra.Command{
	Use:           "murmur",
	Short:         "murmur - hosted conversational agent service",
	Long:          "murmur runs authenticated chat sessions against a tool-using agent\nwith long-term memory, streaming answers over SSE.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG in the environment lowers
// the level; logs always go to stderr.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: os.Getenv("LOG_FORMAT") == "json"})
}
