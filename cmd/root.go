// Package cmd implements the docchat command-line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/docchat/docchat/internal/log"
)

var (
	flagLogJSON  bool
	flagLogDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "docchat - chat with your PDF documents",
	Long: `docchat is a retrieval-augmented document chat backend.

Upload PDFs into projects, then ask questions against them: documents are
split into chunks, embedded, and retrieved by similarity to ground every
answer. Run "docchat serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagLogDebug, "log-debug", false, "enable debug logging")
}

// newLogger builds the process logger from the root flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if flagLogDebug {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: flagLogJSON})
}
