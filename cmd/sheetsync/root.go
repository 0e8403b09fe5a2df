package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cfgFilePath string
	logFilePath string
	verbose     bool
	jsonOutput  bool

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "sheetsync",
	Short: "Push spreadsheet rows to a remote catalog API",
	Long: `sheetsync detects changed spreadsheet rows by fingerprint, queues them by
priority and pushes them to a rate-limited catalog API in batches.

Every run is persisted as a session, so an interrupted or partially failed
run can be resumed later with 'sheetsync resume <session-id>'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(cmd.ErrOrStderr(), logFilePath, verbose)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFilePath, "config", "c", "sheetsync.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&logFilePath, "log-file", "", "write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(runCmd, resumeCmd, cleanupCmd, summaryCmd, watchCmd)
}

// newLogger logs text to stderr, or JSON to a rotated file when path is set
func newLogger(stderr io.Writer, path string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if path == "" {
		return slog.New(slog.NewTextHandler(stderr, opts))
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
