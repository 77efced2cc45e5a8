package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	logtools "github.com/ssh352/artio/internal/cmd/logs"
	serverrun "github.com/ssh352/artio/internal/cmd/server"
	cfgpkg "github.com/ssh352/artio/internal/config"
	logpkg "github.com/ssh352/artio/pkg/log"
)

func main() {
	// Respect ARTIO_LOG_LEVEL/FORMAT for CLI output as well as server start
	logger, err := logpkg.ApplyConfig(logpkg.FromEnv(nil))
	if err != nil {
		logger = logpkg.NewLogger(
			logpkg.WithLevel(logpkg.InfoLevel),
			logpkg.WithFormatter(&logpkg.TextFormatter{}),
		)
	}

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "artio",
		Short: "Artio gateway persistence engine CLI",
		Long:  "Artio archives, indexes, and replicates FIX gateway log traffic. This CLI manages the engine and inspects its archives.",
	}

	rootCmd.AddCommand(serverCommand())
	rootCmd.AddCommand(printCommand())
	rootCmd.AddCommand(dumpCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfgpkg.FromEnv(&cfg)
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("fsync"); v != "" {
		cfg.Fsync = v
	}
	return cfg, nil
}

func serverCommand() *cobra.Command {
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}

	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the artio engine",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			metricsAddr, _ := cmd.Flags().GetString("metrics")
			return serverrun.Run(context.Background(), serverrun.Options{
				Config:      cfg,
				MetricsAddr: metricsAddr,
			})
		},
	}
	startCmd.Flags().String("config", "", "Path to a TOML configuration file")
	startCmd.Flags().String("data-dir", "", "Data directory (default: platform data dir)")
	startCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	startCmd.Flags().String("metrics", "", "Address to serve prometheus metrics on (empty disables)")

	serverCmd.AddCommand(startCmd)
	return serverCmd
}

func printCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print decoded FIX messages from an archive directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("log-file-dir")
			termLength, _ := cmd.Flags().GetInt32("term-length")
			direction, _ := cmd.Flags().GetString("direction")
			streamID, _ := cmd.Flags().GetInt32("stream-id")
			sessionID, _ := cmd.Flags().GetInt32("session-id")
			from, _ := cmd.Flags().GetInt64("from")
			to, _ := cmd.Flags().GetInt64("to")
			messageTypes, _ := cmd.Flags().GetString("message-types")
			filter, _ := cmd.Flags().GetString("filter")

			return logtools.Print(logtools.PrintOptions{
				LogFileDir:   dir,
				TermLength:   termLength,
				Direction:    direction,
				StreamID:     streamID,
				SessionID:    sessionID,
				From:         from,
				To:           to,
				MessageTypes: messageTypes,
				Filter:       filter,
			}, os.Stdout, os.Stderr)
		},
	}
	cmd.Flags().String("log-file-dir", "", "Archive directory to scan (required)")
	cmd.Flags().Int32("term-length", 0, "Term length the archive was written with (0 = infer from file sizes)")
	cmd.Flags().String("direction", logtools.DirectionSent, "Message direction: sent|received")
	cmd.Flags().Int32("stream-id", 0, "Explicit stream id (overrides --direction)")
	cmd.Flags().Int32("session-id", 0, "Restrict to one session")
	cmd.Flags().Int64("from", 0, "Lowest end-of-frame position to include")
	cmd.Flags().Int64("to", 0, "Highest end-of-frame position to include (0 = unbounded)")
	cmd.Flags().String("message-types", "", "Comma-separated FIX message types (tag 35) to keep")
	cmd.Flags().String("filter", "", "CEL expression over stream_id, session_id, term_id, position, size, text, msg_type, direction")
	_ = cmd.MarkFlagRequired("log-file-dir")
	return cmd
}

func dumpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <log-file-dir> <stream-id>",
		Short: "Hex dump raw archived frames for a stream",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamID, err := strconv.ParseInt(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("bad stream id %q: %w", args[1], err)
			}
			termLength, _ := cmd.Flags().GetInt32("term-length")
			return logtools.Dump(logtools.DumpOptions{
				LogFileDir: args[0],
				StreamID:   int32(streamID),
				TermLength: termLength,
			}, os.Stdout, os.Stderr)
		},
	}
	cmd.Flags().Int32("term-length", 0, "Term length the archive was written with (0 = infer from file sizes)")
	return cmd
}
