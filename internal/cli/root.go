// Package cli handles the command-line interface logic
// using the Cobra library.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/BartekS5/ack/internal/config"
	"github.com/BartekS5/ack/pkg/logger"
)

type LogOptions struct {
	Level string
	JSON  bool
	File  string
}

func NewRootCmd() *cobra.Command {
	logOpts := &LogOptions{}

	rootCmd := &cobra.Command{
		Use:   "ack",
		Short: "ack - extract records from sources and load them as partitioned chunks",
		Long: `ack reads records from files, REST APIs, SQL Server and MongoDB, flattens
them into single-level records and writes them in chunks to local files,
object storage, PostgreSQL or MongoDB under templated partition keys.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogger(cmd, logOpts)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&logOpts.Level, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logOpts.JSON, "log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&logOpts.File, "log-file", "", "Also append logs to this file")

	rootCmd.AddCommand(NewRunCmd(), NewValidateCmd(), NewListCmd())

	return rootCmd
}

// initLogger sends logs to stderr so that the console writer owns stdout.
// ACK_LOG_LEVEL applies unless --log-level is given.
func initLogger(cmd *cobra.Command, opts *LogOptions) error {
	level := opts.Level
	if !cmd.Flags().Changed("log-level") {
		if env, _ := config.LoadConfig(); env.LogLevel != "" {
			level = env.LogLevel
		}
	}
	return logger.Init(logger.Config{
		Level:  level,
		JSON:   opts.JSON,
		File:   opts.File,
		Output: cmd.ErrOrStderr(),
	})
}
