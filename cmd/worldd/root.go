package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by all commands
type rootOptions struct {
	configPath string
	overrides  Config
}

// newRootCmd creates the root worldd command with all subcommands attached
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "worldd",
		Short:         "Workflow world daemon",
		Long:          "worldd persists workflow runs, events, steps and hooks, dispatches\nqueued jobs to a processor and serves output streams.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.overrides.Backend, "backend", "", "storage backend (memory|sql|dynamodb)")
	flags.StringVar(&opts.overrides.DatabaseURL, "database-url", "", "database URL for the sql backend")
	flags.StringVar(&opts.overrides.DynamoDB.Table, "dynamodb-table", "", "DynamoDB table name")
	flags.StringVar(&opts.overrides.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
	)

	return cmd
}

// load reads the config file and applies flag overrides
func (o *rootOptions) load() (Config, error) {
	cfg := DefaultConfig()
	if o.configPath != "" {
		var err error
		cfg, err = LoadConfig(o.configPath)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.Merge(o.overrides)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// newLogger builds the console logger used by the daemon
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(lvl)
}
