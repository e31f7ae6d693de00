package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// defaultTableWait bounds how long a new DynamoDB table may take to activate
const defaultTableWait = 2 * time.Minute

// newMigrateCmd creates the "worldd migrate" subcommand
func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables of the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Backend == BackendMemory {
				fmt.Fprintln(cmd.OutOrStdout(), "memory backend needs no migration")
				return nil
			}

			ctx := cmd.Context()
			logger := newLogger(cfg.LogLevel)
			backends, err := openBackends(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer backends.Close()

			if err := backends.Migrate(ctx, wait); err != nil {
				return err
			}
			logger.Info().Str("backend", cfg.Backend).Msg("Migration complete")
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", defaultTableWait, "how long to wait for a new DynamoDB table")
	return cmd
}
