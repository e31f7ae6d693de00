package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/sicko7947/world"
	"github.com/sicko7947/world/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// newServeCmd creates the "worldd serve" subcommand
func newServeCmd(opts *rootOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the lane consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, migrate, newLogger(cfg.LogLevel))
		},
	}

	cmd.Flags().StringVar(&opts.overrides.Listen, "listen", "", "HTTP listen address")
	cmd.Flags().StringVar(&opts.overrides.ProcessorURL, "processor-url", "", "base URL that receives forwarded jobs")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create the backend tables before serving")
	return cmd
}

// serve runs the HTTP server and both lane consumers until ctx is done
func serve(ctx context.Context, cfg Config, migrate bool, logger zerolog.Logger) error {
	backends, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close backends")
		}
	}()

	if migrate {
		if err := backends.Migrate(ctx, defaultTableWait); err != nil {
			return err
		}
		logger.Info().Str("backend", cfg.Backend).Msg("Migration complete")
	}

	if cfg.ProcessorURL != "" {
		backends.Processor = api.NewForwarder(cfg.ProcessorURL, api.WithForwardTimeout(cfg.ForwardTimeout))
	}

	w, err := world.New(backends.Backends,
		world.WithConfig(cfg.World),
		world.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	server := api.NewServer(w, api.WithLogger(logger))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Listen(cfg.Listen)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutting down server...")
		return server.Shutdown(cfg.ShutdownTimeout)
	})

	if backends.Processor != nil {
		for _, lane := range []world.Lane{world.LaneWorkflow, world.LaneStep} {
			g.Go(func() error {
				return w.Consume(ctx, lane)
			})
		}
	} else {
		logger.Warn().Msg("No processor_url configured, lane consumers are not started")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("Server stopped")
	return nil
}
