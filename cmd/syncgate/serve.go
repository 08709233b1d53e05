package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"syncgate/internal/metrics"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var noWorkers, noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, queue workers and scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if noWorkers {
				cfg.Worker.Enabled = false
			}
			if noScheduler {
				cfg.Scheduler.Enabled = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			metrics.RegisterDefault()

			if cfg.Worker.Enabled {
				a.jobs.Start(ctx)
				defer a.jobs.Stop()
			}
			if cfg.Scheduler.Enabled {
				a.scheduler.Start(ctx)
				defer a.scheduler.Stop()
			}
			if a.notifier != nil {
				a.notifier.Start()
				defer a.notifier.Stop()
			}

			srv := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           a.server.Routes(),
				ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
				ReadTimeout:       cfg.HTTP.ReadTimeout,
				WriteTimeout:      cfg.HTTP.WriteTimeout,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("api listening", zap.String("addr", cfg.HTTP.Addr),
					zap.Bool("workers", cfg.Worker.Enabled), zap.Bool("scheduler", cfg.Scheduler.Enabled))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "Serve the API without processing queue jobs")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Disable scheduled syncs")
	return cmd
}
