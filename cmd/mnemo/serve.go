package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hrygo/mnemo/server/router/admin"
)

const shutdownTimeout = 15 * time.Second

func serveCMD(cfgPath func() string) *cobra.Command {
	var addr string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run background sweeps and the admin endpoint until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfgPath(), true)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.profile.Metrics.Addr
			}

			if a.runner != nil {
				a.runner.Start(ctx)
			}
			srv := admin.NewServer(a.gated, a.registry, a.tiered.LastFlush)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(addr)
			}()

			a.logger.Info("mnemo started",
				slog.String("mode", a.profile.Mode),
				slog.String("driver", a.profile.Driver),
				slog.String("cache", a.profile.Cache.Backend),
				slog.Bool("sweeps", a.runner != nil))

			var serveErr error
			select {
			case <-ctx.Done():
			case serveErr = <-errCh:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("admin server shutdown failed", slog.String("error", err.Error()))
			}
			if err := a.close(shutdownCtx); err != nil {
				return err
			}
			a.logger.Info("mnemo stopped")
			return serveErr
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "admin listen address (default metrics.addr)")
	return serve
}
