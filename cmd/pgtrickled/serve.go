package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pgtrickle/pgtrickle/internal/admin"
	"github.com/pgtrickle/pgtrickle/internal/scheduler"
)

// newServeCmd runs the scheduler loop and the admin HTTP surface side
// by side, shutting both down on SIGINT/SIGTERM — the same
// goroutine-plus-signal-channel shape as the teacher's
// app.Server.Run, generalized from one HTTP server to an HTTP server
// alongside a background scheduler loop.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the scheduler loop and admin HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			d, err := buildDeps(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			sched := &scheduler.Scheduler{
				Streams:                 d.streams,
				Deps:                    d.depsRepo,
				History:                 d.history,
				Engine:                  d.engine,
				Logger:                  d.logger,
				TickInterval:            time.Duration(d.cfg.SchedulerIntervalMS) * time.Millisecond,
				MinScheduleSeconds:      d.cfg.MinScheduleSeconds,
				MaxConcurrentRefreshes:  d.cfg.MaxConcurrentRefreshes,
				FallbackScheduleSeconds: d.cfg.MinScheduleSeconds,
			}

			httpServer := &http.Server{
				Addr:    d.cfg.AdminListenAddr,
				Handler: admin.SetupRoutes(d.pool, d.streams, d.history, d.engine, d.logger),
			}

			go func() {
				d.logger.Info("admin server listening", zap.String("addr", d.cfg.AdminListenAddr))
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					d.logger.Error("admin server exited", zap.Error(err))
				}
			}()

			go func() {
				if err := sched.Run(ctx); err != nil && err != context.Canceled {
					d.logger.Error("scheduler exited", zap.Error(err))
				}
			}()

			<-ctx.Done()
			d.logger.Info("shutting down")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
}
