package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arenalive/arena/internal/scheduler"
	"github.com/arenalive/arena/web/handlers"
)

func newServeCmd() *cobra.Command {
	var tickInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Adopt anything left over from a previous process before
			// taking traffic.
			if summary, err := a.orch.RecoverStale(ctx); err != nil {
				a.logger.Error("startup recovery failed", "error", err)
			} else if len(summary.Resumed) > 0 {
				a.logger.Info("resumed interrupted debates", "count", len(summary.Resumed))
			}

			sched := scheduler.New(a.store, a.orch, a.cfg.Debate.Categories, a.logger)
			if tickInterval > 0 {
				go sched.RunTicker(ctx, tickInterval)
			}

			h := handlers.New(a.store, a.orch, sched, a.streamer, handlers.Config{
				Token:     a.cfg.Server.Token,
				RateLimit: a.cfg.Server.RateLimit,
			}, a.logger)

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:           h.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("server listening", "addr", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				a.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("shutdown failed", "error", err)
				}
				a.orch.Wait()
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&tickInterval, "tick", 0,
		"scheduler tick interval (0 disables the built-in ticker)")
	return cmd
}
