package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsort/internal/api"
	"github.com/nhle/mailsort/internal/processor"
	"github.com/nhle/mailsort/internal/review"
	"github.com/nhle/mailsort/internal/scheduler"
)

func serveCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Process active connections on a schedule and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			d, err := c.open()
			if err != nil {
				return err
			}
			defer d.Close()

			var locker scheduler.Locker
			if addr := c.cfg.Redis.Addr; addr != "" {
				client := redis.NewClient(&redis.Options{
					Addr:     addr,
					Password: c.cfg.Redis.Password,
					DB:       c.cfg.Redis.DB,
				})
				defer client.Close()
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("connecting to redis at %s: %w", addr, err)
				}
				locker = scheduler.NewRedisLocker(client, c.cfg.Scheduler.LockTTL)
			}

			sched := scheduler.New(d.processor, d.store, locker,
				scheduler.WithSchedule(c.cfg.Scheduler.Schedule),
				scheduler.WithRunTimeout(c.cfg.Processing.RunTimeout),
				scheduler.WithRunOptions(processor.Options{MaxEmails: c.cfg.Processing.MaxEmails}),
				scheduler.WithLogger(c.logger),
			)
			reviews := review.New(d.store, d.processor, c.logger)

			srv := &http.Server{
				Addr:              c.cfg.Server.Addr,
				Handler:           api.NewRouter(api.NewHandlers(sched, reviews, d.recorder.Handler(), c.logger)),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 2)
			go func() { errCh <- sched.Run(ctx) }()
			go func() {
				c.logger.Info("http server listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-errCh:
				cancel()
			}

			c.logger.Info("shutting down")
			shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer stop()
			return errors.Join(runErr, srv.Shutdown(shutdownCtx))
		},
	}
	return cmd
}
