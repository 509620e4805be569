package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ink-chat/inkchat/internal/server"
	"github.com/ink-chat/inkchat/internal/tui"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *cfgPath, false)
			if err != nil {
				return err
			}
			defer a.close()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			limiter, err := a.uploadLimiter(ctx)
			if err != nil {
				return err
			}

			srv := server.New(server.Config{
				Addr:           a.cfg.Server.Addr,
				AllowedOrigins: a.cfg.Server.AllowedOrigins,
				MaxUploadBytes: a.cfg.Server.MaxUploadBytes,
				UploadDir:      a.cfg.Server.UploadDir,
				UploadLimiter:  limiter,
			}, a.svc, a.log, a.metrics, a.registry)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (a *app) uploadLimiter(ctx context.Context) (middleware.RateLimiterStore, error) {
	rl := a.cfg.RateLimit
	if rl.Requests <= 0 {
		return nil, nil
	}
	if rl.Store != "redis" {
		return server.NewMemoryLimiter(rl.Requests, rl.Window), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", a.cfg.Redis.Addr, err)
	}
	return server.NewRedisLimiter(client, rl.Requests, rl.Window), nil
}

func tuiCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath, true)
			if err != nil {
				return err
			}
			defer a.close()
			return tui.Run(cmd.Context(), a.svc)
		},
	}
}
