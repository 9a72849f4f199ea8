package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/glsync/cmd/glsync/cli"
	"github.com/odyssey-erp/glsync/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	redisOpts, err := cfg.AsynqRedis()
	if err != nil {
		slog.Default().Error("parse redis address", slog.Any("error", err))
		os.Exit(1)
	}

	jobsCLI, err := cli.NewJobsCLI(redisOpts)
	if err != nil {
		slog.Default().Error("init jobs cli", slog.Any("error", err))
		os.Exit(1)
	}
	code := cli.Run(ctx, jobsCLI, os.Args[1:], os.Stdout, os.Stderr)
	if err := jobsCLI.Close(); err != nil {
		slog.Default().Warn("close jobs cli", slog.Any("error", err))
	}
	os.Exit(code)
}
