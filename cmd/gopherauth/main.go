package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string) error {
	config := NewConfig()

	if err := config.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("error while loading .env. Err: %w", err)
	}
	if err := config.LoadEnv(getenv); err != nil {
		return fmt.Errorf("error while loading env. Err: %w", err)
	}
	if err := config.ParseFlags(args); err != nil {
		return fmt.Errorf("error while parsing flags. Err: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config. Err: %w", err)
	}

	// Initialize context that cancelled on SIGINT or SIGTERM
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewServerApp(ctx, config)
	if err != nil {
		return fmt.Errorf("can't initialize app. Err: %w", err)
	}

	return app.Run(ctx)
}

func main() {
	if err := run(context.Background(), os.Getenv, os.Getwd, os.Args[1:]); err != nil {
		slog.Error("app stopped with error", "error", err.Error())
		os.Exit(1)
	}
}
