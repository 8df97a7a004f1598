package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmorgan81/fluxbot/internal/config"
	"github.com/dmorgan81/fluxbot/internal/handler"
	"github.com/dmorgan81/fluxbot/internal/inject"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/dmorgan81/fluxbot/internal/queue"
	"github.com/joho/godotenv"
	"github.com/samber/do"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	settings, err := config.Load()
	if err != nil {
		return err
	}
	logger := log.NewWithFormat(os.Stderr, settings.LogFormat, settings.LogLevel)
	ctx, stop := signal.NotifyContext(log.NewContext(context.Background(), logger), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	injector := inject.Setup(ctx)
	defer func() { _ = injector.Shutdown() }()
	h, err := do.Invoke[*handler.Handler](injector)
	if err != nil {
		return fmt.Errorf("failed to start handler: %w", err)
	}

	conn, ch, err := queue.Dial(settings.AMQPURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	return queue.NewConsumer(ch, settings.AMQPQueue, h).Run(ctx)
}
