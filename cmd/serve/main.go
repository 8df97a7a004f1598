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

	"github.com/dmorgan81/fluxbot/internal/config"
	"github.com/dmorgan81/fluxbot/internal/handler"
	"github.com/dmorgan81/fluxbot/internal/inject"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/dmorgan81/fluxbot/internal/server"
	"github.com/gin-gonic/gin"
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
	ctx := log.NewContext(context.Background(), logger)

	injector := inject.Setup(ctx)
	defer func() { _ = injector.Shutdown() }()
	h, err := do.Invoke[*handler.Handler](injector)
	if err != nil {
		return fmt.Errorf("failed to start handler: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", settings.Port),
		Handler:           server.New(h, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "backend", settings.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
