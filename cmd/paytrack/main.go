package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	environment "paytrack/internal/env"
)

func main() {
	ctx := context.Background()

	env, err := environment.Setup(ctx)
	if err != nil {
		log.Fatalf("Failed to setup environment: %v", err)
	}

	logger := env.Logger
	logger.Info("Starting paytrack")

	env.Services.Clock.Start()

	if err := env.Services.Workers.Start(); err != nil {
		logger.Error("Failed to start workers", slog.Any("error", err))
		env.Services.Clock.Stop()
		env.Close()
		os.Exit(1)
	}

	serve := func(name string, srv *http.Server) {
		logger.Info("Starting "+name+" server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(name+" server error", slog.Any("error", err))
		}
	}
	go serve("observability", env.Servers.HTTP.Observability)
	go serve("web", env.Servers.HTTP.Web)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.Config.ShutdownDuration)
	defer cancel()

	// event streams only end when their session closes, so sessions go first
	env.Services.Workers.Stop()
	env.Services.Tracker.Shutdown()

	if err := env.Servers.HTTP.Web.Shutdown(shutdownCtx); err != nil {
		logger.Error("Web server shutdown error", slog.Any("error", err))
	}
	if err := env.Servers.HTTP.Observability.Shutdown(shutdownCtx); err != nil {
		logger.Error("Observability server shutdown error", slog.Any("error", err))
	}

	env.Services.Clock.Stop()
	env.Close()

	logger.Info("Stopped")
}
