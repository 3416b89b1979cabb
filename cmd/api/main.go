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

	_ "github.com/jackc/pgx/v5/stdlib"

	"tournament-api/app"
	"tournament-api/internal/observability"
)

func main() {
	logger := observability.NewLogger()

	runtime, err := app.Build(app.Options{LoadDotEnv: true})
	if err != nil {
		logger.Error("bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime.Scheduler.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", runtime.Config.Port),
		Handler:           runtime.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server_start", map[string]any{"addr": server.Addr, "env": runtime.Config.Env})
		serverErr <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_failed", map[string]any{"error": err.Error()})
			exitCode = 1
		}
	case <-ctx.Done():
		logger.Info("server_shutdown", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server_shutdown_failed", map[string]any{"error": err.Error()})
			exitCode = 1
		}
		cancel()
	}

	if err := runtime.Close(); err != nil {
		logger.Error("runtime_close_failed", map[string]any{"error": err.Error()})
		exitCode = 1
	}
	os.Exit(exitCode)
}
