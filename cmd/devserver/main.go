// Prepdeck development backend stub.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/prepdeck/prepdeck/internal/devstub"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	tokenDelay := 40 * time.Millisecond
	if raw := os.Getenv("TOKEN_DELAY_MS"); raw != "" {
		if d, err := time.ParseDuration(raw + "ms"); err == nil && d >= 0 {
			tokenDelay = d
		}
	}

	stub := devstub.NewServer(devstub.Options{
		TokenDelay: tokenDelay,
		Logger:     logger,
	})

	// SSE responses need an unbounded write window.
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      stub.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Development stub listening", "addr", srv.Addr, "token_delay", tokenDelay)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
