package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// main loads the config and runs the server.
func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// run serves until SIGINT or SIGTERM, then shuts down gracefully.
func run(cfg Config, logger *slog.Logger) error {
	ctx := context.Background()

	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := NewMetrics(prometheus.NewRegistry())
	svc := NewService(store, metrics, logger)
	handler := NewHandler(svc, logger, metrics, cfg.StaticDir)

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: chain(handler.Routes(),
			loggingMiddleware(logger, metrics),
			recoverMiddleware(logger),
			corsMiddleware,
		),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server is listening", "addr", server.Addr, "store", cfg.Store.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("could not listen: %w", err)
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("server is shutting down")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// openStore connects to the configured backend and checks it answers.
func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case backendSQLite:
		st, err := OpenSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("could not open sqlite (%s): %w", cfg.SQLite.Path, err)
		}
		logger.Info("using sqlite store", "path", cfg.SQLite.Path)
		return st, nil
	default:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("could not connect to redis (%s): %w", cfg.Redis.Addr, err)
		}
		logger.Info("using redis store", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		return NewRedisStore(client), nil
	}
}
