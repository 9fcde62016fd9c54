/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payout engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Set up the logger for APP_ENV
  3. Open the store selected by DB_DRIVER
  4. Build vault, audit recorder, service, handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Close database connection
  4. Exit

EXAMPLES:
  ./server -db="./data/payouts.db"
  DB_DRIVER=postgres DB_URL=postgres://... ./server
  ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/payout-engine/api"
	"github.com/warp/payout-engine/audit"
	"github.com/warp/payout-engine/config"
	"github.com/warp/payout-engine/metrics"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/store/memory"
	"github.com/warp/payout-engine/store/postgres"
	"github.com/warp/payout-engine/store/sqlite"
	"github.com/warp/payout-engine/vault"
)

// backend is what every store driver provides.
type backend interface {
	payout.TxStore
	audit.Store
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	cfg := config.MustLoad()

	// Flags
	port := flag.Int("port", cfg.HTTP.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DB.SQLitePath, "SQLite database path")
	flag.Parse()
	cfg.HTTP.Port = *port
	cfg.DB.SQLitePath = *dbPath

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting payout engine", slog.String("env", cfg.Env), slog.String("db_driver", cfg.DB.Driver))
	log.Debug("debug messages are enabled")

	store, err := openStore(context.Background(), cfg.DB)
	if err != nil {
		log.Error("failed to initialize database", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	v, err := vault.New([]byte(cfg.Auth.PaymentMethodSecret))
	if err != nil {
		log.Error("failed to initialize vault", slog.Any("error", err))
		os.Exit(1)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	recorder := audit.NewRecorder(store, log.With(slog.String("component", "audit")),
		audit.WithRetry(cfg.Audit.Attempts, cfg.Audit.Delay))
	svc := payout.NewService(store, recorder, v, payout.WithLogger(log))

	handler := api.NewHandler(svc, recorder, v, log)
	handler.Ping = store.Ping
	router := api.NewRouter(handler, api.NewAuthenticator(cfg.Auth.JWTSecret), cfg.HTTP.Origins())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.Any("error", err))
	}

	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg config.DB) (backend, error) {
	switch cfg.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return postgres.Connect(ctx, cfg.URL)
	case "memory":
		return memory.New(), nil
	default:
		return sqlite.New(cfg.SQLitePath)
	}
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case config.EnvLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
