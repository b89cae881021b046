// Command brokerd is the broker integration daemon: it loads configuration,
// reopens persisted broker connections, and serves the REST API.
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

	"github.com/joho/godotenv"

	"brokerhub/internal/broker"
	"brokerhub/internal/config"
	"brokerhub/internal/httpapi"
	"brokerhub/internal/router"
	"brokerhub/internal/store"
	"brokerhub/internal/util"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfgPath := "config/brokerhub.yaml"
	if p := os.Getenv("BROKERHUB_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	log := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("brokerd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	factory := broker.NewFactory(cfg.Brokers)
	manager := broker.NewManager(factory, log.With("component", "manager"))
	rt := router.New(log.With("component", "router"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reloadConnections(ctx, st, manager, rt, log)

	api := httpapi.NewServer(factory, manager, rt, st, log.With("component", "httpapi"))
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("brokerd listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if err := manager.DisconnectAll(shutdownCtx); err != nil {
		log.Warn("disconnecting brokers", "error", err)
	}
	return nil
}

// reloadConnections brings persisted active connections back up. A broker
// that rejects its stored credentials is logged and left inactive rather
// than blocking startup.
func reloadConnections(
	ctx context.Context,
	st store.ConnectionStore,
	manager *broker.Manager,
	rt *router.Router,
	log *slog.Logger,
) {
	conns, err := st.ListConnections(ctx, "")
	if err != nil {
		log.Error("listing persisted connections", "error", err)
		return
	}
	for i := range conns {
		conn := &conns[i]
		if !conn.IsActive {
			continue
		}
		adapter, err := manager.Connect(ctx, conn)
		if err != nil {
			log.Warn("reopening connection failed",
				"id", conn.ID, "broker", conn.BrokerType, "error", err)
			if err := st.SetActive(ctx, conn.ID, false); err != nil {
				log.Warn("marking connection inactive", "id", conn.ID, "error", err)
			}
			continue
		}
		rt.RegisterBroker(adapter)
		// Persist any credentials rotated during reconnect (refresh
		// tokens are single-use on some brokers).
		if err := st.UpdateCredentials(ctx, conn.ID, adapter.Credentials()); err != nil {
			log.Warn("persisting refreshed credentials", "id", conn.ID, "error", err)
		}
	}
}
