package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hweilin/ordersync/cmd/terminal/handlers"
	"github.com/hweilin/ordersync/internal/config"
	"github.com/hweilin/ordersync/internal/connectivity"
	"github.com/hweilin/ordersync/internal/db"
	"github.com/hweilin/ordersync/internal/logging"
	"github.com/hweilin/ordersync/internal/models"
	"github.com/hweilin/ordersync/internal/remote"
	"github.com/hweilin/ordersync/internal/session"
	"github.com/hweilin/ordersync/internal/store"
	syncpkg "github.com/hweilin/ordersync/internal/sync"
	"github.com/hweilin/ordersync/internal/sync/conflict"
	"github.com/hweilin/ordersync/internal/sync/retry"
	"github.com/hweilin/ordersync/internal/sync/scheduler"
	"github.com/hweilin/ordersync/internal/validation"
)

func main() {
	logging.Init(os.Stdout, logging.LevelInfo)

	cfg := config.FromEnv()

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logging.Error("Failed to open database", err, map[string]interface{}{
			"data_dir": cfg.DataDir,
		})
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database.DB); err != nil {
		logging.Error("Failed to run migrations", err, nil)
		os.Exit(1)
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	localStore := store.New(repo)

	backend := remote.NewClient(&remote.ClientConfig{
		BaseURL:    cfg.RemoteBaseURL,
		TerminalID: cfg.TerminalID,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.PushTimeout,
	})

	conflicts := conflict.NewStore(repo, nil)
	pusher := syncpkg.NewPusher(repo, backend, conflicts)
	retryQueue := retry.NewQueue(backend, cfg.MaxRetries)

	monitor := connectivity.NewMonitor(backend, cfg.PingInterval)
	cache := validation.NewOfflineCache(repo, backend, cfg.CacheRefreshInterval)
	orchestrator := validation.NewOrchestrator(backend, cache, monitor, cfg.ValidationTimeout)

	sched := scheduler.New(pusher, retryQueue, cache, monitor, &scheduler.Config{
		DrainInterval:        cfg.DrainInterval,
		RetryInterval:        cfg.RetryInterval,
		CacheRefreshInterval: cfg.CacheRefreshInterval,
		DrainTimeout:         cfg.DrainTimeout,
	})

	// The API-key credential marks a trusted terminal, so a kiosk with
	// no interactive session can still take orders.
	gate := session.NewGate(cfg.APIKey != "")

	hub := NewWSHub()
	monitor.Subscribe(hub.BroadcastConnectivityChanged)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx)
	sched.Start(ctx)

	orderHandler := handlers.NewOrderHandler(localStore, pusher, orchestrator, gate, hub, cfg.PushTimeout)
	syncHandler := handlers.NewSyncHandler(repo, pusher, retryQueue, conflicts, sched, gate, hub, cfg.DrainTimeout)
	validationHandler := handlers.NewValidationHandler(orchestrator, cache)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/orders", orderHandler.Create)
	mux.HandleFunc("GET /api/orders", orderHandler.List)
	mux.HandleFunc("GET /api/orders/{id}", orderHandler.Get)
	mux.HandleFunc("PATCH /api/orders/{id}", orderHandler.Update)
	mux.HandleFunc("POST /api/orders/{id}/status", orderHandler.UpdateStatus)
	mux.HandleFunc("GET /api/orders/{id}/history", orderHandler.History)

	mux.HandleFunc("GET /api/sync/status", syncHandler.Status)
	mux.HandleFunc("POST /api/sync/drain", syncHandler.Drain)
	mux.HandleFunc("GET /api/sync/retry", syncHandler.RetryQueue)
	mux.HandleFunc("POST /api/sync/retry", syncHandler.SaveRetry)
	mux.HandleFunc("POST /api/sync/retry/process", syncHandler.ProcessRetries)
	mux.HandleFunc("GET /api/sync/conflicts", syncHandler.Conflicts)
	mux.HandleFunc("POST /api/sync/conflicts/{id}/resolve", syncHandler.ResolveConflict)

	mux.HandleFunc("GET /api/validation/suggest", validationHandler.Suggest)
	mux.HandleFunc("POST /api/validation/resolve", validationHandler.Resolve)
	mux.HandleFunc("POST /api/validation/validate", validationHandler.Validate)
	mux.HandleFunc("POST /api/validation/cache/refresh", validationHandler.RefreshCache)

	mux.HandleFunc("GET /api/health", handleHealth(monitor))
	mux.HandleFunc("GET /ws", hub.HandleWS)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logging.Info("Terminal API listening", map[string]interface{}{
			"addr":        cfg.ListenAddr,
			"terminal_id": cfg.TerminalID,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server failed", err, nil)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down", nil)

	// Flush what we can before exit; a failed drain just leaves the
	// queue for the next start.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	if monitor.Online() {
		if _, err := pusher.DrainQueue(drainCtx, cfg.DrainTimeout); err != nil {
			logging.Warn("Shutdown drain failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	drainCancel()

	sched.Stop()
	monitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Forced shutdown", err, nil)
	}
}

// handleHealth reports process liveness plus the connectivity view.
func handleHealth(monitor *connectivity.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := models.OK(map[string]interface{}{
			"status": "ok",
			"online": monitor.Online(),
			"time":   time.Now().Unix(),
		})
		json.NewEncoder(w).Encode(result)
	}
}
