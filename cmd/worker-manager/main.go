// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tenant-provisioning/internal/common/appservice"
	"tenant-provisioning/internal/common/auth"
	commonaws "tenant-provisioning/internal/common/aws"
	"tenant-provisioning/internal/common/camunda"
	"tenant-provisioning/internal/common/config"
	"tenant-provisioning/internal/common/database"
	"tenant-provisioning/internal/common/logger"
	"tenant-provisioning/internal/common/observability"
	"tenant-provisioning/internal/provisioning"

	ap "tenant-provisioning/internal/workers/tenant/await-provisioning"
	ts "tenant-provisioning/internal/workers/tenant/tenant-setup"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

type registeredWorker interface {
	Stop(ctx context.Context)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	if err := config.RequireBroker(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...", zap.String("environment", cfg.App.Environment))

	obs := observability.New("tenant-worker-manager")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Setup-run ledger (optional) ---
	var ledger provisioning.Ledger
	if cfg.Database.Postgres.Enabled() {
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			if err := pg.Ping(ctx); err != nil {
				pg.Close()
				return err
			}
			return pg.EnsureSchema(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		ledger = provisioning.NewPostgresLedger(pg.DB)
		zapLog.Info("Setup ledger connected")
	} else {
		zapLog.Warn("database.postgres.host not set, setup runs are not recorded")
	}

	// --- Progress snapshots (optional) ---
	var store provisioning.ProgressStore
	if cfg.Database.Redis.Enabled() {
		var rdb *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			rdb, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		store = provisioning.NewRedisProgressStore(rdb.Client, config.GetDuration(cfg.Provisioning.ProgressTTL))
		zapLog.Info("Progress store connected")
	}

	// --- Notifications (optional) ---
	var notifier provisioning.Notifier
	if cfg.Notifications.SNS.Enabled {
		sns, err := commonaws.NewSNSClient(ctx, cfg.Notifications.SNS.Region, cfg.Notifications.SNS.TopicARN)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		notifier = sns
	}

	// --- Backends ---
	kc := cfg.Auth.Keycloak
	identity := auth.NewKeycloakClient(kc.URL, kc.Realm, kc.ClientID, kc.ClientSecret, config.GetDuration(kc.RequestTimeout))
	app := appservice.NewClient(
		cfg.ApplicationService.BaseURL,
		cfg.ApplicationService.APIToken,
		config.GetDuration(cfg.ApplicationService.RequestTimeout),
	)

	orchestrator := provisioning.NewSetupOrchestrator(provisioning.Dependencies{
		Identity:      identity,
		Application:   app,
		Ledger:        ledger,
		Progress:      store,
		Observability: obs,
		Logger:        log,
	}, provisioning.Options{
		AdminGroupName:     cfg.Provisioning.AdminGroupName,
		AssignRetryBackoff: config.GetDuration(cfg.Provisioning.AssignRetryBackoff),
		CreateTimeout:      config.GetDuration(cfg.ApplicationService.CreateTimeout),
	})
	poller := provisioning.NewProgressPoller(app, store, config.GetDuration(cfg.Provisioning.PollInterval), log)

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClient(cfg.Camunda)
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Register workers ---
	var workers []registeredWorker

	setupHandler, err := ts.NewHandler(ts.HandlerOptions{
		AppConfig:     cfg,
		Orchestrator:  orchestrator,
		Logger:        log,
		Observability: obs,
	})
	if err != nil {
		zapLog.Fatal("tenant setup handler failed", zap.Error(err))
	}
	if setupHandler.IsEnabled() {
		w := camunda.NewWorker(zeebe.GetClient(), setupHandler.GetTaskType(), setupHandler.WorkerOptions(), setupHandler, log)
		w.Start()
		workers = append(workers, w)
	} else {
		zapLog.Info("worker disabled", zap.String("taskType", setupHandler.GetTaskType()))
	}

	awaitHandler, err := ap.NewHandler(ap.HandlerOptions{
		AppConfig:     cfg,
		Poller:        poller,
		Notifier:      notifier,
		Ledger:        ledger,
		Logger:        log,
		Observability: obs,
	})
	if err != nil {
		zapLog.Fatal("await provisioning handler failed", zap.Error(err))
	}
	if awaitHandler.IsEnabled() {
		w := camunda.NewWorker(zeebe.GetClient(), awaitHandler.GetTaskType(), awaitHandler.WorkerOptions(), awaitHandler, log)
		w.Start()
		workers = append(workers, w)
	} else {
		zapLog.Info("worker disabled", zap.String("taskType", awaitHandler.GetTaskType()))
	}

	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		readyCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := zeebe.HealthCheck(readyCtx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "broker unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.Server.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
