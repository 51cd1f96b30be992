package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fintrack/bank-sync/internal/bootstrap"
	"github.com/fintrack/bank-sync/internal/config"
	"github.com/fintrack/bank-sync/internal/crypto"
	"github.com/fintrack/bank-sync/internal/notify"
	"github.com/fintrack/bank-sync/internal/observability"
	"github.com/fintrack/bank-sync/internal/queue"
	"github.com/fintrack/bank-sync/internal/services"
	"github.com/fintrack/bank-sync/internal/store"
	"github.com/fintrack/bank-sync/pkg/logger"
)

func exitOnError(message string, err error, log *slog.Logger) {
	if err != nil {
		log.Error(message, "error", err)
		os.Exit(1)
	}
}

func main() {
	// bootstrap
	cfg := config.New()
	bs, err := bootstrap.Run(cfg)
	exitOnError("bootstrap failed", err, bs.Log)
	defer bs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.ToContext(ctx, bs.Log)

	// helpers
	kmsHelper := crypto.NewKMS(bs.KMS, cfg.KMSKeyName)
	metrics := observability.NewMetrics()

	// stores
	cstore := store.NewConnectionStore(bs.Firestore)
	astore := store.NewAccountStore(bs.Firestore)
	tstore := store.NewTransactionStore(bs.Firestore)
	tkstore := store.NewTokenStore(bs.Secrets, cfg.ProjectID, kmsHelper)
	jstore := store.NewJobStore(bs.Firestore)

	// queue producer, used by the scan scheduler
	jobs := queue.NewClient(jstore)

	// services
	reconciler := services.NewReconciler(tstore, astore, cfg.SyncWindowDays)
	sserv := services.NewSyncService(cstore, astore, bs.PlaidAdapter, tkstore, reconciler, metrics,
		cfg.SyncWindowDays, cfg.HistoricalWindowDays)
	rserv := services.NewRemovalService(cstore, astore, bs.PlaidAdapter, tkstore, tstore, reconciler,
		cfg.SyncWindowDays)
	dserv := services.NewDeleteService(cstore, bs.PlaidAdapter, tkstore)
	hserv := services.NewHealthService(cstore, astore, notify.NewLogNotifier(bs.Log), metrics, services.HealthPolicy{
		NotifyCooldown:     cfg.NotifyCooldown,
		DisableAfter:       cfg.DisableAfter,
		DisableMinNotified: cfg.DisableMinNotified,
		SyncTimeout:        cfg.SyncTimeout,
	})

	// worker
	w := queue.NewWorker(jstore, bs.Log, metrics, cfg.WorkerConcurrency)
	defs := services.TaskDefinitions(services.TaskDeps{
		Sync:     sserv,
		Removals: rserv,
		Delete:   dserv,
		Health:   hserv,
	}, cfg.MaxAttempts, cfg.SyncTimeout)
	for _, def := range defs {
		w.Register(def)
	}

	go scheduleHealthScans(ctx, jobs, cfg.HealthScanInterval, bs.Log)
	go serveMetrics(metrics, bs.Log)

	bs.Log.Info("worker starting", "concurrency", cfg.WorkerConcurrency)
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		exitOnError("worker stopped", err, bs.Log)
	}
}

// scheduleHealthScans enqueues the periodic health scan. The dedupe id is
// day-bucketed, so overlapping worker replicas enqueue at most one scan per
// day between them.
func scheduleHealthScans(ctx context.Context, jobs *queue.Client, interval time.Duration, log *slog.Logger) {
	enqueue := func() {
		dedupe := "scan-" + time.Now().UTC().Format("2006-01-02")
		if _, err := jobs.Enqueue(ctx, services.TaskHealthScan, struct{}{},
			queue.WithDedupeID(dedupe),
			queue.WithConcurrencyKey(services.TaskHealthScan),
		); err != nil {
			log.Error("health scan enqueue failed", "error", err)
		}
	}

	enqueue()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enqueue()
		}
	}
}

func serveMetrics(metrics *observability.Metrics, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := http.ListenAndServe(":9090", mux); err != nil {
		log.Error("metrics server stopped", "error", err)
	}
}
