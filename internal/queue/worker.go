package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
	"github.com/fintrack/bank-sync/internal/observability"
)

const (
	defaultPollInterval = 2 * time.Second
	leaseMargin         = 30 * time.Second
)

// Worker polls for due jobs and runs them through registered definitions.
// Cross-key work runs in parallel bounded by the global concurrency limit;
// jobs sharing a concurrency key serialize via the store-level lease check
// plus an in-process keyed lock.
type Worker struct {
	jobs         jobStore
	log          *slog.Logger
	metrics      *observability.Metrics
	concurrency  int
	pollInterval time.Duration
	clockNow     func() time.Time

	defs map[string]Definition

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

func NewWorker(jobs jobStore, log *slog.Logger, metrics *observability.Metrics, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		jobs:         jobs,
		log:          log,
		metrics:      metrics,
		concurrency:  concurrency,
		pollInterval: defaultPollInterval,
		clockNow:     time.Now,
		defs:         map[string]Definition{},
		keyLocks:     map[string]*sync.Mutex{},
	}
}

func (w *Worker) Register(def Definition) {
	w.defs[def.Type] = def
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.Wait()
			return ctx.Err()
		case <-ticker.C:
		}

		w.Tick(gctx, g)
	}
}

// Tick runs one poll cycle: reap expired leases, then dispatch due jobs.
func (w *Worker) Tick(ctx context.Context, g *errgroup.Group) {
	now := w.clockNow()

	if reaped, err := w.jobs.ReapExpired(ctx, now); err != nil {
		w.log.Error("lease reap failed", "error", err)
	} else if reaped > 0 {
		w.log.Warn("requeued expired leases", "count", reaped)
	}

	due, err := w.jobs.Due(ctx, now, w.concurrency*2)
	if err != nil {
		w.log.Error("job poll failed", "error", err)
		return
	}

	for _, job := range due {
		job := job
		g.Go(func() error {
			w.runJob(ctx, job)
			return nil
		})
	}
}

func (w *Worker) runJob(ctx context.Context, job *models.Job) {
	def, ok := w.defs[job.Type]
	if !ok {
		w.log.Error("no definition for job type", "job_id", job.ID, "type", job.Type)
		w.jobs.Dead(ctx, job.ID, "unregistered job type")
		return
	}

	// In-process half of the per-key mutual exclusion; the store-level lease
	// check covers other worker processes. Enqueuers stamp the key on the
	// job; the definition derives it when they did not.
	key := job.ConcurrencyKey
	if key == "" && def.ConcurrencyKey != nil {
		key = def.ConcurrencyKey(job.Payload)
	}
	if key != "" {
		lock := w.keyLock(key)
		if !lock.TryLock() {
			return // sibling in flight; job stays pending for a later tick
		}
		defer lock.Unlock()
	}

	claimed, err := w.jobs.Claim(ctx, job.ID, w.clockNow(), def.Timeout+leaseMargin)
	if err != nil {
		// Lost the race or the key is busy; both are routine.
		return
	}

	log := w.log.With("job_id", claimed.ID, "type", claimed.Type, "attempt", claimed.Attempts)
	start := w.clockNow()

	runCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	_, runErr := def.Run(runCtx, claimed.Payload)
	cancel()

	w.metrics.ObserveJob(claimed.Type, outcome(runErr), w.clockNow().Sub(start))

	if runErr == nil {
		if err := w.jobs.Complete(ctx, claimed.ID); err != nil {
			log.Error("job completion write failed", "error", err)
		}
		return
	}

	if errs.IsTerminal(runErr) || claimed.Attempts >= claimed.MaxAttempts {
		log.Error("job dead", "error", runErr)
		if err := w.jobs.Dead(ctx, claimed.ID, runErr.Error()); err != nil {
			log.Error("dead-letter write failed", "error", err)
		}
		return
	}

	wait := Backoff(claimed.Attempts)
	log.Warn("job failed, will retry", "error", runErr, "retry_in", wait)
	if err := w.jobs.RetryAt(ctx, claimed.ID, w.clockNow().Add(wait), runErr.Error()); err != nil {
		log.Error("retry write failed", "error", err)
	}
}

func (w *Worker) keyLock(key string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		w.keyLocks[key] = lock
	}
	return lock
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errs.IsTerminal(err):
		return "terminal"
	default:
		return "retryable"
	}
}
