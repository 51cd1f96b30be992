package queue

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
	"github.com/fintrack/bank-sync/internal/observability"
	"github.com/fintrack/bank-sync/pkg/logger"
)

func testWorker(jobs *fakeJobStore) *Worker {
	log := slog.New(logger.NewTestHandler(slog.LevelInfo))
	return NewWorker(jobs, log, observability.NewMetrics(), 4)
}

func pendingJob(id string, attempts int) *models.Job {
	return &models.Job{
		ID:          id,
		Type:        "connection.sync",
		Payload:     []byte(`{"connectionId":"conn-1"}`),
		Status:      models.JobPending,
		Attempts:    attempts,
		MaxAttempts: 5,
	}
}

func runOneTick(t *testing.T, w *Worker) {
	t.Helper()
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(4)
	w.Tick(ctx, g)
	if err := g.Wait(); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
}

func TestWorkerCompletesSuccessfulJob(t *testing.T) {
	jobs := newFakeJobStore()
	job := pendingJob("job-1", 0)
	jobs.due = []*models.Job{job}
	claimed := *job
	claimed.Attempts = 1
	jobs.claim = &claimed

	w := testWorker(jobs)
	ran := 0
	w.Register(Definition{
		Type:    "connection.sync",
		Timeout: time.Minute,
		Run: func(ctx context.Context, payload []byte) (any, error) {
			ran++
			return nil, nil
		},
	})

	runOneTick(t, w)
	if ran != 1 {
		t.Fatalf("handler ran %d times, want 1", ran)
	}
	if len(jobs.completed) != 1 || jobs.completed[0] != "job-1" {
		t.Fatalf("unexpected completions: %#v", jobs.completed)
	}
}

func TestWorkerRetriesWithBackoff(t *testing.T) {
	jobs := newFakeJobStore()
	job := pendingJob("job-1", 1)
	jobs.due = []*models.Job{job}
	claimed := *job
	claimed.Attempts = 2
	jobs.claim = &claimed

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	w := testWorker(jobs)
	w.clockNow = func() time.Time { return now }
	w.Register(Definition{
		Type:    "connection.sync",
		Timeout: time.Minute,
		Run: func(ctx context.Context, payload []byte) (any, error) {
			return nil, errors.New("provider unavailable")
		},
	})

	runOneTick(t, w)
	at, ok := jobs.retries["job-1"]
	if !ok {
		t.Fatalf("job not scheduled for retry: dead=%#v completed=%#v", jobs.dead, jobs.completed)
	}
	if want := now.Add(Backoff(2)); !at.Equal(want) {
		t.Fatalf("retry at %v, want %v", at, want)
	}
}

func TestWorkerDeadLettersTerminalError(t *testing.T) {
	jobs := newFakeJobStore()
	job := pendingJob("job-1", 0)
	jobs.due = []*models.Job{job}
	claimed := *job
	claimed.Attempts = 1
	jobs.claim = &claimed

	w := testWorker(jobs)
	w.Register(Definition{
		Type:    "connection.sync",
		Timeout: time.Minute,
		Run: func(ctx context.Context, payload []byte) (any, error) {
			return nil, errs.NewNotFoundError("connection conn-1 not found")
		},
	})

	runOneTick(t, w)
	if _, ok := jobs.dead["job-1"]; !ok {
		t.Fatalf("terminal error must dead-letter immediately: retries=%#v", jobs.retries)
	}
	if len(jobs.retries) != 0 {
		t.Fatalf("terminal error must not be retried: %#v", jobs.retries)
	}
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	jobs := newFakeJobStore()
	job := pendingJob("job-1", 4)
	jobs.due = []*models.Job{job}
	claimed := *job
	claimed.Attempts = 5
	jobs.claim = &claimed

	w := testWorker(jobs)
	w.Register(Definition{
		Type:    "connection.sync",
		Timeout: time.Minute,
		Run: func(ctx context.Context, payload []byte) (any, error) {
			return nil, errors.New("still failing")
		},
	})

	runOneTick(t, w)
	if jobs.dead["job-1"] != "still failing" {
		t.Fatalf("max attempts reached, expected dead letter: %#v", jobs.dead)
	}
}

func TestWorkerDeadLettersUnregisteredType(t *testing.T) {
	jobs := newFakeJobStore()
	jobs.due = []*models.Job{pendingJob("job-1", 0)}

	w := testWorker(jobs)
	runOneTick(t, w)
	if _, ok := jobs.dead["job-1"]; !ok {
		t.Fatalf("job without a definition must dead-letter: %#v", jobs.dead)
	}
}

func TestWorkerSkipsWhenClaimLost(t *testing.T) {
	jobs := newFakeJobStore()
	jobs.due = []*models.Job{pendingJob("job-1", 0)}
	jobs.claimErr = ErrKeyBusy

	w := testWorker(jobs)
	ran := 0
	w.Register(Definition{
		Type:    "connection.sync",
		Timeout: time.Minute,
		Run: func(ctx context.Context, payload []byte) (any, error) {
			ran++
			return nil, nil
		},
	})

	runOneTick(t, w)
	if ran != 0 {
		t.Fatal("busy concurrency key must skip the run")
	}
	if len(jobs.completed)+len(jobs.dead)+len(jobs.retries) != 0 {
		t.Fatalf("no state change expected: %#v %#v %#v", jobs.completed, jobs.dead, jobs.retries)
	}
}

func TestWorkerSkipsJobWhileKeyHeld(t *testing.T) {
	jobs := newFakeJobStore()
	job := pendingJob("job-1", 0)
	job.ConcurrencyKey = "conn-1"
	jobs.due = []*models.Job{job}
	claimed := *job
	claimed.Attempts = 1
	jobs.claim = &claimed

	w := testWorker(jobs)
	started := 0
	w.Register(Definition{
		Type:    "connection.sync",
		Timeout: time.Minute,
		Run: func(ctx context.Context, payload []byte) (any, error) {
			started++
			return nil, nil
		},
	})

	// Simulate a sibling with the same key already in flight.
	lock := w.keyLock("conn-1")
	lock.Lock()
	runOneTick(t, w)
	if started != 0 {
		t.Fatal("jobs sharing a key must not overlap")
	}
	if len(jobs.completed)+len(jobs.dead)+len(jobs.retries) != 0 {
		t.Fatalf("skipped job must stay pending: %#v %#v %#v", jobs.completed, jobs.dead, jobs.retries)
	}

	// Once the sibling finishes, the next tick runs it.
	lock.Unlock()
	runOneTick(t, w)
	if started != 1 {
		t.Fatalf("handler ran %d times after the key freed, want 1", started)
	}
}
