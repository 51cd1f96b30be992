package queue

import (
	"context"
	"testing"
	"time"

	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
)

type fakeJobStore struct {
	created   []*models.Job
	createErr error

	due      []*models.Job
	claim    *models.Job
	claimErr error

	completed []string
	dead      map[string]string
	retries   map[string]time.Time
	reaped    int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		dead:    map[string]string{},
		retries: map[string]time.Time{},
	}
}

func (f *fakeJobStore) Create(ctx context.Context, job *models.Job) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, job)
	return nil
}

func (f *fakeJobStore) Due(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	return f.due, nil
}

func (f *fakeJobStore) Claim(ctx context.Context, id string, now time.Time, leaseFor time.Duration) (*models.Job, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.claim, nil
}

func (f *fakeJobStore) Complete(ctx context.Context, id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeJobStore) RetryAt(ctx context.Context, id string, at time.Time, lastError string) error {
	f.retries[id] = at
	return nil
}

func (f *fakeJobStore) Dead(ctx context.Context, id string, lastError string) error {
	f.dead[id] = lastError
	return nil
}

func (f *fakeJobStore) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	return f.reaped, nil
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 500 * time.Millisecond},
		{2, 900 * time.Millisecond},
		{3, 1620 * time.Millisecond},
		{20, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempt); got != tc.want {
			t.Fatalf("Backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestEnqueueDefaults(t *testing.T) {
	jobs := newFakeJobStore()
	c := NewClient(jobs)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	c.clockNow = func() time.Time { return now }

	id, err := c.Enqueue(context.Background(), "connection.sync", map[string]string{"connectionId": "c1"})
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if id == "" {
		t.Fatal("empty job id")
	}
	if len(jobs.created) != 1 {
		t.Fatalf("expected one Create, got %d", len(jobs.created))
	}
	job := jobs.created[0]
	if job.Status != models.JobPending || job.MaxAttempts != 5 {
		t.Fatalf("unexpected defaults: %#v", job)
	}
	if !job.NextRunAt.Equal(now) {
		t.Fatalf("NextRunAt = %v, want %v", job.NextRunAt, now)
	}
}

func TestEnqueueOptions(t *testing.T) {
	jobs := newFakeJobStore()
	c := NewClient(jobs)

	id, err := c.Enqueue(context.Background(), "connection.sync", struct{}{},
		WithDedupeID("wh-item-1"),
		WithConcurrencyKey("conn-1"),
		WithMaxAttempts(3),
	)
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if id != "wh-item-1" {
		t.Fatalf("dedupe id must become the job id, got %q", id)
	}
	job := jobs.created[0]
	if job.ConcurrencyKey != "conn-1" || job.MaxAttempts != 3 {
		t.Fatalf("options not applied: %#v", job)
	}
}

func TestEnqueueDuplicateIsNoOp(t *testing.T) {
	jobs := newFakeJobStore()
	jobs.createErr = errs.NewAlreadyExistsError("job wh-item-1 exists")
	c := NewClient(jobs)

	id, err := c.Enqueue(context.Background(), "connection.sync", struct{}{}, WithDedupeID("wh-item-1"))
	if err != nil {
		t.Fatalf("duplicate enqueue must not error: %v", err)
	}
	if id != "wh-item-1" {
		t.Fatalf("id = %q, want the existing job id", id)
	}
}
