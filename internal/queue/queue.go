// Package queue implements a durable task queue on top of document storage.
// Jobs are independently schedulable, retryable units of work that survive
// process restarts; claiming takes a lease inside a storage transaction, and
// a per-job concurrency key gives mutual exclusion (one in-flight sync or
// delete per connection).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
)

// ErrKeyBusy is returned by Claim when another job with the same concurrency
// key holds a live lease.
var ErrKeyBusy = errors.New("concurrency key busy")

// ErrNotClaimable is returned by Claim when the job is no longer pending or
// not yet due.
var ErrNotClaimable = errors.New("job not claimable")

// Definition declares one task type: its retry policy, wall-clock timeout,
// concurrency key derivation and handler.
type Definition struct {
	Type           string
	MaxAttempts    int
	Timeout        time.Duration
	ConcurrencyKey func(payload []byte) string
	Run            func(ctx context.Context, payload []byte) (any, error)
}

// jobStore is the durable storage surface the queue needs.
type jobStore interface {
	Create(ctx context.Context, job *models.Job) error
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	Claim(ctx context.Context, id string, now time.Time, leaseFor time.Duration) (*models.Job, error)
	Complete(ctx context.Context, id string) error
	RetryAt(ctx context.Context, id string, at time.Time, lastError string) error
	Dead(ctx context.Context, id string, lastError string) error
	ReapExpired(ctx context.Context, now time.Time) (int, error)
}

// Backoff returns the wait before retry attempt n (1-based): base 500ms,
// factor 1.8, capped at 30s.
func Backoff(attempt int) time.Duration {
	const (
		base   = 500 * time.Millisecond
		factor = 1.8
		cap    = 30 * time.Second
	)
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	if d > cap {
		return cap
	}
	return d
}

// Client enqueues jobs. Delivery is at-least-once; callers that need
// idempotent enqueue supply a dedupe id, which becomes the job id so repeat
// enqueues collapse into the existing job.
type Client struct {
	jobs     jobStore
	clockNow func() time.Time
}

func NewClient(jobs jobStore) *Client {
	return &Client{jobs: jobs, clockNow: time.Now}
}

type Option func(*models.Job)

// WithDedupeID makes the enqueue idempotent for the given id.
func WithDedupeID(id string) Option {
	return func(j *models.Job) { j.ID = id }
}

func WithConcurrencyKey(key string) Option {
	return func(j *models.Job) { j.ConcurrencyKey = key }
}

func WithMaxAttempts(n int) Option {
	return func(j *models.Job) { j.MaxAttempts = n }
}

// Enqueue persists a job of the given type. A duplicate dedupe id is a no-op
// and returns the existing job id.
func (c *Client) Enqueue(ctx context.Context, typ string, payload any, opts ...Option) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errs.NewValidationError("unencodable job payload: " + err.Error())
	}

	now := c.clockNow()
	job := &models.Job{
		ID:          uuid.NewString(),
		Type:        typ,
		Payload:     raw,
		Status:      models.JobPending,
		MaxAttempts: 5,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, opt := range opts {
		opt(job)
	}

	err = c.jobs.Create(ctx, job)
	var exists *errs.AlreadyExistsError
	if errors.As(err, &exists) {
		return job.ID, nil
	}
	if err != nil {
		return "", err
	}
	return job.ID, nil
}
