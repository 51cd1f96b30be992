package store

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
	"github.com/fintrack/bank-sync/internal/queue"
)

type jobStore struct {
	client *firestore.Client
}

func NewJobStore(client *firestore.Client) *jobStore {
	return &jobStore{client: client}
}

func (s *jobStore) collection() *firestore.CollectionRef {
	return s.client.Collection("jobs")
}

func (s *jobStore) Create(ctx context.Context, job *models.Job) error {
	_, err := s.collection().Doc(job.ID).Create(ctx, job)
	if status.Code(err) == codes.AlreadyExists {
		return errs.NewAlreadyExistsError("job already enqueued")
	}
	if err != nil {
		return errs.NewDatabaseError("job.create", err.Error())
	}
	return nil
}

func (s *jobStore) Due(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	docs, err := s.collection().
		Where("status", "==", models.JobPending).
		Where("nextRunAt", "<=", now).
		OrderBy("nextRunAt", firestore.Asc).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, errs.NewDatabaseError("job.due", err.Error())
	}

	jobs := make([]*models.Job, 0, len(docs))
	for _, d := range docs {
		var j models.Job
		if err := d.DataTo(&j); err != nil {
			return nil, errs.NewDatabaseError("job.due", err.Error())
		}
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

// Claim takes a lease on a pending job inside a storage transaction. The
// transaction also verifies no other job with the same concurrency key holds
// a live lease, which is what serializes syncs per connection across worker
// processes.
func (s *jobStore) Claim(ctx context.Context, id string, now time.Time, leaseFor time.Duration) (*models.Job, error) {
	ref := s.collection().Doc(id)
	var claimed models.Job

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if err := doc.DataTo(&claimed); err != nil {
			return err
		}
		if claimed.Status != models.JobPending || claimed.NextRunAt.After(now) {
			return queue.ErrNotClaimable
		}

		if claimed.ConcurrencyKey != "" {
			running := tx.Documents(s.collection().
				Where("concurrencyKey", "==", claimed.ConcurrencyKey).
				Where("status", "==", models.JobRunning))
			for {
				sibling, err := running.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					return err
				}
				var other models.Job
				if err := sibling.DataTo(&other); err != nil {
					return err
				}
				if other.LeaseExpiresAt.After(now) {
					return queue.ErrKeyBusy
				}
			}
		}

		claimed.Status = models.JobRunning
		claimed.Attempts++
		claimed.LeaseExpiresAt = now.Add(leaseFor)
		claimed.UpdatedAt = now
		return tx.Set(ref, claimed)
	})
	if err == queue.ErrNotClaimable || err == queue.ErrKeyBusy {
		return nil, err
	}
	if err != nil {
		return nil, errs.NewDatabaseError("job.claim", err.Error())
	}
	return &claimed, nil
}

func (s *jobStore) Complete(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.JobSucceeded, "")
}

func (s *jobStore) Dead(ctx context.Context, id string, lastError string) error {
	return s.setStatus(ctx, id, models.JobDead, lastError)
}

func (s *jobStore) RetryAt(ctx context.Context, id string, at time.Time, lastError string) error {
	_, err := s.collection().Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: models.JobPending},
		{Path: "nextRunAt", Value: at},
		{Path: "lastError", Value: lastError},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return errs.NewDatabaseError("job.retryAt", err.Error())
	}
	return nil
}

// ReapExpired requeues running jobs whose lease expired (crashed or hung
// workers) so they retry instead of staying stuck.
func (s *jobStore) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	docs, err := s.collection().
		Where("status", "==", models.JobRunning).
		Where("leaseExpiresAt", "<", now).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, errs.NewDatabaseError("job.reapExpired", err.Error())
	}

	reaped := 0
	for _, d := range docs {
		if _, err := d.Ref.Update(ctx, []firestore.Update{
			{Path: "status", Value: models.JobPending},
			{Path: "nextRunAt", Value: now},
			{Path: "lastError", Value: "lease expired"},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return reaped, errs.NewDatabaseError("job.reapExpired", err.Error())
		}
		reaped++
	}
	return reaped, nil
}

func (s *jobStore) setStatus(ctx context.Context, id string, st models.JobStatus, lastError string) error {
	updates := []firestore.Update{
		{Path: "status", Value: st},
		{Path: "updatedAt", Value: time.Now()},
	}
	if lastError != "" {
		updates = append(updates, firestore.Update{Path: "lastError", Value: lastError})
	}
	_, err := s.collection().Doc(id).Update(ctx, updates)
	if err != nil {
		return errs.NewDatabaseError("job.setStatus", err.Error())
	}
	return nil
}
