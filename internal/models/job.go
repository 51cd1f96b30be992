package models

import (
	"time"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed" // will be retried
	JobDead      JobStatus = "dead"   // out of attempts or terminal error
)

// Job is one durable unit of work. Jobs survive process restarts; a worker
// claims a job by taking a lease inside a storage transaction.
type Job struct {
	ID             string    `firestore:"id" json:"id"`
	Type           string    `firestore:"type" json:"type"`
	Payload        []byte    `firestore:"payload" json:"payload"`
	Status         JobStatus `firestore:"status" json:"status"`
	ConcurrencyKey string    `firestore:"concurrencyKey" json:"concurrencyKey"`
	Attempts       int       `firestore:"attempts" json:"attempts"`
	MaxAttempts    int       `firestore:"maxAttempts" json:"maxAttempts"`
	NextRunAt      time.Time `firestore:"nextRunAt" json:"nextRunAt"`
	LeaseExpiresAt time.Time `firestore:"leaseExpiresAt" json:"leaseExpiresAt"`
	LastError      string    `firestore:"lastError" json:"lastError,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt" json:"updatedAt"`
}
