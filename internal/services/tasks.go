package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fintrack/bank-sync/internal/dto"
	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/queue"
)

// Durable task types. The concurrency key for per-connection tasks is the
// connection id, which is what serializes webhook-triggered and
// schedule-triggered work on the same connection.
const (
	TaskSync       = "connection.sync"
	TaskRemoved    = "connection.removed"
	TaskDelete     = "connection.delete"
	TaskHealthScan = "connections.scan"
)

type syncRunner interface {
	Sync(ctx context.Context, payload dto.SyncPayload) (dto.SyncResult, error)
}

type removalRunner interface {
	SyncRemovals(ctx context.Context, payload dto.SyncPayload) (dto.SyncResult, error)
}

type deleteRunner interface {
	Delete(ctx context.Context, payload dto.DeletePayload) (dto.DeleteResult, error)
}

type healthRunner interface {
	Scan(ctx context.Context) (dto.HealthScanResult, error)
}

// TaskDeps bundles the services the worker dispatches to.
type TaskDeps struct {
	Sync     syncRunner
	Removals removalRunner
	Delete   deleteRunner
	Health   healthRunner
}

// TaskDefinitions declares every task type with its retry policy and
// concurrency key. maxAttempts and syncTimeout come from config.
func TaskDefinitions(deps TaskDeps, maxAttempts int, syncTimeout time.Duration) []queue.Definition {
	return []queue.Definition{
		{
			Type:           TaskSync,
			MaxAttempts:    maxAttempts,
			Timeout:        syncTimeout,
			ConcurrencyKey: connectionKey,
			Run: func(ctx context.Context, payload []byte) (any, error) {
				var p dto.SyncPayload
				if err := json.Unmarshal(payload, &p); err != nil {
					return nil, errs.NewValidationError("bad sync payload: " + err.Error())
				}
				return deps.Sync.Sync(ctx, p)
			},
		},
		{
			Type:           TaskRemoved,
			MaxAttempts:    maxAttempts,
			Timeout:        syncTimeout,
			ConcurrencyKey: connectionKey,
			Run: func(ctx context.Context, payload []byte) (any, error) {
				var p dto.SyncPayload
				if err := json.Unmarshal(payload, &p); err != nil {
					return nil, errs.NewValidationError("bad removal payload: " + err.Error())
				}
				return deps.Removals.SyncRemovals(ctx, p)
			},
		},
		{
			Type:        TaskDelete,
			MaxAttempts: maxAttempts,
			Timeout:     syncTimeout,
			ConcurrencyKey: func(payload []byte) string {
				var p dto.DeletePayload
				if err := json.Unmarshal(payload, &p); err != nil {
					return ""
				}
				return p.ReferenceID
			},
			Run: func(ctx context.Context, payload []byte) (any, error) {
				var p dto.DeletePayload
				if err := json.Unmarshal(payload, &p); err != nil {
					return nil, errs.NewValidationError("bad delete payload: " + err.Error())
				}
				return deps.Delete.Delete(ctx, p)
			},
		},
		{
			Type:        TaskHealthScan,
			MaxAttempts: 2,
			Timeout:     5 * time.Minute,
			ConcurrencyKey: func([]byte) string {
				return TaskHealthScan // at most one scan in flight
			},
			Run: func(ctx context.Context, payload []byte) (any, error) {
				return deps.Health.Scan(ctx)
			},
		},
	}
}

func connectionKey(payload []byte) string {
	var p dto.SyncPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	return p.ConnectionID
}
