package services

import (
	"context"
	"time"

	"github.com/fintrack/bank-sync/internal/dto"
	"github.com/fintrack/bank-sync/internal/models"
	"github.com/fintrack/bank-sync/internal/notify"
	"github.com/fintrack/bank-sync/internal/observability"
	"github.com/fintrack/bank-sync/pkg/logger"
)

// --- Dependencies (minimal interfaces scoped to this service) ---

type connectionHealthStore interface {
	FindStaleSyncing(ctx context.Context, changedBefore time.Time) ([]*models.BankConnection, error)
	FindStaleUnhealthy(ctx context.Context, notifiedBefore time.Time, statuses []models.ConnectionStatus) ([]*models.BankConnection, error)
	FindAbandoned(ctx context.Context, statusChangedBefore time.Time, minNotifications int) ([]*models.BankConnection, error)
	UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error
	RecordNotified(ctx context.Context, id string, at time.Time) error
	Disable(ctx context.Context, id string) error
}

type accountHealthStore interface {
	ListByConnection(ctx context.Context, connectionID string) ([]*models.BankAccount, error)
}

// HealthPolicy carries the escalation thresholds. Values are policy, not
// invariants, so they arrive from config.
type HealthPolicy struct {
	NotifyCooldown     time.Duration
	DisableAfter       time.Duration
	DisableMinNotified int
	SyncTimeout        time.Duration
}

type healthService struct {
	connections connectionHealthStore
	accounts    accountHealthStore
	notifier    notify.Notifier
	metrics     *observability.Metrics
	policy      HealthPolicy
	clockNow    func() time.Time
}

func NewHealthService(
	connections connectionHealthStore,
	accounts accountHealthStore,
	notifier notify.Notifier,
	metrics *observability.Metrics,
	policy HealthPolicy,
) *healthService {
	return &healthService{
		connections: connections,
		accounts:    accounts,
		notifier:    notifier,
		metrics:     metrics,
		policy:      policy,
		clockNow:    time.Now,
	}
}

// Scan runs one health pass: reap stuck SYNCING states, send throttled
// escalation notifications, auto-disable abandoned connections. One
// connection's failure never aborts processing of its siblings, so every
// step is isolated per item.
func (s *healthService) Scan(ctx context.Context) (dto.HealthScanResult, error) {
	result := dto.HealthScanResult{}
	log := logger.FromContext(ctx)

	result.Reaped = s.reapStaleSyncing(ctx)
	result.Notified = s.notifyUnhealthy(ctx)
	result.Disabled = s.disableAbandoned(ctx)

	log.Info("health scan completed",
		"reaped", result.Reaped,
		"notified", result.Notified,
		"disabled", result.Disabled,
	)
	return result, nil
}

// reapStaleSyncing clears connections stuck in the transient SYNCING state
// longer than the sync timeout allows (crashed worker, lost lease); they move
// to FAILED so the next trigger can run.
func (s *healthService) reapStaleSyncing(ctx context.Context) int {
	log := logger.FromContext(ctx)
	cutoff := s.clockNow().Add(-2 * s.policy.SyncTimeout)

	stuck, err := s.connections.FindStaleSyncing(ctx, cutoff)
	if err != nil {
		log.Error("stale SYNCING query failed", "error", err)
		return 0
	}

	reaped := 0
	for _, conn := range stuck {
		if err := s.connections.UpdateStatus(ctx, conn.ID, models.StatusFailed); err != nil {
			log.Error("stale SYNCING reap failed", "connection_id", conn.ID, "error", err)
			continue
		}
		reaped++
	}
	return reaped
}

// notifyUnhealthy emits one escalation notification per unhealthy connection
// outside its cool-down window, then records the send atomically. Connections
// with no enabled account are skipped: nobody is looking at their data.
func (s *healthService) notifyUnhealthy(ctx context.Context) int {
	log := logger.FromContext(ctx)
	now := s.clockNow()

	stale, err := s.connections.FindStaleUnhealthy(ctx, now.Add(-s.policy.NotifyCooldown), models.UnhealthyStatuses)
	if err != nil {
		log.Error("unhealthy connection query failed", "error", err)
		return 0
	}

	notified := 0
	for _, conn := range stale {
		// Re-check the cool-down against the record itself; the scan may be
		// re-run and notification sends must not double up.
		if conn.LastNotifiedAt != nil && conn.LastNotifiedAt.After(now.Add(-s.policy.NotifyCooldown)) {
			continue
		}

		accounts, err := s.accounts.ListByConnection(ctx, conn.ID)
		if err != nil {
			log.Error("account lookup failed", "connection_id", conn.ID, "error", err)
			continue
		}
		if !anyEnabled(accounts) {
			continue
		}

		err = s.notifier.Notify(ctx, notify.Event{
			OwnerUID:        conn.OwnerUID,
			ConnectionID:    conn.ID,
			InstitutionName: conn.InstitutionName,
			Status:          conn.Status,
			Escalation:      conn.NotificationCount + 1,
		})
		if err != nil {
			log.Error("notification failed", "connection_id", conn.ID, "error", err)
			continue
		}

		if err := s.connections.RecordNotified(ctx, conn.ID, now); err != nil {
			log.Error("notification bookkeeping failed", "connection_id", conn.ID, "error", err)
			continue
		}
		s.metrics.IncrNotification()
		notified++
	}
	return notified
}

// disableAbandoned turns off connections that stayed unhealthy past the
// disable window and accumulated enough notifications. Both thresholds must
// hold: the notification floor keeps a connection nobody was told about from
// being disabled, the time floor keeps noisy-but-fresh failures alive.
// Disabling is one-way; recovery requires the user to re-link.
func (s *healthService) disableAbandoned(ctx context.Context) int {
	log := logger.FromContext(ctx)
	cutoff := s.clockNow().Add(-s.policy.DisableAfter)

	abandoned, err := s.connections.FindAbandoned(ctx, cutoff, s.policy.DisableMinNotified)
	if err != nil {
		log.Error("abandoned connection query failed", "error", err)
		return 0
	}

	disabled := 0
	for _, conn := range abandoned {
		if err := s.connections.Disable(ctx, conn.ID); err != nil {
			log.Error("auto-disable failed", "connection_id", conn.ID, "error", err)
			continue
		}
		log.Info("connection auto-disabled",
			"connection_id", conn.ID,
			"institution", conn.InstitutionName,
			"notification_count", conn.NotificationCount,
		)
		s.metrics.IncrDisabled()
		disabled++
	}
	return disabled
}

func anyEnabled(accounts []*models.BankAccount) bool {
	for _, a := range accounts {
		if a.Enabled {
			return true
		}
	}
	return false
}
