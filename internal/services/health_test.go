package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fintrack/bank-sync/internal/models"
	"github.com/fintrack/bank-sync/internal/notify"
	"github.com/fintrack/bank-sync/internal/observability"
)

type healthFakeConnStore struct {
	staleSyncing []*models.BankConnection
	unhealthy    []*models.BankConnection
	abandoned    []*models.BankConnection

	statuses   map[string]models.ConnectionStatus
	notifiedAt map[string]time.Time
	disabled   []string
	disableErr error
}

func newHealthFakeConnStore() *healthFakeConnStore {
	return &healthFakeConnStore{
		statuses:   map[string]models.ConnectionStatus{},
		notifiedAt: map[string]time.Time{},
	}
}

func (f *healthFakeConnStore) FindStaleSyncing(ctx context.Context, changedBefore time.Time) ([]*models.BankConnection, error) {
	return f.staleSyncing, nil
}

func (f *healthFakeConnStore) FindStaleUnhealthy(ctx context.Context, notifiedBefore time.Time, statuses []models.ConnectionStatus) ([]*models.BankConnection, error) {
	return f.unhealthy, nil
}

func (f *healthFakeConnStore) FindAbandoned(ctx context.Context, statusChangedBefore time.Time, minNotifications int) ([]*models.BankConnection, error) {
	return f.abandoned, nil
}

func (f *healthFakeConnStore) UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error {
	f.statuses[id] = status
	return nil
}

func (f *healthFakeConnStore) RecordNotified(ctx context.Context, id string, at time.Time) error {
	f.notifiedAt[id] = at
	return nil
}

func (f *healthFakeConnStore) Disable(ctx context.Context, id string) error {
	if f.disableErr != nil {
		return f.disableErr
	}
	f.disabled = append(f.disabled, id)
	return nil
}

type healthFakeAccountStore struct {
	accounts map[string][]*models.BankAccount
	err      error
}

func (f *healthFakeAccountStore) ListByConnection(ctx context.Context, connectionID string) ([]*models.BankAccount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts[connectionID], nil
}

type fakeNotifier struct {
	events []notify.Event
	err    error
}

func (f *fakeNotifier) Notify(ctx context.Context, event notify.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func testPolicy() HealthPolicy {
	return HealthPolicy{
		NotifyCooldown:     72 * time.Hour,
		DisableAfter:       30 * 24 * time.Hour,
		DisableMinNotified: 5,
		SyncTimeout:        2 * time.Minute,
	}
}

func unhealthyConn(id string, lastNotified *time.Time, count int) *models.BankConnection {
	return &models.BankConnection{
		ID:                "conn-" + id,
		OwnerUID:          "uid-1",
		Status:            models.StatusLoginRequired,
		LastNotifiedAt:    lastNotified,
		NotificationCount: count,
	}
}

func enabledAccounts(connID string) map[string][]*models.BankAccount {
	return map[string][]*models.BankAccount{
		connID: {{ID: "a1", Enabled: true}},
	}
}

func TestHealthScanReapsStaleSyncing(t *testing.T) {
	conns := newHealthFakeConnStore()
	conns.staleSyncing = []*models.BankConnection{
		{ID: "conn-1", Status: models.StatusSyncing},
		{ID: "conn-2", Status: models.StatusSyncing},
	}
	svc := NewHealthService(conns, &healthFakeAccountStore{}, &fakeNotifier{}, observability.NewMetrics(), testPolicy())

	result, err := svc.Scan(testCtx())
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if result.Reaped != 2 {
		t.Fatalf("reaped = %d, want 2", result.Reaped)
	}
	if conns.statuses["conn-1"] != models.StatusFailed || conns.statuses["conn-2"] != models.StatusFailed {
		t.Fatalf("stuck connections not moved to FAILED: %#v", conns.statuses)
	}
}

func TestHealthNotifyRespectsCooldown(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-1 * time.Hour)
	old := now.Add(-100 * time.Hour)

	conns := newHealthFakeConnStore()
	conns.unhealthy = []*models.BankConnection{
		unhealthyConn("fresh", &recent, 1),
		unhealthyConn("due", &old, 2),
		unhealthyConn("never", nil, 0),
	}
	accounts := &healthFakeAccountStore{accounts: map[string][]*models.BankAccount{
		"conn-due":   {{ID: "a1", Enabled: true}},
		"conn-never": {{ID: "a2", Enabled: true}},
	}}
	notifier := &fakeNotifier{}
	svc := NewHealthService(conns, accounts, notifier, observability.NewMetrics(), testPolicy())
	svc.clockNow = func() time.Time { return now }

	result, err := svc.Scan(testCtx())
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if result.Notified != 2 {
		t.Fatalf("notified = %d, want 2", result.Notified)
	}
	if len(notifier.events) != 2 {
		t.Fatalf("expected 2 notification events, got %d", len(notifier.events))
	}
	if notifier.events[0].Escalation != 3 {
		t.Fatalf("escalation = %d, want notification count + 1 = 3", notifier.events[0].Escalation)
	}
	if _, ok := conns.notifiedAt["conn-fresh"]; ok {
		t.Fatal("connection inside cool-down must not be re-notified")
	}
	if _, ok := conns.notifiedAt["conn-due"]; !ok {
		t.Fatal("RecordNotified not called for notified connection")
	}
}

func TestHealthNotifySkipsWithoutEnabledAccounts(t *testing.T) {
	conns := newHealthFakeConnStore()
	conns.unhealthy = []*models.BankConnection{unhealthyConn("1", nil, 0)}
	accounts := &healthFakeAccountStore{accounts: map[string][]*models.BankAccount{
		"conn-1": {{ID: "a1", Enabled: false}},
	}}
	notifier := &fakeNotifier{}
	svc := NewHealthService(conns, accounts, notifier, observability.NewMetrics(), testPolicy())

	result, err := svc.Scan(testCtx())
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if result.Notified != 0 || len(notifier.events) != 0 {
		t.Fatalf("connection without enabled accounts must not notify, got %d events", len(notifier.events))
	}
}

func TestHealthNotifyFailureSkipsBookkeeping(t *testing.T) {
	conns := newHealthFakeConnStore()
	conns.unhealthy = []*models.BankConnection{unhealthyConn("1", nil, 0)}
	accounts := &healthFakeAccountStore{accounts: enabledAccounts("conn-1")}
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	svc := NewHealthService(conns, accounts, notifier, observability.NewMetrics(), testPolicy())

	result, err := svc.Scan(testCtx())
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if result.Notified != 0 {
		t.Fatalf("notified = %d, want 0", result.Notified)
	}
	if len(conns.notifiedAt) != 0 {
		t.Fatal("RecordNotified must not run when the send failed")
	}
}

func TestHealthDisablesAbandoned(t *testing.T) {
	conns := newHealthFakeConnStore()
	conns.abandoned = []*models.BankConnection{
		{ID: "conn-1", NotificationCount: 6},
	}
	svc := NewHealthService(conns, &healthFakeAccountStore{}, &fakeNotifier{}, observability.NewMetrics(), testPolicy())

	result, err := svc.Scan(testCtx())
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if result.Disabled != 1 {
		t.Fatalf("disabled = %d, want 1", result.Disabled)
	}
	if len(conns.disabled) != 1 || conns.disabled[0] != "conn-1" {
		t.Fatalf("unexpected disable calls: %#v", conns.disabled)
	}
}

func TestHealthDisableFailureIsIsolated(t *testing.T) {
	conns := newHealthFakeConnStore()
	conns.abandoned = []*models.BankConnection{{ID: "conn-1"}}
	conns.disableErr = errors.New("transaction aborted")
	svc := NewHealthService(conns, &healthFakeAccountStore{}, &fakeNotifier{}, observability.NewMetrics(), testPolicy())

	result, err := svc.Scan(testCtx())
	if err != nil {
		t.Fatalf("Scan must not fail on a single item: %v", err)
	}
	if result.Disabled != 0 {
		t.Fatalf("disabled = %d, want 0", result.Disabled)
	}
}
