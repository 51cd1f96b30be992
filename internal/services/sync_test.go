package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/fintrack/bank-sync/internal/dto"
	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
	"github.com/fintrack/bank-sync/internal/observability"
	"github.com/fintrack/bank-sync/pkg/helpers"
	"github.com/fintrack/bank-sync/pkg/logger"
)

type syncFakeConnStore struct {
	conn        *models.BankConnection
	findErr     error
	statuses    []models.ConnectionStatus
	markedAt    []time.Time
	statusErr   error
	markSyncErr error
}

func (f *syncFakeConnStore) FindByID(ctx context.Context, id string) (*models.BankConnection, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.conn, nil
}

func (f *syncFakeConnStore) UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error {
	f.statuses = append(f.statuses, status)
	return f.statusErr
}

func (f *syncFakeConnStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	f.markedAt = append(f.markedAt, at)
	return f.markSyncErr
}

type syncFakeAccountStore struct {
	upserted []dto.AccountSnapshot
	err      error
}

func (f *syncFakeAccountStore) UpsertFromSnapshot(ctx context.Context, conn *models.BankConnection, snap dto.AccountSnapshot) (*models.BankAccount, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.upserted = append(f.upserted, snap)
	return &models.BankAccount{
		ID:             conn.OwnerUID + "_" + snap.PlaidAccountID,
		PlaidAccountID: snap.PlaidAccountID,
		Enabled:        true,
	}, nil
}

type syncFakeProvider struct {
	statusErr    error
	snapshots    []dto.AccountSnapshot
	accountsErr  error
	records      []dto.TransactionRecord
	recordsErr   error
	lastRange    dto.DateRange
	lastAccounts []string
}

func (f *syncFakeProvider) GetItemStatus(ctx context.Context, accessToken string) error {
	return f.statusErr
}

func (f *syncFakeProvider) GetAccounts(ctx context.Context, accessToken string) ([]dto.AccountSnapshot, error) {
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return f.snapshots, nil
}

func (f *syncFakeProvider) GetTransactions(ctx context.Context, accessToken string, accountIDs []string, r dto.DateRange) ([]dto.TransactionRecord, error) {
	f.lastAccounts = accountIDs
	f.lastRange = r
	if f.recordsErr != nil {
		return nil, f.recordsErr
	}
	return f.records, nil
}

type syncFakeTokenStore struct {
	token string
	err   error
}

func (f *syncFakeTokenStore) Access(ctx context.Context, conn *models.BankConnection) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeReconciler struct {
	result dto.ReconcileResult
	err    error
	calls  int
}

func (f *fakeReconciler) Reconcile(ctx context.Context, conn *models.BankConnection, accounts []*models.BankAccount, records []dto.TransactionRecord) (dto.ReconcileResult, error) {
	f.calls++
	return f.result, f.err
}

func testLogger() *slog.Logger {
	return slog.New(logger.NewTestHandler(slog.LevelInfo))
}

func testCtx() context.Context {
	return helpers.TestCtx()
}

func activeConn() *models.BankConnection {
	return &models.BankConnection{
		ID:       "conn-1",
		OwnerUID: "uid-1",
		ItemID:   "item-1",
		Provider: models.ProviderPlaid,
		Status:   models.StatusActive,
	}
}

func newTestSyncService(conns *syncFakeConnStore, accounts *syncFakeAccountStore, provider *syncFakeProvider, tokens *syncFakeTokenStore, rc *fakeReconciler) *syncService {
	return NewSyncService(conns, accounts, provider, tokens, rc, observability.NewMetrics(), 30, 730)
}

func TestSyncServiceSuccess(t *testing.T) {
	conns := &syncFakeConnStore{conn: activeConn()}
	accounts := &syncFakeAccountStore{}
	provider := &syncFakeProvider{
		snapshots: []dto.AccountSnapshot{{PlaidAccountID: "acc-1"}, {PlaidAccountID: "acc-2"}},
	}
	rc := &fakeReconciler{result: dto.ReconcileResult{Created: 3, Updated: 1}}
	svc := newTestSyncService(conns, accounts, provider, &syncFakeTokenStore{token: "tok"}, rc)

	result, err := svc.Sync(testCtx(), dto.SyncPayload{ConnectionID: "conn-1"})
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Status != "success" {
		t.Fatalf("result status = %q, want success", result.Status)
	}
	if result.AccountsUpdated != 2 {
		t.Fatalf("accounts updated = %d, want 2", result.AccountsUpdated)
	}
	if result.Transactions.Created != 3 || result.Transactions.Updated != 1 {
		t.Fatalf("unexpected reconcile result: %#v", result.Transactions)
	}

	want := []models.ConnectionStatus{models.StatusSyncing, models.StatusActive}
	if len(conns.statuses) != 2 || conns.statuses[0] != want[0] || conns.statuses[1] != want[1] {
		t.Fatalf("status transitions = %v, want %v", conns.statuses, want)
	}
	if len(conns.markedAt) != 1 {
		t.Fatalf("expected MarkSynced once, got %d", len(conns.markedAt))
	}
	if rc.calls != 1 {
		t.Fatalf("expected one reconcile call, got %d", rc.calls)
	}
}

func TestSyncServiceAuthErrorSetsLoginRequired(t *testing.T) {
	conns := &syncFakeConnStore{conn: activeConn()}
	provider := &syncFakeProvider{statusErr: errs.NewAuthError("plaid", "ITEM_LOGIN_REQUIRED")}
	svc := newTestSyncService(conns, &syncFakeAccountStore{}, provider, &syncFakeTokenStore{token: "tok"}, &fakeReconciler{})

	result, err := svc.Sync(testCtx(), dto.SyncPayload{ConnectionID: "conn-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errs.IsTerminal(err) {
		t.Fatalf("auth failure should be terminal, got %v", err)
	}
	if result.Status != "error" {
		t.Fatalf("result status = %q, want error", result.Status)
	}

	want := []models.ConnectionStatus{models.StatusSyncing, models.StatusLoginRequired}
	if len(conns.statuses) != 2 || conns.statuses[1] != want[1] {
		t.Fatalf("status transitions = %v, want %v", conns.statuses, want)
	}
	if len(conns.markedAt) != 0 {
		t.Fatalf("MarkSynced must not run on failure")
	}
}

func TestSyncServiceTransientFailureSetsFailed(t *testing.T) {
	conns := &syncFakeConnStore{conn: activeConn()}
	provider := &syncFakeProvider{accountsErr: errs.NewTransientError("plaid", "API_ERROR")}
	svc := newTestSyncService(conns, &syncFakeAccountStore{}, provider, &syncFakeTokenStore{token: "tok"}, &fakeReconciler{})

	_, err := svc.Sync(testCtx(), dto.SyncPayload{ConnectionID: "conn-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errs.IsTerminal(err) {
		t.Fatalf("transient failure must stay retryable, got %v", err)
	}
	if conns.statuses[len(conns.statuses)-1] != models.StatusFailed {
		t.Fatalf("final status = %v, want FAILED", conns.statuses[len(conns.statuses)-1])
	}
}

func TestSyncServiceDisabledConnectionRejected(t *testing.T) {
	conn := activeConn()
	conn.Disabled = true
	conns := &syncFakeConnStore{conn: conn}
	svc := newTestSyncService(conns, &syncFakeAccountStore{}, &syncFakeProvider{}, &syncFakeTokenStore{}, &fakeReconciler{})

	_, err := svc.Sync(testCtx(), dto.SyncPayload{ConnectionID: "conn-1"})
	if _, ok := err.(*errs.ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(conns.statuses) != 0 {
		t.Fatalf("disabled connection must not change status, got %v", conns.statuses)
	}
}

func TestSyncServiceManualUsesHistoricalWindow(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	provider := &syncFakeProvider{snapshots: []dto.AccountSnapshot{{PlaidAccountID: "acc-1"}}}
	svc := newTestSyncService(&syncFakeConnStore{conn: activeConn()}, &syncFakeAccountStore{}, provider, &syncFakeTokenStore{token: "tok"}, &fakeReconciler{})
	svc.clockNow = func() time.Time { return now }

	if _, err := svc.Sync(testCtx(), dto.SyncPayload{ConnectionID: "conn-1", ManualSync: true}); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if got, want := provider.lastRange.Start, now.AddDate(0, 0, -730); !got.Equal(want) {
		t.Fatalf("manual window start = %v, want %v", got, want)
	}

	if _, err := svc.Sync(testCtx(), dto.SyncPayload{ConnectionID: "conn-1"}); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if got, want := provider.lastRange.Start, now.AddDate(0, 0, -30); !got.Equal(want) {
		t.Fatalf("default window start = %v, want %v", got, want)
	}
}
