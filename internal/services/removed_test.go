package services

import (
	"context"
	"testing"
	"time"

	"github.com/fintrack/bank-sync/internal/dto"
	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
)

type rmFakeAccountStore struct {
	accounts []*models.BankAccount
}

func (f *rmFakeAccountStore) ListByConnection(ctx context.Context, connectionID string) ([]*models.BankAccount, error) {
	return f.accounts, nil
}

type rmFakeTxStore struct {
	keeps   []map[string]bool
	perCall int
}

func (f *rmFakeTxStore) MarkRemovedExcept(ctx context.Context, accountID string, from, to time.Time, keep map[string]bool) (int, error) {
	f.keeps = append(f.keeps, keep)
	return f.perCall, nil
}

func TestSyncRemovalsSoftDeletesUnreported(t *testing.T) {
	accounts := []*models.BankAccount{
		{ID: "a1", PlaidAccountID: "plaid-a1"},
		{ID: "a2", PlaidAccountID: "plaid-a2"},
	}
	provider := &syncFakeProvider{records: []dto.TransactionRecord{
		record("t1", "plaid-a1", "2026-03-01", 10),
		record("t2", "plaid-a2", "2026-03-02", 20),
	}}
	removals := &rmFakeTxStore{perCall: 1}
	rc := &fakeReconciler{result: dto.ReconcileResult{Updated: 2}}
	svc := NewRemovalService(
		&syncFakeConnStore{conn: activeConn()},
		&rmFakeAccountStore{accounts: accounts},
		provider,
		&syncFakeTokenStore{token: "tok"},
		removals,
		rc,
		30,
	)

	result, err := svc.SyncRemovals(testCtx(), dto.SyncPayload{ConnectionID: "conn-1"})
	if err != nil {
		t.Fatalf("SyncRemovals returned error: %v", err)
	}
	if result.Status != "success" {
		t.Fatalf("status = %q, want success", result.Status)
	}
	if len(removals.keeps) != 2 {
		t.Fatalf("expected MarkRemovedExcept per account, got %d calls", len(removals.keeps))
	}
	keep := removals.keeps[0]
	if !keep["t1"] || !keep["t2"] || len(keep) != 2 {
		t.Fatalf("keep set = %#v, want the provider-reported ids", keep)
	}
	if rc.calls != 1 {
		t.Fatalf("survivors must be reconciled, got %d calls", rc.calls)
	}
	if result.Transactions.Updated != 2 {
		t.Fatalf("reconcile result not propagated: %#v", result.Transactions)
	}
}

func TestSyncRemovalsMissingConnection(t *testing.T) {
	conns := &syncFakeConnStore{findErr: errs.NewNotFoundError("connection conn-1 not found")}
	svc := NewRemovalService(conns, &rmFakeAccountStore{}, &syncFakeProvider{}, &syncFakeTokenStore{}, &rmFakeTxStore{}, &fakeReconciler{}, 30)

	_, err := svc.SyncRemovals(testCtx(), dto.SyncPayload{ConnectionID: "conn-1"})
	if !errs.IsTerminal(err) {
		t.Fatalf("missing connection must be terminal, got %v", err)
	}
}
