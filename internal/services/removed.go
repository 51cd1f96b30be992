package services

import (
	"context"
	"time"

	"github.com/fintrack/bank-sync/internal/dto"
	"github.com/fintrack/bank-sync/internal/models"
	"github.com/fintrack/bank-sync/pkg/logger"
)

type accountRMStore interface {
	ListByConnection(ctx context.Context, connectionID string) ([]*models.BankAccount, error)
}

type transactionRMStore interface {
	MarkRemovedExcept(ctx context.Context, accountID string, from, to time.Time, keep map[string]bool) (int, error)
}

// removalService handles TRANSACTIONS_REMOVED webhooks. The provider does not
// say which records went away, so the window is re-fetched and anything local
// the provider no longer reports is soft-deleted, then the surviving records
// are reconciled as usual so statistics stay consistent.
type removalService struct {
	connections connectionSyncStore
	accounts    accountRMStore
	provider    providerSyncClient
	tokens      tokenSyncStore
	removals    transactionRMStore
	reconciler  txReconciler
	windowDays  int
	clockNow    func() time.Time
}

func NewRemovalService(
	connections connectionSyncStore,
	accounts accountRMStore,
	provider providerSyncClient,
	tokens tokenSyncStore,
	removals transactionRMStore,
	reconciler txReconciler,
	windowDays int,
) *removalService {
	return &removalService{
		connections: connections,
		accounts:    accounts,
		provider:    provider,
		tokens:      tokens,
		removals:    removals,
		reconciler:  reconciler,
		windowDays:  windowDays,
		clockNow:    time.Now,
	}
}

func (s *removalService) SyncRemovals(ctx context.Context, payload dto.SyncPayload) (dto.SyncResult, error) {
	result := dto.SyncResult{ConnectionID: payload.ConnectionID, Status: "error"}
	log, ctx := logger.With(ctx, "connection_id", payload.ConnectionID)

	conn, err := s.connections.FindByID(ctx, payload.ConnectionID)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	token, err := s.tokens.Access(ctx, conn)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	accounts, err := s.accounts.ListByConnection(ctx, conn.ID)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	now := s.clockNow()
	window := dto.DateRange{Start: now.AddDate(0, 0, -s.windowDays), End: now}

	providerAccountIDs := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		providerAccountIDs = append(providerAccountIDs, acc.PlaidAccountID)
	}
	records, err := s.provider.GetTransactions(ctx, token, providerAccountIDs, window)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	keep := make(map[string]bool, len(records))
	for _, rec := range records {
		keep[rec.PlaidTransactionID] = true
	}

	removed := 0
	for _, acc := range accounts {
		n, err := s.removals.MarkRemovedExcept(ctx, acc.ID, window.Start, window.End, keep)
		if err != nil {
			result.Error = err.Error()
			return result, err
		}
		removed += n
	}

	recResult, err := s.reconciler.Reconcile(ctx, conn, accounts, records)
	result.Transactions = recResult
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	result.Status = "success"
	log.Info("removal sync completed", "removed", removed, "kept", len(records))
	return result, nil
}
