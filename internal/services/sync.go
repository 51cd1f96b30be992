package services

import (
	"context"
	"time"

	"github.com/fintrack/bank-sync/internal/dto"
	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
	"github.com/fintrack/bank-sync/internal/observability"
	"github.com/fintrack/bank-sync/pkg/logger"
)

// --- Dependencies (minimal interfaces scoped to this service) ---

type connectionSyncStore interface {
	FindByID(ctx context.Context, id string) (*models.BankConnection, error)
	UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

type accountSyncStore interface {
	UpsertFromSnapshot(ctx context.Context, conn *models.BankConnection, snap dto.AccountSnapshot) (*models.BankAccount, error)
}

type providerSyncClient interface {
	GetItemStatus(ctx context.Context, accessToken string) error
	GetAccounts(ctx context.Context, accessToken string) ([]dto.AccountSnapshot, error)
	GetTransactions(ctx context.Context, accessToken string, accountIDs []string, r dto.DateRange) ([]dto.TransactionRecord, error)
}

type tokenSyncStore interface {
	Access(ctx context.Context, conn *models.BankConnection) (string, error)
}

type txReconciler interface {
	Reconcile(ctx context.Context, conn *models.BankConnection, accounts []*models.BankAccount, records []dto.TransactionRecord) (dto.ReconcileResult, error)
}

type syncService struct {
	connections connectionSyncStore
	accounts    accountSyncStore
	provider    providerSyncClient
	tokens      tokenSyncStore
	reconciler  txReconciler
	metrics     *observability.Metrics

	syncWindowDays       int
	historicalWindowDays int
	clockNow             func() time.Time
}

func NewSyncService(
	connections connectionSyncStore,
	accounts accountSyncStore,
	provider providerSyncClient,
	tokens tokenSyncStore,
	reconciler txReconciler,
	metrics *observability.Metrics,
	syncWindowDays, historicalWindowDays int,
) *syncService {
	return &syncService{
		connections:          connections,
		accounts:             accounts,
		provider:             provider,
		tokens:               tokens,
		reconciler:           reconciler,
		metrics:              metrics,
		syncWindowDays:       syncWindowDays,
		historicalWindowDays: historicalWindowDays,
		clockNow:             time.Now,
	}
}

// Sync runs the full pipeline for one connection: status check, accounts,
// transactions, statistics. The connection enters SYNCING before the first
// provider call and always leaves it: ACTIVE on success, LOGIN_REQUIRED on an
// auth failure, FAILED otherwise. Retryable errors are returned so the task
// queue's retry policy engages; auth failures return a terminal error that
// dead-letters instead of retrying.
func (s *syncService) Sync(ctx context.Context, payload dto.SyncPayload) (dto.SyncResult, error) {
	result := dto.SyncResult{ConnectionID: payload.ConnectionID, Status: "error"}
	log, ctx := logger.With(ctx, "connection_id", payload.ConnectionID, "manual_sync", payload.ManualSync)
	start := s.clockNow()

	conn, err := s.connections.FindByID(ctx, payload.ConnectionID)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	if conn.Disabled {
		err := errs.NewValidationError("connection is disabled")
		result.Error = err.Error()
		return result, err
	}

	if err := s.connections.UpdateStatus(ctx, conn.ID, models.StatusSyncing); err != nil {
		result.Error = err.Error()
		return result, err
	}

	syncErr := s.run(ctx, conn, payload.ManualSync, &result)
	if syncErr != nil {
		exitStatus := models.StatusFailed
		if errs.IsAuth(syncErr) {
			// Not transient: only a user re-link fixes this.
			exitStatus = models.StatusLoginRequired
		}
		if stErr := s.connections.UpdateStatus(ctx, conn.ID, exitStatus); stErr != nil {
			log.Error("status update failed after sync error", "error", stErr)
		}
		result.Error = syncErr.Error()
		log.Warn("connection sync failed", "status", exitStatus, "error", syncErr)
		s.metrics.ObserveSync("error", payload.ManualSync, s.clockNow().Sub(start))
		return result, syncErr
	}

	now := s.clockNow()
	if err := s.connections.UpdateStatus(ctx, conn.ID, models.StatusActive); err != nil {
		result.Error = err.Error()
		return result, err
	}
	if err := s.connections.MarkSynced(ctx, conn.ID, now); err != nil {
		result.Error = err.Error()
		return result, err
	}

	result.Status = "success"
	result.Error = ""
	log.Info("connection sync completed",
		"accounts_updated", result.AccountsUpdated,
		"created", result.Transactions.Created,
		"updated", result.Transactions.Updated,
		"skipped", len(result.Transactions.Skipped),
	)
	s.metrics.ObserveSync("success", payload.ManualSync, s.clockNow().Sub(start))
	return result, nil
}

func (s *syncService) run(ctx context.Context, conn *models.BankConnection, manual bool, result *dto.SyncResult) error {
	token, err := s.tokens.Access(ctx, conn)
	if err != nil {
		return errs.NewTransientError(string(conn.Provider), "access token unavailable: "+err.Error())
	}

	if err := s.provider.GetItemStatus(ctx, token); err != nil {
		return err
	}

	snapshots, err := s.provider.GetAccounts(ctx, token)
	if err != nil {
		return err
	}

	accounts := make([]*models.BankAccount, 0, len(snapshots))
	providerAccountIDs := make([]string, 0, len(snapshots))
	for _, snap := range snapshots {
		account, err := s.accounts.UpsertFromSnapshot(ctx, conn, snap)
		if err != nil {
			return err
		}
		accounts = append(accounts, account)
		providerAccountIDs = append(providerAccountIDs, snap.PlaidAccountID)
	}
	result.AccountsUpdated = len(accounts)

	records, err := s.provider.GetTransactions(ctx, token, providerAccountIDs, s.dateRange(manual))
	if err != nil {
		return err
	}

	recResult, err := s.reconciler.Reconcile(ctx, conn, accounts, records)
	result.Transactions = recResult
	return err
}

// dateRange is the trailing sync window: 30 days by default, the deep
// historical window when a manual sync was requested (new connections get
// one of those right after linking).
func (s *syncService) dateRange(manual bool) dto.DateRange {
	now := s.clockNow()
	days := s.syncWindowDays
	if manual {
		days = s.historicalWindowDays
	}
	return dto.DateRange{Start: now.AddDate(0, 0, -days), End: now}
}
