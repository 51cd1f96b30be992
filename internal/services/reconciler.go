package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fintrack/bank-sync/internal/dto"
	"github.com/fintrack/bank-sync/internal/models"
	"github.com/fintrack/bank-sync/pkg/logger"
)

// --- Dependencies (minimal interfaces scoped to this service) ---

type transactionRCStore interface {
	Upsert(ctx context.Context, tx models.Transaction) (created bool, err error)
	ListWindow(ctx context.Context, accountID string, from, to time.Time) ([]models.Transaction, error)
}

type accountRCStore interface {
	UpdateStatistics(ctx context.Context, accountID string, income, spending, avgBalance float64) error
}

type reconciler struct {
	txs        transactionRCStore
	accounts   accountRCStore
	windowDays int
	clockNow   func() time.Time
}

func NewReconciler(txs transactionRCStore, accounts accountRCStore, windowDays int) *reconciler {
	return &reconciler{
		txs:        txs,
		accounts:   accounts,
		windowDays: windowDays,
		clockNow:   time.Now,
	}
}

// Reconcile merges one provider batch into local storage, then re-derives
// per-account statistics over the trailing window.
//
// The merge is idempotent: records are upserted by their provider transaction
// id, so overlapping date ranges and re-delivered webhooks never create
// duplicates. A malformed record is reported in Skipped and does not abort
// the rest of the batch.
func (r *reconciler) Reconcile(ctx context.Context, conn *models.BankConnection, accounts []*models.BankAccount, records []dto.TransactionRecord) (dto.ReconcileResult, error) {
	result := dto.ReconcileResult{}
	log := logger.FromContext(ctx)

	byProviderID := make(map[string]*models.BankAccount, len(accounts))
	for _, acc := range accounts {
		byProviderID[acc.PlaidAccountID] = acc
	}

	touched := map[string]bool{}
	for _, rec := range records {
		account, reason := r.resolve(rec, byProviderID)
		if reason != "" {
			result.Skipped = append(result.Skipped, dto.SkippedTransaction{
				PlaidTransactionID: rec.PlaidTransactionID,
				Reason:             reason,
			})
			log.Warn("transaction skipped", "plaid_transaction_id", rec.PlaidTransactionID, "reason", reason)
			continue
		}

		created, err := r.txs.Upsert(ctx, models.Transaction{
			PlaidTransactionID: rec.PlaidTransactionID,
			OwnerUID:           conn.OwnerUID,
			BankAccountID:      account.ID,
			Amount:             rec.Amount,
			Currency:           rec.Currency,
			Date:               rec.Date,
			Pending:            rec.Pending,
			Category:           rec.Category,
			SubCategory:        rec.SubCategory,
			MerchantName:       rec.MerchantName,
			Name:               rec.Name,
		})
		if err != nil {
			// Storage failures are isolated per record like malformed input:
			// the batch continues and the failure is visible in the result.
			result.Skipped = append(result.Skipped, dto.SkippedTransaction{
				PlaidTransactionID: rec.PlaidTransactionID,
				Reason:             err.Error(),
			})
			log.Warn("transaction upsert failed", "plaid_transaction_id", rec.PlaidTransactionID, "error", err)
			continue
		}

		touched[account.ID] = true
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	for _, acc := range accounts {
		if !touched[acc.ID] {
			continue
		}
		if err := r.recomputeStatistics(ctx, acc); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (r *reconciler) resolve(rec dto.TransactionRecord, accounts map[string]*models.BankAccount) (*models.BankAccount, string) {
	if rec.PlaidTransactionID == "" {
		return nil, "missing transaction id"
	}
	if rec.Date == "" {
		return nil, "missing date"
	}
	if _, err := time.Parse("2006-01-02", rec.Date); err != nil {
		return nil, fmt.Sprintf("malformed date %q", rec.Date)
	}
	account, ok := accounts[rec.PlaidAccountID]
	if !ok {
		return nil, fmt.Sprintf("unknown account %q", rec.PlaidAccountID)
	}
	return account, ""
}

// recomputeStatistics re-derives the trailing-window aggregates in full.
// Re-aggregation over the window is O(transactions) per sync but cannot
// drift, unlike incremental counters. Amount convention: positive = outflow,
// so income is the absolute sum of negative amounts.
func (r *reconciler) recomputeStatistics(ctx context.Context, account *models.BankAccount) error {
	now := r.clockNow()
	from := now.AddDate(0, 0, -r.windowDays)

	txs, err := r.txs.ListWindow(ctx, account.ID, from, now)
	if err != nil {
		return err
	}

	var income, spending float64
	for _, t := range txs {
		if t.Amount < 0 {
			income += -t.Amount
		} else {
			spending += t.Amount
		}
	}
	income = math.Round(income*100) / 100
	spending = math.Round(spending*100) / 100

	// Average balance is the current balance snapshot.
	return r.accounts.UpdateStatistics(ctx, account.ID, income, spending, account.CurrentBalance)
}
