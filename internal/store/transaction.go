package store

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
)

type transactionStore struct {
	client *firestore.Client
}

func NewTransactionStore(client *firestore.Client) *transactionStore {
	return &transactionStore{client: client}
}

func (s *transactionStore) collection() *firestore.CollectionRef {
	return s.client.Collection("transactions")
}

// Upsert writes one transaction keyed by its provider id inside a storage
// transaction, so concurrent duplicate deliveries collapse to one record.
// Returns whether the record was created (vs updated).
//
// Mutable fields are replaced on update; the identity key, createdAt and a
// notified flag that is already true are preserved. Pending records routinely
// transition to posted through this path.
func (s *transactionStore) Upsert(ctx context.Context, incoming models.Transaction) (bool, error) {
	ref := s.collection().Doc(incoming.PlaidTransactionID)
	created := false

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now()
		doc, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			created = true
			incoming.ID = ref.ID
			incoming.CreatedAt = now
			incoming.UpdatedAt = now
			return tx.Set(ref, incoming)
		}
		if err != nil {
			return err
		}

		var existing models.Transaction
		if err := doc.DataTo(&existing); err != nil {
			return err
		}

		existing.Amount = incoming.Amount
		existing.Currency = incoming.Currency
		existing.Date = incoming.Date
		existing.Pending = incoming.Pending
		existing.Category = incoming.Category
		existing.SubCategory = incoming.SubCategory
		existing.MerchantName = incoming.MerchantName
		existing.Name = incoming.Name
		existing.Removed = false
		existing.UpdatedAt = now
		// existing.Notified is append-only once true and is never touched here.

		return tx.Set(ref, existing)
	})
	if err != nil {
		return false, errs.NewDatabaseError("transaction.upsert", err.Error())
	}
	return created, nil
}

// ListWindow returns non-removed transactions for an account with dates in
// [from, to]. Dates are YYYY-MM-DD strings, so range queries are lexicographic.
func (s *transactionStore) ListWindow(ctx context.Context, accountID string, from, to time.Time) ([]models.Transaction, error) {
	docs, err := s.collection().
		Where("bankAccountId", "==", accountID).
		Where("date", ">=", from.Format("2006-01-02")).
		Where("date", "<=", to.Format("2006-01-02")).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, errs.NewDatabaseError("transaction.listWindow", err.Error())
	}

	txs := make([]models.Transaction, 0, len(docs))
	for _, d := range docs {
		var t models.Transaction
		if err := d.DataTo(&t); err != nil {
			return nil, errs.NewDatabaseError("transaction.listWindow", err.Error())
		}
		if t.Removed {
			continue
		}
		txs = append(txs, t)
	}
	return txs, nil
}

// MarkRemovedExcept soft-deletes window transactions the provider no longer
// reports: anything in [from, to] for the account whose provider id is not in
// keep gets removed=true.
func (s *transactionStore) MarkRemovedExcept(ctx context.Context, accountID string, from, to time.Time, keep map[string]bool) (int, error) {
	txs, err := s.ListWindow(ctx, accountID, from, to)
	if err != nil {
		return 0, err
	}

	removed := 0
	now := time.Now()
	for _, t := range txs {
		if keep[t.PlaidTransactionID] {
			continue
		}
		_, err := s.collection().Doc(t.PlaidTransactionID).Update(ctx, []firestore.Update{
			{Path: "removed", Value: true},
			{Path: "updatedAt", Value: now},
		})
		if err != nil {
			return removed, errs.NewDatabaseError("transaction.markRemoved", err.Error())
		}
		removed++
	}
	return removed, nil
}
