package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fintrack/bank-sync/internal/dto"
	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
)

type accountStore struct {
	client *firestore.Client
}

func NewAccountStore(client *firestore.Client) *accountStore {
	return &accountStore{client: client}
}

func (s *accountStore) collection() *firestore.CollectionRef {
	return s.client.Collection("accounts")
}

// docID derives the document id from (ownerUid, plaidAccountId), which makes
// that pair unique by construction.
func (s *accountStore) docID(uid, plaidAccountID string) string {
	return fmt.Sprintf("%s_%s", uid, plaidAccountID)
}

// UpsertFromSnapshot merges a provider account snapshot into local storage and
// refreshes balances. New accounts start enabled; the enabled flag of existing
// accounts is left untouched.
func (s *accountStore) UpsertFromSnapshot(ctx context.Context, conn *models.BankConnection, snap dto.AccountSnapshot) (*models.BankAccount, error) {
	ref := s.collection().Doc(s.docID(conn.OwnerUID, snap.PlaidAccountID))
	now := time.Now()

	var account models.BankAccount
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := doc.DataTo(&account); err != nil {
				return err
			}
		case status.Code(err) == codes.NotFound:
			account = models.BankAccount{
				ID:               ref.ID,
				OwnerUID:         conn.OwnerUID,
				BankConnectionID: conn.ID,
				PlaidAccountID:   snap.PlaidAccountID,
				Enabled:          true,
				CreatedAt:        now,
			}
		default:
			return err
		}

		account.Name = snap.Name
		account.Type = snap.Type
		account.CurrentBalance = snap.CurrentBalance
		account.AvailableBalance = snap.AvailableBalance
		account.Limit = snap.Limit
		account.BalanceLastUpdated = now
		account.UpdatedAt = now

		return tx.Set(ref, account)
	})
	if err != nil {
		return nil, errs.NewDatabaseError("account.upsert", err.Error())
	}
	return &account, nil
}

func (s *accountStore) ListByConnection(ctx context.Context, connectionID string) ([]*models.BankAccount, error) {
	docs, err := s.collection().Where("bankConnectionId", "==", connectionID).Documents(ctx).GetAll()
	if err != nil {
		return nil, errs.NewDatabaseError("account.listByConnection", err.Error())
	}
	accounts := make([]*models.BankAccount, 0, len(docs))
	for _, d := range docs {
		var a models.BankAccount
		if err := d.DataTo(&a); err != nil {
			return nil, errs.NewDatabaseError("account.listByConnection", err.Error())
		}
		accounts = append(accounts, &a)
	}
	return accounts, nil
}

// UpdateStatistics replaces the derived statistics wholesale. They are full
// re-derivations, not counters, so overwriting is always safe.
func (s *accountStore) UpdateStatistics(ctx context.Context, accountID string, income, spending, avgBalance float64) error {
	_, err := s.collection().Doc(accountID).Update(ctx, []firestore.Update{
		{Path: "monthlyIncome", Value: income},
		{Path: "monthlySpending", Value: spending},
		{Path: "averageBalance", Value: avgBalance},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return errs.NewDatabaseError("account.updateStatistics", err.Error())
	}
	return nil
}
