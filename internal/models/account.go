package models

import (
	"time"
)

// BankAccount is one financial account under a connection. Uniqueness of
// (ownerUid, plaidAccountId) is enforced by deriving the document id from
// that pair.
type BankAccount struct {
	ID               string   `firestore:"id" json:"id"`
	OwnerUID         string   `firestore:"ownerUid" json:"ownerUid"`
	BankConnectionID string   `firestore:"bankConnectionId" json:"bankConnectionId"`
	PlaidAccountID   string   `firestore:"plaidAccountId" json:"plaidAccountId"`
	Name             string   `firestore:"name" json:"name"`
	Type             string   `firestore:"type" json:"type"`
	CurrentBalance   float64  `firestore:"currentBalance" json:"currentBalance"`
	AvailableBalance float64  `firestore:"availableBalance" json:"availableBalance"`
	Limit            *float64 `firestore:"limit" json:"limit,omitempty"`

	// Derived statistics, re-computed in full after every reconciliation.
	MonthlyIncome   float64 `firestore:"monthlyIncome" json:"monthlyIncome"`
	MonthlySpending float64 `firestore:"monthlySpending" json:"monthlySpending"`
	AverageBalance  float64 `firestore:"averageBalance" json:"averageBalance"`

	Enabled            bool      `firestore:"enabled" json:"enabled"`
	BalanceLastUpdated time.Time `firestore:"balanceLastUpdated" json:"balanceLastUpdated"`
	CreatedAt          time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time `firestore:"updatedAt" json:"updatedAt"`
}
