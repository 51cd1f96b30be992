package models

import (
	"time"
)

// Transaction is one ledger entry. PlaidTransactionID is the idempotency key
// and doubles as the document id, so re-delivered webhooks can never create
// duplicates. Amount follows the provider convention: positive = outflow.
type Transaction struct {
	ID                 string  `firestore:"id" json:"id"`
	PlaidTransactionID string  `firestore:"plaidTransactionId" json:"plaidTransactionId"`
	OwnerUID           string  `firestore:"ownerUid" json:"ownerUid"`
	BankAccountID      string  `firestore:"bankAccountId" json:"bankAccountId"`
	Amount             float64 `firestore:"amount" json:"amount"`
	Currency           string  `firestore:"currency" json:"currency"`
	Date               string  `firestore:"date" json:"date"` // YYYY-MM-DD as the provider reports it
	Pending            bool    `firestore:"pending" json:"pending"`
	Category           string  `firestore:"category" json:"category,omitempty"`
	SubCategory        string  `firestore:"subCategory" json:"subCategory,omitempty"`
	MerchantName       string  `firestore:"merchantName" json:"merchantName,omitempty"`
	Name               string  `firestore:"name" json:"name"`

	// Notified is append-only once true: set by the notification layer,
	// never cleared by reconciliation.
	Notified bool `firestore:"notified" json:"notified"`

	// Removed marks transactions the provider stopped reporting.
	Removed bool `firestore:"removed" json:"removed"`

	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// ParsedDate parses the provider date. The zero time is returned for
// malformed input along with the error.
func (t *Transaction) ParsedDate() (time.Time, error) {
	return time.Parse("2006-01-02", t.Date)
}
