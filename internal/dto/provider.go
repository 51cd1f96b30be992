package dto

import (
	"time"
)

type PlaidEnvironment string

const (
	PlaidSandbox    PlaidEnvironment = "sandbox"
	PlaidProduction PlaidEnvironment = "production"
)

// AccountSnapshot is one account as the provider reports it.
type AccountSnapshot struct {
	PlaidAccountID   string
	Name             string
	Type             string
	CurrentBalance   float64
	AvailableBalance float64
	Limit            *float64
	Currency         string
}

// TransactionRecord is one transaction as the provider reports it.
// Positive amounts are outflows.
type TransactionRecord struct {
	PlaidTransactionID string
	PlaidAccountID     string
	Amount             float64
	Currency           string
	Date               string // YYYY-MM-DD
	Pending            bool
	Category           string
	SubCategory        string
	MerchantName       string
	Name               string
}

// DateRange bounds a transaction fetch, inclusive on both ends.
type DateRange struct {
	Start time.Time
	End   time.Time
}
