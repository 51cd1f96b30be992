package dto

import (
	"github.com/fintrack/bank-sync/internal/models"
)

// SyncPayload is the durable task payload for one connection sync.
// ManualSync requests the deeper historical fetch used for new connections.
type SyncPayload struct {
	ConnectionID string `json:"connectionId"`
	ManualSync   bool   `json:"manualSync"`
}

type SkippedTransaction struct {
	PlaidTransactionID string `json:"plaidTransactionId"`
	Reason             string `json:"reason"`
}

// ReconcileResult reports the outcome of merging one provider batch.
type ReconcileResult struct {
	Created int                  `json:"created"`
	Updated int                  `json:"updated"`
	Skipped []SkippedTransaction `json:"skipped,omitempty"`
}

type SyncResult struct {
	ConnectionID    string          `json:"connectionId"`
	Status          string          `json:"status"` // "success" | "error"
	AccountsUpdated int             `json:"accountsUpdated,omitempty"`
	Transactions    ReconcileResult `json:"transactions"`
	Error           string          `json:"error,omitempty"`
}

// DeletePayload is the durable task payload for a connection deletion.
type DeletePayload struct {
	ReferenceID string          `json:"referenceId"`
	Provider    models.Provider `json:"provider"`
	AccessToken string          `json:"accessToken"`
}

type DeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthScanResult summarizes one health monitor run.
type HealthScanResult struct {
	Reaped   int `json:"reaped"`
	Notified int `json:"notified"`
	Disabled int `json:"disabled"`
}
