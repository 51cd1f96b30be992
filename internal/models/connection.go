package models

import (
	"time"
)

type Provider string

const (
	ProviderTeller     Provider = "teller"
	ProviderPlaid      Provider = "plaid"
	ProviderGoCardless Provider = "gocardless"
	ProviderStripe     Provider = "stripe"
)

// ValidProvider reports whether p is a known aggregation provider.
func ValidProvider(p Provider) bool {
	switch p {
	case ProviderTeller, ProviderPlaid, ProviderGoCardless, ProviderStripe:
		return true
	}
	return false
}

// ConnectionStatus values are persisted verbatim; dashboards and alerts key
// off the exact strings.
type ConnectionStatus string

const (
	StatusActive            ConnectionStatus = "ACTIVE"
	StatusSyncing           ConnectionStatus = "SYNCING"
	StatusError             ConnectionStatus = "ERROR"
	StatusLoginRequired     ConnectionStatus = "LOGIN_REQUIRED"
	StatusRequiresAttention ConnectionStatus = "REQUIRES_ATTENTION"
	StatusDisconnected      ConnectionStatus = "DISCONNECTED"
	StatusFailed            ConnectionStatus = "FAILED"
)

// UnhealthyStatuses are the states the health monitor escalates on.
var UnhealthyStatuses = []ConnectionStatus{StatusError, StatusLoginRequired, StatusRequiresAttention}

// BankConnection is one login/consent grant at a provider ("item" in Plaid
// terms), covering one or more accounts.
type BankConnection struct {
	ID              string   `firestore:"id" json:"id"`
	OwnerUID        string   `firestore:"ownerUid" json:"ownerUid"`
	ItemID          string   `firestore:"itemId" json:"itemId"` // provider-unique
	Provider        Provider `firestore:"provider" json:"provider"`
	InstitutionID   string   `firestore:"institutionId" json:"institutionId"`
	InstitutionName string   `firestore:"institutionName" json:"institutionName"`

	// AccessTokenCipher is the KMS-wrapped copy of the provider access token
	// cached on the document; the canonical token lives in Secret Manager.
	AccessTokenCipher string `firestore:"accessTokenCipher" json:"-"`

	Status              ConnectionStatus `firestore:"status" json:"status"`
	Disabled            bool             `firestore:"disabled" json:"disabled"`
	LastSyncedAt        *time.Time       `firestore:"lastSyncedAt" json:"lastSyncedAt,omitempty"`
	LastStatusChangedAt time.Time        `firestore:"lastStatusChangedAt" json:"lastStatusChangedAt"`
	LastNotifiedAt      *time.Time       `firestore:"lastNotifiedAt" json:"lastNotifiedAt,omitempty"`
	NotificationCount   int              `firestore:"notificationCount" json:"notificationCount"`
	CreatedAt           time.Time        `firestore:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time        `firestore:"updatedAt" json:"updatedAt"`
}

// Age returns how long ago the connection was linked.
func (c *BankConnection) Age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}
