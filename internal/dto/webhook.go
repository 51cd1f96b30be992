package dto

import (
	"fmt"
)

// Webhook codes the provider delivers for the TRANSACTIONS webhook type.
const (
	WebhookSyncUpdatesAvailable = "SYNC_UPDATES_AVAILABLE"
	WebhookHistoricalUpdate     = "HISTORICAL_UPDATE"
	WebhookDefaultUpdate        = "DEFAULT_UPDATE"
	WebhookInitialUpdate        = "INITIAL_UPDATE"
	WebhookTransactionsRemoved  = "TRANSACTIONS_REMOVED"
)

type WebhookError struct {
	ErrorType       string   `json:"error_type"`
	ErrorCode       string   `json:"error_code"`
	ErrorCodeReason string   `json:"error_code_reason"`
	ErrorMessage    string   `json:"error_message"`
	DisplayMessage  string   `json:"display_message"`
	RequestID       string   `json:"request_id"`
	Causes          []string `json:"causes"`
	Status          int      `json:"status"`
}

type WebhookPayload struct {
	WebhookType     string        `json:"webhook_type"`
	WebhookCode     string        `json:"webhook_code"`
	ItemID          string        `json:"item_id"`
	Error           *WebhookError `json:"error"`
	NewTransactions *int          `json:"new_transactions,omitempty"`
	Environment     string        `json:"environment"`
}

// Validate checks the payload against the provider's webhook schema.
func (p *WebhookPayload) Validate() error {
	if p.WebhookType != "TRANSACTIONS" {
		return fmt.Errorf("unsupported webhook_type %q", p.WebhookType)
	}
	switch p.WebhookCode {
	case WebhookSyncUpdatesAvailable, WebhookHistoricalUpdate, WebhookDefaultUpdate,
		WebhookInitialUpdate, WebhookTransactionsRemoved:
	default:
		return fmt.Errorf("unknown webhook_code %q", p.WebhookCode)
	}
	if p.ItemID == "" {
		return fmt.Errorf("item_id is required")
	}
	switch p.Environment {
	case "sandbox", "production":
	default:
		return fmt.Errorf("unknown environment %q", p.Environment)
	}
	return nil
}
