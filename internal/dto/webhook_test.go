package dto

import (
	"testing"
)

func validPayload() WebhookPayload {
	return WebhookPayload{
		WebhookType: "TRANSACTIONS",
		WebhookCode: WebhookDefaultUpdate,
		ItemID:      "item-1",
		Environment: "production",
	}
}

func TestWebhookPayloadValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*WebhookPayload)
		wantErr bool
	}{
		{"valid", func(p *WebhookPayload) {}, false},
		{"sandbox environment", func(p *WebhookPayload) { p.Environment = "sandbox" }, false},
		{"removed code", func(p *WebhookPayload) { p.WebhookCode = WebhookTransactionsRemoved }, false},
		{"wrong type", func(p *WebhookPayload) { p.WebhookType = "ITEM" }, true},
		{"unknown code", func(p *WebhookPayload) { p.WebhookCode = "RECURRING_UPDATE" }, true},
		{"missing item id", func(p *WebhookPayload) { p.ItemID = "" }, true},
		{"unknown environment", func(p *WebhookPayload) { p.Environment = "development" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPayload()
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
