package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fintrack/bank-sync/internal/dto"
	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
	"github.com/fintrack/bank-sync/internal/observability"
	"github.com/fintrack/bank-sync/internal/queue"
	"github.com/fintrack/bank-sync/internal/response"
	"github.com/fintrack/bank-sync/internal/services"
	"github.com/fintrack/bank-sync/pkg/helpers"
	"github.com/fintrack/bank-sync/pkg/logger"
)

// historicalManualAge bounds the "young connection" special case: a
// HISTORICAL_UPDATE for a connection linked less than this long ago triggers
// the one-time deep fetch; for older connections it is routine.
const historicalManualAge = 24 * time.Hour

type ConnectionResolver interface {
	FindByItemID(ctx context.Context, itemID string) (*models.BankConnection, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, typ string, payload any, opts ...queue.Option) (string, error)
}

type webhookHandlers struct {
	ResponseHandler response.ResponseHandler
	Connections     ConnectionResolver
	Queue           Enqueuer
	Metrics         *observability.Metrics
	clockNow        func() time.Time
}

func NewWebhookHandlers(deps *Deps) *webhookHandlers {
	return &webhookHandlers{
		ResponseHandler: deps.ResponseHandler,
		Connections:     deps.Connections,
		Queue:           deps.Queue,
		Metrics:         deps.Metrics,
		clockNow:        time.Now,
	}
}

func (h *webhookHandlers) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/plaid", h.HandleWebhook)
	return r
}

// HandleWebhook ingests one provider webhook. The contract is fast and
// delivery-oriented: 400 for schema violations, 404 for unknown items (a
// deleted connection may still receive trailing webhooks — that is a no-op),
// 200 once the trigger is durably enqueued, regardless of how the eventual
// sync goes.
func (h *webhookHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload dto.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.Metrics.IncrWebhook("undecodable", http.StatusBadRequest)
		h.ResponseHandler.WriteError(w, r, http.StatusBadRequest, "invalid_input", "malformed JSON body: "+err.Error())
		return
	}
	if err := payload.Validate(); err != nil {
		h.Metrics.IncrWebhook(payload.WebhookCode, http.StatusBadRequest)
		h.ResponseHandler.WriteError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	conn, err := h.Connections.FindByItemID(r.Context(), payload.ItemID)
	if err != nil {
		status := http.StatusInternalServerError
		if _, ok := err.(*errs.NotFoundError); ok {
			status = http.StatusNotFound
		}
		h.Metrics.IncrWebhook(payload.WebhookCode, status)
		h.ResponseHandler.HandleError(w, r, err)
		return
	}

	taskType, taskPayload := h.dispatch(conn, &payload)

	// Provider delivery is at-least-once; bucketing the dedupe id by minute
	// collapses rapid redeliveries into one job.
	dedupe := fmt.Sprintf("wh-%s-%s-%d", payload.ItemID, payload.WebhookCode, h.clockNow().Unix()/60)
	if _, err := h.Queue.Enqueue(r.Context(), taskType, taskPayload,
		queue.WithDedupeID(dedupe),
		queue.WithConcurrencyKey(conn.ID),
	); err != nil {
		h.Metrics.IncrWebhook(payload.WebhookCode, http.StatusInternalServerError)
		h.ResponseHandler.HandleError(w, r, err)
		return
	}

	log := logger.FromContext(r.Context())
	log.Info("webhook accepted",
		"webhook_code", payload.WebhookCode,
		"item_id", payload.ItemID,
		"connection_id", conn.ID,
		"task", taskType,
		"new_transactions", helpers.Value(payload.NewTransactions),
	)
	h.Metrics.IncrWebhook(payload.WebhookCode, http.StatusOK)
	h.ResponseHandler.WriteSuccess(w, r, http.StatusOK, map[string]string{"status": "accepted"})
}

// dispatch maps a webhook code to the task that should run.
func (h *webhookHandlers) dispatch(conn *models.BankConnection, payload *dto.WebhookPayload) (string, dto.SyncPayload) {
	task := services.TaskSync
	manual := false

	switch payload.WebhookCode {
	case dto.WebhookHistoricalUpdate:
		manual = conn.Age(h.clockNow()) < historicalManualAge
	case dto.WebhookTransactionsRemoved:
		// Deletions, not upserts: handled by the removal reconciliation.
		task = services.TaskRemoved
	}

	return task, dto.SyncPayload{ConnectionID: conn.ID, ManualSync: manual}
}
