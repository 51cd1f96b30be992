package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fintrack/bank-sync/internal/dto"
	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
	"github.com/fintrack/bank-sync/internal/queue"
	"github.com/fintrack/bank-sync/internal/response"
	"github.com/fintrack/bank-sync/internal/services"
)

// uidHeader carries the caller identity resolved by the upstream gateway.
// Authentication itself is owned by an external collaborator.
const uidHeader = "X-User-Uid"

type LinkService interface {
	CreateLinkToken(ctx context.Context, uid string) (string, error)
	ExchangePublicToken(ctx context.Context, uid, publicToken, institutionID, institutionName string) (*models.BankConnection, error)
}

type linkHandlers struct {
	ResponseHandler response.ResponseHandler
	LinkSvc         LinkService
	Queue           Enqueuer
}

func NewLinkHandlers(deps *Deps) *linkHandlers {
	return &linkHandlers{
		ResponseHandler: deps.ResponseHandler,
		LinkSvc:         deps.LinkSvc,
		Queue:           deps.Queue,
	}
}

func (h *linkHandlers) LinkRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/plaid/link-token", h.CreateLinkToken)
	r.Route("/connections", func(r chi.Router) {
		r.Post("/", h.LinkConnection)
		r.Delete("/{connectionId}", h.DeleteConnection)
	})
	return r
}

func (h *linkHandlers) CreateLinkToken(w http.ResponseWriter, r *http.Request) {
	uid := r.Header.Get(uidHeader)
	if uid == "" {
		h.ResponseHandler.HandleError(w, r, errs.NewValidationError("missing user identity"))
		return
	}

	linkToken, err := h.LinkSvc.CreateLinkToken(r.Context(), uid)
	if err != nil {
		h.ResponseHandler.HandleError(w, r, err)
		return
	}

	h.ResponseHandler.WriteSuccess(w, r, http.StatusOK, map[string]string{"linkToken": linkToken})
}

func (h *linkHandlers) LinkConnection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PublicToken     string `json:"publicToken"`
		InstitutionID   string `json:"institutionId,omitempty"`
		InstitutionName string `json:"institutionName,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.ResponseHandler.HandleError(w, r, errs.NewValidationError("malformed JSON body"))
		return
	}
	uid := r.Header.Get(uidHeader)
	if uid == "" || body.PublicToken == "" {
		h.ResponseHandler.HandleError(w, r, errs.NewValidationError("missing user identity or public token"))
		return
	}

	conn, err := h.LinkSvc.ExchangePublicToken(r.Context(), uid, body.PublicToken, body.InstitutionID, body.InstitutionName)
	if err != nil {
		h.ResponseHandler.HandleError(w, r, err)
		return
	}

	h.ResponseHandler.WriteSuccess(w, r, http.StatusOK, map[string]string{"connectionId": conn.ID, "itemId": conn.ItemID})
}

// DeleteConnection enqueues the durable deletion task; provider revocation
// and the local cascade happen on the worker with retry support.
func (h *linkHandlers) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionId")

	_, err := h.Queue.Enqueue(r.Context(), services.TaskDelete,
		dto.DeletePayload{ReferenceID: connectionID, Provider: models.ProviderPlaid},
		queue.WithConcurrencyKey(connectionID),
	)
	if err != nil {
		h.ResponseHandler.HandleError(w, r, err)
		return
	}

	h.ResponseHandler.WriteSuccess(w, r, http.StatusAccepted, map[string]string{"status": "deletion scheduled"})
}
