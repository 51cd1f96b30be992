package response

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/pkg/logger"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *responseHandler) WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	}); err != nil {
		// Use context logger if encoding fails
		log := logger.FromContext(r.Context())
		log.Error("failed to encode error response", "error", err, "status", status, "code", code)
	}
}

func (h *responseHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	switch e := err.(type) {
	case *errs.NotFoundError:
		log.Warn("resource not found", "error", e.Message)
		h.WriteError(w, r, http.StatusNotFound, "not_found", e.Message)

	case *errs.AlreadyExistsError:
		log.Warn("resource already exists", "error", e.Message)
		h.WriteError(w, r, http.StatusConflict, "already_exists", e.Message)

	case *errs.ValidationError:
		log.Warn("validation failed", "error", e.Message)
		h.WriteError(w, r, http.StatusBadRequest, "invalid_input", e.Message)

	case *errs.AuthError:
		log.Warn("provider auth failed", "provider", e.Provider, "error", e.Message)
		h.WriteError(w, r, http.StatusBadGateway, "provider_auth", "Provider requires the user to re-link")

	case *errs.RateLimitedError:
		log.Warn("provider rate limited", "provider", e.Provider, "error", e.Message)
		h.WriteError(w, r, http.StatusServiceUnavailable, "rate_limited", "Service temporarily unavailable")

	case *errs.TransientError:
		log.Warn("provider unavailable", "provider", e.Provider, "error", e.Message)
		h.WriteError(w, r, http.StatusServiceUnavailable, "service_unavailable", "Service temporarily unavailable")

	case *errs.ProviderError:
		log.Error("provider error", "provider", e.Provider, "code", e.Code, "error", e.Message)
		h.WriteError(w, r, http.StatusBadGateway, "provider_error", "Provider request failed")

	case *errs.DatabaseError:
		log.Error("database error", "operation", e.Operation, "error", e.Message)
		h.WriteError(w, r, http.StatusInternalServerError, "internal_error", "An error occurred")

	default:
		log.Error("unexpected error",
			"error", err,
			"type", fmt.Sprintf("%T", err))
		h.WriteError(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
