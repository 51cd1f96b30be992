package services

import (
	"context"
	"errors"

	"github.com/fintrack/bank-sync/internal/dto"
	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
	"github.com/fintrack/bank-sync/pkg/logger"
)

// --- Dependencies (minimal interfaces scoped to this service) ---

type connectionDeleteStore interface {
	FindByID(ctx context.Context, id string) (*models.BankConnection, error)
	DeleteCascade(ctx context.Context, id string) error
}

type providerDeleteClient interface {
	RemoveItem(ctx context.Context, accessToken string) error
}

type tokenDeleteStore interface {
	Access(ctx context.Context, conn *models.BankConnection) (string, error)
	Delete(ctx context.Context, conn *models.BankConnection) error
}

type deleteService struct {
	connections connectionDeleteStore
	provider    providerDeleteClient
	tokens      tokenDeleteStore
}

func NewDeleteService(connections connectionDeleteStore, provider providerDeleteClient, tokens tokenDeleteStore) *deleteService {
	return &deleteService{
		connections: connections,
		provider:    provider,
		tokens:      tokens,
	}
}

// Delete revokes provider access for a connection, then removes the local
// connection with its accounts and transactions. Local data is only removed
// after the provider confirms revocation (or reports the item already gone).
//
// A missing connection and provider auth failures are terminal: retrying
// cannot make a stale token valid. Other provider failures are returned for
// the queue's bounded retry.
func (s *deleteService) Delete(ctx context.Context, payload dto.DeletePayload) (dto.DeleteResult, error) {
	log, ctx := logger.With(ctx, "connection_id", payload.ReferenceID, "provider", payload.Provider)

	if !models.ValidProvider(payload.Provider) {
		err := errs.NewValidationError("unknown provider " + string(payload.Provider))
		return dto.DeleteResult{Success: false, Message: err.Message}, err
	}

	conn, err := s.connections.FindByID(ctx, payload.ReferenceID)
	if err != nil {
		return dto.DeleteResult{Success: false, Message: err.Error()}, err
	}

	token := payload.AccessToken
	if token == "" {
		if token, err = s.tokens.Access(ctx, conn); err != nil {
			return dto.DeleteResult{Success: false, Message: err.Error()},
				errs.NewTransientError(string(conn.Provider), "access token unavailable: "+err.Error())
		}
	}

	if err := s.provider.RemoveItem(ctx, token); err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			// Item already gone at the provider: revocation is confirmed
			// unnecessary and local deletion may proceed.
			log.Info("provider item already removed")
		} else {
			return dto.DeleteResult{Success: false, Message: err.Error()}, err
		}
	}

	if err := s.connections.DeleteCascade(ctx, conn.ID); err != nil {
		return dto.DeleteResult{Success: false, Message: err.Error()}, err
	}
	if err := s.tokens.Delete(ctx, conn); err != nil {
		// The connection is gone; a leaked secret is a cleanup concern, not
		// a reason to fail the deletion.
		log.Warn("token secret cleanup failed", "error", err)
	}

	log.Info("connection deleted", "item_id", conn.ItemID)
	return dto.DeleteResult{Success: true, Message: "connection deleted"}, nil
}
