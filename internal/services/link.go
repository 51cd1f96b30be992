package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fintrack/bank-sync/internal/dto"
	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
	"github.com/fintrack/bank-sync/internal/queue"
	"github.com/fintrack/bank-sync/pkg/logger"
)

// --- Dependencies (minimal interfaces scoped to this service) ---

type providerLinkClient interface {
	CreateLinkToken(ctx context.Context, uid string) (string, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (itemID, accessToken string, err error)
}

type connectionLinkStore interface {
	Create(ctx context.Context, conn *models.BankConnection) error
	FindByItemID(ctx context.Context, itemID string) (*models.BankConnection, error)
	UpdateTokenCipher(ctx context.Context, id, cipher string) error
}

type tokenLinkStore interface {
	Save(ctx context.Context, conn *models.BankConnection, token string) error
}

type enqueuer interface {
	Enqueue(ctx context.Context, typ string, payload any, opts ...queue.Option) (string, error)
}

type linkService struct {
	provider    providerLinkClient
	connections connectionLinkStore
	tokens      tokenLinkStore
	queue       enqueuer
	clockNow    func() time.Time
}

func NewLinkService(provider providerLinkClient, connections connectionLinkStore, tokens tokenLinkStore, queue enqueuer) *linkService {
	return &linkService{
		provider:    provider,
		connections: connections,
		tokens:      tokens,
		queue:       queue,
		clockNow:    time.Now,
	}
}

func (s *linkService) CreateLinkToken(ctx context.Context, uid string) (string, error) {
	return s.provider.CreateLinkToken(ctx, uid)
}

// ExchangePublicToken completes a link: it trades the public token for the
// item credentials, creates the BankConnection and schedules the first sync
// with the deep historical fetch. Linking the same item twice is idempotent
// and refreshes the stored access token instead of duplicating the
// connection (itemId is globally unique per provider).
func (s *linkService) ExchangePublicToken(ctx context.Context, uid, publicToken, institutionID, institutionName string) (*models.BankConnection, error) {
	itemID, accessToken, err := s.provider.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)

	existing, err := s.connections.FindByItemID(ctx, itemID)
	if err == nil {
		if existing.OwnerUID != uid {
			return nil, errs.NewValidationError("item is linked by another user")
		}
		if err := s.tokens.Save(ctx, existing, accessToken); err != nil {
			return nil, err
		}
		if err := s.connections.UpdateTokenCipher(ctx, existing.ID, existing.AccessTokenCipher); err != nil {
			return nil, err
		}
		log.Info("existing connection relinked", "connection_id", existing.ID, "item_id", itemID)
		return existing, nil
	}
	var nf *errs.NotFoundError
	if !errors.As(err, &nf) {
		return nil, err
	}

	conn := &models.BankConnection{
		ID:              uuid.NewString(),
		OwnerUID:        uid,
		ItemID:          itemID,
		Provider:        models.ProviderPlaid,
		InstitutionID:   institutionID,
		InstitutionName: institutionName,
		Status:          models.StatusActive,
		CreatedAt:       s.clockNow(),
	}
	if err := s.tokens.Save(ctx, conn, accessToken); err != nil {
		return nil, err
	}
	if err := s.connections.Create(ctx, conn); err != nil {
		return nil, err
	}

	// First sync fetches deep history; later syncs use the standard window.
	_, err = s.queue.Enqueue(ctx, TaskSync,
		dto.SyncPayload{ConnectionID: conn.ID, ManualSync: true},
		queue.WithConcurrencyKey(conn.ID),
	)
	if err != nil {
		log.Error("initial sync enqueue failed", "connection_id", conn.ID, "error", err)
	}

	log.Info("connection linked", "connection_id", conn.ID, "item_id", itemID, "institution", institutionName)
	return conn, nil
}
