package store

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fintrack/bank-sync/internal/errs"
	"github.com/fintrack/bank-sync/internal/models"
)

type connectionStore struct {
	client *firestore.Client
}

func NewConnectionStore(client *firestore.Client) *connectionStore {
	return &connectionStore{client: client}
}

func (s *connectionStore) collection() *firestore.CollectionRef {
	return s.client.Collection("connections")
}

func (s *connectionStore) Create(ctx context.Context, conn *models.BankConnection) error {
	now := time.Now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now
	conn.LastStatusChangedAt = now

	_, err := s.collection().Doc(conn.ID).Create(ctx, conn)
	if status.Code(err) == codes.AlreadyExists {
		return errs.NewAlreadyExistsError("connection already exists")
	}
	if err != nil {
		return errs.NewDatabaseError("connection.create", err.Error())
	}
	return nil
}

func (s *connectionStore) FindByID(ctx context.Context, id string) (*models.BankConnection, error) {
	doc, err := s.collection().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, errs.NewNotFoundError("connection not found")
	}
	if err != nil {
		return nil, errs.NewDatabaseError("connection.get", err.Error())
	}
	var conn models.BankConnection
	if err := doc.DataTo(&conn); err != nil {
		return nil, errs.NewDatabaseError("connection.get", err.Error())
	}
	return &conn, nil
}

// FindByItemID resolves a connection by the provider's item id. ItemID is
// globally unique per provider.
func (s *connectionStore) FindByItemID(ctx context.Context, itemID string) (*models.BankConnection, error) {
	docs, err := s.collection().Where("itemId", "==", itemID).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, errs.NewDatabaseError("connection.findByItemId", err.Error())
	}
	if len(docs) == 0 {
		return nil, errs.NewNotFoundError("unknown item id")
	}
	var conn models.BankConnection
	if err := docs[0].DataTo(&conn); err != nil {
		return nil, errs.NewDatabaseError("connection.findByItemId", err.Error())
	}
	return &conn, nil
}

// UpdateStatus transitions a connection. lastStatusChangedAt is only bumped
// when the status actually changes, so the health monitor's age windows are
// measured from the real transition.
func (s *connectionStore) UpdateStatus(ctx context.Context, id string, newStatus models.ConnectionStatus) error {
	ref := s.collection().Doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var conn models.BankConnection
		if err := doc.DataTo(&conn); err != nil {
			return err
		}
		now := time.Now()
		updates := []firestore.Update{
			{Path: "status", Value: newStatus},
			{Path: "updatedAt", Value: now},
		}
		if conn.Status != newStatus {
			updates = append(updates, firestore.Update{Path: "lastStatusChangedAt", Value: now})
		}
		return tx.Update(ref, updates)
	})
	if status.Code(err) == codes.NotFound {
		return errs.NewNotFoundError("connection not found")
	}
	if err != nil {
		return errs.NewDatabaseError("connection.updateStatus", err.Error())
	}
	return nil
}

// UpdateTokenCipher refreshes the cached token cipher after a relink.
func (s *connectionStore) UpdateTokenCipher(ctx context.Context, id, cipher string) error {
	_, err := s.collection().Doc(id).Update(ctx, []firestore.Update{
		{Path: "accessTokenCipher", Value: cipher},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return errs.NewDatabaseError("connection.updateTokenCipher", err.Error())
	}
	return nil
}

func (s *connectionStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	_, err := s.collection().Doc(id).Update(ctx, []firestore.Update{
		{Path: "lastSyncedAt", Value: at},
		{Path: "updatedAt", Value: at},
	})
	if err != nil {
		return errs.NewDatabaseError("connection.markSynced", err.Error())
	}
	return nil
}

// RecordNotified sets lastNotifiedAt and increments notificationCount in one
// write. The time-check that makes notification sends idempotent lives in the
// health monitor; this is the atomic bookkeeping half.
func (s *connectionStore) RecordNotified(ctx context.Context, id string, at time.Time) error {
	_, err := s.collection().Doc(id).Update(ctx, []firestore.Update{
		{Path: "lastNotifiedAt", Value: at},
		{Path: "notificationCount", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: at},
	})
	if err != nil {
		return errs.NewDatabaseError("connection.recordNotified", err.Error())
	}
	return nil
}

// Disable is the one-way terminal transition for abandoned connections: the
// connection is flagged disabled, moved to DISCONNECTED and every dependent
// account is disabled.
func (s *connectionStore) Disable(ctx context.Context, id string) error {
	now := time.Now()
	_, err := s.collection().Doc(id).Update(ctx, []firestore.Update{
		{Path: "disabled", Value: true},
		{Path: "status", Value: models.StatusDisconnected},
		{Path: "lastStatusChangedAt", Value: now},
		{Path: "updatedAt", Value: now},
	})
	if err != nil {
		return errs.NewDatabaseError("connection.disable", err.Error())
	}

	accounts, err := s.client.Collection("accounts").
		Where("bankConnectionId", "==", id).Documents(ctx).GetAll()
	if err != nil {
		return errs.NewDatabaseError("connection.disable", err.Error())
	}
	for _, doc := range accounts {
		if _, err := doc.Ref.Update(ctx, []firestore.Update{
			{Path: "enabled", Value: false},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return errs.NewDatabaseError("connection.disable", err.Error())
		}
	}
	return nil
}

// FindStaleUnhealthy returns non-disabled connections in the given statuses
// whose last notification is older than notifiedBefore (or that were never
// notified). Firestore cannot express the null-or-older disjunction, so the
// cool-down filter runs here after the status query.
func (s *connectionStore) FindStaleUnhealthy(ctx context.Context, notifiedBefore time.Time, statuses []models.ConnectionStatus) ([]*models.BankConnection, error) {
	docs, err := s.collection().
		Where("status", "in", statuses).
		Where("disabled", "==", false).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, errs.NewDatabaseError("connection.findStaleUnhealthy", err.Error())
	}

	var out []*models.BankConnection
	for _, doc := range docs {
		var conn models.BankConnection
		if err := doc.DataTo(&conn); err != nil {
			return nil, errs.NewDatabaseError("connection.findStaleUnhealthy", err.Error())
		}
		if conn.LastNotifiedAt == nil || conn.LastNotifiedAt.Before(notifiedBefore) {
			out = append(out, &conn)
		}
	}
	return out, nil
}

// FindAbandoned returns non-disabled connections that have been unhealthy
// since before statusChangedBefore and accumulated at least minNotifications.
func (s *connectionStore) FindAbandoned(ctx context.Context, statusChangedBefore time.Time, minNotifications int) ([]*models.BankConnection, error) {
	docs, err := s.collection().
		Where("status", "in", models.UnhealthyStatuses).
		Where("disabled", "==", false).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, errs.NewDatabaseError("connection.findAbandoned", err.Error())
	}

	var out []*models.BankConnection
	for _, doc := range docs {
		var conn models.BankConnection
		if err := doc.DataTo(&conn); err != nil {
			return nil, errs.NewDatabaseError("connection.findAbandoned", err.Error())
		}
		if conn.LastStatusChangedAt.Before(statusChangedBefore) && conn.NotificationCount >= minNotifications {
			out = append(out, &conn)
		}
	}
	return out, nil
}

// FindStaleSyncing returns connections stuck in SYNCING since before
// changedBefore, so the reaper can move them to FAILED.
func (s *connectionStore) FindStaleSyncing(ctx context.Context, changedBefore time.Time) ([]*models.BankConnection, error) {
	docs, err := s.collection().
		Where("status", "==", models.StatusSyncing).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, errs.NewDatabaseError("connection.findStaleSyncing", err.Error())
	}

	var out []*models.BankConnection
	for _, doc := range docs {
		var conn models.BankConnection
		if err := doc.DataTo(&conn); err != nil {
			return nil, errs.NewDatabaseError("connection.findStaleSyncing", err.Error())
		}
		if conn.LastStatusChangedAt.Before(changedBefore) {
			out = append(out, &conn)
		}
	}
	return out, nil
}

// DeleteCascade removes the connection and all dependent accounts and
// transactions. Callers must have confirmed provider-side revocation first.
func (s *connectionStore) DeleteCascade(ctx context.Context, id string) error {
	accounts, err := s.client.Collection("accounts").
		Where("bankConnectionId", "==", id).Documents(ctx).GetAll()
	if err != nil {
		return errs.NewDatabaseError("connection.deleteCascade", err.Error())
	}

	bw := s.client.BulkWriter(ctx)
	for _, accDoc := range accounts {
		txDocs, err := s.client.Collection("transactions").
			Where("bankAccountId", "==", accDoc.Ref.ID).Documents(ctx).GetAll()
		if err != nil {
			bw.End()
			return errs.NewDatabaseError("connection.deleteCascade", err.Error())
		}
		for _, txDoc := range txDocs {
			if _, err := bw.Delete(txDoc.Ref); err != nil {
				bw.End()
				return errs.NewDatabaseError("connection.deleteCascade", err.Error())
			}
		}
		if _, err := bw.Delete(accDoc.Ref); err != nil {
			bw.End()
			return errs.NewDatabaseError("connection.deleteCascade", err.Error())
		}
	}
	if _, err := bw.Delete(s.collection().Doc(id)); err != nil {
		bw.End()
		return errs.NewDatabaseError("connection.deleteCascade", err.Error())
	}
	bw.End()
	return nil
}
