package store

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fintrack/bank-sync/internal/models"
)

// crypter wraps the KMS helper used for the token copy cached on the
// connection document.
type crypter interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// tokenStore keeps provider access tokens. The canonical copy lives in Secret
// Manager, one secret per connection; a KMS-wrapped copy is cached on the
// connection document so syncs survive transient Secret Manager outages.
//
// Secret path: projects/{project}/secrets/provider-access-token-{uid}-{connID}
type tokenStore struct {
	client    *secretmanager.Client
	projectID string
	prefix    string
	crypter   crypter
}

func NewTokenStore(client *secretmanager.Client, projectID string, crypter crypter) *tokenStore {
	return &tokenStore{
		client:    client,
		projectID: projectID,
		prefix:    "provider-access-token",
		crypter:   crypter,
	}
}

func (s *tokenStore) secretID(conn *models.BankConnection) string {
	return fmt.Sprintf("%s-%s-%s", s.prefix, conn.OwnerUID, conn.ID)
}

func (s *tokenStore) secretName(conn *models.BankConnection) string {
	return fmt.Sprintf("projects/%s/secrets/%s", s.projectID, s.secretID(conn))
}

func (s *tokenStore) ensureSecret(ctx context.Context, conn *models.BankConnection) error {
	name := s.secretName(conn)
	_, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: name})
	if status.Code(err) == codes.NotFound {
		_, err = s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
			Parent:   fmt.Sprintf("projects/%s", s.projectID),
			SecretId: s.secretID(conn),
			Secret: &secretmanagerpb.Secret{
				Replication: &secretmanagerpb.Replication{
					Replication: &secretmanagerpb.Replication_Automatic_{Automatic: &secretmanagerpb.Replication_Automatic{}},
				},
			},
		})
	}
	return err
}

// Save stores the token in Secret Manager and sets the KMS-wrapped cache on
// conn. The caller persists conn afterwards.
func (s *tokenStore) Save(ctx context.Context, conn *models.BankConnection, token string) error {
	if err := s.ensureSecret(ctx, conn); err != nil {
		return err
	}
	_, err := s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent: s.secretName(conn),
		Payload: &secretmanagerpb.SecretPayload{
			Data: []byte(token),
		},
	})
	if err != nil {
		return err
	}

	cipher, err := s.crypter.Encrypt(ctx, token)
	if err != nil {
		return err
	}
	conn.AccessTokenCipher = cipher
	return nil
}

// Access returns the plaintext token, preferring Secret Manager and falling
// back to the cached cipher.
func (s *tokenStore) Access(ctx context.Context, conn *models.BankConnection) (string, error) {
	res, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("%s/versions/latest", s.secretName(conn)),
	})
	if err == nil {
		return string(res.Payload.Data), nil
	}
	if conn.AccessTokenCipher == "" {
		return "", err
	}
	return s.crypter.Decrypt(ctx, conn.AccessTokenCipher)
}

// Delete removes the secret after a connection is deleted. NotFound is fine:
// deletion must be idempotent.
func (s *tokenStore) Delete(ctx context.Context, conn *models.BankConnection) error {
	err := s.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{
		Name: s.secretName(conn),
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}
