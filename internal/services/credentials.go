package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/anthonyr0ux/trading-journal-macos/internal/exchange"
	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/logger"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/ratelimit"
)

// SecretStore is the slice of the vault the credential service needs.
type SecretStore interface {
	Store(key, plaintext string) error
	Retrieve(key string) (string, error)
	DeleteAllWithPrefix(prefix string) error
}

// CredentialService pairs credential metadata in the ledger with secrets in
// the vault. Vault keys are "{id}-api-key", "{id}-api-secret",
// "{id}-passphrase".
type CredentialService struct {
	ledger   *ledger.Ledger
	secrets  SecretStore
	limiters *ratelimit.Manager
}

func NewCredentialService(l *ledger.Ledger, secrets SecretStore, limiters *ratelimit.Manager) *CredentialService {
	return &CredentialService{ledger: l, secrets: secrets, limiters: limiters}
}

type SaveCredentialRequest struct {
	Exchange   string `json:"exchange"`
	Label      string `json:"label"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase"`
}

func (s *CredentialService) Save(ctx context.Context, req SaveCredentialRequest) (*ledger.Credential, error) {
	if req.APIKey == "" || req.APISecret == "" {
		return nil, errors.New("api key and secret are required")
	}

	id := uuid.NewString()
	for key, val := range map[string]string{
		id + "-api-key":    req.APIKey,
		id + "-api-secret": req.APISecret,
		id + "-passphrase": req.Passphrase,
	} {
		if val == "" {
			continue
		}
		if err := s.secrets.Store(key, val); err != nil {
			_ = s.secrets.DeleteAllWithPrefix(id + "-")
			return nil, errors.Wrap(err, "store secret")
		}
	}

	cred := &ledger.Credential{
		ID:       id,
		Exchange: req.Exchange,
		Label:    req.Label,
		IsActive: true,
	}
	if err := s.ledger.InsertCredential(ctx, cred); err != nil {
		_ = s.secrets.DeleteAllWithPrefix(id + "-")
		return nil, err
	}
	logger.Infof("credential saved: %s (%s)", cred.Label, cred.Exchange)
	return cred, nil
}

// CredentialView is a listing entry, the key masked down to a preview.
type CredentialView struct {
	ledger.Credential
	APIKeyPreview string `json:"api_key_preview"`
}

func (s *CredentialService) List(ctx context.Context) ([]CredentialView, error) {
	creds, err := s.ledger.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CredentialView, 0, len(creds))
	for _, c := range creds {
		view := CredentialView{Credential: c}
		if key, err := s.secrets.Retrieve(c.ID + "-api-key"); err == nil {
			view.APIKeyPreview = maskKey(key)
		}
		out = append(out, view)
	}
	return out, nil
}

// Delete removes the metadata row, every vault entry under the credential's
// prefix, and its sync cursors.
func (s *CredentialService) Delete(ctx context.Context, id string) error {
	if err := s.ledger.DeleteCredential(ctx, id); err != nil {
		return err
	}
	if err := s.secrets.DeleteAllWithPrefix(id + "-"); err != nil {
		return errors.Wrap(err, "delete secrets")
	}
	if err := s.ledger.DeleteSyncState(ctx, id); err != nil {
		return err
	}
	logger.Infof("credential deleted: %s", id)
	return nil
}

// Decrypt loads the secret half of a credential from the vault.
func (s *CredentialService) Decrypt(id string) (exchange.Credentials, error) {
	key, err := s.secrets.Retrieve(id + "-api-key")
	if err != nil {
		return exchange.Credentials{}, errors.Wrap(err, "retrieve api key")
	}
	secret, err := s.secrets.Retrieve(id + "-api-secret")
	if err != nil {
		return exchange.Credentials{}, errors.Wrap(err, "retrieve api secret")
	}
	creds := exchange.Credentials{APIKey: key, APISecret: secret}
	// Passphrase is optional; not every exchange uses one.
	if pass, err := s.secrets.Retrieve(id + "-passphrase"); err == nil {
		creds.Passphrase = pass
	}
	return creds, nil
}

// Client builds a rate-limited exchange client for a stored credential.
func (s *CredentialService) Client(ctx context.Context, id string) (exchange.Client, *ledger.Credential, error) {
	cred, err := s.ledger.GetCredential(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	secrets, err := s.Decrypt(id)
	if err != nil {
		return nil, nil, err
	}
	client, err := exchange.New(cred.Exchange, secrets, s.limiters.ForCredential(cred.Exchange, id))
	if err != nil {
		return nil, nil, err
	}
	return client, cred, nil
}

// Test verifies a stored credential against the live exchange.
func (s *CredentialService) Test(ctx context.Context, id string) (bool, error) {
	client, _, err := s.Client(ctx, id)
	if err != nil {
		return false, err
	}
	return client.TestCredentials(ctx)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return fmt.Sprintf("%s...%s", key[:4], key[len(key)-4:])
}
