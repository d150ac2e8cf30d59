package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/ratelimit"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/vault"
)

type memorySecrets struct {
	m map[string]string
}

func newMemorySecrets() *memorySecrets {
	return &memorySecrets{m: map[string]string{}}
}

func (s *memorySecrets) Store(key, plaintext string) error {
	s.m[key] = plaintext
	return nil
}

func (s *memorySecrets) Retrieve(key string) (string, error) {
	v, ok := s.m[key]
	if !ok {
		return "", vault.ErrNotFound
	}
	return v, nil
}

func (s *memorySecrets) DeleteAllWithPrefix(prefix string) error {
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			delete(s.m, k)
		}
	}
	return nil
}

func newCredentialService(t *testing.T) (*CredentialService, *ledger.Ledger, *memorySecrets) {
	t.Helper()
	l := openTestLedger(t)
	secrets := newMemorySecrets()
	return NewCredentialService(l, secrets, ratelimit.NewManager()), l, secrets
}

func TestCredentialSaveAndList(t *testing.T) {
	svc, _, secrets := newCredentialService(t)
	ctx := context.Background()

	cred, err := svc.Save(ctx, SaveCredentialRequest{
		Exchange:   "bitget",
		Label:      "main",
		APIKey:     "bg_1234567890abcdef",
		APISecret:  "supersecret",
		Passphrase: "hunter2",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, cred.ID)
	assert.True(t, cred.IsActive)

	assert.Equal(t, "bg_1234567890abcdef", secrets.m[cred.ID+"-api-key"])
	assert.Equal(t, "supersecret", secrets.m[cred.ID+"-api-secret"])
	assert.Equal(t, "hunter2", secrets.m[cred.ID+"-passphrase"])

	views, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "bg_1...cdef", views[0].APIKeyPreview)
	assert.NotContains(t, views[0].APIKeyPreview, "567890")
}

func TestCredentialSaveRequiresSecrets(t *testing.T) {
	svc, _, _ := newCredentialService(t)
	_, err := svc.Save(context.Background(), SaveCredentialRequest{Exchange: "bitget"})
	assert.Error(t, err)
}

func TestCredentialDecrypt(t *testing.T) {
	svc, _, _ := newCredentialService(t)
	ctx := context.Background()

	cred, err := svc.Save(ctx, SaveCredentialRequest{
		Exchange:  "blofin",
		Label:     "alt",
		APIKey:    "key",
		APISecret: "secret",
	})
	require.NoError(t, err)

	got, err := svc.Decrypt(cred.ID)
	require.NoError(t, err)
	assert.Equal(t, "key", got.APIKey)
	assert.Equal(t, "secret", got.APISecret)
	assert.Empty(t, got.Passphrase)
}

func TestCredentialDelete(t *testing.T) {
	svc, l, secrets := newCredentialService(t)
	ctx := context.Background()

	cred, err := svc.Save(ctx, SaveCredentialRequest{
		Exchange: "bitget", Label: "main", APIKey: "key", APISecret: "secret",
	})
	require.NoError(t, err)
	require.NoError(t, l.SetSyncState(ctx, cred.ID, "last_fill_ts", "123"))

	require.NoError(t, svc.Delete(ctx, cred.ID))

	assert.Empty(t, secrets.m)
	_, err = l.GetCredential(ctx, cred.ID)
	assert.ErrorIs(t, err, ledger.ErrCredentialNotFound)
	_, ok, err := l.GetSyncState(ctx, cred.ID, "last_fill_ts")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, svc.Delete(ctx, cred.ID), ledger.ErrCredentialNotFound)
}

func TestCredentialClientUnsupportedExchange(t *testing.T) {
	svc, _, _ := newCredentialService(t)
	ctx := context.Background()

	cred, err := svc.Save(ctx, SaveCredentialRequest{
		Exchange: "kraken", Label: "x", APIKey: "key", APISecret: "secret",
	})
	require.NoError(t, err)

	_, _, err = svc.Client(ctx, cred.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exchange")
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "****", maskKey(""))
	assert.Equal(t, "abcd...wxyz", maskKey("abcdefghijklmnopqrstuvwxyz"))
}
