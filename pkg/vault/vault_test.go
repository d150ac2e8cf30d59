package vault

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(t.TempDir())
	require.NoError(t, err)
	return v
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	v := openTestVault(t)

	cases := []struct {
		key   string
		value string
	}{
		{"cred-001-api-key", "my-api-key-12345"},
		{"cred-001-api-secret", "s3cr3t"},
		{"unicode", "p@ss-phrase-日本語-ü"},
		{"empty", ""},
	}
	for _, tc := range cases {
		require.NoError(t, v.Store(tc.key, tc.value))
		got, err := v.Retrieve(tc.key)
		require.NoError(t, err, "retrieve %s", tc.key)
		assert.Equal(t, tc.value, got)
	}
}

func TestRetrieveNotFound(t *testing.T) {
	v := openTestVault(t)

	_, err := v.Retrieve("nonexistent-key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOverwriteReplacesValue(t *testing.T) {
	v := openTestVault(t)

	require.NoError(t, v.Store("k", "first"))
	require.NoError(t, v.Store("k", "second"))

	got, err := v.Retrieve("k")
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestNonceIsFreshPerEncryption(t *testing.T) {
	v := openTestVault(t)

	require.NoError(t, v.Store("a", "same-plaintext"))
	firstNonce := readRecord(t, v.storePath, "a").Nonce

	require.NoError(t, v.Store("a", "same-plaintext"))
	secondNonce := readRecord(t, v.storePath, "a").Nonce

	assert.NotEqual(t, firstNonce, secondNonce)
}

func TestDeleteIsIdempotent(t *testing.T) {
	v := openTestVault(t)

	require.NoError(t, v.Store("k", "v"))
	require.NoError(t, v.Delete("k"))
	require.NoError(t, v.Delete("k"))

	_, err := v.Retrieve("k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAllWithPrefix(t *testing.T) {
	v := openTestVault(t)

	require.NoError(t, v.Store("A-api-key", "x"))
	require.NoError(t, v.Store("A-api-secret", "y"))
	require.NoError(t, v.Store("B-api-key", "z"))

	require.NoError(t, v.DeleteAllWithPrefix("A"))

	_, err := v.Retrieve("A-api-key")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = v.Retrieve("A-api-secret")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := v.Retrieve("B-api-key")
	require.NoError(t, err)
	assert.Equal(t, "z", got)
}

func TestKeyDerivationStableAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	v1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, v1.Store("k", "v"))

	// Process-equivalent reinitialization on the same machine identity.
	v2, err := Open(dir)
	require.NoError(t, err)
	got, err := v2.Retrieve("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestTamperedCiphertextFailsClosed(t *testing.T) {
	v := openTestVault(t)
	require.NoError(t, v.Store("k", "v"))

	flipRecordBit(t, v.storePath, "k", func(rec *secretRecord) {
		ct, err := base64.StdEncoding.DecodeString(rec.Ciphertext)
		require.NoError(t, err)
		ct[0] ^= 0x01
		rec.Ciphertext = base64.StdEncoding.EncodeToString(ct)
	})

	_, err := v.Retrieve("k")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestTamperedNonceFailsClosed(t *testing.T) {
	v := openTestVault(t)
	require.NoError(t, v.Store("k", "v"))

	flipRecordBit(t, v.storePath, "k", func(rec *secretRecord) {
		nonce, err := base64.StdEncoding.DecodeString(rec.Nonce)
		require.NoError(t, err)
		nonce[len(nonce)-1] ^= 0x80
		rec.Nonce = base64.StdEncoding.EncodeToString(nonce)
	})

	_, err := v.Retrieve("k")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestTamperedStoreSaltFailsClosed(t *testing.T) {
	v := openTestVault(t)
	require.NoError(t, v.Store("k", "v"))

	mutateStore(t, v.storePath, func(store *credentialStore) {
		salt, err := base64.StdEncoding.DecodeString(store.Salt)
		require.NoError(t, err)
		salt[0] ^= 0xff
		store.Salt = base64.StdEncoding.EncodeToString(salt)
	})

	_, err := v.Retrieve("k")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCorruptStoreFileFailsClosed(t *testing.T) {
	v := openTestVault(t)
	require.NoError(t, v.Store("k", "v"))

	require.NoError(t, os.WriteFile(v.storePath, []byte("{not json"), 0o600))

	_, err := v.Retrieve("k")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestUnsupportedVersionFailsClosed(t *testing.T) {
	v := openTestVault(t)
	require.NoError(t, v.Store("k", "v"))

	mutateStore(t, v.storePath, func(store *credentialStore) {
		store.Version = 99
	})

	_, err := v.Retrieve("k")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestAbsentFileIsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(filepath.Join(dir, "nested", "data"))
	require.NoError(t, err)

	_, err = v.Retrieve("anything")
	assert.ErrorIs(t, err, ErrNotFound)

	// First write creates the file, including parent dirs.
	require.NoError(t, v.Store("k", "v"))
	_, err = os.Stat(v.storePath)
	assert.NoError(t, err)
}

func TestSingletonLifecycle(t *testing.T) {
	require.NoError(t, Initialize(t.TempDir()))

	err := Initialize(t.TempDir())
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	v, err := Default()
	require.NoError(t, err)
	require.NoError(t, v.Store("k", "v"))
	got, err := v.Retrieve("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func readRecord(t *testing.T, path string, key string) secretRecord {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var store credentialStore
	require.NoError(t, json.Unmarshal(b, &store))
	rec, ok := store.Credentials[key]
	require.True(t, ok, "record %s missing", key)
	return rec
}

func mutateStore(t *testing.T, path string, fn func(*credentialStore)) {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var store credentialStore
	require.NoError(t, json.Unmarshal(b, &store))
	fn(&store)
	out, err := json.Marshal(&store)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, out, 0o600))
}

func flipRecordBit(t *testing.T, path string, key string, fn func(*secretRecord)) {
	t.Helper()
	mutateStore(t, path, func(store *credentialStore) {
		rec := store.Credentials[key]
		fn(&rec)
		store.Credentials[key] = rec
	})
}
