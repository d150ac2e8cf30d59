// Package vault envelope-encrypts credential secrets at rest in a single
// JSON store file. The master key is derived from machine identity, held
// only in memory, and never persisted.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

const (
	storeVersion  = 1
	storeFileName = "credentials.enc"
	nonceSize     = 12
	saltSize      = 16
)

// Fixed application-namespace salt for master key derivation. It is not a
// secret: the key's entropy comes from machine identity, and the salt must
// be stable so previously stored secrets remain decryptable after restart.
var keyDerivationSalt = []byte("trading-journal/vault/v1")

var (
	ErrNotInitialized     = errors.New("vault: not initialized")
	ErrAlreadyInitialized = errors.New("vault: already initialized")
	ErrNotFound           = errors.New("vault: secret not found")
	ErrDecryptionFailed   = errors.New("vault: decryption failed")
)

type secretRecord struct {
	Nonce      string `json:"nonce"`      // base64, 12 random bytes per encryption
	Ciphertext string `json:"ciphertext"` // base64, AES-256-GCM sealed
}

type credentialStore struct {
	Version     uint8                   `json:"version"`
	Salt        string                  `json:"salt"` // base64; bound as AEAD additional data
	Credentials map[string]secretRecord `json:"credentials"`
}

// Vault is the lifecycle object guarding one store file. All operations
// serialize on a single lock for the whole read-modify-write cycle.
type Vault struct {
	storePath string
	masterKey []byte
	mu        sync.Mutex
}

// Open derives the master key from machine identity and prepares a vault
// rooted at dataDir. It does not touch the store file; an absent file is an
// empty store created on first write.
func Open(dataDir string) (*Vault, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("vault: data dir is required")
	}
	key := deriveMasterKey(machineIdentity())
	return &Vault{
		storePath: filepath.Join(dataDir, storeFileName),
		masterKey: key,
	}, nil
}

// deriveMasterKey runs the machine identity through argon2id and keeps the
// first 32 bytes as the AES-256 key. Deterministic for one machine/user pair.
func deriveMasterKey(identity string) []byte {
	return argon2.IDKey([]byte(identity), keyDerivationSalt, 1, 64*1024, 4, 32)
}

func (v *Vault) loadStore() (*credentialStore, error) {
	b, err := os.ReadFile(v.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			salt := make([]byte, saltSize)
			if _, err := io.ReadFull(rand.Reader, salt); err != nil {
				return nil, fmt.Errorf("vault: generate store salt: %w", err)
			}
			return &credentialStore{
				Version:     storeVersion,
				Salt:        base64.StdEncoding.EncodeToString(salt),
				Credentials: map[string]secretRecord{},
			}, nil
		}
		return nil, fmt.Errorf("vault: read store: %w", err)
	}

	var store credentialStore
	if err := json.Unmarshal(b, &store); err != nil {
		// Fail closed: a corrupt store is surfaced, never reset.
		return nil, fmt.Errorf("%w: parse store file: %v", ErrDecryptionFailed, err)
	}
	if store.Version != storeVersion {
		return nil, fmt.Errorf("%w: unsupported store version %d", ErrDecryptionFailed, store.Version)
	}
	if store.Credentials == nil {
		store.Credentials = map[string]secretRecord{}
	}
	return &store, nil
}

// saveStore rewrites the whole file via temp-file + rename so concurrent
// readers never observe a partially written store.
func (v *Vault) saveStore(store *credentialStore) error {
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: serialize store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(v.storePath), 0o700); err != nil {
		return fmt.Errorf("vault: create store dir: %w", err)
	}
	tmp := v.storePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("vault: write store: %w", err)
	}
	if err := os.Rename(tmp, v.storePath); err != nil {
		return fmt.Errorf("vault: replace store: %w", err)
	}
	return nil
}

func (v *Vault) newCipher() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Store encrypts plaintext under a fresh random nonce and upserts the record.
func (v *Vault) Store(key string, plaintext string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("vault: key is empty")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	store, err := v.loadStore()
	if err != nil {
		return err
	}
	salt, err := base64.StdEncoding.DecodeString(store.Salt)
	if err != nil {
		return fmt.Errorf("%w: invalid store salt", ErrDecryptionFailed)
	}

	gcm, err := v.newCipher()
	if err != nil {
		return fmt.Errorf("vault: create cipher: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("vault: generate nonce: %w", err)
	}
	ct := gcm.Seal(nil, nonce, []byte(plaintext), salt)

	store.Credentials[key] = secretRecord{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}
	return v.saveStore(store)
}

// Retrieve decrypts the record for key and verifies the authentication tag.
func (v *Vault) Retrieve(key string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	store, err := v.loadStore()
	if err != nil {
		return "", err
	}
	rec, ok := store.Credentials[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	salt, err := base64.StdEncoding.DecodeString(store.Salt)
	if err != nil {
		return "", fmt.Errorf("%w: invalid store salt", ErrDecryptionFailed)
	}
	nonce, err := base64.StdEncoding.DecodeString(rec.Nonce)
	if err != nil || len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: invalid nonce", ErrDecryptionFailed)
	}
	ct, err := base64.StdEncoding.DecodeString(rec.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext", ErrDecryptionFailed)
	}

	gcm, err := v.newCipher()
	if err != nil {
		return "", fmt.Errorf("vault: create cipher: %w", err)
	}
	pt, err := gcm.Open(nil, nonce, ct, salt)
	if err != nil {
		// Wrong key, corrupted file, or tampering. Never auto-retried.
		return "", ErrDecryptionFailed
	}
	if !utf8.Valid(pt) {
		return "", fmt.Errorf("%w: plaintext is not valid text", ErrDecryptionFailed)
	}
	return string(pt), nil
}

// Delete removes the record for key. Deleting an absent key is not an error.
func (v *Vault) Delete(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	store, err := v.loadStore()
	if err != nil {
		return err
	}
	delete(store.Credentials, key)
	return v.saveStore(store)
}

// DeleteAllWithPrefix removes every record whose key starts with prefix,
// e.g. all three role secrets of one credential id.
func (v *Vault) DeleteAllWithPrefix(prefix string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	store, err := v.loadStore()
	if err != nil {
		return err
	}
	for k := range store.Credentials {
		if strings.HasPrefix(k, prefix) {
			delete(store.Credentials, k)
		}
	}
	return v.saveStore(store)
}

// StorePath reports where the store file lives.
func (v *Vault) StorePath() string {
	return v.storePath
}
