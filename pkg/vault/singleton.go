package vault

import "sync"

var (
	defaultMu    sync.Mutex
	defaultVault *Vault
)

// Initialize opens the process-wide vault. Calling it twice is a programmer
// error and fails with ErrAlreadyInitialized.
func Initialize(dataDir string) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultVault != nil {
		return ErrAlreadyInitialized
	}
	v, err := Open(dataDir)
	if err != nil {
		return err
	}
	defaultVault = v
	return nil
}

// Default returns the process-wide vault, or ErrNotInitialized before
// Initialize has run.
func Default() (*Vault, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultVault == nil {
		return nil, ErrNotInitialized
	}
	return defaultVault, nil
}
