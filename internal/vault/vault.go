// Package vault implements the local auth-token vault of spec.md §6: a
// single binary blob, AES-256-GCM, layout [12-byte nonce][ciphertext]
// [16-byte tag], key sourced from an OS keychain or a mounted secret file.
//
// Grounded on internal/cryptoutil's AES-GCM primitives (the same
// construction the U2L envelope and the sync engine's codec use) rather
// than a new crypto implementation; the on-disk layout is exactly
// cryptoutil.EncryptBytes's output, so this package is a thin
// read-file/decrypt, encrypt/write-file wrapper plus the key-sourcing
// boundary.
package vault

import (
	"context"
	"fmt"
	"os"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/cryptoutil"
)

// vaultAD is the fixed associated data binding every vault blob to its
// purpose, same literal-AD-string approach as the sync engine's codec.
var vaultAD = []byte("lumo.vault.token")

// KeySource supplies the vault's encryption key. Narrow by design: a
// production build backs it with an OS keychain lookup; tests and the
// mounted-secret-file deployment back it with a fixed or file-read key.
type KeySource interface {
	Key(ctx context.Context) ([]byte, error)
}

// FileKeySource reads the raw 32-byte key from a mounted secret file —
// the "mounted secret file" half of spec.md §6's key-sourcing options.
type FileKeySource struct {
	Path string
}

// Key reads and returns the vault key from disk.
func (f FileKeySource) Key(_ context.Context) ([]byte, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("vault: read key file %s: %w", f.Path, err)
	}
	if len(b) != cryptoutil.KeySize {
		return nil, fmt.Errorf("vault: key file %s must contain exactly %d bytes, got %d", f.Path, cryptoutil.KeySize, len(b))
	}
	return b, nil
}

// StaticKeySource wraps an already-resolved key, e.g. from an OS keychain
// lookup performed once at startup.
type StaticKeySource struct {
	RawKey []byte
}

// Key returns the wrapped key.
func (s StaticKeySource) Key(_ context.Context) ([]byte, error) {
	return s.RawKey, nil
}

// Vault reads and writes the encrypted auth-token blob at Path.
type Vault struct {
	path string
	keys KeySource
}

// New returns a Vault persisting to path, sourcing its key from keys.
func New(path string, keys KeySource) *Vault {
	return &Vault{path: path, keys: keys}
}

// Store encrypts token and writes it to the vault's path, replacing any
// existing blob.
func (v *Vault) Store(ctx context.Context, token string) error {
	key, err := v.keys.Key(ctx)
	if err != nil {
		return err
	}
	blob, err := cryptoutil.EncryptBytes(key, vaultAD, []byte(token))
	if err != nil {
		return fmt.Errorf("vault: encrypt token: %w", err)
	}
	if err := os.WriteFile(v.path, blob, 0o600); err != nil {
		return fmt.Errorf("vault: write %s: %w", v.path, err)
	}
	return nil
}

// Load reads and decrypts the vault's token. Returns os.ErrNotExist (via
// errors.Is) if no vault file has been written yet.
func (v *Vault) Load(ctx context.Context) (string, error) {
	blob, err := os.ReadFile(v.path)
	if err != nil {
		return "", err
	}
	key, err := v.keys.Key(ctx)
	if err != nil {
		return "", err
	}
	plaintext, err := cryptoutil.DecryptBytes(key, vaultAD, blob)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt token: %w", err)
	}
	return string(plaintext), nil
}
