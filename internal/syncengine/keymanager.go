// Package syncengine implements the key manager, AEAD codec, push and pull
// pipeline of spec.md §4.6: conversations and messages are encrypted under
// a per-space data encryption key before being pushed to the sync server,
// and unwrapped on startup for every space the local master key owns.
//
// Grounded on the teacher's internal/keyshare.Service for the
// session/key-lifecycle logging shape (structured slog fields per step,
// "Service" naming, constructor-injected collaborators) and on
// internal/cryptoutil for every cryptographic primitive — this package
// never touches crypto/cipher or crypto/hkdf directly.
package syncengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/cryptoutil"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/logger"
)

// spaceEntry is everything the key manager caches about one space.
type spaceEntry struct {
	RemoteID   string
	SpaceKey   []byte
	DEK        []byte
	WrappedKey string // as stored/fetched remotely, kept for diagnostics
}

// KeyManager owns the master key and the in-memory cache of unwrapped
// space keys/DEKs (spec.md §4.6.1). It never persists the master key
// itself; that is the "out-of-scope key manager" spec.md names.
type KeyManager struct {
	masterKey []byte

	mu     sync.Mutex
	spaces map[string]*spaceEntry // local spaceId -> entry

	log *logger.Logger
}

// NewKeyManager returns a KeyManager wrapping/unwrapping space keys under
// masterKey, a 32-byte AES key.
func NewKeyManager(masterKey []byte, log *logger.Logger) *KeyManager {
	return &KeyManager{
		masterKey: masterKey,
		spaces:    make(map[string]*spaceEntry),
		log:       log.WithComponent("syncengine.keymanager"),
	}
}

// EnsureSpace returns the cached key entry for spaceID, lazily creating a
// new space (fresh space key, wrapped and pushed to remote) if none
// exists yet (spec.md §4.6.3 step 1).
func (k *KeyManager) EnsureSpace(ctx context.Context, remote RemoteClient, spaceID string) (*spaceEntry, error) {
	k.mu.Lock()
	if entry, ok := k.spaces[spaceID]; ok {
		k.mu.Unlock()
		return entry, nil
	}
	k.mu.Unlock()

	spaceKey, err := cryptoutil.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("syncengine: generate space key: %w", err)
	}
	wrapped, err := cryptoutil.WrapSpaceKey(k.masterKey, spaceKey)
	if err != nil {
		return nil, fmt.Errorf("syncengine: wrap space key: %w", err)
	}
	dek, err := cryptoutil.DeriveDEK(spaceKey)
	if err != nil {
		return nil, fmt.Errorf("syncengine: derive dek: %w", err)
	}

	remoteID, err := remote.CreateSpace(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("syncengine: create remote space: %w", err)
	}

	entry := &spaceEntry{RemoteID: remoteID, SpaceKey: spaceKey, DEK: dek, WrappedKey: wrapped}

	k.mu.Lock()
	k.spaces[spaceID] = entry
	k.mu.Unlock()

	k.log.Info("created new space", "space_id", spaceID, "remote_id", remoteID)
	return entry, nil
}

// AdoptSpace unwraps wrapped under the master key and, on success, caches
// it as spaceID's entry (spec.md §4.6.4 pull). Returns false, nil if the
// key belongs to a different master key — that is a routine "not ours",
// not a failure.
func (k *KeyManager) AdoptSpace(spaceID, remoteID, wrapped string) (bool, error) {
	spaceKey, err := cryptoutil.UnwrapSpaceKey(k.masterKey, wrapped)
	if err != nil {
		if err == cryptoutil.ErrDecryptionFailed {
			return false, nil
		}
		return false, err
	}
	dek, err := cryptoutil.DeriveDEK(spaceKey)
	if err != nil {
		return false, err
	}

	k.mu.Lock()
	k.spaces[spaceID] = &spaceEntry{RemoteID: remoteID, SpaceKey: spaceKey, DEK: dek, WrappedKey: wrapped}
	k.mu.Unlock()
	return true, nil
}

// DEK returns the cached DEK for spaceID, or nil if the space is unknown.
func (k *KeyManager) DEK(spaceID string) []byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	if entry, ok := k.spaces[spaceID]; ok {
		return entry.DEK
	}
	return nil
}

// RemoteID returns the remote space id for a known local spaceID.
func (k *KeyManager) RemoteID(spaceID string) (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry, ok := k.spaces[spaceID]
	if !ok {
		return "", false
	}
	return entry.RemoteID, true
}

// Spaces snapshots the known local space ids.
func (k *KeyManager) Spaces() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	ids := make([]string, 0, len(k.spaces))
	for id := range k.spaces {
		ids = append(ids, id)
	}
	return ids
}
