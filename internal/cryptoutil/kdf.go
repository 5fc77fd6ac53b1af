package cryptoutil

import (
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/hkdf"
)

// dekSalt and dekInfo are the fixed HKDF parameters spec.md §4.6.1 names
// literally; they are constants, not derived per space or conversation —
// the DEK's uniqueness comes entirely from the space key that seeds it.
var dekSalt = mustBase64("Xd6V94/+5BmLAfc67xIBZcjsBPimm9/j02kHPI7Vsuc=")

const dekInfo = "dek.space.lumo"

// spaceKeyWrapAD is the associated data binding a wrapped space key to its
// purpose, so a space key blob can never be confused with any other
// AES-GCM envelope this module produces.
var spaceKeyWrapAD = []byte("lumo.space.key")

func mustBase64(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic("cryptoutil: invalid embedded base64 constant: " + err.Error())
	}
	return b
}

// DeriveKey runs HKDF-SHA256 over secret with the given salt and info,
// producing a KeySize-length key. Grounded on the teacher's
// EncryptionService.EncryptMessage, which derives its AES key the same way
// from an ECDH shared secret; here the input secret is a space key rather
// than an ECDH output.
func DeriveKey(secret, salt, info []byte) ([]byte, error) {
	out := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, secret, salt, info)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveDEK derives a space's data-encryption key from its space key
// (spec.md §4.6.1): HKDF-SHA256(spaceKey, salt=dekSalt, info=dekInfo). The
// DEK is the only key that directly encrypts conversation/message bodies.
func DeriveDEK(spaceKey []byte) ([]byte, error) {
	return DeriveKey(spaceKey, dekSalt, []byte(dekInfo))
}

// WrapSpaceKey encrypts a freshly generated space key under the master key
// for server-side storage (spec.md §4.6.1 "stored on the server wrapped
// under the master key").
func WrapSpaceKey(masterKey, spaceKey []byte) (string, error) {
	return Encrypt(masterKey, spaceKeyWrapAD, spaceKey)
}

// UnwrapSpaceKey reverses WrapSpaceKey. Per spec.md §4.6.4, callers must
// treat ErrDecryptionFailed here as "not mine, skip" rather than a fatal
// error — a process may encounter spaces wrapped under a different user's
// master key while listing the server's full space set.
func UnwrapSpaceKey(masterKey []byte, wrapped string) ([]byte, error) {
	return Decrypt(masterKey, spaceKeyWrapAD, wrapped)
}
