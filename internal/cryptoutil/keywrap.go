package cryptoutil

import "context"

// KeyWrapper is the boundary to the long-lived PGP public key the upstream
// publishes for U2L envelope wrapping (spec.md §1, §4.1.1). No library in
// this module's dependency set implements OpenPGP; per the Open Questions
// in spec.md §9, this package treats the PGP implementation as an external
// collaborator reached through this interface rather than vendoring one.
//
// A production build supplies a KeyWrapper backed by a real OpenPGP
// library; RawKeyWrapper below is the degenerate implementation used when
// the configured upstream public key is already a raw AES key rather than
// a PGP-wrapped one (e.g. in tests, or a deployment pinned to a fixed key).
type KeyWrapper interface {
	// Wrap encrypts sessionKey under the long-lived public key, returning
	// the wire-ready wrapped-key bytes the U2L envelope carries.
	Wrap(ctx context.Context, publicKey []byte, sessionKey []byte) ([]byte, error)
}

// RawKeyWrapper is a KeyWrapper that performs no wrapping at all: it
// returns sessionKey unchanged (base64-encoded on the wire by the caller),
// ignoring publicKey. Used against a self-hosted or mock Lumo backend that
// has no PGP keypair and reads the request key straight off the wire.
type RawKeyWrapper struct{}

// Wrap returns sessionKey unchanged.
func (RawKeyWrapper) Wrap(_ context.Context, _ []byte, sessionKey []byte) ([]byte, error) {
	out := make([]byte, len(sessionKey))
	copy(out, sessionKey)
	return out, nil
}
