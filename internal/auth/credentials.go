// Package auth supplies the upstream.AuthProvider collaborator: the
// UID/appversion/bearer-token headers spec.md §4.1's envelope requires,
// loaded once at startup from the encrypted auth-token vault (spec.md §6).
// Token acquisition/refresh itself is explicitly out of scope (spec.md §1)
// — this package only holds the already-resolved credential and serves it
// on every call.
//
// Grounded on the teacher's internal/auth/token.go: a small value type
// plus a narrow provider interface, no JWT validation machinery needed
// here since the credential is a pre-resolved opaque bearer token rather
// than something this process verifies.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/vault"
)

// Credentials is the vault-persisted payload: the upstream session's UID
// and bearer token, plus the appversion string this process advertises.
type Credentials struct {
	UID        string `json:"uid"`
	Bearer     string `json:"bearer"`
	AppVersion string `json:"app_version"`
}

// VaultProvider implements upstream.AuthProvider by loading Credentials
// once from the vault and caching them in memory; the vault itself is the
// source of truth should the process restart.
type VaultProvider struct {
	v          *vault.Vault
	appVersion string

	mu   sync.RWMutex
	cred *Credentials
}

// NewVaultProvider returns a provider sourcing credentials from v.
// appVersion is the fallback advertised when the vaulted payload omits one.
func NewVaultProvider(v *vault.Vault, appVersion string) *VaultProvider {
	return &VaultProvider{v: v, appVersion: appVersion}
}

// Seed stores cred in the vault and caches it, used by the CLI's one-time
// login/setup path (out of scope for the core per spec.md §1, but this
// process still needs a way to populate its own vault).
func (p *VaultProvider) Seed(ctx context.Context, cred Credentials) error {
	b, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("auth: marshal credentials: %w", err)
	}
	if err := p.v.Store(ctx, string(b)); err != nil {
		return err
	}
	p.mu.Lock()
	p.cred = &cred
	p.mu.Unlock()
	return nil
}

func (p *VaultProvider) load(ctx context.Context) (*Credentials, error) {
	p.mu.RLock()
	cached := p.cred
	p.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	raw, err := p.v.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: load vault: %w", err)
	}
	var cred Credentials
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("auth: decode vaulted credentials: %w", err)
	}

	p.mu.Lock()
	p.cred = &cred
	p.mu.Unlock()
	return &cred, nil
}

// UID implements upstream.AuthProvider.
func (p *VaultProvider) UID(ctx context.Context) (string, error) {
	cred, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	return cred.UID, nil
}

// BearerToken implements upstream.AuthProvider.
func (p *VaultProvider) BearerToken(ctx context.Context) (string, error) {
	cred, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	return cred.Bearer, nil
}

// AppVersion implements upstream.AuthProvider. Falls back to the
// process-configured appversion if the vaulted payload didn't carry one.
func (p *VaultProvider) AppVersion() string {
	p.mu.RLock()
	cred := p.cred
	p.mu.RUnlock()
	if cred != nil && cred.AppVersion != "" {
		return cred.AppVersion
	}
	return p.appVersion
}
