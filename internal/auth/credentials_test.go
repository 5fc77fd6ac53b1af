package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/cryptoutil"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/vault"
)

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	key, err := cryptoutil.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "vault.bin")
	return vault.New(path, vault.StaticKeySource{RawKey: key})
}

func TestVaultProviderServesSeededCredentials(t *testing.T) {
	p := NewVaultProvider(testVault(t), "lumo-tamer@1.0.0")
	ctx := context.Background()

	if err := p.Seed(ctx, Credentials{UID: "uid-1", Bearer: "tok-1", AppVersion: "custom-1.2.3"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	uid, err := p.UID(ctx)
	if err != nil || uid != "uid-1" {
		t.Fatalf("UID() = %q, %v; want uid-1, nil", uid, err)
	}
	bearer, err := p.BearerToken(ctx)
	if err != nil || bearer != "tok-1" {
		t.Fatalf("BearerToken() = %q, %v; want tok-1, nil", bearer, err)
	}
	if got := p.AppVersion(); got != "custom-1.2.3" {
		t.Fatalf("AppVersion() = %q, want custom-1.2.3", got)
	}
}

func TestVaultProviderLoadsFromDiskAcrossInstances(t *testing.T) {
	v := testVault(t)
	ctx := context.Background()

	seeder := NewVaultProvider(v, "lumo-tamer@1.0.0")
	if err := seeder.Seed(ctx, Credentials{UID: "uid-2", Bearer: "tok-2"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fresh := NewVaultProvider(v, "lumo-tamer@1.0.0")
	uid, err := fresh.UID(ctx)
	if err != nil || uid != "uid-2" {
		t.Fatalf("UID() = %q, %v; want uid-2, nil", uid, err)
	}
}

func TestVaultProviderAppVersionFallsBackWhenVaultedPayloadOmitsOne(t *testing.T) {
	p := NewVaultProvider(testVault(t), "fallback-1.0.0")
	ctx := context.Background()

	if err := p.Seed(ctx, Credentials{UID: "uid-3", Bearer: "tok-3"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if got := p.AppVersion(); got != "fallback-1.0.0" {
		t.Fatalf("AppVersion() = %q, want fallback-1.0.0", got)
	}
}

func TestVaultProviderPropagatesMissingVaultError(t *testing.T) {
	p := NewVaultProvider(testVault(t), "v1")
	if _, err := p.UID(context.Background()); err == nil {
		t.Fatal("expected an error loading credentials from an empty vault")
	}
}
