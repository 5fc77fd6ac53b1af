package cryptoutil

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	ad := ConversationAD("conv-1")
	plaintext := []byte("hello lumo")

	encoded, err := Encrypt(key, ad, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	decoded, err := Decrypt(key, ad, encoded)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(decoded) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", decoded, plaintext)
	}
}

func TestDecryptWrongADFails(t *testing.T) {
	key, _ := GenerateKey()
	encoded, err := Encrypt(key, ConversationAD("conv-1"), []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(key, ConversationAD("conv-2"), encoded); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	ad := MessageAD("msg-1")

	encoded, err := Encrypt(key1, ad, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(key2, ad, encoded); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDeriveDEKDeterministic(t *testing.T) {
	spaceKeyA, _ := GenerateKey()
	spaceKeyB, _ := GenerateKey()

	dekA1, err := DeriveDEK(spaceKeyA)
	if err != nil {
		t.Fatalf("DeriveDEK: %v", err)
	}
	dekA2, _ := DeriveDEK(spaceKeyA)
	if string(dekA1) != string(dekA2) {
		t.Fatal("expected deterministic DEK derivation for the same space key")
	}

	dekB, _ := DeriveDEK(spaceKeyB)
	if string(dekA1) == string(dekB) {
		t.Fatal("expected different DEKs for different space keys")
	}
	if len(dekA1) != KeySize {
		t.Fatalf("expected %d-byte DEK, got %d", KeySize, len(dekA1))
	}
}

func TestWrapUnwrapSpaceKeyRoundTrip(t *testing.T) {
	master, _ := GenerateKey()
	spaceKey, _ := GenerateKey()

	wrapped, err := WrapSpaceKey(master, spaceKey)
	if err != nil {
		t.Fatalf("WrapSpaceKey: %v", err)
	}

	unwrapped, err := UnwrapSpaceKey(master, wrapped)
	if err != nil {
		t.Fatalf("UnwrapSpaceKey: %v", err)
	}
	if string(unwrapped) != string(spaceKey) {
		t.Fatal("expected unwrapped space key to match original")
	}
}

func TestUnwrapSpaceKeyWrongMasterFails(t *testing.T) {
	masterA, _ := GenerateKey()
	masterB, _ := GenerateKey()
	spaceKey, _ := GenerateKey()

	wrapped, err := WrapSpaceKey(masterA, spaceKey)
	if err != nil {
		t.Fatalf("WrapSpaceKey: %v", err)
	}

	if _, err := UnwrapSpaceKey(masterB, wrapped); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed (not mine, skip), got %v", err)
	}
}

func TestRawKeyWrapperReturnsSessionKeyUnchanged(t *testing.T) {
	w := RawKeyWrapper{}
	sessionKey := []byte("session-key-0000000000000000000")
	wrapped, err := w.Wrap(nil, []byte("ignored-public-key"), sessionKey)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if string(wrapped) != string(sessionKey) {
		t.Fatalf("expected passthrough of sessionKey, got %q", wrapped)
	}
}
