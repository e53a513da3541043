package vault

import (
	"bytes"
	"path/filepath"
	"testing"

	"consilium/internal/config"
	"consilium/internal/store"
)

func TestRoundTrip(t *testing.T) {
	v := New("test-passphrase")
	plaintext := []byte("hello, vault!")

	ciphertext, nonce, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	decrypted, err := v.Decrypt(ciphertext, nonce)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("got %q, want %q", decrypted, plaintext)
	}
}

func TestWrongPassphrase(t *testing.T) {
	v1 := New("correct-passphrase")
	v2 := New("wrong-passphrase")

	ciphertext, nonce, err := v1.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := v2.Decrypt(ciphertext, nonce); err == nil {
		t.Fatal("expected error decrypting with wrong passphrase")
	}
}

func TestDifferentPassphrasesDifferentKeys(t *testing.T) {
	v1 := New("passphrase-one")
	v2 := New("passphrase-two")

	if v1.key == v2.key {
		t.Fatal("different passphrases produced the same key")
	}
}

func TestManagerLifecycle(t *testing.T) {
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer st.Close()

	m := NewManager("test-passphrase", st)
	if err := m.Put("nats-auth", "broker credentials", []byte("s3cret")); err != nil {
		t.Fatalf("put: %v", err)
	}

	value, err := m.Reveal("nats-auth")
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if !bytes.Equal(value, []byte("s3cret")) {
		t.Fatalf("got %q", value)
	}

	// Upsert replaces the value under the same name.
	if err := m.Put("nats-auth", "broker credentials", []byte("rotated")); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	value, err = m.Reveal("nats-auth")
	if err != nil {
		t.Fatalf("reveal rotated: %v", err)
	}
	if !bytes.Equal(value, []byte("rotated")) {
		t.Fatalf("got %q after rotation", value)
	}

	secrets, err := m.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(secrets) != 1 || secrets[0].Name != "nats-auth" {
		t.Fatalf("unexpected listing: %+v", secrets)
	}
	if len(secrets[0].Value) != 0 {
		t.Error("listing leaked ciphertext")
	}

	if err := m.Delete("nats-auth"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	value, err = m.Reveal("nats-auth")
	if err != nil || value != nil {
		t.Fatalf("expected nil after delete, got %q err %v", value, err)
	}
}
