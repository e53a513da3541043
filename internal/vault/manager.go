package vault

import (
	"fmt"

	"github.com/google/uuid"

	"consilium/internal/store"
)

// Manager pairs the vault with the secrets table so callers only ever see
// plaintext values on the way in and out.
type Manager struct {
	vault *Vault
	store *store.Store
}

func NewManager(passphrase string, st *store.Store) *Manager {
	return &Manager{vault: New(passphrase), store: st}
}

// Put encrypts value and upserts it under name.
func (m *Manager) Put(name, description string, value []byte) error {
	ciphertext, nonce, err := m.vault.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt secret %s: %w", name, err)
	}
	return m.store.SaveSecret(&store.Secret{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Value:       ciphertext,
		Nonce:       nonce,
	})
}

// Reveal returns the decrypted value, or nil when the secret does not exist.
func (m *Manager) Reveal(name string) ([]byte, error) {
	sec, err := m.store.GetSecret(name)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, nil
	}
	plaintext, err := m.vault.Decrypt(sec.Value, sec.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret %s: %w", name, err)
	}
	return plaintext, nil
}

func (m *Manager) List() ([]store.Secret, error) {
	return m.store.ListSecrets()
}

func (m *Manager) Delete(name string) error {
	return m.store.DeleteSecret(name)
}
