// Package secrets encrypts provider API keys at rest. Keys are sealed with
// chacha20poly1305 under a single process-wide key supplied by config; the
// store only ever sees ciphertext and a four-character display suffix.
package secrets

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// ProbeFunc checks a decrypted API key against its provider, typically by
// issuing the cheapest authenticated call the provider offers.
type ProbeFunc func(ctx context.Context, key string) error

// Manager seals and unseals credentials for a backing store.
type Manager struct {
	aead    cipher.AEAD
	store   store.Store
	nowFunc func() time.Time
}

// NewManager builds a Manager from a raw 32-byte key.
func NewManager(key []byte, st store.Store) (*Manager, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, eris.Errorf("secrets: encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, eris.Wrap(err, "secrets: init cipher")
	}
	return &Manager{aead: aead, store: st, nowFunc: time.Now}, nil
}

// Store encrypts apiKey and upserts the credential for (userID, service).
// Only the last four characters survive in cleartext for display.
func (m *Manager) Store(ctx context.Context, userID, service, apiKey string) (*model.Credential, error) {
	service = strings.ToLower(strings.TrimSpace(service))
	if userID == "" || service == "" {
		return nil, eris.New("secrets: user and service are required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, eris.New("secrets: empty api key")
	}

	sealed, err := m.seal([]byte(apiKey))
	if err != nil {
		return nil, err
	}
	cred := &model.Credential{
		UserID:       userID,
		Service:      service,
		EncryptedKey: sealed,
		KeySuffix:    suffix(apiKey),
		IsValid:      true,
	}
	if err := m.store.UpsertCredential(ctx, cred); err != nil {
		return nil, eris.Wrapf(err, "secrets: store credential for %s", service)
	}
	zap.L().Info("secrets: credential stored",
		zap.String("user_id", userID),
		zap.String("service", service),
		zap.String("key_suffix", cred.KeySuffix))
	return cred, nil
}

// Get returns the decrypted API key for (userID, service).
func (m *Manager) Get(ctx context.Context, userID, service string) (string, error) {
	cred, err := m.store.GetCredential(ctx, userID, strings.ToLower(service))
	if err != nil {
		return "", eris.Wrapf(err, "secrets: load credential for %s", service)
	}
	plain, err := m.open(cred.EncryptedKey)
	if err != nil {
		return "", eris.Wrapf(err, "secrets: decrypt credential for %s", service)
	}
	return string(plain), nil
}

// List returns the user's credentials with ciphertext stripped.
func (m *Manager) List(ctx context.Context, userID string) ([]model.Credential, error) {
	creds, err := m.store.ListCredentials(ctx, userID)
	if err != nil {
		return nil, eris.Wrap(err, "secrets: list credentials")
	}
	for i := range creds {
		creds[i].EncryptedKey = nil
	}
	return creds, nil
}

// Delete removes the credential for (userID, service).
func (m *Manager) Delete(ctx context.Context, userID, service string) error {
	if err := m.store.DeleteCredential(ctx, userID, strings.ToLower(service)); err != nil {
		return eris.Wrapf(err, "secrets: delete credential for %s", service)
	}
	return nil
}

// Validate decrypts the stored key, runs probe against it, and records the
// outcome. A failing probe marks the credential invalid rather than erroring;
// the caller reads IsValid off the returned credential.
func (m *Manager) Validate(ctx context.Context, userID, service string, probe ProbeFunc) (*model.Credential, error) {
	service = strings.ToLower(service)
	cred, err := m.store.GetCredential(ctx, userID, service)
	if err != nil {
		return nil, eris.Wrapf(err, "secrets: load credential for %s", service)
	}
	plain, err := m.open(cred.EncryptedKey)
	if err != nil {
		return nil, eris.Wrapf(err, "secrets: decrypt credential for %s", service)
	}

	now := m.nowFunc().UTC()
	cred.LastValidatedAt = &now
	if probeErr := probe(ctx, string(plain)); probeErr != nil {
		cred.IsValid = false
		zap.L().Warn("secrets: credential failed validation",
			zap.String("user_id", userID),
			zap.String("service", service),
			zap.Error(probeErr))
	} else {
		cred.IsValid = true
	}
	if err := m.store.UpsertCredential(ctx, cred); err != nil {
		return nil, eris.Wrapf(err, "secrets: record validation for %s", service)
	}
	return cred, nil
}

func (m *Manager) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, eris.Wrap(err, "secrets: nonce")
	}
	// Nonce travels prepended to the ciphertext.
	return m.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (m *Manager) open(sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, eris.New("secrets: ciphertext too short")
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plain, err := m.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, eris.Wrap(err, "secrets: open")
	}
	return plain, nil
}

func suffix(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}
