package secrets

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/store"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	key := bytes.Repeat([]byte{0x42}, 32)
	m, err := NewManager(key, st)
	require.NoError(t, err)
	return m, st
}

func TestManagerRejectsBadKeySize(t *testing.T) {
	_, err := NewManager([]byte("short"), nil)
	require.Error(t, err)
}

func TestStoreAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	cred, err := m.Store(ctx, "u1", "Apollo", "sk-live-abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "apollo", cred.Service)
	assert.Equal(t, "1234", cred.KeySuffix)
	assert.True(t, cred.IsValid)

	got, err := m.Get(ctx, "u1", "apollo")
	require.NoError(t, err)
	assert.Equal(t, "sk-live-abcd1234", got)

	// The row never holds the key in cleartext.
	raw, err := st.GetCredential(ctx, "u1", "apollo")
	require.NoError(t, err)
	assert.NotContains(t, string(raw.EncryptedKey), "sk-live-abcd1234")
}

func TestStoreOverwritesExisting(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, err := m.Store(ctx, "u1", "hunter", "first-key-0001")
	require.NoError(t, err)
	_, err = m.Store(ctx, "u1", "hunter", "second-key-0002")
	require.NoError(t, err)

	got, err := m.Get(ctx, "u1", "hunter")
	require.NoError(t, err)
	assert.Equal(t, "second-key-0002", got)

	creds, err := m.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "0002", creds[0].KeySuffix)
	assert.Nil(t, creds[0].EncryptedKey)
}

func TestStoreValidation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, err := m.Store(ctx, "", "apollo", "key")
	require.Error(t, err)
	_, err = m.Store(ctx, "u1", "apollo", "  ")
	require.Error(t, err)
}

func TestGetWithWrongKeyFails(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	_, err := m.Store(ctx, "u1", "apollo", "sk-abcd1234")
	require.NoError(t, err)

	other, err := NewManager(bytes.Repeat([]byte{0x99}, 32), st)
	require.NoError(t, err)
	_, err = other.Get(ctx, "u1", "apollo")
	require.Error(t, err)
}

func TestValidateRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, err := m.Store(ctx, "u1", "apollo", "sk-abcd1234")
	require.NoError(t, err)

	var probed string
	cred, err := m.Validate(ctx, "u1", "apollo", func(ctx context.Context, key string) error {
		probed = key
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "sk-abcd1234", probed)
	assert.True(t, cred.IsValid)
	require.NotNil(t, cred.LastValidatedAt)

	cred, err = m.Validate(ctx, "u1", "apollo", func(ctx context.Context, key string) error {
		return assert.AnError
	})
	require.NoError(t, err)
	assert.False(t, cred.IsValid)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, err := m.Store(ctx, "u1", "apollo", "sk-abcd1234")
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "u1", "apollo"))

	_, err = m.Get(ctx, "u1", "apollo")
	require.Error(t, err)
}

func TestSuffixShortKey(t *testing.T) {
	assert.Equal(t, "abc", suffix("abc"))
	assert.Equal(t, "1234", suffix("sk-1234"))
}
