package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/config"
	"github.com/sells-group/outreach-engine/internal/secrets"
	"github.com/sells-group/outreach-engine/internal/store"
)

func TestCredentialSourceUsesStoredKeys(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	mgr, err := secrets.NewManager(bytes.Repeat([]byte{0x24}, 32), st)
	require.NoError(t, err)
	_, err = mgr.Store(ctx, "u1", "apollo", "sk-user-apollo")
	require.NoError(t, err)

	src := &credentialSource{
		secrets: mgr,
		providers: config.ProvidersConfig{
			Hunter: config.ProviderConfig{Key: "shared-hunter"},
		},
	}

	// The stored credential enables apollo; the shared config key still
	// enables hunter.
	reg, err := src.RegistryFor(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"apollo", "hunter"}, reg.List())

	// A user without stored credentials only gets the shared keys.
	reg, err = src.RegistryFor(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"hunter"}, reg.List())
}

func TestCredentialSourceWithoutManager(t *testing.T) {
	src := &credentialSource{
		providers: config.ProvidersConfig{
			Apollo: config.ProviderConfig{Key: "shared-apollo"},
		},
	}

	reg, err := src.RegistryFor(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"apollo"}, reg.List())
}
