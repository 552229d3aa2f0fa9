package enrich

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

func newTestCache(t *testing.T, cfg CacheConfig) (*Cache, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewCache(st, cfg), st
}

// putExpired writes an already-expired row directly through the store.
func putExpired(t *testing.T, st store.Store, key, source string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, st.PutCacheEntry(context.Background(), &model.CacheEntry{
		EntityType: model.EntityCompany,
		EntityKey:  key,
		Source:     source,
		Payload:    raw,
		Hash:       HashPayload(raw),
		FetchedAt:  time.Now().Add(-48 * time.Hour),
		ExpiresAt:  time.Now().Add(-24 * time.Hour),
	}))
}

func TestCache_PutThenGet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, CacheConfig{})

	payload := &model.CompanyData{Domain: "acme.com", Name: "Acme", EmployeeCount: 100}
	put, err := c.Put(ctx, model.EntityCompany, "Acme.com ", "clearbit", payload)
	require.NoError(t, err)
	assert.True(t, put.Changed)
	assert.Nil(t, put.Previous)

	// Key normalization makes the padded, cased key collide.
	entry, err := c.Get(ctx, model.EntityCompany, "acme.com", "clearbit")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, put.Entry.Hash, entry.Hash)

	// Telemetry recorded on hit.
	again, err := c.Get(ctx, model.EntityCompany, "acme.com", "clearbit")
	require.NoError(t, err)
	assert.Equal(t, 1, again.HitCount)
	assert.NotNil(t, again.LastHitAt)
}

func TestCache_HashEqualPutRefreshesOnly(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, CacheConfig{})

	payload := &model.CompanyData{Domain: "acme.com", Name: "Acme"}
	first, err := c.Put(ctx, model.EntityCompany, "acme.com", "clearbit", payload)
	require.NoError(t, err)
	require.True(t, first.Changed)

	second, err := c.Put(ctx, model.EntityCompany, "acme.com", "clearbit", payload)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Nil(t, second.Previous)
	assert.Equal(t, first.Entry.Hash, second.Entry.Hash)
	assert.False(t, second.Entry.ExpiresAt.Before(first.Entry.ExpiresAt))
}

func TestCache_ChangedPutReportsPrevious(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, CacheConfig{})

	_, err := c.Put(ctx, model.EntityCompany, "acme.com", "apollo",
		&model.CompanyData{Domain: "acme.com", EmployeeCount: 100})
	require.NoError(t, err)

	put, err := c.Put(ctx, model.EntityCompany, "acme.com", "apollo",
		&model.CompanyData{Domain: "acme.com", EmployeeCount: 130})
	require.NoError(t, err)

	assert.True(t, put.Changed)
	require.NotNil(t, put.Previous)

	var prior model.CompanyData
	require.NoError(t, json.Unmarshal(put.Previous, &prior))
	assert.Equal(t, 100, prior.EmployeeCount)
}

func TestCache_PerSourceTTL(t *testing.T) {
	c, _ := newTestCache(t, CacheConfig{
		DefaultTTL: 24 * time.Hour,
		SourceTTL:  map[string]time.Duration{"crunchbase": 30 * 24 * time.Hour},
	})

	assert.Equal(t, 30*24*time.Hour, c.TTLFor("crunchbase"))
	assert.Equal(t, 24*time.Hour, c.TTLFor("apollo"))
}

func TestCache_ExpiredEntryIsMissButHashStillCompares(t *testing.T) {
	ctx := context.Background()
	c, st := newTestCache(t, CacheConfig{DefaultTTL: time.Hour})

	payload := &model.CompanyData{Domain: "acme.com", Name: "Acme"}
	putExpired(t, st, "acme.com", "clearbit", payload)

	entry, err := c.Get(ctx, model.EntityCompany, "acme.com", "clearbit")
	require.NoError(t, err)
	assert.Nil(t, entry)

	// Identical content across the TTL boundary still reads as unchanged.
	put, err := c.Put(ctx, model.EntityCompany, "acme.com", "clearbit", payload)
	require.NoError(t, err)
	assert.False(t, put.Changed)

	// And the refreshed row serves hits again.
	entry, err = c.Get(ctx, model.EntityCompany, "acme.com", "clearbit")
	require.NoError(t, err)
	require.NotNil(t, entry)
}

func TestCache_Sweep(t *testing.T) {
	ctx := context.Background()
	c, st := newTestCache(t, CacheConfig{DefaultTTL: time.Hour})

	putExpired(t, st, "old.com", "clearbit", &model.CompanyData{Domain: "old.com"})
	_, err := c.Put(ctx, model.EntityCompany, "fresh.com", "clearbit", &model.CompanyData{Domain: "fresh.com"})
	require.NoError(t, err)

	removed, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	entry, err := c.Get(ctx, model.EntityCompany, "fresh.com", "clearbit")
	require.NoError(t, err)
	assert.NotNil(t, entry)
}
