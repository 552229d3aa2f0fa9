// Package enrich aggregates provider data into normalized company and
// contact records, with cache-first fetching and field-priority merging.
package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// defaultCacheTTL applies to sources without an explicit TTL.
const defaultCacheTTL = 7 * 24 * time.Hour

// CacheConfig sets per-source freshness windows.
type CacheConfig struct {
	// DefaultTTL is used for sources missing from SourceTTL.
	DefaultTTL time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	// SourceTTL maps source name to entry lifetime. Cheap fast-changing
	// data gets a short TTL, expensive stable data a long one.
	SourceTTL map[string]time.Duration `yaml:"source_ttl" mapstructure:"source_ttl"`
}

// PutOutcome reports what a cache write changed.
type PutOutcome struct {
	Entry *model.CacheEntry
	// Changed is false when the payload hash matched the stored row, in
	// which case only fetched_at/expires_at were refreshed.
	Changed bool
	// Previous holds the prior payload when Changed is true and a prior
	// row existed, for downstream diff detection.
	Previous []byte
}

// Cache wraps the store's enrichment cache with key normalization, content
// hashing and TTL policy.
type Cache struct {
	store   store.Store
	cfg     CacheConfig
	nowFunc func() time.Time
}

// NewCache creates a cache with the given TTL policy.
func NewCache(st store.Store, cfg CacheConfig) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultCacheTTL
	}
	return &Cache{store: st, cfg: cfg, nowFunc: time.Now}
}

// TTLFor returns the freshness window for a source.
func (c *Cache) TTLFor(source string) time.Duration {
	if ttl, ok := c.cfg.SourceTTL[source]; ok && ttl > 0 {
		return ttl
	}
	return c.cfg.DefaultTTL
}

// Get returns a valid entry or (nil, nil) on miss. Hits record telemetry.
func (c *Cache) Get(ctx context.Context, entityType model.EntityType, entityKey, source string) (*model.CacheEntry, error) {
	entry, err := c.store.GetCacheEntry(ctx, entityType, entityKey, source)
	if err != nil || entry == nil {
		return entry, err
	}
	if err := c.store.RecordCacheHit(ctx, entry.ID, c.nowFunc()); err != nil {
		// Telemetry only; the hit itself is still served.
		zap.L().Warn("cache hit telemetry failed", zap.String("id", entry.ID), zap.Error(err))
	}
	return entry, nil
}

// Put stores a provider payload. When the content hash matches the stored
// row (expired or not), only the freshness window is advanced and Changed
// is false.
func (c *Cache) Put(ctx context.Context, entityType model.EntityType, entityKey, source string, payload any) (*PutOutcome, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: marshal cache payload")
	}
	hash := HashPayload(raw)

	existing, err := c.store.GetCacheEntryAny(ctx, entityType, entityKey, source)
	if err != nil {
		return nil, err
	}

	now := c.nowFunc().UTC()
	entry := &model.CacheEntry{
		EntityType: entityType,
		EntityKey:  model.NormalizeEntityKey(entityKey),
		Source:     source,
		Payload:    raw,
		Hash:       hash,
		FetchedAt:  now,
		ExpiresAt:  now.Add(c.TTLFor(source)),
	}

	outcome := &PutOutcome{Entry: entry, Changed: true}
	if existing != nil {
		entry.ID = existing.ID
		if existing.Hash == hash {
			// Keep the stored payload byte-identical.
			entry.Payload = existing.Payload
			outcome.Changed = false
		} else {
			outcome.Previous = existing.Payload
		}
	}

	if err := c.store.PutCacheEntry(ctx, entry); err != nil {
		return nil, err
	}
	return outcome, nil
}

// Sweep deletes expired entries and returns the count removed.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	return c.store.SweepCache(ctx)
}

// HashPayload returns the hex SHA-256 of a serialized payload.
func HashPayload(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
