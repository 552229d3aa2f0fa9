package model

import "time"

// EntityType keys the kind of thing a cache entry describes.
type EntityType string

const (
	EntityCompany EntityType = "company"
	EntityContact EntityType = "contact"
	EntityEmail   EntityType = "email"
)

// CacheEntry is one stored provider result, uniquely keyed by
// (entity_type, entity_key, source). Entries past ExpiresAt are treated as
// misses on read and removed by the periodic sweep, not eagerly.
type CacheEntry struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type"`
	EntityKey  string     `json:"entity_key"`
	Source     string     `json:"source"`

	Payload []byte `json:"payload"`
	// Hash is the SHA-256 of the canonical payload, used for change
	// detection: a put with an unchanged hash refreshes expiry only.
	Hash string `json:"data_hash"`

	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`

	HitCount  int        `json:"hit_count"`
	LastHitAt *time.Time `json:"last_hit_at,omitempty"`
}

// Valid reports whether the entry is usable at t.
func (e *CacheEntry) Valid(t time.Time) bool {
	return e.ExpiresAt.After(t)
}
