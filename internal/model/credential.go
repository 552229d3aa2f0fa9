package model

import "time"

// Credential is one stored provider API key for a (user, service) pair.
// The key itself is encrypted at rest; only KeySuffix is ever returned for
// display.
type Credential struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Service string `json:"service"`

	EncryptedKey []byte `json:"-"`
	KeySuffix    string `json:"key_suffix"`

	IsValid          bool       `json:"is_valid"`
	CreditsRemaining *int       `json:"credits_remaining,omitempty"`
	CreditsLimit     *int       `json:"credits_limit,omitempty"`
	LastValidatedAt  *time.Time `json:"last_validated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
