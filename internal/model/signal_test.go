package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalPayload_EnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	payloads := []SignalPayload{
		&FundingRoundPayload{Stage: FundingSeriesB, AmountUSD: 25_000_000, Investors: []string{"Sequoia"}},
		&ExecutiveHirePayload{Title: "CTO", Name: "J. Doe"},
		&JobPostingPayload{OpenPositions: 12, Departments: []string{"engineering"}},
		&TechAdoptionPayload{Technology: "Kubernetes", Category: "infrastructure"},
		&NewsMentionPayload{Headline: "Acme expands to EMEA"},
		&GrowthIndicatorPayload{Metric: "employee_count", ChangePct: 22.5},
		&ContractEndingPayload{Vendor: "LegacyCo"},
		&WebsiteChangePayload{Section: "pricing"},
	}

	for _, p := range payloads {
		raw, err := EncodePayload(p)
		require.NoError(t, err, "%s", p.SignalType())

		got, err := DecodePayload(raw)
		require.NoError(t, err, "%s", p.SignalType())
		assert.Equal(t, p.SignalType(), got.SignalType())
		assert.Equal(t, p, got)
	}
}

func TestDecodePayload_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := DecodePayload([]byte(`{"type":"satellite_launch","data":{}}`))
	assert.Error(t, err)
}

func TestSignalEvent_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	s := &SignalEvent{}
	assert.False(t, s.Expired(now), "no expiry never expires")

	s.ExpiresAt = &future
	assert.False(t, s.Expired(now))

	s.ExpiresAt = &past
	assert.True(t, s.Expired(now))

	s.ExpiresAt = &now
	assert.True(t, s.Expired(now), "expiry boundary is exclusive")
}
