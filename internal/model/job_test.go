package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobConfig_EnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	configs := []JobConfig{
		&EnrichLeadConfig{Sources: []string{"apollo", "clearbit"}},
		&EnrichCompanyConfig{},
		&FindContactsConfig{Titles: []string{"CTO"}, Limit: 5},
		&VerifyEmailConfig{Email: "jane@acme.com"},
		&DetectSignalsConfig{},
		&ScoreLeadConfig{ICPID: "icp-1"},
		&DiscoverLeadsConfig{Limit: 25, MinScore: 60},
	}

	for _, c := range configs {
		raw, err := EncodeJobConfig(c)
		require.NoError(t, err, "%s", c.Kind())

		got, err := DecodeJobConfig(raw)
		require.NoError(t, err, "%s", c.Kind())
		assert.Equal(t, c.Kind(), got.Kind())
		assert.Equal(t, c, got)
	}
}

func TestJobConfig_Validate(t *testing.T) {
	t.Parallel()

	assert.Error(t, (&VerifyEmailConfig{}).Validate())
	assert.Error(t, (&FindContactsConfig{Limit: 100}).Validate())
	assert.Error(t, (&DiscoverLeadsConfig{Limit: 500}).Validate())
	assert.Error(t, (&DiscoverLeadsConfig{MinScore: 101}).Validate())
	assert.NoError(t, (&DiscoverLeadsConfig{Limit: 25, MinScore: 60}).Validate())
}

func TestJob_Retriable(t *testing.T) {
	t.Parallel()

	j := &Job{Status: JobFailed, AttemptCount: 2, MaxAttempts: 3}
	assert.True(t, j.Retriable())

	j.AttemptCount = 3
	assert.False(t, j.Retriable())

	j.Status = JobCompleted
	assert.False(t, j.Retriable())
}

func TestJobStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobCancelled.Terminal())
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.False(t, JobFailed.Terminal(), "failed may still be retried")
}
