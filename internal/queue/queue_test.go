package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

type stubRunner struct {
	result *model.JobResult
	err    error
	ran    []string
}

func (r *stubRunner) Run(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	r.ran = append(r.ran, job.ID)
	return r.result, r.err
}

func newTestQueue(t *testing.T, runner Runner, cfg Config) (*Queue, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, runner, cfg), st
}

func TestSubmitValidation(t *testing.T) {
	q, _ := newTestQueue(t, &stubRunner{}, Config{})

	tests := []struct {
		name string
		job  *model.Job
		want string
	}{
		{
			"missing user",
			&model.Job{Kind: model.JobScoreLead, Config: &model.ScoreLeadConfig{}},
			"user_id is required",
		},
		{
			"missing config",
			&model.Job{UserID: "u1", Kind: model.JobScoreLead},
			"config is required",
		},
		{
			"config kind mismatch",
			&model.Job{UserID: "u1", Kind: model.JobScoreLead, Config: &model.VerifyEmailConfig{Email: "a@b.com"}},
			"does not match job kind",
		},
		{
			"invalid config",
			&model.Job{
				UserID: "u1",
				Kind:   model.JobFindContacts,
				Target: model.JobTarget{LeadID: "l1"},
				Config: &model.FindContactsConfig{Limit: 100},
			},
			"out of range",
		},
		{
			"missing lead target",
			&model.Job{UserID: "u1", Kind: model.JobScoreLead, Config: &model.ScoreLeadConfig{}},
			"requires target.lead_id",
		},
		{
			"missing domain target",
			&model.Job{UserID: "u1", Kind: model.JobEnrichCompany, Config: &model.EnrichCompanyConfig{}},
			"requires target.company_domain",
		},
		{
			"missing email target",
			&model.Job{UserID: "u1", Kind: model.JobVerifyEmail, Config: &model.VerifyEmailConfig{Email: "a@b.com"}},
			"requires target.email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := q.Submit(context.Background(), tt.job)
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, eris.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Contains(t, verr.Error(), tt.want)
		})
	}
}

func TestSubmitPersistsPending(t *testing.T) {
	ctx := context.Background()
	q, st := newTestQueue(t, &stubRunner{}, Config{})

	job := &model.Job{
		UserID: "u1",
		Kind:   model.JobVerifyEmail,
		Target: model.JobTarget{Email: "pat@acme.io"},
		Config: &model.VerifyEmailConfig{Email: "pat@acme.io"},
	}
	require.NoError(t, q.Submit(ctx, job))
	require.NotEmpty(t, job.ID)

	got, err := st.GetJob(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, got.Status)
	assert.Equal(t, model.JobVerifyEmail, got.Kind)

	cfg, ok := got.Config.(*model.VerifyEmailConfig)
	require.True(t, ok)
	assert.Equal(t, "pat@acme.io", cfg.Email)
}

func TestSubmitDiscoverNeedsNoTarget(t *testing.T) {
	q, _ := newTestQueue(t, &stubRunner{}, Config{})

	err := q.Submit(context.Background(), &model.Job{
		UserID: "u1",
		Kind:   model.JobDiscoverLeads,
		Config: &model.DiscoverLeadsConfig{Limit: 10},
	})
	require.NoError(t, err)
}

func TestCancelPending(t *testing.T) {
	ctx := context.Background()
	q, st := newTestQueue(t, &stubRunner{}, Config{})

	job := &model.Job{
		UserID: "u1",
		Kind:   model.JobVerifyEmail,
		Target: model.JobTarget{Email: "pat@acme.io"},
		Config: &model.VerifyEmailConfig{Email: "pat@acme.io"},
	}
	require.NoError(t, q.Submit(ctx, job))
	require.NoError(t, q.Cancel(ctx, "u1", job.ID))

	got, err := q.Get(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, got.Status)

	// Cancelled jobs are never claimed.
	claimed, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestCancelRunningDiscardsOutcome(t *testing.T) {
	ctx := context.Background()
	q, st := newTestQueue(t, &stubRunner{result: &model.JobResult{CreditsUsed: 2}}, Config{})

	job := &model.Job{
		UserID: "u1",
		Kind:   model.JobVerifyEmail,
		Target: model.JobTarget{Email: "pat@acme.io"},
		Config: &model.VerifyEmailConfig{Email: "pat@acme.io"},
	}
	require.NoError(t, q.Submit(ctx, job))

	claimed, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Cancel lands while the worker holds the claim.
	require.NoError(t, q.Cancel(ctx, "u1", job.ID))

	q.runOne(ctx, claimed)

	got, err := q.Get(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, got.Status)
	assert.Zero(t, got.CreditsUsed)
}

func TestCancelRunningDiscardsRetry(t *testing.T) {
	ctx := context.Background()
	q, st := newTestQueue(t, &stubRunner{err: eris.New("provider flake")}, Config{})

	job := &model.Job{
		UserID: "u1",
		Kind:   model.JobVerifyEmail,
		Target: model.JobTarget{Email: "pat@acme.io"},
		Config: &model.VerifyEmailConfig{Email: "pat@acme.io"},
	}
	require.NoError(t, q.Submit(ctx, job))

	claimed, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, q.Cancel(ctx, "u1", job.ID))

	q.runOne(ctx, claimed)

	got, err := q.Get(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, got.Status)

	reclaimed, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, reclaimed)
}
