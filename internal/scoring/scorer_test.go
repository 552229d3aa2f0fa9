package scoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

func newTestScorer(t *testing.T) (*Scorer, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewScorer(st), st
}

func seedLead(t *testing.T, st store.Store) *model.Lead {
	t.Helper()
	lead := &model.Lead{
		UserID:        "user-1",
		CompanyName:   "Acme",
		CompanyDomain: "acme.io",
		Company: &model.CompanyData{
			Domain:        "acme.io",
			Industry:      "Software",
			EmployeeCount: 200,
			IsHiring:      true,
			OpenPositions: 8,
		},
		Contacts: []model.ContactData{
			{FullName: "Pat Doe", Email: "pat@acme.io", EmailVerified: true, LinkedInURL: "https://linkedin.com/in/pat"},
		},
	}
	require.NoError(t, st.CreateLead(context.Background(), lead))
	return lead
}

func TestScoreLeadPersistsAndTracksChange(t *testing.T) {
	ctx := context.Background()
	scorer, st := newTestScorer(t)
	lead := seedLead(t, st)

	first, err := scorer.ScoreLead(ctx, "user-1", lead.ID, "")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Nil(t, first.PreviousScore)
	assert.Nil(t, first.ScoreChange)
	assert.Equal(t, 50, first.FitScore) // no ICP configured

	// A new signal between runs moves the score; the second row records the
	// delta against the first.
	require.NoError(t, st.AppendSignal(ctx, &model.SignalEvent{
		LeadID:      lead.ID,
		Type:        model.SignalNewsMention,
		Category:    model.CategoryIntent,
		Payload:     &model.NewsMentionPayload{Headline: "Acme raises Series B"},
		ScoreImpact: 10,
		Confidence:  0.6,
	}))

	second, err := scorer.ScoreLead(ctx, "user-1", lead.ID, "")
	require.NoError(t, err)
	require.NotNil(t, second.PreviousScore)
	require.NotNil(t, second.ScoreChange)
	assert.Equal(t, first.TotalScore, *second.PreviousScore)
	assert.Equal(t, second.TotalScore-first.TotalScore, *second.ScoreChange)
	assert.Contains(t, second.ActiveSignals, model.SignalNewsMention)

	current, err := scorer.Current(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)

	history, err := scorer.History(ctx, lead.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestScoreLeadUsesDefaultICP(t *testing.T) {
	ctx := context.Background()
	scorer, st := newTestScorer(t)
	lead := seedLead(t, st)

	icp := &model.ICPProfile{
		UserID:  "user-1",
		Name:    "Mid-market software",
		Weights: model.DefaultWeights,
		Filters: model.ICPFilters{Industries: []string{"software"}},
	}
	require.NoError(t, st.CreateICP(ctx, icp))
	require.NoError(t, st.SetDefaultICP(ctx, "user-1", icp.ID))

	score, err := scorer.ScoreLead(ctx, "user-1", lead.ID, "")
	require.NoError(t, err)
	assert.Equal(t, icp.ID, score.ICPID)
	assert.Contains(t, score.Breakdown.Fit, "industry_match")
}

func TestScoreLeadExplicitICPNotFound(t *testing.T) {
	ctx := context.Background()
	scorer, st := newTestScorer(t)
	lead := seedLead(t, st)

	_, err := scorer.ScoreLead(ctx, "user-1", lead.ID, "missing-icp")
	require.Error(t, err)
}

func TestScoreLeadMarksSignalsProcessed(t *testing.T) {
	ctx := context.Background()
	scorer, st := newTestScorer(t)
	lead := seedLead(t, st)

	require.NoError(t, st.AppendSignal(ctx, &model.SignalEvent{
		LeadID:      lead.ID,
		Type:        model.SignalTechAdoption,
		Category:    model.CategoryIntent,
		Payload:     &model.TechAdoptionPayload{Technology: "Kubernetes"},
		ScoreImpact: 20,
		Confidence:  0.8,
	}))

	pending, err := st.LeadsWithUnprocessedSignals(ctx)
	require.NoError(t, err)
	assert.Contains(t, pending, store.LeadRef{LeadID: lead.ID, UserID: "user-1"})

	_, err = scorer.ScoreLead(ctx, "user-1", lead.ID, "")
	require.NoError(t, err)

	pending, err = st.LeadsWithUnprocessedSignals(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDistribution(t *testing.T) {
	ctx := context.Background()
	scorer, st := newTestScorer(t)
	lead := seedLead(t, st)

	_, err := scorer.ScoreLead(ctx, "user-1", lead.ID, "")
	require.NoError(t, err)

	dist, err := scorer.Distribution(ctx, "user-1")
	require.NoError(t, err)

	total := 0
	for _, stats := range dist {
		total += stats.Count
	}
	assert.Equal(t, 1, total)
}

func TestScoreLeadUnknownLead(t *testing.T) {
	ctx := context.Background()
	scorer, _ := newTestScorer(t)

	_, err := scorer.ScoreLead(ctx, "user-1", "nope", "")
	require.Error(t, err)
}

// Signals expire out of the score on re-runs without any new writes.
func TestScoreLeadSignalExpiry(t *testing.T) {
	ctx := context.Background()
	scorer, st := newTestScorer(t)
	lead := seedLead(t, st)

	expired := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.AppendSignal(ctx, &model.SignalEvent{
		LeadID:      lead.ID,
		Type:        model.SignalExecutiveHire,
		Category:    model.CategoryIntent,
		Payload:     &model.ExecutiveHirePayload{Title: "CRO"},
		ScoreImpact: 15,
		Confidence:  0.7,
		ExpiresAt:   &expired,
	}))

	score, err := scorer.ScoreLead(ctx, "user-1", lead.ID, "")
	require.NoError(t, err)
	assert.NotContains(t, score.ActiveSignals, model.SignalExecutiveHire)
	assert.NotContains(t, score.Breakdown.Intent, "leadership_change")
}

func TestCurrentNilForUnscoredLead(t *testing.T) {
	ctx := context.Background()
	scorer, st := newTestScorer(t)
	lead := seedLead(t, st)

	current, err := scorer.Current(ctx, lead.ID)
	require.NoError(t, err)
	assert.Nil(t, current)
}
