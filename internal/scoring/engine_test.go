package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
)

func fixedEngine(icp *model.ICPProfile, now time.Time) *Engine {
	e := NewEngine(icp)
	e.nowFunc = func() time.Time { return now }
	return e
}

func ptrInt(v int) *int { return &v }

func daysAgo(now time.Time, d int) *time.Time {
	t := now.AddDate(0, 0, -d)
	return &t
}

func expiringAt(t time.Time) *time.Time { return &t }

func TestIntentFundingRecency(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		days int
		want int
	}{
		{"last week", 7, 30},
		{"two months", 60, 20},
		{"five months", 150, 10},
		{"last year", 365, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := fixedEngine(nil, now)
			score, parts := e.scoreIntent(&model.CompanyData{
				LastFundingDate: daysAgo(now, tt.days),
				FundingStage:    model.FundingSeriesB,
				TotalFunding:    25_000_000,
			}, nil, now)

			assert.Equal(t, tt.want, score)
			if tt.want > 0 {
				require.Contains(t, parts, "recent_funding")
				assert.Contains(t, parts["recent_funding"].Reason, "Raised funding")
				assert.Contains(t, parts["recent_funding"].Reason, "series_b")
			} else {
				assert.NotContains(t, parts, "recent_funding")
			}
		})
	}
}

func TestIntentHiringTiers(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		positions int
		want      int
	}{
		{12, 25},
		{5, 20},
		{3, 15},
		{0, 10},
	}

	for _, tt := range tests {
		e := fixedEngine(nil, now)
		score, parts := e.scoreIntent(&model.CompanyData{IsHiring: true, OpenPositions: tt.positions}, nil, now)
		assert.Equal(t, tt.want, score, "positions=%d", tt.positions)
		assert.Contains(t, parts, "hiring_signals")
	}

	// Not hiring contributes nothing regardless of positions.
	e := fixedEngine(nil, now)
	score, parts := e.scoreIntent(&model.CompanyData{OpenPositions: 12}, nil, now)
	assert.Zero(t, score)
	assert.Empty(t, parts)
}

func TestIntentSignalsCountOncePerType(t *testing.T) {
	now := time.Now().UTC()
	e := fixedEngine(nil, now)

	signals := []model.SignalEvent{
		{Type: model.SignalTechAdoption, Payload: &model.TechAdoptionPayload{Technology: "Snowflake"}, Source: "apollo"},
		{Type: model.SignalTechAdoption, Payload: &model.TechAdoptionPayload{Technology: "Datadog"}},
		{Type: model.SignalExecutiveHire, Payload: &model.ExecutiveHirePayload{Title: "CTO"}},
		{Type: model.SignalNewsMention, Payload: &model.NewsMentionPayload{Headline: "Expansion"}},
		{Type: model.SignalNewsMention, Payload: &model.NewsMentionPayload{Headline: "Award"}},
	}

	score, parts := e.scoreIntent(nil, signals, now)

	assert.Equal(t, 45, score)
	assert.Equal(t, 20, parts["tech_change"].Points)
	assert.Equal(t, "Recently adopted Snowflake", parts["tech_change"].Reason)
	assert.Equal(t, "apollo", parts["tech_change"].Source)
	assert.Equal(t, "New CTO hired", parts["leadership_change"].Reason)
	assert.Equal(t, 10, parts["news_coverage"].Points)
}

func TestScoreExcludesExpiredSignals(t *testing.T) {
	now := time.Now().UTC()
	e := fixedEngine(nil, now)

	score := e.Score("lead-1", Input{Signals: []model.SignalEvent{
		{Type: model.SignalTechAdoption, Payload: &model.TechAdoptionPayload{Technology: "Kafka"}, ExpiresAt: expiringAt(now.Add(-time.Hour))},
		{Type: model.SignalNewsMention, Payload: &model.NewsMentionPayload{Headline: "Launch"}, ExpiresAt: expiringAt(now.Add(time.Hour))},
	}})

	assert.Equal(t, 10, score.IntentScore)
	assert.Equal(t, []model.SignalType{model.SignalNewsMention}, score.ActiveSignals)
	assert.NotContains(t, score.Breakdown.Intent, "tech_change")
}

func TestIntentClampedAt100(t *testing.T) {
	now := time.Now().UTC()
	e := fixedEngine(nil, now)

	score, _ := e.scoreIntent(&model.CompanyData{
		LastFundingDate: daysAgo(now, 10),
		IsHiring:        true,
		OpenPositions:   20,
	}, []model.SignalEvent{
		{Type: model.SignalTechAdoption, Payload: &model.TechAdoptionPayload{Technology: "Go"}},
		{Type: model.SignalExecutiveHire, Payload: &model.ExecutiveHirePayload{Title: "CRO"}},
		{Type: model.SignalNewsMention, Payload: &model.NewsMentionPayload{Headline: "IPO"}},
	}, now)

	assert.Equal(t, 100, score)
}

func TestFitWithoutICP(t *testing.T) {
	e := NewEngine(nil)
	score, parts := e.scoreFit(&model.CompanyData{Industry: "Software"})

	assert.Equal(t, 50, score)
	assert.Equal(t, "No ICP defined - default fit score", parts["default"].Reason)
}

func TestFitIndustry(t *testing.T) {
	icp := &model.ICPProfile{
		Weights: model.DefaultWeights,
		Filters: model.ICPFilters{
			Industries:         []string{"software"},
			ExcludedIndustries: []string{"gambling"},
		},
	}

	tests := []struct {
		name     string
		industry string
		want     int
		key      string
	}{
		{"match", "Software Development", 25, "industry_match"},
		{"excluded", "Online Gambling", 0, "industry_excluded"},
		{"partial", "Logistics", 10, "industry_partial"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(icp)
			score, parts := e.scoreFit(&model.CompanyData{Industry: tt.industry})
			assert.Equal(t, tt.want, score)
			assert.Contains(t, parts, tt.key)
		})
	}
}

func TestFitCompanySize(t *testing.T) {
	icp := &model.ICPProfile{
		Weights: model.DefaultWeights,
		Filters: model.ICPFilters{
			CompanySizeMin: ptrInt(100),
			CompanySizeMax: ptrInt(1000),
		},
	}

	tests := []struct {
		name      string
		employees int
		want      int
		key       string
	}{
		{"in range", 250, 25, "size_match"},
		{"below minimum scales", 40, 6, "size_small"}, // 15*40/100
		{"above maximum", 5000, 5, "size_large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(icp)
			score, parts := e.scoreFit(&model.CompanyData{EmployeeCount: tt.employees})
			assert.Equal(t, tt.want, score)
			assert.Contains(t, parts, tt.key)
		})
	}
}

func TestFitTechStack(t *testing.T) {
	icp := &model.ICPProfile{
		Weights: model.DefaultWeights,
		Filters: model.ICPFilters{
			Tech: model.TechRequirements{
				MustHave:   []string{"aws", "kubernetes", "terraform"},
				NiceToHave: []string{"datadog"},
				Avoid:      []string{"oracle"},
			},
		},
	}
	e := NewEngine(icp)

	score, parts := e.scoreFit(&model.CompanyData{
		TechStack: []string{"AWS", "Kubernetes", "Terraform", "Datadog", "Oracle"},
	})

	// must: min(20, 10+3*5)=20, nice: min(10, 1*3)=3, avoid: -min(20, 1*10)=-10.
	assert.Equal(t, 13, score)
	assert.Equal(t, 20, parts["tech_must_have"].Points)
	assert.Equal(t, 3, parts["tech_nice_to_have"].Points)
	assert.Equal(t, -10, parts["tech_avoid"].Points)
}

func TestFitGeoAndFundingStage(t *testing.T) {
	icp := &model.ICPProfile{
		Weights: model.DefaultWeights,
		Filters: model.ICPFilters{
			Countries:         []string{"US", "CA"},
			ExcludedCountries: []string{"RU"},
			FundingStages:     []model.FundingStage{model.FundingSeriesA, model.FundingSeriesB},
		},
	}
	e := NewEngine(icp)

	score, parts := e.scoreFit(&model.CompanyData{
		CountryCode:  "us",
		FundingStage: model.FundingSeriesB,
	})
	assert.Equal(t, 30, score)
	assert.Contains(t, parts, "geo_match")
	assert.Contains(t, parts, "funding_stage_match")

	score, parts = e.scoreFit(&model.CompanyData{Country: "RU"})
	assert.Equal(t, 0, score)
	assert.Equal(t, -20, parts["geo_excluded"].Points)
}

func TestFitClampedAtZero(t *testing.T) {
	icp := &model.ICPProfile{
		Weights: model.DefaultWeights,
		Filters: model.ICPFilters{
			Industries:         []string{"fintech"},
			ExcludedIndustries: []string{"tobacco"},
			ExcludedCountries:  []string{"KP"},
		},
	}
	e := NewEngine(icp)

	score, _ := e.scoreFit(&model.CompanyData{Industry: "Tobacco", CountryCode: "KP"})
	assert.Equal(t, 0, score)
}

func TestAccessibilityEmailLadder(t *testing.T) {
	e := NewEngine(nil)

	tests := []struct {
		name    string
		contact model.ContactData
		want    int
		key     string
	}{
		{"verified", model.ContactData{Email: "a@b.com", EmailVerified: true}, 30, "email_verified"},
		{"high confidence", model.ContactData{Email: "a@b.com", EmailConfidence: 0.9}, 25, "email_high_confidence"},
		{"unverified", model.ContactData{Email: "a@b.com", EmailConfidence: 0.4}, 15, "email_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, parts := e.scoreAccessibility([]model.ContactData{tt.contact})
			assert.Equal(t, tt.want, score)
			assert.Contains(t, parts, tt.key)
		})
	}
}

func TestAccessibilityTitleBeatsSeniority(t *testing.T) {
	icp := &model.ICPProfile{
		Weights: model.DefaultWeights,
		Filters: model.ICPFilters{TargetTitles: []string{"engineering"}},
	}
	e := NewEngine(icp)

	// Title matches: seniority must not also contribute.
	score, parts := e.scoreAccessibility([]model.ContactData{{
		Title:     "VP of Engineering",
		Seniority: model.SeniorityVP,
	}})
	assert.Equal(t, 15, score)
	assert.Contains(t, parts, "title_match")
	assert.NotContains(t, parts, "seniority_match")

	// No title match falls back to seniority.
	score, parts = e.scoreAccessibility([]model.ContactData{{
		Title:     "Head of Sales",
		Seniority: model.SeniorityCLevel,
	}})
	assert.Equal(t, 10, score)
	assert.Contains(t, parts, "seniority_match")
}

func TestAccessibilityMultipleContacts(t *testing.T) {
	e := NewEngine(nil)

	contacts := []model.ContactData{
		{Email: "a@b.com", EmailVerified: true},
		{Email: "c@b.com"},
		{Email: "d@b.com"},
	}
	score, parts := e.scoreAccessibility(contacts)

	// 30 verified + min(10, 3*3)=9.
	assert.Equal(t, 39, score)
	assert.Equal(t, 9, parts["multiple_contacts"].Points)

	score, parts = e.scoreAccessibility(nil)
	assert.Zero(t, score)
	assert.Empty(t, parts)
}

func TestScoreWeightedTotal(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	icp := &model.ICPProfile{
		ID:      "icp-1",
		Weights: model.DefaultWeights,
		Filters: model.ICPFilters{
			Industries:     []string{"software"},
			CompanySizeMin: ptrInt(50),
			CompanySizeMax: ptrInt(500),
			Tech:           model.TechRequirements{MustHave: []string{"aws"}},
			Countries:      []string{"US"},
			FundingStages:  []model.FundingStage{model.FundingSeriesA},
			TargetTitles:   []string{"engineering"},
		},
	}
	e := fixedEngine(icp, now)

	score := e.Score("lead-1", Input{
		Company: &model.CompanyData{
			Industry:        "Software Development",
			EmployeeCount:   120,
			TechStack:       []string{"AWS", "Postgres"},
			CountryCode:     "US",
			FundingStage:    model.FundingSeriesA,
			LastFundingDate: daysAgo(now, 20),
			IsHiring:        true,
			OpenPositions:   6,
		},
		Contacts: []model.ContactData{
			{Email: "vp@acme.io", EmailVerified: true, LinkedInURL: "https://linkedin.com/in/vp", Title: "VP of Engineering"},
			{Email: "cto@acme.io"},
		},
		Signals: []model.SignalEvent{
			{Type: model.SignalTechAdoption, Payload: &model.TechAdoptionPayload{Technology: "AWS"}},
		},
	})

	// Intent: 30 funding + 20 hiring + 20 tech = 70.
	// Fit: 25 industry + 25 size + 15 must-have + 15 geo + 15 stage = 95.
	// Accessibility: 30 email + 25 linkedin + 15 title + 6 contacts = 76.
	assert.Equal(t, 70, score.IntentScore)
	assert.Equal(t, 95, score.FitScore)
	assert.Equal(t, 76, score.AccessibilityScore)

	// round(70*0.40 + 95*0.35 + 76*0.25) = round(80.25) = 80.
	assert.Equal(t, 80, score.TotalScore)
	assert.Equal(t, model.TierHot, score.Tier)
	assert.Equal(t, "icp-1", score.ICPID)
	assert.Equal(t, now, score.CalculatedAt)
}

func TestScoreTotalRoundsWeightedSum(t *testing.T) {
	now := time.Now().UTC()
	icp := &model.ICPProfile{
		Weights: model.Weights{Intent: 33, Fit: 34, Accessibility: 33},
		Filters: model.ICPFilters{Industries: []string{"fintech"}},
	}
	e := fixedEngine(icp, now)

	score := e.Score("lead-1", Input{
		Company: &model.CompanyData{
			LastFundingDate: daysAgo(now, 5),
			IsHiring:        true,
			OpenPositions:   5,
		},
		Contacts: []model.ContactData{
			{Email: "ops@acme.io", EmailVerified: true, Phone: "+1-555-0100"},
		},
	})

	assert.Equal(t, 50, score.IntentScore)
	assert.Zero(t, score.FitScore)
	assert.Equal(t, 50, score.AccessibilityScore)

	// The terms sum to 16.5 + 0 + 16.5 before rounding; truncating each
	// term separately would yield 32.
	assert.Equal(t, 33, score.TotalScore)
}

func TestScoreCustomWeights(t *testing.T) {
	now := time.Now().UTC()
	icp := &model.ICPProfile{
		Weights: model.Weights{Intent: 100, Fit: 0, Accessibility: 0},
	}
	e := fixedEngine(icp, now)

	score := e.Score("lead-1", Input{
		Company: &model.CompanyData{LastFundingDate: daysAgo(now, 5)},
	})

	assert.Equal(t, 30, score.TotalScore)
	assert.Equal(t, model.TierCold, score.Tier)
}

func TestTierBoundaries(t *testing.T) {
	assert.Equal(t, model.TierHot, model.TierFor(80))
	assert.Equal(t, model.TierWarm, model.TierFor(79))
	assert.Equal(t, model.TierWarm, model.TierFor(60))
	assert.Equal(t, model.TierNurture, model.TierFor(59))
	assert.Equal(t, model.TierNurture, model.TierFor(40))
	assert.Equal(t, model.TierCold, model.TierFor(39))
}
