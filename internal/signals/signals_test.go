package signals

import (
	"testing"
	"time"

	"github.com/sells-group/outreach-engine/internal/model"
)

func fixedDetector(now time.Time) *Detector {
	d := NewDetector()
	d.nowFunc = func() time.Time { return now }
	return d
}

func TestDetect_FundingWithinWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	funded := now.Add(-10 * 24 * time.Hour)

	d := fixedDetector(now)
	events := d.Detect("lead-1", "acme.com", "crunchbase", &model.CompanyData{
		FundingStage:    model.FundingSeriesB,
		TotalFunding:    42000000,
		LastFundingDate: &funded,
	}, nil)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Type != model.SignalFundingRound {
		t.Errorf("type = %s, want funding_round", e.Type)
	}
	if e.ScoreImpact != 30 {
		t.Errorf("impact = %d, want 30", e.ScoreImpact)
	}
	if e.Category != model.CategoryIntent {
		t.Errorf("category = %s, want intent", e.Category)
	}
	if e.LeadID != "lead-1" || e.CompanyDomain != "acme.com" || e.Source != "crunchbase" {
		t.Errorf("attribution not set: %+v", e)
	}
	payload, ok := e.Payload.(*model.FundingRoundPayload)
	if !ok {
		t.Fatalf("payload type %T", e.Payload)
	}
	if payload.Stage != model.FundingSeriesB || payload.AmountUSD != 42000000 {
		t.Errorf("payload = %+v", payload)
	}
	if e.ExpiresAt == nil || !e.ExpiresAt.Equal(now.Add(90*24*time.Hour)) {
		t.Errorf("expires_at = %v, want detected+90d", e.ExpiresAt)
	}
	if e.SignalDate == nil || !e.SignalDate.Equal(funded) {
		t.Errorf("signal_date = %v, want %v", e.SignalDate, funded)
	}
}

func TestDetect_FundingConfidenceDecays(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	d := fixedDetector(now)

	recent := now.Add(-1 * 24 * time.Hour)
	old := now.Add(-80 * 24 * time.Hour)

	fresh := d.Detect("", "a.com", "crunchbase", &model.CompanyData{LastFundingDate: &recent}, nil)
	stale := d.Detect("", "b.com", "crunchbase", &model.CompanyData{LastFundingDate: &old}, nil)

	if len(fresh) != 1 || len(stale) != 1 {
		t.Fatalf("expected 1 event each, got %d and %d", len(fresh), len(stale))
	}
	if fresh[0].Confidence <= stale[0].Confidence {
		t.Errorf("fresh confidence %.2f should exceed stale %.2f",
			fresh[0].Confidence, stale[0].Confidence)
	}
	if stale[0].Confidence < 0.5 {
		t.Errorf("confidence floor breached: %.2f", stale[0].Confidence)
	}
}

func TestDetect_FundingOutsideWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-120 * 24 * time.Hour)

	d := fixedDetector(now)
	events := d.Detect("", "acme.com", "crunchbase", &model.CompanyData{LastFundingDate: &old}, nil)

	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestDetect_Hiring(t *testing.T) {
	d := fixedDetector(time.Now())
	events := d.Detect("lead-1", "acme.com", "apollo", &model.CompanyData{
		IsHiring:      true,
		OpenPositions: 12,
	}, nil)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != model.SignalJobPosting || events[0].ScoreImpact != 25 {
		t.Errorf("event = %+v", events[0])
	}
	payload := events[0].Payload.(*model.JobPostingPayload)
	if payload.OpenPositions != 12 {
		t.Errorf("open positions = %d, want 12", payload.OpenPositions)
	}
}

func TestDetect_TechAdoptionRequiresPrevious(t *testing.T) {
	d := fixedDetector(time.Now())

	current := &model.CompanyData{TechStack: []string{"AWS", "Kubernetes", "Datadog"}}

	if events := d.Detect("", "acme.com", "clearbit", current, nil); len(events) != 0 {
		t.Fatalf("no previous payload should mean no tech events, got %d", len(events))
	}

	previous := &model.CompanyData{TechStack: []string{"aws", "Kubernetes"}}
	events := d.Detect("", "acme.com", "clearbit", current, previous)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	payload := events[0].Payload.(*model.TechAdoptionPayload)
	if payload.Technology != "Datadog" {
		t.Errorf("technology = %s, want Datadog", payload.Technology)
	}
	if events[0].ScoreImpact != 20 {
		t.Errorf("impact = %d, want 20", events[0].ScoreImpact)
	}
}

func TestDetect_GrowthThreshold(t *testing.T) {
	d := fixedDetector(time.Now())

	previous := &model.CompanyData{EmployeeCount: 100}

	if events := d.Detect("", "a.com", "clearbit", &model.CompanyData{EmployeeCount: 110}, previous); len(events) != 0 {
		t.Fatalf("10%% growth should not trigger, got %d events", len(events))
	}

	events := d.Detect("", "a.com", "clearbit", &model.CompanyData{EmployeeCount: 120}, previous)
	if len(events) != 1 {
		t.Fatalf("20%% growth should trigger, got %d events", len(events))
	}
	if events[0].Category != model.CategoryFit {
		t.Errorf("category = %s, want fit", events[0].Category)
	}
	payload := events[0].Payload.(*model.GrowthIndicatorPayload)
	if payload.Metric != "employee_count" || payload.ChangePct != 20 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestDetect_ShrinkingHeadcountNoSignal(t *testing.T) {
	d := fixedDetector(time.Now())
	events := d.Detect("", "a.com", "clearbit",
		&model.CompanyData{EmployeeCount: 50},
		&model.CompanyData{EmployeeCount: 100})
	if len(events) != 0 {
		t.Fatalf("shrinking headcount should not trigger, got %d events", len(events))
	}
}

func TestDetect_NewsCapped(t *testing.T) {
	d := fixedDetector(time.Now())
	company := &model.CompanyData{RecentNews: []model.NewsItem{
		{Headline: "one"}, {Headline: "two"}, {Headline: "three"},
		{Headline: "four"}, {Headline: ""},
	}}

	events := d.Detect("", "acme.com", "clearbit", company, nil)
	if len(events) != maxNewsSignals {
		t.Fatalf("expected %d news events, got %d", maxNewsSignals, len(events))
	}
	for _, e := range events {
		if e.Type != model.SignalNewsMention || e.ScoreImpact != 10 {
			t.Errorf("event = %+v", e)
		}
		if e.ExpiresAt == nil {
			t.Error("news event missing expiry")
		}
	}
}

func TestDetect_NilCurrent(t *testing.T) {
	d := fixedDetector(time.Now())
	if events := d.Detect("lead-1", "acme.com", "clearbit", nil, nil); events != nil {
		t.Fatalf("expected nil, got %v", events)
	}
}

func TestTTLTable(t *testing.T) {
	cases := map[model.SignalType]time.Duration{
		model.SignalFundingRound:    90 * 24 * time.Hour,
		model.SignalExecutiveHire:   60 * 24 * time.Hour,
		model.SignalJobPosting:      30 * 24 * time.Hour,
		model.SignalTechAdoption:    60 * 24 * time.Hour,
		model.SignalNewsMention:     14 * 24 * time.Hour,
		model.SignalGrowthIndicator: 90 * 24 * time.Hour,
		model.SignalContractEnding:  30 * 24 * time.Hour,
		model.SignalWebsiteChange:   7 * 24 * time.Hour,
	}
	for typ, want := range cases {
		if got := TTLFor(typ); got != want {
			t.Errorf("TTLFor(%s) = %v, want %v", typ, got, want)
		}
	}
}
