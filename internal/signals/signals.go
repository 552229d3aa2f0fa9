// Package signals turns enrichment payload changes into scored, expiring
// signal events.
package signals

import (
	"strings"
	"time"

	"github.com/sells-group/outreach-engine/internal/model"
)

// TTLs per signal type. Fast-decaying evidence (news, website changes)
// expires quickly; structural evidence (funding, growth) lasts a quarter.
var signalTTL = map[model.SignalType]time.Duration{
	model.SignalFundingRound:    90 * 24 * time.Hour,
	model.SignalExecutiveHire:   60 * 24 * time.Hour,
	model.SignalJobPosting:      30 * 24 * time.Hour,
	model.SignalTechAdoption:    60 * 24 * time.Hour,
	model.SignalNewsMention:     14 * 24 * time.Hour,
	model.SignalGrowthIndicator: 90 * 24 * time.Hour,
	model.SignalContractEnding:  30 * 24 * time.Hour,
	model.SignalWebsiteChange:   7 * 24 * time.Hour,
}

// Base score impact per signal type, matching the intent point schedule.
var signalImpact = map[model.SignalType]int{
	model.SignalFundingRound:    30,
	model.SignalExecutiveHire:   15,
	model.SignalJobPosting:      25,
	model.SignalTechAdoption:    20,
	model.SignalNewsMention:     10,
	model.SignalGrowthIndicator: 20,
	model.SignalContractEnding:  25,
	model.SignalWebsiteChange:   5,
}

var signalCategory = map[model.SignalType]model.SignalCategory{
	model.SignalFundingRound:    model.CategoryIntent,
	model.SignalExecutiveHire:   model.CategoryIntent,
	model.SignalJobPosting:      model.CategoryIntent,
	model.SignalTechAdoption:    model.CategoryIntent,
	model.SignalNewsMention:     model.CategoryIntent,
	model.SignalContractEnding:  model.CategoryIntent,
	model.SignalGrowthIndicator: model.CategoryFit,
	model.SignalWebsiteChange:   model.CategoryEngagement,
}

// fundingWindow bounds how far back a raise still counts as a signal.
const fundingWindow = 90 * 24 * time.Hour

// growthThreshold is the minimum relative employee-count change that
// registers as a growth indicator.
const growthThreshold = 0.15

// maxNewsSignals caps news events emitted per detection pass.
const maxNewsSignals = 3

// TTLFor returns the lifetime for a signal type.
func TTLFor(t model.SignalType) time.Duration {
	if ttl, ok := signalTTL[t]; ok {
		return ttl
	}
	return 30 * 24 * time.Hour
}

// ImpactFor returns the base score impact for a signal type.
func ImpactFor(t model.SignalType) int {
	return signalImpact[t]
}

// CategoryFor returns the sub-score a signal type feeds.
func CategoryFor(t model.SignalType) model.SignalCategory {
	if c, ok := signalCategory[t]; ok {
		return c
	}
	return model.CategoryIntent
}

// Detector derives signal events from enrichment payloads.
type Detector struct {
	nowFunc func() time.Time
}

// NewDetector creates a detector using wall-clock time.
func NewDetector() *Detector {
	return &Detector{nowFunc: time.Now}
}

// Detect runs every detector over the current payload (and the previous one
// where diffing applies) and returns the events found. leadID may be empty
// for discovery-stage companies known only by domain.
func (d *Detector) Detect(leadID, domain, source string, current, previous *model.CompanyData) []*model.SignalEvent {
	if current == nil {
		return nil
	}

	var events []*model.SignalEvent
	if e := d.detectFunding(current); e != nil {
		events = append(events, e)
	}
	if e := d.detectHiring(current); e != nil {
		events = append(events, e)
	}
	events = append(events, d.detectTechAdoption(current, previous)...)
	if e := d.detectGrowth(current, previous); e != nil {
		events = append(events, e)
	}
	events = append(events, d.detectNews(current)...)

	for _, e := range events {
		e.LeadID = leadID
		e.CompanyDomain = domain
		e.Source = source
		e.Category = CategoryFor(e.Type)
		e.ScoreImpact = ImpactFor(e.Type)
		e.DetectedAt = d.nowFunc().UTC()
		expires := e.DetectedAt.Add(TTLFor(e.Type))
		e.ExpiresAt = &expires
	}
	return events
}

// detectFunding emits a funding signal for raises announced within the
// window. Confidence decays linearly with the age of the round.
func (d *Detector) detectFunding(c *model.CompanyData) *model.SignalEvent {
	if c.LastFundingDate == nil {
		return nil
	}
	age := d.nowFunc().Sub(*c.LastFundingDate)
	if age < 0 || age > fundingWindow {
		return nil
	}

	confidence := 1.0 - 0.5*(age.Hours()/fundingWindow.Hours())
	return &model.SignalEvent{
		Type: model.SignalFundingRound,
		Payload: &model.FundingRoundPayload{
			Stage:     c.FundingStage,
			AmountUSD: c.TotalFunding,
		},
		Confidence: confidence,
		SignalDate: c.LastFundingDate,
	}
}

func (d *Detector) detectHiring(c *model.CompanyData) *model.SignalEvent {
	if !c.IsHiring && c.OpenPositions == 0 {
		return nil
	}
	return &model.SignalEvent{
		Type: model.SignalJobPosting,
		Payload: &model.JobPostingPayload{
			OpenPositions: c.OpenPositions,
		},
		Confidence: 0.9,
	}
}

// detectTechAdoption diffs the tech stack against the previous payload.
// Without a previous payload there is nothing to diff.
func (d *Detector) detectTechAdoption(current, previous *model.CompanyData) []*model.SignalEvent {
	if previous == nil || len(current.TechStack) == 0 {
		return nil
	}

	known := make(map[string]bool, len(previous.TechStack))
	for _, tech := range previous.TechStack {
		known[strings.ToLower(tech)] = true
	}

	var events []*model.SignalEvent
	for _, tech := range current.TechStack {
		if known[strings.ToLower(tech)] {
			continue
		}
		events = append(events, &model.SignalEvent{
			Type: model.SignalTechAdoption,
			Payload: &model.TechAdoptionPayload{
				Technology: tech,
			},
			Confidence: 0.8,
		})
	}
	return events
}

func (d *Detector) detectGrowth(current, previous *model.CompanyData) *model.SignalEvent {
	if previous == nil || previous.EmployeeCount == 0 || current.EmployeeCount == 0 {
		return nil
	}

	delta := float64(current.EmployeeCount-previous.EmployeeCount) / float64(previous.EmployeeCount)
	if delta < growthThreshold {
		return nil
	}

	return &model.SignalEvent{
		Type: model.SignalGrowthIndicator,
		Payload: &model.GrowthIndicatorPayload{
			Metric:    "employee_count",
			ChangePct: delta * 100,
		},
		Confidence: 0.85,
	}
}

func (d *Detector) detectNews(c *model.CompanyData) []*model.SignalEvent {
	var events []*model.SignalEvent
	for _, item := range c.RecentNews {
		if len(events) >= maxNewsSignals {
			break
		}
		if item.Headline == "" {
			continue
		}
		events = append(events, &model.SignalEvent{
			Type: model.SignalNewsMention,
			Payload: &model.NewsMentionPayload{
				Headline: item.Headline,
				URL:      item.URL,
			},
			Confidence: 0.6,
			SignalDate: item.PublishedAt,
		})
	}
	return events
}
