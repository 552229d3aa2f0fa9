// Package scoring computes multi-factor lead scores. The engine itself is
// pure: it takes firmographics, contacts, and active signals and returns a
// LeadScore with a per-component breakdown. Persistence lives in Scorer.
package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sells-group/outreach-engine/internal/model"
)

// Engine scores leads against an optional ICP profile. A nil profile yields
// default weights and a neutral fit score.
type Engine struct {
	icp     *model.ICPProfile
	weights model.Weights
	nowFunc func() time.Time
}

// NewEngine builds an engine for one ICP. Pass nil to score without a
// profile.
func NewEngine(icp *model.ICPProfile) *Engine {
	w := model.DefaultWeights
	if icp != nil {
		w = icp.Weights
	}
	return &Engine{icp: icp, weights: w, nowFunc: time.Now}
}

// Input is everything the engine needs to score one lead.
type Input struct {
	Company  *model.CompanyData
	Contacts []model.ContactData
	Signals  []model.SignalEvent
}

// Score computes the three sub-scores, the weighted total, and the tier.
// The returned LeadScore has no ID, PreviousScore, or ScoreChange; those
// are filled at persistence time.
func (e *Engine) Score(leadID string, in Input) *model.LeadScore {
	now := e.nowFunc().UTC()
	active := activeSignals(in.Signals, now)

	intent, intentParts := e.scoreIntent(in.Company, active, now)
	fit, fitParts := e.scoreFit(in.Company)
	access, accessParts := e.scoreAccessibility(in.Contacts)

	// The weighted terms are summed before rounding; rounding (or
	// truncating) each term separately can lose up to 2 points and flip a
	// tier at a boundary.
	weighted := float64(intent)*float64(e.weights.Intent)/100 +
		float64(fit)*float64(e.weights.Fit)/100 +
		float64(access)*float64(e.weights.Accessibility)/100
	total := clamp(int(math.Round(weighted)), 0, 100)

	score := &model.LeadScore{
		LeadID:             leadID,
		IntentScore:        intent,
		FitScore:           fit,
		AccessibilityScore: access,
		TotalScore:         total,
		Tier:               model.TierFor(total),
		Breakdown: model.ScoreBreakdown{
			Intent:        intentParts,
			Fit:           fitParts,
			Accessibility: accessParts,
		},
		CalculatedAt: now,
	}
	if e.icp != nil {
		score.ICPID = e.icp.ID
	}
	for _, s := range active {
		score.ActiveSignals = append(score.ActiveSignals, s.Type)
	}
	return score
}

func activeSignals(signals []model.SignalEvent, now time.Time) []model.SignalEvent {
	var out []model.SignalEvent
	for _, s := range signals {
		if !s.Expired(now) {
			out = append(out, s)
		}
	}
	return out
}

// scoreIntent rewards recent buying evidence: fresh funding, active hiring,
// and signal-driven events. The clamp to 100 happens once after summation.
func (e *Engine) scoreIntent(c *model.CompanyData, signals []model.SignalEvent, now time.Time) (int, map[string]model.ScoreComponent) {
	parts := map[string]model.ScoreComponent{}
	total := 0

	if c != nil && c.LastFundingDate != nil {
		days := int(now.Sub(*c.LastFundingDate).Hours() / 24)
		points := 0
		switch {
		case days >= 0 && days <= 30:
			points = 30
		case days > 30 && days <= 90:
			points = 20
		case days > 90 && days <= 180:
			points = 10
		}
		if points > 0 {
			reason := fmt.Sprintf("Raised funding %d days ago", days)
			if c.FundingStage != "" {
				reason += fmt.Sprintf(" (%s)", c.FundingStage)
			}
			if c.TotalFunding > 0 {
				reason += fmt.Sprintf(", $%dM total", c.TotalFunding/1_000_000)
			}
			parts["recent_funding"] = model.ScoreComponent{Points: points, Reason: reason}
			total += points
		}
	}

	if c != nil && c.IsHiring {
		points := 10
		switch {
		case c.OpenPositions >= 10:
			points = 25
		case c.OpenPositions >= 5:
			points = 20
		case c.OpenPositions > 0:
			points = 15
		}
		reason := "Actively hiring"
		if c.OpenPositions > 0 {
			reason = fmt.Sprintf("Actively hiring (%d open positions)", c.OpenPositions)
		}
		parts["hiring_signals"] = model.ScoreComponent{Points: points, Reason: reason}
		total += points
	}

	// Each signal type contributes at most once per score.
	for _, s := range signals {
		switch s.Type {
		case model.SignalTechAdoption:
			if _, seen := parts["tech_change"]; seen {
				continue
			}
			reason := "Recent technology change"
			if p, ok := s.Payload.(*model.TechAdoptionPayload); ok && p.Technology != "" {
				reason = fmt.Sprintf("Recently adopted %s", p.Technology)
			}
			parts["tech_change"] = model.ScoreComponent{Points: 20, Reason: reason, Source: s.Source}
			total += 20
		case model.SignalExecutiveHire:
			if _, seen := parts["leadership_change"]; seen {
				continue
			}
			reason := "Recent leadership change"
			if p, ok := s.Payload.(*model.ExecutiveHirePayload); ok && p.Title != "" {
				reason = fmt.Sprintf("New %s hired", p.Title)
			}
			parts["leadership_change"] = model.ScoreComponent{Points: 15, Reason: reason, Source: s.Source}
			total += 15
		case model.SignalNewsMention:
			if _, seen := parts["news_coverage"]; seen {
				continue
			}
			parts["news_coverage"] = model.ScoreComponent{Points: 10, Reason: "Recent press coverage", Source: s.Source}
			total += 10
		}
	}

	return clamp(total, 0, 100), parts
}

// scoreFit measures how closely the company matches the ICP filters. Without
// an ICP every lead gets a neutral 50.
func (e *Engine) scoreFit(c *model.CompanyData) (int, map[string]model.ScoreComponent) {
	parts := map[string]model.ScoreComponent{}

	if e.icp == nil {
		parts["default"] = model.ScoreComponent{Points: 50, Reason: "No ICP defined - default fit score"}
		return 50, parts
	}

	f := e.icp.Filters
	total := 0

	if c != nil && c.Industry != "" && len(f.Industries) > 0 {
		switch {
		case matchIndustry(c.Industry, f.Industries):
			parts["industry_match"] = model.ScoreComponent{Points: 25, Reason: fmt.Sprintf("Industry %q matches ICP", c.Industry)}
			total += 25
		case matchIndustry(c.Industry, f.ExcludedIndustries):
			parts["industry_excluded"] = model.ScoreComponent{Points: -30, Reason: fmt.Sprintf("Industry %q is excluded", c.Industry)}
			total -= 30
		default:
			parts["industry_partial"] = model.ScoreComponent{Points: 10, Reason: fmt.Sprintf("Industry %q is adjacent to ICP", c.Industry)}
			total += 10
		}
	}

	if c != nil && c.EmployeeCount > 0 && (f.CompanySizeMin != nil || f.CompanySizeMax != nil) {
		minSize, maxSize := 0, 0
		if f.CompanySizeMin != nil {
			minSize = *f.CompanySizeMin
		}
		if f.CompanySizeMax != nil {
			maxSize = *f.CompanySizeMax
		}
		switch {
		case c.EmployeeCount >= minSize && (maxSize == 0 || c.EmployeeCount <= maxSize):
			parts["size_match"] = model.ScoreComponent{Points: 25, Reason: fmt.Sprintf("%d employees is within target range", c.EmployeeCount)}
			total += 25
		case minSize > 0 && c.EmployeeCount < minSize:
			points := 15 * c.EmployeeCount / minSize
			parts["size_small"] = model.ScoreComponent{Points: points, Reason: fmt.Sprintf("%d employees is below target minimum %d", c.EmployeeCount, minSize)}
			total += points
		default:
			parts["size_large"] = model.ScoreComponent{Points: 5, Reason: fmt.Sprintf("%d employees is above target maximum %d", c.EmployeeCount, maxSize)}
			total += 5
		}
	}

	if c != nil && len(c.TechStack) > 0 && len(f.Tech.MustHave) > 0 {
		must := countTechMatches(c.TechStack, f.Tech.MustHave)
		if must > 0 {
			points := minInt(20, 10+must*5)
			parts["tech_must_have"] = model.ScoreComponent{Points: points, Reason: fmt.Sprintf("Uses %d required technologies", must)}
			total += points
		}
		if nice := countTechMatches(c.TechStack, f.Tech.NiceToHave); nice > 0 {
			points := minInt(10, nice*3)
			parts["tech_nice_to_have"] = model.ScoreComponent{Points: points, Reason: fmt.Sprintf("Uses %d preferred technologies", nice)}
			total += points
		}
		if avoid := countTechMatches(c.TechStack, f.Tech.Avoid); avoid > 0 {
			points := minInt(20, avoid*10)
			parts["tech_avoid"] = model.ScoreComponent{Points: -points, Reason: fmt.Sprintf("Uses %d technologies to avoid", avoid)}
			total -= points
		}
	}

	if c != nil {
		country := strings.ToUpper(c.CountryCode)
		if country == "" {
			country = strings.ToUpper(c.Country)
		}
		if country != "" {
			switch {
			case containsUpper(f.Countries, country):
				parts["geo_match"] = model.ScoreComponent{Points: 15, Reason: fmt.Sprintf("Located in target country %s", country)}
				total += 15
			case containsUpper(f.ExcludedCountries, country):
				parts["geo_excluded"] = model.ScoreComponent{Points: -20, Reason: fmt.Sprintf("Located in excluded country %s", country)}
				total -= 20
			}
		}
	}

	if c != nil && c.FundingStage != "" && len(f.FundingStages) > 0 {
		for _, stage := range f.FundingStages {
			if stage == c.FundingStage {
				parts["funding_stage_match"] = model.ScoreComponent{Points: 15, Reason: fmt.Sprintf("Funding stage %s matches ICP", c.FundingStage)}
				total += 15
				break
			}
		}
	}

	return clamp(total, 0, 100), parts
}

// scoreAccessibility measures how reachable the decision makers are. The
// email, linkedin, and phone components use the best available contact.
func (e *Engine) scoreAccessibility(contacts []model.ContactData) (int, map[string]model.ScoreComponent) {
	parts := map[string]model.ScoreComponent{}
	if len(contacts) == 0 {
		return 0, parts
	}

	primary := contacts[0]
	total := 0

	if primary.Email != "" {
		switch {
		case primary.EmailVerified:
			parts["email_verified"] = model.ScoreComponent{Points: 30, Reason: "Verified email address on file"}
			total += 30
		case primary.EmailConfidence >= 0.8:
			parts["email_high_confidence"] = model.ScoreComponent{Points: 25, Reason: fmt.Sprintf("Email found with %.0f%% confidence", primary.EmailConfidence*100)}
			total += 25
		default:
			parts["email_found"] = model.ScoreComponent{Points: 15, Reason: "Unverified email address on file"}
			total += 15
		}
	}

	if primary.LinkedInURL != "" {
		parts["linkedin_found"] = model.ScoreComponent{Points: 25, Reason: "LinkedIn profile on file"}
		total += 25
	}

	if primary.Phone != "" {
		parts["phone_found"] = model.ScoreComponent{Points: 20, Reason: "Direct phone number on file"}
		total += 20
	}

	// Title match beats seniority; only one of the two contributes.
	if e.titleMatches(primary.Title) {
		parts["title_match"] = model.ScoreComponent{Points: 15, Reason: fmt.Sprintf("Title %q matches ICP targets", primary.Title)}
		total += 15
	} else if seniorContact(primary.Seniority) {
		parts["seniority_match"] = model.ScoreComponent{Points: 10, Reason: fmt.Sprintf("Senior contact (%s)", primary.Seniority)}
		total += 10
	}

	if len(contacts) > 1 {
		points := minInt(10, len(contacts)*3)
		parts["multiple_contacts"] = model.ScoreComponent{Points: points, Reason: fmt.Sprintf("%d contacts identified", len(contacts))}
		total += points
	}

	return clamp(total, 0, 100), parts
}

func (e *Engine) titleMatches(title string) bool {
	if e.icp == nil || title == "" {
		return false
	}
	lower := strings.ToLower(title)
	for _, target := range e.icp.Filters.TargetTitles {
		t := strings.ToLower(target)
		if t != "" && (strings.Contains(lower, t) || strings.Contains(t, lower)) {
			return true
		}
	}
	return false
}

func seniorContact(s model.SeniorityLevel) bool {
	switch s {
	case model.SeniorityCLevel, model.SeniorityVP, model.SeniorityDirector:
		return true
	}
	return false
}

func matchIndustry(industry string, candidates []string) bool {
	lower := strings.ToLower(industry)
	for _, c := range candidates {
		cl := strings.ToLower(c)
		if cl != "" && (strings.Contains(lower, cl) || strings.Contains(cl, lower)) {
			return true
		}
	}
	return false
}

func countTechMatches(stack, wanted []string) int {
	have := make(map[string]bool, len(stack))
	for _, t := range stack {
		have[strings.ToLower(t)] = true
	}
	n := 0
	for _, w := range wanted {
		if have[strings.ToLower(w)] {
			n++
		}
	}
	return n
}

func containsUpper(list []string, v string) bool {
	for _, s := range list {
		if strings.ToUpper(s) == v {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
