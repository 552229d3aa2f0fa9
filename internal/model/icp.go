package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// FundingStage buckets a company's most recent raise.
type FundingStage string

const (
	FundingPreSeed   FundingStage = "pre_seed"
	FundingSeed      FundingStage = "seed"
	FundingSeriesA   FundingStage = "series_a"
	FundingSeriesB   FundingStage = "series_b"
	FundingSeriesC   FundingStage = "series_c"
	FundingSeriesD   FundingStage = "series_d_plus"
	FundingPublic    FundingStage = "public"
	FundingBootstrap FundingStage = "bootstrapped"
)

// SeniorityLevel classifies a contact's rank.
type SeniorityLevel string

const (
	SeniorityCLevel   SeniorityLevel = "c_level"
	SeniorityVP       SeniorityLevel = "vp"
	SeniorityDirector SeniorityLevel = "director"
	SeniorityManager  SeniorityLevel = "manager"
	SeniorityIC       SeniorityLevel = "individual"
)

// TechRequirements describes technology-stack criteria for an ICP.
type TechRequirements struct {
	MustHave   []string `json:"must_have,omitempty"`
	NiceToHave []string `json:"nice_to_have,omitempty"`
	Avoid      []string `json:"avoid,omitempty"`
}

// ICPFilters holds the inclusion/exclusion criteria derived from an ICP.
type ICPFilters struct {
	Industries         []string `json:"industries,omitempty"`
	ExcludedIndustries []string `json:"excluded_industries,omitempty"`

	CompanySizeMin *int `json:"company_size_min,omitempty"`
	CompanySizeMax *int `json:"company_size_max,omitempty"`
	RevenueMin     *int `json:"revenue_min,omitempty"`
	RevenueMax     *int `json:"revenue_max,omitempty"`

	FundingStages      []FundingStage `json:"funding_stages,omitempty"`
	MinFundingAmount   *int           `json:"min_funding_amount,omitempty"`
	RecentlyFundedDays *int           `json:"recently_funded_days,omitempty"`

	Tech TechRequirements `json:"tech_requirements,omitempty"`

	Countries         []string `json:"countries,omitempty"`
	ExcludedCountries []string `json:"excluded_countries,omitempty"`
	Regions           []string `json:"regions,omitempty"`

	TargetTitles      []string         `json:"target_titles,omitempty"`
	TargetDepartments []string         `json:"target_departments,omitempty"`
	SeniorityLevels   []SeniorityLevel `json:"seniority_levels,omitempty"`

	RequireRecentFunding bool `json:"require_recent_funding,omitempty"`
	RequireHiringSignals bool `json:"require_hiring_signals,omitempty"`
	RequireTechChange    bool `json:"require_tech_change,omitempty"`
}

// Weights are the integer percentages applied to the three sub-scores.
// They must sum to exactly 100.
type Weights struct {
	Intent        int `json:"intent"`
	Fit           int `json:"fit"`
	Accessibility int `json:"accessibility"`
}

// DefaultWeights are used when a lead is scored without an ICP.
var DefaultWeights = Weights{Intent: 40, Fit: 35, Accessibility: 25}

// Validate rejects weight sets that do not sum to 100 or contain
// out-of-range components.
func (w Weights) Validate() error {
	for _, v := range []int{w.Intent, w.Fit, w.Accessibility} {
		if v < 0 || v > 100 {
			return eris.Errorf("weight %d out of range [0,100]", v)
		}
	}
	if sum := w.Intent + w.Fit + w.Accessibility; sum != 100 {
		return eris.Errorf("weights must sum to 100, got %d", sum)
	}
	return nil
}

// ICPProfile is a user-defined ideal customer profile. At most one profile
// per user may be the default.
type ICPProfile struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	IsDefault   bool       `json:"is_default"`
	Filters     ICPFilters `json:"filters"`
	Weights     Weights    `json:"weights"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate checks the profile is storable.
func (p *ICPProfile) Validate() error {
	if p.UserID == "" {
		return eris.New("icp: user_id is required")
	}
	if p.Name == "" {
		return eris.New("icp: name is required")
	}
	if err := p.Weights.Validate(); err != nil {
		return eris.Wrap(err, "icp: invalid weights")
	}
	return nil
}
