package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// SignalType enumerates the kinds of buying/fit evidence the system tracks.
type SignalType string

const (
	SignalFundingRound    SignalType = "funding_round"
	SignalExecutiveHire   SignalType = "executive_hire"
	SignalJobPosting      SignalType = "job_posting"
	SignalTechAdoption    SignalType = "tech_adoption"
	SignalNewsMention     SignalType = "news_mention"
	SignalGrowthIndicator SignalType = "growth_indicator"
	SignalContractEnding  SignalType = "contract_ending"
	SignalWebsiteChange   SignalType = "website_change"
)

// SignalCategory groups signals by the sub-score they feed.
type SignalCategory string

const (
	CategoryIntent     SignalCategory = "intent"
	CategoryFit        SignalCategory = "fit"
	CategoryEngagement SignalCategory = "engagement"
)

// SignalPayload is the closed set of per-type signal details. Exactly one
// concrete variant exists per SignalType, so consumers can switch
// exhaustively instead of probing untyped maps.
type SignalPayload interface {
	SignalType() SignalType
}

// FundingRoundPayload describes a detected raise.
type FundingRoundPayload struct {
	Stage     FundingStage `json:"stage,omitempty"`
	AmountUSD int64        `json:"amount_usd,omitempty"`
	Investors []string     `json:"investors,omitempty"`
}

func (FundingRoundPayload) SignalType() SignalType { return SignalFundingRound }

// ExecutiveHirePayload describes a leadership change.
type ExecutiveHirePayload struct {
	Title string `json:"title"`
	Name  string `json:"name,omitempty"`
}

func (ExecutiveHirePayload) SignalType() SignalType { return SignalExecutiveHire }

// JobPostingPayload describes hiring activity.
type JobPostingPayload struct {
	OpenPositions int      `json:"open_positions"`
	Departments   []string `json:"departments,omitempty"`
}

func (JobPostingPayload) SignalType() SignalType { return SignalJobPosting }

// TechAdoptionPayload describes a newly observed technology.
type TechAdoptionPayload struct {
	Technology string `json:"technology"`
	Category   string `json:"category,omitempty"`
}

func (TechAdoptionPayload) SignalType() SignalType { return SignalTechAdoption }

// NewsMentionPayload describes press coverage.
type NewsMentionPayload struct {
	Headline string `json:"headline"`
	URL      string `json:"url,omitempty"`
}

func (NewsMentionPayload) SignalType() SignalType { return SignalNewsMention }

// GrowthIndicatorPayload describes a measurable growth delta.
type GrowthIndicatorPayload struct {
	Metric    string  `json:"metric"`
	ChangePct float64 `json:"change_pct"`
}

func (GrowthIndicatorPayload) SignalType() SignalType { return SignalGrowthIndicator }

// ContractEndingPayload describes an expiring vendor contract.
type ContractEndingPayload struct {
	Vendor string     `json:"vendor,omitempty"`
	EndsAt *time.Time `json:"ends_at,omitempty"`
}

func (ContractEndingPayload) SignalType() SignalType { return SignalContractEnding }

// WebsiteChangePayload describes a notable site change.
type WebsiteChangePayload struct {
	Section string `json:"section,omitempty"`
	Summary string `json:"summary,omitempty"`
}

func (WebsiteChangePayload) SignalType() SignalType { return SignalWebsiteChange }

// SignalEvent is one append-only piece of evidence tied to a lead or a
// company domain. Events are never mutated after insert; re-scoring marks
// them processed.
type SignalEvent struct {
	ID            string         `json:"id"`
	LeadID        string         `json:"lead_id,omitempty"`
	CompanyDomain string         `json:"company_domain,omitempty"`
	Type          SignalType     `json:"signal_type"`
	Category      SignalCategory `json:"signal_category"`
	Payload       SignalPayload  `json:"payload"`

	ScoreImpact int     `json:"score_impact"`
	Confidence  float64 `json:"confidence"`

	Source    string `json:"source,omitempty"`
	SourceURL string `json:"source_url,omitempty"`

	// SignalDate is when the real-world event happened; DetectedAt is when
	// the system found it.
	SignalDate *time.Time `json:"signal_date,omitempty"`
	DetectedAt time.Time  `json:"detected_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`

	Processed   bool       `json:"is_processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Expired reports whether the signal should be excluded from scoring at t.
func (s *SignalEvent) Expired(t time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(t)
}

// payloadEnvelope is the wire form of a SignalPayload.
type payloadEnvelope struct {
	Type SignalType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodePayload serializes a payload with its type tag.
func EncodePayload(p SignalPayload) ([]byte, error) {
	if p == nil {
		return nil, eris.New("signal: nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "signal: marshal payload")
	}
	return json.Marshal(payloadEnvelope{Type: p.SignalType(), Data: data})
}

// DecodePayload deserializes an envelope back into its concrete variant.
func DecodePayload(raw []byte) (SignalPayload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, eris.Wrap(err, "signal: unmarshal envelope")
	}

	var p SignalPayload
	switch env.Type {
	case SignalFundingRound:
		p = &FundingRoundPayload{}
	case SignalExecutiveHire:
		p = &ExecutiveHirePayload{}
	case SignalJobPosting:
		p = &JobPostingPayload{}
	case SignalTechAdoption:
		p = &TechAdoptionPayload{}
	case SignalNewsMention:
		p = &NewsMentionPayload{}
	case SignalGrowthIndicator:
		p = &GrowthIndicatorPayload{}
	case SignalContractEnding:
		p = &ContractEndingPayload{}
	case SignalWebsiteChange:
		p = &WebsiteChangePayload{}
	default:
		return nil, eris.Errorf("signal: unknown type %q", env.Type)
	}
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, eris.Wrapf(err, "signal: unmarshal %s payload", env.Type)
	}
	return p, nil
}
