package model

import "time"

// Tier is the outreach-priority bucket derived from the total score.
type Tier string

const (
	TierHot     Tier = "hot"     // 80-100: immediate outreach
	TierWarm    Tier = "warm"    // 60-79: priority queue
	TierNurture Tier = "nurture" // 40-59: drip campaign
	TierCold    Tier = "cold"    // 0-39: monitor for changes
)

// TierFor maps a total score to its tier. Bounds are inclusive at the
// lower edge.
func TierFor(score int) Tier {
	switch {
	case score >= 80:
		return TierHot
	case score >= 60:
		return TierWarm
	case score >= 40:
		return TierNurture
	default:
		return TierCold
	}
}

// ScoreComponent is one point contribution with its human-readable reason.
// The reason is mandatory: the breakdown is the only explanation surface for
// why a lead is prioritized.
type ScoreComponent struct {
	Points int    `json:"points"`
	Reason string `json:"reason"`
	Source string `json:"source,omitempty"`
}

// ScoreBreakdown groups contributions by sub-score.
type ScoreBreakdown struct {
	Intent        map[string]ScoreComponent `json:"intent,omitempty"`
	Fit           map[string]ScoreComponent `json:"fit,omitempty"`
	Accessibility map[string]ScoreComponent `json:"accessibility,omitempty"`
}

// LeadScore is an immutable scored snapshot of one lead. Re-scoring appends
// a new row; the current score is the most recent row per lead.
type LeadScore struct {
	ID     string `json:"id"`
	LeadID string `json:"lead_id"`
	ICPID  string `json:"icp_id,omitempty"`

	IntentScore        int `json:"intent_score"`
	FitScore           int `json:"fit_score"`
	AccessibilityScore int `json:"accessibility_score"`
	TotalScore         int `json:"total_score"`

	Tier      Tier           `json:"tier"`
	Breakdown ScoreBreakdown `json:"score_breakdown"`

	ActiveSignals []SignalType `json:"active_signals,omitempty"`

	PreviousScore *int `json:"previous_score,omitempty"`
	ScoreChange   *int `json:"score_change,omitempty"`

	CalculatedAt time.Time `json:"calculated_at"`
}

// TierStats is one bucket of the per-user score distribution.
type TierStats struct {
	Count    int     `json:"count"`
	AvgScore float64 `json:"avg_score"`
}
