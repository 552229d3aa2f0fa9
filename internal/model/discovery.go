package model

import "time"

// DiscoveryStatus tracks a staged candidate through human review.
// new -> {reviewed, accepted, rejected}; duplicate is assigned at insert
// time when the company already exists for the user. reviewed means
// "seen, not yet decided"; rejected means "decided no". Accepted rows are
// never deleted, they keep a back-reference to the promoted lead.
type DiscoveryStatus string

const (
	DiscoveryNew       DiscoveryStatus = "new"
	DiscoveryReviewed  DiscoveryStatus = "reviewed"
	DiscoveryAccepted  DiscoveryStatus = "accepted"
	DiscoveryRejected  DiscoveryStatus = "rejected"
	DiscoveryDuplicate DiscoveryStatus = "duplicate"
)

// Actionable reports whether the candidate can still be accepted.
func (s DiscoveryStatus) Actionable() bool {
	return s == DiscoveryNew || s == DiscoveryReviewed
}

// ReviewAction is the operator's decision on a staged candidate.
type ReviewAction string

const (
	ReviewAccept ReviewAction = "accept"
	ReviewReject ReviewAction = "reject"
	ReviewSkip   ReviewAction = "skip"
)

// DiscoveredLead is a provider-sourced candidate staged for review before
// promotion into the primary lead set.
type DiscoveredLead struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	ICPID  string `json:"icp_id,omitempty"`

	CompanyName     string `json:"company_name"`
	CompanyDomain   string `json:"company_domain,omitempty"`
	CompanyLinkedIn string `json:"company_linkedin,omitempty"`

	ContactName     string `json:"contact_name,omitempty"`
	ContactTitle    string `json:"contact_title,omitempty"`
	ContactEmail    string `json:"contact_email,omitempty"`
	ContactLinkedIn string `json:"contact_linkedin,omitempty"`

	Company *CompanyData `json:"company_data,omitempty"`
	Contact *ContactData `json:"contact_data,omitempty"`

	PreliminaryScore int            `json:"preliminary_score"`
	Breakdown        ScoreBreakdown `json:"score_breakdown"`
	Signals          []SignalEvent  `json:"discovery_signals,omitempty"`

	Status          DiscoveryStatus `json:"status"`
	RejectionReason string          `json:"rejection_reason,omitempty"`

	Source   string `json:"source,omitempty"`
	SourceID string `json:"source_id,omitempty"`

	DiscoveredAt time.Time  `json:"discovered_at"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`

	ConvertedLeadID string `json:"converted_lead_id,omitempty"`
}
