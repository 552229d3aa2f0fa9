// Package provider defines the interface and implementations for enrichment
// data connectors.
package provider

import (
	"context"

	"github.com/sells-group/outreach-engine/internal/model"
)

// Op identifies a connector capability.
type Op string

const (
	OpEnrichCompany   Op = "enrich_company"
	OpFindContacts    Op = "find_contacts"
	OpVerifyEmail     Op = "verify_email"
	OpSearchCompanies Op = "search_companies"
)

// EmailVerification is the outcome of a deliverability check.
type EmailVerification struct {
	Email       string `json:"email"`
	Deliverable bool   `json:"deliverable"`
	CatchAll    bool   `json:"catch_all"`
	Disposable  bool   `json:"disposable"`
	Score       int    `json:"score"`
}

// Result is the normalized response from a connector call. Only the fields
// relevant to the invoked operation are populated.
type Result struct {
	Source string `json:"source"`

	Company      *model.CompanyData  `json:"company,omitempty"`
	Contacts     []model.ContactData `json:"contacts,omitempty"`
	Verification *EmailVerification  `json:"verification,omitempty"`
	Companies    []model.CompanyData `json:"companies,omitempty"`

	CreditsUsed int `json:"credits_used"`
}

// Connector is a single external data source. Implementations do not retry;
// transient failures surface as resilience.ProviderError and the job queue
// reschedules.
type Connector interface {
	// Name returns the connector identifier used in cache keys and config.
	Name() string
	// Supports reports whether the connector implements an operation.
	Supports(op Op) bool
	// EnrichCompany fetches firmographic data for a domain.
	EnrichCompany(ctx context.Context, domain string) (*Result, error)
	// FindContacts locates decision-makers at a domain, optionally filtered
	// by title keywords.
	FindContacts(ctx context.Context, domain string, titles []string, limit int) (*Result, error)
	// VerifyEmail checks deliverability of an address.
	VerifyEmail(ctx context.Context, email string) (*Result, error)
	// SearchCompanies finds companies matching ICP-derived criteria.
	SearchCompanies(ctx context.Context, query *SearchQuery) (*Result, error)
}

// SearchQuery carries ICP-derived discovery filters.
type SearchQuery struct {
	Industries    []string `json:"industries,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	EmployeeRange []string `json:"employee_ranges,omitempty"`
	Locations     []string `json:"locations,omitempty"`
	Technologies  []string `json:"technologies,omitempty"`
	FundingStages []string `json:"funding_stages,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	Page          int      `json:"page,omitempty"`
}
