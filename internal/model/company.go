package model

import "time"

// CompanyData is the normalized firmographic record assembled from one or
// more enrichment sources. Connectors populate whatever subset they know;
// the aggregator merges records field-by-field.
type CompanyData struct {
	Domain      string `json:"domain"`
	Name        string `json:"name,omitempty"`
	LegalName   string `json:"legal_name,omitempty"`
	Description string `json:"description,omitempty"`
	LogoURL     string `json:"logo_url,omitempty"`
	Website     string `json:"website,omitempty"`

	Industry      string   `json:"industry,omitempty"`
	IndustryGroup string   `json:"industry_group,omitempty"`
	SubIndustry   string   `json:"sub_industry,omitempty"`
	Tags          []string `json:"tags,omitempty"`

	EmployeeCount int    `json:"employee_count,omitempty"`
	EmployeeRange string `json:"employee_range,omitempty"`
	AnnualRevenue int64  `json:"annual_revenue,omitempty"`
	RevenueRange  string `json:"revenue_range,omitempty"`

	FundingStage    FundingStage `json:"funding_stage,omitempty"`
	TotalFunding    int64        `json:"total_funding,omitempty"`
	LastFundingDate *time.Time   `json:"last_funding_date,omitempty"`
	FundingRounds   int          `json:"funding_rounds,omitempty"`

	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	State       string `json:"state,omitempty"`
	City        string `json:"city,omitempty"`

	LinkedInURL   string `json:"linkedin_url,omitempty"`
	TwitterURL    string `json:"twitter_url,omitempty"`
	CrunchbaseURL string `json:"crunchbase_url,omitempty"`

	TechStack   []string `json:"tech_stack,omitempty"`
	FoundedYear int      `json:"founded_year,omitempty"`

	EmailPattern string `json:"email_pattern,omitempty"`
	TotalEmails  int    `json:"total_emails,omitempty"`

	IsHiring      bool `json:"is_hiring,omitempty"`
	OpenPositions int  `json:"open_positions,omitempty"`

	RecentNews []NewsItem `json:"recent_news,omitempty"`
}

// NewsItem is a press mention attached to a company record.
type NewsItem struct {
	Headline    string     `json:"headline"`
	URL         string     `json:"url,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// ContactData is a normalized decision-maker record.
type ContactData struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	Title     string `json:"title,omitempty"`

	Email           string  `json:"email,omitempty"`
	EmailVerified   bool    `json:"email_verified,omitempty"`
	EmailConfidence float64 `json:"email_confidence,omitempty"`

	Phone       string         `json:"phone,omitempty"`
	LinkedInURL string         `json:"linkedin_url,omitempty"`
	Department  string         `json:"department,omitempty"`
	Seniority   SeniorityLevel `json:"seniority,omitempty"`
}

// Lead is a tracked prospect owned by a user.
type Lead struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	CompanyName   string `json:"company_name"`
	CompanyDomain string `json:"company_domain,omitempty"`

	ContactName     string `json:"contact_name,omitempty"`
	ContactTitle    string `json:"contact_title,omitempty"`
	ContactEmail    string `json:"contact_email,omitempty"`
	ContactLinkedIn string `json:"contact_linkedin,omitempty"`

	Company  *CompanyData  `json:"company_data,omitempty"`
	Contacts []ContactData `json:"contacts,omitempty"`

	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
