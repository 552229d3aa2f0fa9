package provider

import (
	"context"
	"strings"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/pkg/clearbit"
)

// ClearbitConnector adapts the Clearbit API to the Connector interface.
// Clearbit carries the richest firmographics and wins most field-priority
// merges.
type ClearbitConnector struct {
	client clearbit.Client
}

// NewClearbit creates a Clearbit-backed connector.
func NewClearbit(client clearbit.Client) *ClearbitConnector {
	return &ClearbitConnector{client: client}
}

func (c *ClearbitConnector) Name() string { return "clearbit" }

func (c *ClearbitConnector) Supports(op Op) bool {
	return op == OpEnrichCompany
}

func (c *ClearbitConnector) EnrichCompany(ctx context.Context, domain string) (*Result, error) {
	company, err := c.client.FindCompany(ctx, domain)
	if err != nil {
		return nil, err
	}

	data := &model.CompanyData{
		Domain:        strings.ToLower(company.Domain),
		Name:          company.Name,
		LegalName:     company.LegalName,
		Description:   company.Description,
		LogoURL:       company.Logo,
		Industry:      strings.ToLower(company.Category.Industry),
		IndustryGroup: company.Category.IndustryGroup,
		SubIndustry:   company.Category.SubIndustry,
		Tags:          company.Tags,
		EmployeeCount: company.Metrics.Employees,
		EmployeeRange: company.Metrics.EmployeesRange,
		AnnualRevenue: company.Metrics.AnnualRevenue,
		RevenueRange:  company.Metrics.EstimatedRev,
		TotalFunding:  company.Metrics.Raised,
		City:          company.Geo.City,
		State:         company.Geo.State,
		Country:       company.Geo.Country,
		CountryCode:   company.Geo.CountryCode,
		TechStack:     company.Tech,
		FoundedYear:   company.FoundedYear,
	}
	if company.LinkedIn.Handle != "" {
		data.LinkedInURL = "https://linkedin.com/" + company.LinkedIn.Handle
	}
	if company.Twitter.Handle != "" {
		data.TwitterURL = "https://twitter.com/" + company.Twitter.Handle
	}

	return &Result{
		Source:      c.Name(),
		Company:     data,
		CreditsUsed: 1,
	}, nil
}

func (c *ClearbitConnector) FindContacts(ctx context.Context, domain string, titles []string, limit int) (*Result, error) {
	return nil, errUnsupported(c.Name(), OpFindContacts)
}

func (c *ClearbitConnector) VerifyEmail(ctx context.Context, email string) (*Result, error) {
	return nil, errUnsupported(c.Name(), OpVerifyEmail)
}

func (c *ClearbitConnector) SearchCompanies(ctx context.Context, query *SearchQuery) (*Result, error) {
	return nil, errUnsupported(c.Name(), OpSearchCompanies)
}
