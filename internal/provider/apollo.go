package provider

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/pkg/apollo"
)

// ApolloConnector adapts the Apollo API to the Connector interface. It is
// the primary source for contact discovery and the first choice for
// company search.
type ApolloConnector struct {
	client apollo.Client
}

// NewApollo creates an Apollo-backed connector.
func NewApollo(client apollo.Client) *ApolloConnector {
	return &ApolloConnector{client: client}
}

func (a *ApolloConnector) Name() string { return "apollo" }

func (a *ApolloConnector) Supports(op Op) bool {
	switch op {
	case OpEnrichCompany, OpFindContacts, OpSearchCompanies:
		return true
	default:
		return false
	}
}

func (a *ApolloConnector) EnrichCompany(ctx context.Context, domain string) (*Result, error) {
	org, err := a.client.EnrichOrganization(ctx, domain)
	if err != nil {
		return nil, err
	}
	return &Result{
		Source:      a.Name(),
		Company:     companyFromApolloOrg(org),
		CreditsUsed: 1,
	}, nil
}

func (a *ApolloConnector) FindContacts(ctx context.Context, domain string, titles []string, limit int) (*Result, error) {
	if limit <= 0 {
		limit = 10
	}
	resp, err := a.client.SearchPeople(ctx, &apollo.PeopleSearchRequest{
		Domain:  domain,
		Titles:  titles,
		PerPage: limit,
		Page:    1,
	})
	if err != nil {
		return nil, err
	}

	contacts := make([]model.ContactData, 0, len(resp.People))
	for _, p := range resp.People {
		contacts = append(contacts, model.ContactData{
			FirstName:     p.FirstName,
			LastName:      p.LastName,
			FullName:      p.Name,
			Title:         p.Title,
			Email:         p.Email,
			EmailVerified: p.EmailStatus == "verified",
			LinkedInURL:   p.LinkedInURL,
			Seniority:     seniorityFromString(p.Seniority),
		})
	}

	return &Result{
		Source:      a.Name(),
		Contacts:    contacts,
		CreditsUsed: 1,
	}, nil
}

func (a *ApolloConnector) VerifyEmail(ctx context.Context, email string) (*Result, error) {
	return nil, errUnsupported(a.Name(), OpVerifyEmail)
}

func (a *ApolloConnector) SearchCompanies(ctx context.Context, query *SearchQuery) (*Result, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 25
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	resp, err := a.client.SearchOrganizations(ctx, &apollo.OrgSearchRequest{
		Industries:    query.Industries,
		Keywords:      query.Keywords,
		EmployeeRange: query.EmployeeRange,
		Locations:     query.Locations,
		Technologies:  query.Technologies,
		PerPage:       limit,
		Page:          page,
	})
	if err != nil {
		return nil, err
	}

	companies := make([]model.CompanyData, 0, len(resp.Organizations))
	for i := range resp.Organizations {
		companies = append(companies, *companyFromApolloOrg(&resp.Organizations[i]))
	}

	return &Result{
		Source:      a.Name(),
		Companies:   companies,
		CreditsUsed: 1,
	}, nil
}

func companyFromApolloOrg(org *apollo.Organization) *model.CompanyData {
	c := &model.CompanyData{
		Domain:        strings.ToLower(org.PrimaryDomain),
		Name:          org.Name,
		Description:   org.ShortDesc,
		Website:       org.WebsiteURL,
		Industry:      strings.ToLower(org.Industry),
		Tags:          org.Keywords,
		EmployeeCount: org.EstimatedEmps,
		AnnualRevenue: org.AnnualRevenue,
		FundingStage:  fundingStageFromString(org.LatestFunding),
		TotalFunding:  org.TotalFunding,
		City:          org.City,
		State:         org.State,
		Country:       org.Country,
		LinkedInURL:   org.LinkedInURL,
		TwitterURL:    org.TwitterURL,
		TechStack:     org.Technologies,
		FoundedYear:   org.FoundedYear,
	}
	if org.LatestFundedAt != "" {
		if ts, err := time.Parse("2006-01-02", org.LatestFundedAt); err == nil {
			c.LastFundingDate = &ts
		}
	}
	return c
}
