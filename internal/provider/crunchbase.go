package provider

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/pkg/crunchbase"
)

// recentFundingWindow bounds the discovery feed lookback.
const recentFundingWindow = 90 * 24 * time.Hour

// CrunchbaseConnector adapts the Crunchbase API to the Connector interface.
// It contributes funding fields on enrichment and a recent-funding feed for
// discovery.
type CrunchbaseConnector struct {
	client crunchbase.Client
}

// NewCrunchbase creates a Crunchbase-backed connector.
func NewCrunchbase(client crunchbase.Client) *CrunchbaseConnector {
	return &CrunchbaseConnector{client: client}
}

func (c *CrunchbaseConnector) Name() string { return "crunchbase" }

func (c *CrunchbaseConnector) Supports(op Op) bool {
	switch op {
	case OpEnrichCompany, OpSearchCompanies:
		return true
	default:
		return false
	}
}

func (c *CrunchbaseConnector) EnrichCompany(ctx context.Context, domain string) (*Result, error) {
	org, err := c.client.LookupOrganization(ctx, domain)
	if err != nil {
		return nil, err
	}

	data := &model.CompanyData{
		Domain:        strings.ToLower(domain),
		Name:          org.Name,
		Description:   org.ShortDesc,
		FundingStage:  fundingStageFromString(org.LastFundingType),
		TotalFunding:  org.FundingTotalUSD,
		FundingRounds: org.NumFundingRound,
	}
	if org.LastFundingAt != "" {
		if ts, err := time.Parse("2006-01-02", org.LastFundingAt); err == nil {
			data.LastFundingDate = &ts
		}
	}
	if org.FoundedOn != "" {
		if ts, err := time.Parse("2006-01-02", org.FoundedOn); err == nil {
			data.FoundedYear = ts.Year()
		}
	}
	if org.Permalink != "" {
		data.CrunchbaseURL = "https://www.crunchbase.com/organization/" + org.Permalink
	}

	return &Result{
		Source:      c.Name(),
		Company:     data,
		CreditsUsed: 1,
	}, nil
}

func (c *CrunchbaseConnector) FindContacts(ctx context.Context, domain string, titles []string, limit int) (*Result, error) {
	return nil, errUnsupported(c.Name(), OpFindContacts)
}

func (c *CrunchbaseConnector) VerifyEmail(ctx context.Context, email string) (*Result, error) {
	return nil, errUnsupported(c.Name(), OpVerifyEmail)
}

// SearchCompanies returns companies that announced rounds in the trailing
// window, filtered to the query's funding stages when given.
func (c *CrunchbaseConnector) SearchCompanies(ctx context.Context, query *SearchQuery) (*Result, error) {
	since := time.Now().Add(-recentFundingWindow)
	rounds, err := c.client.RecentFundingRounds(ctx, since, query.FundingStages)
	if err != nil {
		return nil, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 25
	}

	companies := make([]model.CompanyData, 0, len(rounds.Entries))
	seen := make(map[string]bool)
	for _, round := range rounds.Entries {
		if len(companies) >= limit {
			break
		}
		name := round.Organization.Name
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		company := model.CompanyData{
			Name:         name,
			FundingStage: fundingStageFromString(round.InvestmentType),
			TotalFunding: round.MoneyRaisedUSD,
		}
		if round.AnnouncedOn != "" {
			if ts, err := time.Parse("2006-01-02", round.AnnouncedOn); err == nil {
				company.LastFundingDate = &ts
			}
		}
		if round.Organization.Permalink != "" {
			company.CrunchbaseURL = "https://www.crunchbase.com/organization/" + round.Organization.Permalink
		}
		companies = append(companies, company)
	}

	return &Result{
		Source:      c.Name(),
		Companies:   companies,
		CreditsUsed: 1,
	}, nil
}
