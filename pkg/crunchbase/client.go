// Package crunchbase provides a client for the Crunchbase funding data API.
package crunchbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/resilience"
)

// Client defines the Crunchbase operations used by enrichment and discovery.
type Client interface {
	// LookupOrganization fetches funding fields for a company by domain.
	LookupOrganization(ctx context.Context, domain string) (*Organization, error)
	// RecentFundingRounds lists rounds announced in the trailing window,
	// optionally filtered to given investment types.
	RecentFundingRounds(ctx context.Context, since time.Time, investmentTypes []string) (*FundingRoundList, error)
}

// Organization is the Crunchbase entity card for a company.
type Organization struct {
	UUID            string `json:"uuid"`
	Name            string `json:"name"`
	Permalink       string `json:"permalink"`
	Domain          string `json:"website_url"`
	ShortDesc       string `json:"short_description"`
	FundingTotalUSD int64  `json:"funding_total_usd"`
	NumFundingRound int    `json:"num_funding_rounds"`
	LastFundingType string `json:"last_funding_type"`
	LastFundingAt   string `json:"last_funding_at"`
	FoundedOn       string `json:"founded_on"`
	EmployeeEnum    string `json:"num_employees_enum"`
}

// FundingRound is one announced round.
type FundingRound struct {
	UUID           string `json:"uuid"`
	InvestmentType string `json:"investment_type"`
	AnnouncedOn    string `json:"announced_on"`
	MoneyRaisedUSD int64  `json:"money_raised_usd"`
	InvestorCount  int    `json:"num_investors"`
	LeadInvestors  string `json:"lead_investor_identifiers"`

	Organization RoundOrg `json:"funded_organization_identifier"`
}

// RoundOrg identifies the company behind a round.
type RoundOrg struct {
	UUID      string `json:"uuid"`
	Name      string `json:"value"`
	Permalink string `json:"permalink"`
}

// FundingRoundList is a paginated round feed.
type FundingRoundList struct {
	Count   int            `json:"count"`
	Entries []FundingRound `json:"entities"`
}

type searchRequest struct {
	FieldIDs []string       `json:"field_ids"`
	Query    []searchClause `json:"query"`
	Limit    int            `json:"limit"`
}

type searchClause struct {
	Type       string   `json:"type"`
	FieldID    string   `json:"field_id"`
	OperatorID string   `json:"operator_id"`
	Values     []string `json:"values"`
}

// Option configures the Crunchbase client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Crunchbase client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.crunchbase.com/api/v4",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrap(err, "crunchbase: marshal request")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, eris.Wrap(err, "crunchbase: create request")
	}

	req.Header.Set("X-Cb-User-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewProviderError(resilience.KindTimeout, "crunchbase", 0,
			eris.Wrap(err, "crunchbase: request failed"))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "crunchbase: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		kind := resilience.KindFromHTTPStatus(resp.StatusCode)
		return nil, resilience.NewProviderError(kind, "crunchbase", resp.StatusCode,
			eris.Errorf("crunchbase: status %d: %s", resp.StatusCode, string(data)))
	}

	return data, nil
}

func (c *httpClient) LookupOrganization(ctx context.Context, domain string) (*Organization, error) {
	path := fmt.Sprintf("/entities/organizations/%s?card_ids=fields", url.PathEscape(domain))

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Properties Organization `json:"properties"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "crunchbase: unmarshal organization")
	}

	return &result.Properties, nil
}

func (c *httpClient) RecentFundingRounds(ctx context.Context, since time.Time, investmentTypes []string) (*FundingRoundList, error) {
	req := searchRequest{
		FieldIDs: []string{
			"investment_type", "announced_on", "money_raised_usd",
			"num_investors", "funded_organization_identifier",
		},
		Query: []searchClause{
			{
				Type:       "predicate",
				FieldID:    "announced_on",
				OperatorID: "gte",
				Values:     []string{since.Format("2006-01-02")},
			},
		},
		Limit: 50,
	}
	if len(investmentTypes) > 0 {
		req.Query = append(req.Query, searchClause{
			Type:       "predicate",
			FieldID:    "investment_type",
			OperatorID: "includes",
			Values:     investmentTypes,
		})
	}

	body, err := c.do(ctx, http.MethodPost, "/searches/funding_rounds", req)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Count    int `json:"count"`
		Entities []struct {
			UUID       string       `json:"uuid"`
			Properties FundingRound `json:"properties"`
		} `json:"entities"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, eris.Wrap(err, "crunchbase: unmarshal funding rounds")
	}

	result := &FundingRoundList{Count: raw.Count, Entries: make([]FundingRound, 0, len(raw.Entities))}
	for _, e := range raw.Entities {
		round := e.Properties
		if round.UUID == "" {
			round.UUID = e.UUID
		}
		result.Entries = append(result.Entries, round)
	}

	return result, nil
}
