// Package apollo provides a client for the Apollo.io enrichment and search API.
package apollo

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

// Client defines the Apollo operations used by enrichment and discovery.
type Client interface {
	// EnrichOrganization looks up firmographic data for a company domain.
	EnrichOrganization(ctx context.Context, domain string) (*Organization, error)
	// SearchPeople finds decision-makers at a company.
	SearchPeople(ctx context.Context, req *PeopleSearchRequest) (*PeopleSearchResponse, error)
	// SearchOrganizations finds companies matching firmographic filters.
	SearchOrganizations(ctx context.Context, req *OrgSearchRequest) (*OrgSearchResponse, error)
}

// Organization is the Apollo company record.
type Organization struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	WebsiteURL     string   `json:"website_url"`
	PrimaryDomain  string   `json:"primary_domain"`
	Industry       string   `json:"industry"`
	Keywords       []string `json:"keywords"`
	EstimatedEmps  int      `json:"estimated_num_employees"`
	AnnualRevenue  int64    `json:"annual_revenue"`
	FoundedYear    int      `json:"founded_year"`
	LinkedInURL    string   `json:"linkedin_url"`
	TwitterURL     string   `json:"twitter_url"`
	City           string   `json:"city"`
	State          string   `json:"state"`
	Country        string   `json:"country"`
	ShortDesc      string   `json:"short_description"`
	Technologies   []string `json:"technology_names"`
	LatestFunding  string   `json:"latest_funding_stage"`
	TotalFunding   int64    `json:"total_funding"`
	LatestFundedAt string   `json:"latest_funding_round_date"`
}

type enrichResponse struct {
	Organization *Organization `json:"organization"`
}

// Person is a single Apollo people-search hit.
type Person struct {
	ID           string        `json:"id"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Name         string        `json:"name"`
	Title        string        `json:"title"`
	Email        string        `json:"email"`
	EmailStatus  string        `json:"email_status"`
	LinkedInURL  string        `json:"linkedin_url"`
	Seniority    string        `json:"seniority"`
	Departments  []string      `json:"departments"`
	Organization *Organization `json:"organization"`
}

// PeopleSearchRequest filters a people search to one company.
type PeopleSearchRequest struct {
	Domain      string   `json:"q_organization_domains,omitempty"`
	Titles      []string `json:"person_titles,omitempty"`
	Seniorities []string `json:"person_seniorities,omitempty"`
	PerPage     int      `json:"per_page,omitempty"`
	Page        int      `json:"page,omitempty"`
}

// PeopleSearchResponse is the paginated people result.
type PeopleSearchResponse struct {
	People     []Person   `json:"people"`
	Pagination Pagination `json:"pagination"`
}

// OrgSearchRequest carries firmographic discovery filters.
type OrgSearchRequest struct {
	Industries    []string `json:"organization_industry_tag_ids,omitempty"`
	Keywords      []string `json:"q_organization_keyword_tags,omitempty"`
	EmployeeRange []string `json:"organization_num_employees_ranges,omitempty"`
	Locations     []string `json:"organization_locations,omitempty"`
	Technologies  []string `json:"currently_using_any_of_technology_uids,omitempty"`
	PerPage       int      `json:"per_page,omitempty"`
	Page          int      `json:"page,omitempty"`
}

// OrgSearchResponse is the paginated company result.
type OrgSearchResponse struct {
	Organizations []Organization `json:"organizations"`
	Pagination    Pagination     `json:"pagination"`
}

// Pagination tracks Apollo result paging.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	TotalCount int `json:"total_entries"`
}

// Option configures the Apollo client.
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

// NewClient creates a new Apollo client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.apollo.io/api/v1",
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

// do executes a request and classifies non-2xx responses. Retries are left
// to the job queue, which reschedules on transient provider errors.
func (c *httpClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrap(err, "apollo: marshal request")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: create request")
	}

	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewProviderError(resilience.KindTimeout, "apollo", 0,
			eris.Wrap(err, "apollo: request failed"))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := resilience.KindFromHTTPStatus(resp.StatusCode)
		return nil, resilience.NewProviderError(kind, "apollo", resp.StatusCode,
			eris.Errorf("apollo: status %d: %s", resp.StatusCode, string(data)))
	}

	return data, nil
}

func (c *httpClient) EnrichOrganization(ctx context.Context, domain string) (*Organization, error) {
	path := fmt.Sprintf("/organizations/enrich?domain=%s", url.QueryEscape(domain))

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result enrichResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "apollo: unmarshal enrich response")
	}
	if result.Organization == nil {
		return nil, resilience.NewProviderError(resilience.KindNotFound, "apollo", http.StatusOK,
			eris.Errorf("apollo: no organization for domain %s", domain))
	}

	return result.Organization, nil
}

func (c *httpClient) SearchPeople(ctx context.Context, req *PeopleSearchRequest) (*PeopleSearchResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/mixed_people/search", req)
	if err != nil {
		return nil, err
	}

	var result PeopleSearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "apollo: unmarshal people response")
	}

	return &result, nil
}

func (c *httpClient) SearchOrganizations(ctx context.Context, req *OrgSearchRequest) (*OrgSearchResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/mixed_companies/search", req)
	if err != nil {
		return nil, err
	}

	var result OrgSearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "apollo: unmarshal org search response")
	}

	return &result, nil
}
