// Package clearbit provides a client for the Clearbit company enrichment API.
package clearbit

import (
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

// Client defines the Clearbit company lookup operation.
type Client interface {
	// FindCompany retrieves the full firmographic record for a domain.
	FindCompany(ctx context.Context, domain string) (*Company, error)
}

// Company is the Clearbit company record. Field coverage follows the
// Enrichment API company payload.
type Company struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	LegalName     string   `json:"legalName"`
	Domain        string   `json:"domain"`
	Description   string   `json:"description"`
	FoundedYear   int      `json:"foundedYear"`
	Logo          string   `json:"logo"`
	EmailProvider bool     `json:"emailProvider"`
	Tags          []string `json:"tags"`
	Tech          []string `json:"tech"`

	Category Category `json:"category"`
	Metrics  Metrics  `json:"metrics"`
	Geo      Geo      `json:"geo"`

	LinkedIn SocialHandle `json:"linkedin"`
	Twitter  SocialHandle `json:"twitter"`
	Facebook SocialHandle `json:"facebook"`
}

// Category classifies the company's industry.
type Category struct {
	Sector        string `json:"sector"`
	IndustryGroup string `json:"industryGroup"`
	Industry      string `json:"industry"`
	SubIndustry   string `json:"subIndustry"`
}

// Metrics holds company size and financial estimates.
type Metrics struct {
	Employees      int    `json:"employees"`
	EmployeesRange string `json:"employeesRange"`
	Raised         int64  `json:"raised"`
	AnnualRevenue  int64  `json:"annualRevenue"`
	EstimatedRev   string `json:"estimatedAnnualRevenue"`
	MarketCap      int64  `json:"marketCap"`
}

// Geo is the company's headquarters location.
type Geo struct {
	City        string `json:"city"`
	State       string `json:"state"`
	StateCode   string `json:"stateCode"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
}

// SocialHandle is a social profile slug.
type SocialHandle struct {
	Handle string `json:"handle"`
}

// Option configures the Clearbit client.
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

// NewClient creates a new Clearbit client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://company.clearbit.com/v2",
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

func (c *httpClient) FindCompany(ctx context.Context, domain string) (*Company, error) {
	reqURL := fmt.Sprintf("%s/companies/find?domain=%s", c.baseURL, url.QueryEscape(domain))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: create request")
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewProviderError(resilience.KindTimeout, "clearbit", 0,
			eris.Wrap(err, "clearbit: request failed"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: read response body")
	}

	// Clearbit answers 202 while the record is still being assembled
	// asynchronously. Report it as transient so the job is retried later.
	if resp.StatusCode == http.StatusAccepted {
		return nil, resilience.NewProviderError(resilience.KindServerError, "clearbit", resp.StatusCode,
			eris.Errorf("clearbit: lookup for %s still pending", domain))
	}

	if resp.StatusCode != http.StatusOK {
		kind := resilience.KindFromHTTPStatus(resp.StatusCode)
		return nil, resilience.NewProviderError(kind, "clearbit", resp.StatusCode,
			eris.Errorf("clearbit: status %d: %s", resp.StatusCode, string(body)))
	}

	var result Company
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "clearbit: unmarshal response")
	}

	return &result, nil
}
