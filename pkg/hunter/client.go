// Package hunter provides a client for the Hunter.io email discovery API.
package hunter

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

// Client defines the Hunter email operations.
type Client interface {
	// DomainSearch lists known email addresses for a company domain.
	DomainSearch(ctx context.Context, domain string, opts ...SearchOption) (*DomainSearchResult, error)
	// FindEmail guesses the most likely email for a person at a domain.
	FindEmail(ctx context.Context, domain, firstName, lastName string) (*EmailFinderResult, error)
	// VerifyEmail checks the deliverability of an address.
	VerifyEmail(ctx context.Context, email string) (*VerifyResult, error)
}

// DomainSearchResult is the domain-search payload.
type DomainSearchResult struct {
	Domain       string  `json:"domain"`
	Organization string  `json:"organization"`
	Pattern      string  `json:"pattern"`
	Emails       []Email `json:"emails"`
}

// Email is a single discovered address with its owner metadata.
type Email struct {
	Value      string `json:"value"`
	Type       string `json:"type"`
	Confidence int    `json:"confidence"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Position   string `json:"position"`
	Seniority  string `json:"seniority"`
	Department string `json:"department"`
	LinkedIn   string `json:"linkedin"`
	Phone      string `json:"phone_number"`
}

// EmailFinderResult is the email-finder payload.
type EmailFinderResult struct {
	Email      string `json:"email"`
	Score      int    `json:"score"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Position   string `json:"position"`
	LinkedIn   string `json:"linkedin_url"`
	Verified   bool   `json:"verification_applied"`
	VerifyDate string `json:"verification_date"`
}

// VerifyResult is the verifier payload. Status is one of "valid",
// "invalid", "accept_all", "webmail", "disposable" or "unknown".
type VerifyResult struct {
	Status     string `json:"status"`
	Result     string `json:"result"`
	Score      int    `json:"score"`
	Email      string `json:"email"`
	Regexp     bool   `json:"regexp"`
	MXRecords  bool   `json:"mx_records"`
	SMTPServer bool   `json:"smtp_server"`
	SMTPCheck  bool   `json:"smtp_check"`
	AcceptAll  bool   `json:"accept_all"`
	Disposable bool   `json:"disposable"`
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// SearchOption configures a domain search.
type SearchOption func(*searchOpts)

type searchOpts struct {
	seniority  string
	department string
	limit      int
}

// WithSeniority restricts results to a seniority band ("senior", "executive").
func WithSeniority(level string) SearchOption {
	return func(o *searchOpts) {
		o.seniority = level
	}
}

// WithDepartment restricts results to a department.
func WithDepartment(dept string) SearchOption {
	return func(o *searchOpts) {
		o.department = dept
	}
}

// WithLimit caps the number of returned addresses.
func WithLimit(n int) SearchOption {
	return func(o *searchOpts) {
		o.limit = n
	}
}

// Option configures the Hunter client.
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

// NewClient creates a new Hunter client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.hunter.io/v2",
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

func (c *httpClient) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	query.Set("api_key", c.apiKey)
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "hunter: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewProviderError(resilience.KindTimeout, "hunter", 0,
			eris.Wrap(err, "hunter: request failed"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "hunter: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		kind := resilience.KindFromHTTPStatus(resp.StatusCode)
		return nil, resilience.NewProviderError(kind, "hunter", resp.StatusCode,
			eris.Errorf("hunter: status %d: %s", resp.StatusCode, string(body)))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "hunter: unmarshal envelope")
	}

	return env.Data, nil
}

func (c *httpClient) DomainSearch(ctx context.Context, domain string, opts ...SearchOption) (*DomainSearchResult, error) {
	so := &searchOpts{}
	for _, opt := range opts {
		opt(so)
	}

	query := url.Values{"domain": {domain}}
	if so.seniority != "" {
		query.Set("seniority", so.seniority)
	}
	if so.department != "" {
		query.Set("department", so.department)
	}
	if so.limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", so.limit))
	}

	data, err := c.get(ctx, "/domain-search", query)
	if err != nil {
		return nil, err
	}

	var result DomainSearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, eris.Wrap(err, "hunter: unmarshal domain search")
	}

	return &result, nil
}

func (c *httpClient) FindEmail(ctx context.Context, domain, firstName, lastName string) (*EmailFinderResult, error) {
	query := url.Values{
		"domain":     {domain},
		"first_name": {firstName},
		"last_name":  {lastName},
	}

	data, err := c.get(ctx, "/email-finder", query)
	if err != nil {
		return nil, err
	}

	var result EmailFinderResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, eris.Wrap(err, "hunter: unmarshal email finder")
	}

	return &result, nil
}

func (c *httpClient) VerifyEmail(ctx context.Context, email string) (*VerifyResult, error) {
	data, err := c.get(ctx, "/email-verifier", url.Values{"email": {email}})
	if err != nil {
		return nil, err
	}

	var result VerifyResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, eris.Wrap(err, "hunter: unmarshal verify result")
	}

	return &result, nil
}
