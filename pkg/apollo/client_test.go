package apollo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/resilience"
)

func TestEnrichOrganization_Success(t *testing.T) {
	t.Parallel()

	want := Organization{
		ID:            "54a1216e69702d8ed7f10000",
		Name:          "Acme Robotics",
		PrimaryDomain: "acmerobotics.io",
		Industry:      "industrial automation",
		EstimatedEmps: 230,
		Technologies:  []string{"Salesforce", "AWS"},
		LatestFunding: "series_b",
		TotalFunding:  42000000,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "/organizations/enrich", r.URL.Path)
		assert.Equal(t, "acmerobotics.io", r.URL.Query().Get("domain"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(enrichResponse{Organization: &want})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.EnrichOrganization(context.Background(), "acmerobotics.io")

	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.EstimatedEmps, got.EstimatedEmps)
	assert.Equal(t, want.Technologies, got.Technologies)
	assert.Equal(t, want.TotalFunding, got.TotalFunding)
}

func TestEnrichOrganization_NoMatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"organization":null}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.EnrichOrganization(context.Background(), "nobody.example")

	require.Error(t, err)
	var perr *resilience.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, resilience.KindNotFound, perr.Kind)
	assert.False(t, resilience.IsTransient(err))
}

func TestEnrichOrganization_RateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.EnrichOrganization(context.Background(), "acmerobotics.io")

	require.Error(t, err)
	var perr *resilience.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, resilience.KindRateLimited, perr.Kind)
	assert.Equal(t, "apollo", perr.Service)
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	assert.True(t, resilience.IsTransient(err))
}

func TestEnrichOrganization_BadCredentials(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := client.EnrichOrganization(context.Background(), "acmerobotics.io")

	require.Error(t, err)
	var perr *resilience.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, resilience.KindInvalidCredentials, perr.Kind)
	assert.True(t, resilience.IsPermanent(err))
}

func TestSearchPeople_Success(t *testing.T) {
	t.Parallel()

	want := PeopleSearchResponse{
		People: []Person{
			{
				Name:        "Jordan Reyes",
				Title:       "VP of Engineering",
				Email:       "jordan@acmerobotics.io",
				EmailStatus: "verified",
				Seniority:   "vp",
			},
		},
		Pagination: Pagination{Page: 1, TotalCount: 1},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/mixed_people/search", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req PeopleSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "acmerobotics.io", req.Domain)
		assert.Equal(t, []string{"vp", "director"}, req.Seniorities)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.SearchPeople(context.Background(), &PeopleSearchRequest{
		Domain:      "acmerobotics.io",
		Seniorities: []string{"vp", "director"},
		PerPage:     10,
	})

	require.NoError(t, err)
	require.Len(t, got.People, 1)
	assert.Equal(t, "Jordan Reyes", got.People[0].Name)
	assert.Equal(t, "verified", got.People[0].EmailStatus)
	assert.Equal(t, 1, got.Pagination.TotalCount)
}

func TestSearchOrganizations_Success(t *testing.T) {
	t.Parallel()

	want := OrgSearchResponse{
		Organizations: []Organization{
			{Name: "Acme Robotics", PrimaryDomain: "acmerobotics.io"},
			{Name: "Beta Dynamics", PrimaryDomain: "betadynamics.com"},
		},
		Pagination: Pagination{Page: 1, TotalPages: 1, TotalCount: 2},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mixed_companies/search", r.URL.Path)

		var req OrgSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"software"}, req.Industries)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.SearchOrganizations(context.Background(), &OrgSearchRequest{
		Industries: []string{"software"},
		PerPage:    25,
	})

	require.NoError(t, err)
	require.Len(t, got.Organizations, 2)
	assert.Equal(t, "betadynamics.com", got.Organizations[1].PrimaryDomain)
}

func TestSearchOrganizations_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.SearchOrganizations(context.Background(), &OrgSearchRequest{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestEnrichOrganization_ContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.EnrichOrganization(ctx, "acmerobotics.io")

	require.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	c := NewClient("my-key")
	hc := c.(*httpClient)
	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, "https://api.apollo.io/api/v1", hc.baseURL)
	assert.NotNil(t, hc.http)
	assert.Equal(t, 30*time.Second, hc.http.Timeout)
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()
	customClient := &http.Client{}
	c := NewClient("test-key", WithHTTPClient(customClient))
	hc := c.(*httpClient)
	assert.Equal(t, customClient, hc.http)
}
