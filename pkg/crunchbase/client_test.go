package crunchbase

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

func TestLookupOrganization_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("X-Cb-User-Key"))
		assert.Equal(t, "/entities/organizations/acmerobotics.io", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"properties": {
				"uuid": "df662812-7f97-0b43-9d3e-12f64f504fbb",
				"name": "Acme Robotics",
				"funding_total_usd": 42000000,
				"num_funding_rounds": 3,
				"last_funding_type": "series_b",
				"last_funding_at": "2026-06-12"
			}
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.LookupOrganization(context.Background(), "acmerobotics.io")

	require.NoError(t, err)
	assert.Equal(t, "Acme Robotics", got.Name)
	assert.Equal(t, int64(42000000), got.FundingTotalUSD)
	assert.Equal(t, "series_b", got.LastFundingType)
	assert.Equal(t, 3, got.NumFundingRound)
}

func TestRecentFundingRounds_Success(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/searches/funding_rounds", r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Query, 2)
		assert.Equal(t, "announced_on", req.Query[0].FieldID)
		assert.Equal(t, []string{"2026-05-01"}, req.Query[0].Values)
		assert.Equal(t, "investment_type", req.Query[1].FieldID)
		assert.Equal(t, []string{"series_a", "series_b"}, req.Query[1].Values)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"count": 1,
			"entities": [
				{
					"uuid": "9b2c1f30-aaaa-bbbb-cccc-000000000001",
					"properties": {
						"investment_type": "series_a",
						"announced_on": "2026-05-20",
						"money_raised_usd": 12000000,
						"num_investors": 4,
						"funded_organization_identifier": {
							"uuid": "org-1",
							"value": "Beta Dynamics",
							"permalink": "beta-dynamics"
						}
					}
				}
			]
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.RecentFundingRounds(context.Background(), since, []string{"series_a", "series_b"})

	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
	require.Len(t, got.Entries, 1)
	round := got.Entries[0]
	assert.Equal(t, "9b2c1f30-aaaa-bbbb-cccc-000000000001", round.UUID)
	assert.Equal(t, "series_a", round.InvestmentType)
	assert.Equal(t, int64(12000000), round.MoneyRaisedUSD)
	assert.Equal(t, "Beta Dynamics", round.Organization.Name)
}

func TestLookupOrganization_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.LookupOrganization(context.Background(), "nobody.example")

	require.Error(t, err)
	var perr *resilience.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, resilience.KindNotFound, perr.Kind)
	assert.Equal(t, "crunchbase", perr.Service)
}

func TestRecentFundingRounds_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`bad gateway`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.RecentFundingRounds(context.Background(), time.Now(), nil)

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestLookupOrganization_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.LookupOrganization(context.Background(), "acmerobotics.io")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	c := NewClient("my-key")
	hc := c.(*httpClient)
	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, "https://api.crunchbase.com/api/v4", hc.baseURL)
	assert.NotNil(t, hc.http)
}
