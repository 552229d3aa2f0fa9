package discovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/provider"
	"github.com/sells-group/outreach-engine/internal/store"
)

type searchStub struct {
	name      string
	companies []model.CompanyData
	err       error
	queries   []*provider.SearchQuery
}

func (s *searchStub) Name() string { return s.name }
func (s *searchStub) Supports(op provider.Op) bool {
	return op == provider.OpSearchCompanies
}

func (s *searchStub) EnrichCompany(ctx context.Context, domain string) (*provider.Result, error) {
	panic("not supported")
}

func (s *searchStub) FindContacts(ctx context.Context, domain string, titles []string, limit int) (*provider.Result, error) {
	panic("not supported")
}

func (s *searchStub) VerifyEmail(ctx context.Context, email string) (*provider.Result, error) {
	panic("not supported")
}

func (s *searchStub) SearchCompanies(ctx context.Context, q *provider.SearchQuery) (*provider.Result, error) {
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Result{Source: s.name, Companies: s.companies, CreditsUsed: 1}, nil
}

type stubExporter struct {
	exported []string
	err      error
}

func (e *stubExporter) ExportLead(ctx context.Context, lead *model.Lead) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	e.exported = append(e.exported, lead.ID)
	return "sf-" + lead.ID, nil
}

func newTestService(t *testing.T, exporter Exporter, stubs ...provider.Connector) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	reg := provider.NewRegistry()
	for _, s := range stubs {
		reg.Register(s)
	}
	return NewService(st, provider.StaticSource{Registry: reg}, nil, exporter), st
}

func seedICP(t *testing.T, st store.Store) *model.ICPProfile {
	t.Helper()
	icp := &model.ICPProfile{
		UserID:  "user-1",
		Name:    "SaaS mid-market",
		Weights: model.DefaultWeights,
		Filters: model.ICPFilters{Industries: []string{"software"}},
	}
	require.NoError(t, st.CreateICP(context.Background(), icp))
	require.NoError(t, st.SetDefaultICP(context.Background(), "user-1", icp.ID))
	return icp
}

func TestRunStagesCandidates(t *testing.T) {
	ctx := context.Background()
	stub := &searchStub{name: "apollo", companies: []model.CompanyData{
		{Domain: "acme.io", Name: "Acme", Industry: "Software"},
		{Domain: "globex.com", Name: "Globex", Industry: "Software"},
	}}
	svc, st := newTestService(t, nil, stub)
	icp := seedICP(t, st)

	res, err := svc.Run(ctx, "user-1", "", model.DiscoverLeadsConfig{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 2, res.Staged)
	assert.Zero(t, res.Duplicates)
	assert.Equal(t, 2, res.JobsEnqueued)
	assert.Equal(t, []string{"apollo"}, res.SourcesUsed)

	staged, err := st.ListDiscoveredLeads(ctx, "user-1", store.DiscoveryFilter{})
	require.NoError(t, err)
	require.Len(t, staged, 2)
	for _, d := range staged {
		assert.Equal(t, model.DiscoveryNew, d.Status)
		assert.Equal(t, icp.ID, d.ICPID)
		assert.Positive(t, d.PreliminaryScore)
		assert.Equal(t, "apollo", d.Source)
	}

	jobs, err := st.ListJobs(ctx, "user-1", store.JobFilter{Kind: model.JobEnrichCompany})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestRunSearchQueryFromICP(t *testing.T) {
	ctx := context.Background()
	stub := &searchStub{name: "apollo"}
	svc, st := newTestService(t, nil, stub)

	icp := &model.ICPProfile{
		UserID:  "user-1",
		Name:    "Funded infra",
		Weights: model.DefaultWeights,
		Filters: model.ICPFilters{
			Industries:     []string{"software"},
			CompanySizeMin: intp(50),
			CompanySizeMax: intp(500),
			Countries:      []string{"US"},
			FundingStages:  []model.FundingStage{model.FundingSeriesA},
			Tech:           model.TechRequirements{MustHave: []string{"aws"}},
		},
	}
	require.NoError(t, st.CreateICP(ctx, icp))

	_, err := svc.Run(ctx, "user-1", icp.ID, model.DiscoverLeadsConfig{Limit: 10})
	require.NoError(t, err)

	require.Len(t, stub.queries, 1)
	q := stub.queries[0]
	assert.Equal(t, []string{"software"}, q.Industries)
	assert.Equal(t, []string{"50,500"}, q.EmployeeRange)
	assert.Equal(t, []string{"US"}, q.Locations)
	assert.Equal(t, []string{"series_a"}, q.FundingStages)
	assert.Equal(t, []string{"aws"}, q.Technologies)
	assert.Equal(t, 10, q.Limit)
}

func TestRunMarksExistingLeadDuplicate(t *testing.T) {
	ctx := context.Background()
	stub := &searchStub{name: "apollo", companies: []model.CompanyData{
		{Domain: "acme.io", Name: "Acme"},
	}}
	svc, st := newTestService(t, nil, stub)
	seedICP(t, st)

	lead := &model.Lead{UserID: "user-1", CompanyName: "Acme", CompanyDomain: "acme.io"}
	require.NoError(t, st.CreateLead(ctx, lead))

	res, err := svc.Run(ctx, "user-1", "", model.DiscoverLeadsConfig{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Zero(t, res.Staged)
	assert.Zero(t, res.JobsEnqueued)

	staged, err := st.ListDiscoveredLeads(ctx, "user-1", store.DiscoveryFilter{Status: model.DiscoveryDuplicate})
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, lead.ID, staged[0].ConvertedLeadID)
}

func TestRunDedupsByFoldedName(t *testing.T) {
	ctx := context.Background()
	stub := &searchStub{name: "crunchbase", companies: []model.CompanyData{
		{Name: "Acme  Corp"}, // no domain; name differs only in whitespace
	}}
	svc, st := newTestService(t, nil, stub)
	seedICP(t, st)

	require.NoError(t, st.CreateLead(ctx, &model.Lead{UserID: "user-1", CompanyName: "ACME Corp"}))

	res, err := svc.Run(ctx, "user-1", "", model.DiscoverLeadsConfig{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Zero(t, res.Staged)
}

func TestRunSkipsAlreadyStaged(t *testing.T) {
	ctx := context.Background()
	stub := &searchStub{name: "apollo", companies: []model.CompanyData{
		{Domain: "acme.io", Name: "Acme"},
	}}
	svc, st := newTestService(t, nil, stub)
	seedICP(t, st)

	res, err := svc.Run(ctx, "user-1", "", model.DiscoverLeadsConfig{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Staged)

	res, err = svc.Run(ctx, "user-1", "", model.DiscoverLeadsConfig{})
	require.NoError(t, err)
	assert.Zero(t, res.Staged)
	assert.Equal(t, 1, res.Duplicates)

	staged, err := st.ListDiscoveredLeads(ctx, "user-1", store.DiscoveryFilter{})
	require.NoError(t, err)
	assert.Len(t, staged, 1)
}

func TestRunMinScoreFilter(t *testing.T) {
	ctx := context.Background()
	// Industry mismatch keeps the preliminary score low.
	stub := &searchStub{name: "apollo", companies: []model.CompanyData{
		{Domain: "mine.example", Name: "Mining Co", Industry: "Mining"},
	}}
	svc, st := newTestService(t, nil, stub)
	seedICP(t, st)

	res, err := svc.Run(ctx, "user-1", "", model.DiscoverLeadsConfig{MinScore: 90})
	require.NoError(t, err)
	assert.Equal(t, 1, res.BelowMinScore)
	assert.Zero(t, res.Staged)
}

func TestRunRequiresICP(t *testing.T) {
	svc, _ := newTestService(t, nil, &searchStub{name: "apollo"})

	_, err := svc.Run(context.Background(), "user-1", "", model.DiscoverLeadsConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ICP profile is required")
}

func TestRunAllSourcesFailed(t *testing.T) {
	svc, st := newTestService(t, nil,
		&searchStub{name: "apollo", err: assert.AnError},
		&searchStub{name: "crunchbase", err: assert.AnError},
	)
	seedICP(t, st)

	_, err := svc.Run(context.Background(), "user-1", "", model.DiscoverLeadsConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all sources failed")
}

func TestRunPartialSourceFailure(t *testing.T) {
	svc, st := newTestService(t, nil,
		&searchStub{name: "apollo", err: assert.AnError},
		&searchStub{name: "crunchbase", companies: []model.CompanyData{{Domain: "acme.io", Name: "Acme"}}},
	)
	seedICP(t, st)

	res, err := svc.Run(context.Background(), "user-1", "", model.DiscoverLeadsConfig{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Staged)
	assert.Contains(t, res.SourcesFailed, "apollo")
}

func TestRunSourceSubset(t *testing.T) {
	apollo := &searchStub{name: "apollo", companies: []model.CompanyData{{Domain: "a.io", Name: "A"}}}
	crunchbase := &searchStub{name: "crunchbase", companies: []model.CompanyData{{Domain: "b.io", Name: "B"}}}
	svc, st := newTestService(t, nil, apollo, crunchbase)
	seedICP(t, st)

	res, err := svc.Run(context.Background(), "user-1", "", model.DiscoverLeadsConfig{Sources: []string{"crunchbase"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"crunchbase"}, res.SourcesUsed)
	assert.Empty(t, apollo.queries)
	assert.Equal(t, 1, res.Staged)
}

func intp(v int) *int { return &v }
