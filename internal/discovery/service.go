// Package discovery finds new lead candidates from provider search APIs and
// stages them for human review. Candidates never enter the primary lead set
// directly; acceptance promotes them transactionally.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/provider"
	"github.com/sells-group/outreach-engine/internal/scoring"
	"github.com/sells-group/outreach-engine/internal/signals"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Exporter pushes a promoted lead to an external CRM. Implementations
// return the remote record ID.
type Exporter interface {
	ExportLead(ctx context.Context, lead *model.Lead) (string, error)
}

// Service runs discovery searches and the review workflow. Search
// connectors come from a per-user Source so each run uses the caller's
// own credentials.
type Service struct {
	store    store.Store
	source   provider.Source
	limits   *provider.Limiters
	detector *signals.Detector
	exporter Exporter

	nowFunc func() time.Time
}

// NewService wires a discovery service. exporter may be nil when no CRM is
// configured.
func NewService(st store.Store, source provider.Source, limits *provider.Limiters, exporter Exporter) *Service {
	return &Service{
		store:    st,
		source:   source,
		limits:   limits,
		detector: signals.NewDetector(),
		exporter: exporter,
		nowFunc:  time.Now,
	}
}

// RunResult summarizes one discovery pass.
type RunResult struct {
	Candidates    int               `json:"candidates"`
	Staged        int               `json:"staged"`
	Duplicates    int               `json:"duplicates"`
	BelowMinScore int               `json:"below_min_score"`
	JobsEnqueued  int               `json:"jobs_enqueued"`
	SourcesUsed   []string          `json:"sources_used,omitempty"`
	SourcesFailed map[string]string `json:"sources_failed,omitempty"`
}

// Run searches every capable connector with ICP-derived filters, dedups the
// results against existing leads and staged candidates, and stages the
// survivors with a preliminary score. Non-duplicate candidates get a
// follow-on company-enrichment job so reviewers see fresh data.
func (s *Service) Run(ctx context.Context, userID, icpID string, cfg model.DiscoverLeadsConfig) (*RunResult, error) {
	icp, err := s.resolveICP(ctx, userID, icpID)
	if err != nil {
		return nil, err
	}

	reg, err := s.source.RegistryFor(ctx, userID)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: resolve connectors")
	}

	query := queryFromICP(icp, cfg)
	engine := scoring.NewEngine(icp)
	res := &RunResult{SourcesFailed: map[string]string{}}
	seen := map[string]bool{}

	for _, conn := range selectSearchConnectors(reg, cfg.Sources) {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "discovery: cancelled")
		}
		if s.limits != nil {
			if err := s.limits.Acquire(ctx, userID, conn.Name()); err != nil {
				return nil, eris.Wrapf(err, "discovery: rate limit %s", conn.Name())
			}
		}

		result, err := conn.SearchCompanies(ctx, query)
		if err != nil {
			res.SourcesFailed[conn.Name()] = err.Error()
			zap.L().Warn("discovery: search failed",
				zap.String("source", conn.Name()),
				zap.Error(err),
			)
			continue
		}
		res.SourcesUsed = append(res.SourcesUsed, conn.Name())

		for i := range result.Companies {
			company := &result.Companies[i]
			key := dedupKey(company)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			res.Candidates++

			if err := s.stageCandidate(ctx, userID, icp, engine, conn.Name(), company, cfg, res); err != nil {
				return nil, err
			}
		}
	}

	if res.Candidates == 0 && len(res.SourcesUsed) == 0 && len(res.SourcesFailed) > 0 {
		return nil, eris.Errorf("discovery: all sources failed: %v", res.SourcesFailed)
	}

	zap.L().Info("discovery: run complete",
		zap.String("user_id", userID),
		zap.Int("candidates", res.Candidates),
		zap.Int("staged", res.Staged),
		zap.Int("duplicates", res.Duplicates),
	)
	return res, nil
}

func (s *Service) stageCandidate(ctx context.Context, userID string, icp *model.ICPProfile, engine *scoring.Engine, source string, company *model.CompanyData, cfg model.DiscoverLeadsConfig, res *RunResult) error {
	existing, err := s.findExistingLead(ctx, userID, company)
	if err != nil {
		return err
	}

	staged, err := s.store.FindDiscoveredByDomain(ctx, userID, company.Domain)
	if err != nil {
		return eris.Wrap(err, "discovery: staging dedup lookup")
	}
	if staged != nil {
		res.Duplicates++
		return nil
	}

	score := engine.Score("", scoring.Input{Company: company})
	candidate := &model.DiscoveredLead{
		UserID:           userID,
		CompanyName:      company.Name,
		CompanyDomain:    company.Domain,
		CompanyLinkedIn:  company.LinkedInURL,
		Company:          company,
		PreliminaryScore: score.TotalScore,
		Breakdown:        score.Breakdown,
		Source:           source,
	}
	if icp != nil {
		candidate.ICPID = icp.ID
	}

	// A company already tracked as a lead is staged as a duplicate so the
	// operator can see it resurfaced, but it is never re-promoted.
	if existing != nil {
		candidate.Status = model.DiscoveryDuplicate
		candidate.ConvertedLeadID = existing.ID
		res.Duplicates++
		if err := s.store.StageDiscoveredLead(ctx, candidate); err != nil {
			return eris.Wrap(err, "discovery: stage duplicate")
		}
		return nil
	}

	if cfg.MinScore > 0 && score.TotalScore < cfg.MinScore {
		res.BelowMinScore++
		return nil
	}

	candidate.Signals = detectedSignals(s.detector, company, source)
	if err := s.store.StageDiscoveredLead(ctx, candidate); err != nil {
		return eris.Wrap(err, "discovery: stage candidate")
	}
	res.Staged++

	if company.Domain != "" {
		job := &model.Job{
			UserID: userID,
			Kind:   model.JobEnrichCompany,
			Target: model.JobTarget{CompanyDomain: company.Domain},
			Config: &model.EnrichCompanyConfig{},
		}
		if err := s.store.EnqueueJob(ctx, job); err != nil {
			return eris.Wrap(err, "discovery: enqueue enrich job")
		}
		res.JobsEnqueued++
	}
	return nil
}

// findExistingLead checks the primary lead set by domain, falling back to
// the folded company name when the search result has no domain.
func (s *Service) findExistingLead(ctx context.Context, userID string, company *model.CompanyData) (*model.Lead, error) {
	if company.Domain != "" {
		lead, err := s.store.FindLeadByDomain(ctx, userID, company.Domain)
		if err != nil {
			return nil, eris.Wrap(err, "discovery: lead dedup by domain")
		}
		if lead != nil {
			return lead, nil
		}
	}
	if company.Name != "" {
		lead, err := s.store.FindLeadByFoldedName(ctx, userID, model.FoldCompanyName(company.Name))
		if err != nil {
			return nil, eris.Wrap(err, "discovery: lead dedup by name")
		}
		return lead, nil
	}
	return nil, nil
}

func selectSearchConnectors(reg *provider.Registry, sources []string) []provider.Connector {
	all := reg.Supporting(provider.OpSearchCompanies)
	if len(sources) == 0 {
		return all
	}
	wanted := make(map[string]bool, len(sources))
	for _, src := range sources {
		wanted[src] = true
	}
	var out []provider.Connector
	for _, c := range all {
		if wanted[c.Name()] {
			out = append(out, c)
		}
	}
	return out
}

func (s *Service) resolveICP(ctx context.Context, userID, icpID string) (*model.ICPProfile, error) {
	if icpID != "" {
		icp, err := s.store.GetICP(ctx, userID, icpID)
		if err != nil {
			return nil, eris.Wrapf(err, "discovery: load icp %s", icpID)
		}
		return icp, nil
	}
	icp, err := s.store.DefaultICP(ctx, userID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, eris.New("discovery: an ICP profile is required; create one or set a default")
		}
		return nil, eris.Wrap(err, "discovery: load default icp")
	}
	return icp, nil
}

// queryFromICP translates ICP filters into the provider search query.
func queryFromICP(icp *model.ICPProfile, cfg model.DiscoverLeadsConfig) *provider.SearchQuery {
	q := &provider.SearchQuery{Limit: cfg.Limit}
	if q.Limit == 0 {
		q.Limit = 25
	}
	if icp == nil {
		return q
	}

	f := icp.Filters
	q.Industries = f.Industries
	q.Technologies = f.Tech.MustHave
	q.Locations = f.Countries
	for _, stage := range f.FundingStages {
		q.FundingStages = append(q.FundingStages, string(stage))
	}
	if f.CompanySizeMin != nil || f.CompanySizeMax != nil {
		q.EmployeeRange = []string{employeeRange(f.CompanySizeMin, f.CompanySizeMax)}
	}
	return q
}

// employeeRange renders "min,max" with open bounds left empty, the format
// Apollo's search API expects.
func employeeRange(min, max *int) string {
	lo, hi := "", ""
	if min != nil {
		lo = fmt.Sprintf("%d", *min)
	}
	if max != nil {
		hi = fmt.Sprintf("%d", *max)
	}
	return lo + "," + hi
}

func dedupKey(c *model.CompanyData) string {
	if c.Domain != "" {
		return model.NormalizeEntityKey(c.Domain)
	}
	return model.FoldCompanyName(c.Name)
}

// detectedSignals runs the signal detectors over a fresh search result.
// There is no previous payload at discovery time, so only point-in-time
// detectors fire.
func detectedSignals(d *signals.Detector, company *model.CompanyData, source string) []model.SignalEvent {
	events := d.Detect("", company.Domain, source, company, nil)
	out := make([]model.SignalEvent, 0, len(events))
	for _, e := range events {
		out = append(out, *e)
	}
	return out
}
