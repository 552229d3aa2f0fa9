package queue

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/discovery"
	"github.com/sells-group/outreach-engine/internal/enrich"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/provider"
	"github.com/sells-group/outreach-engine/internal/signals"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Enricher is the slice of the enrichment aggregator the runner needs.
type Enricher interface {
	EnrichCompany(ctx context.Context, userID, domain string, sources []string) (*enrich.Outcome, error)
	FindContacts(ctx context.Context, userID, domain string, titles []string, limit int) (*enrich.Outcome, error)
	VerifyEmail(ctx context.Context, userID, email string) (*provider.EmailVerification, error)
}

// LeadScorer appends a fresh score snapshot for a lead.
type LeadScorer interface {
	ScoreLead(ctx context.Context, userID, leadID, icpID string) (*model.LeadScore, error)
}

// Discoverer runs one discovery search pass.
type Discoverer interface {
	Run(ctx context.Context, userID, icpID string, cfg model.DiscoverLeadsConfig) (*discovery.RunResult, error)
}

// Executor dispatches claimed jobs to the domain services. Dispatch is
// exhaustive over JobKind; an unknown kind is a permanent failure.
type Executor struct {
	store      store.Store
	enricher   Enricher
	scorer     LeadScorer
	discoverer Discoverer
	detector   *signals.Detector
}

// errCancelled aborts a run when the job was cancelled out from under the
// worker. runOne skips all terminal updates for it.
var errCancelled = eris.New("queue: job cancelled")

func NewExecutor(st store.Store, enricher Enricher, scorer LeadScorer, discoverer Discoverer) *Executor {
	return &Executor{
		store:      st,
		enricher:   enricher,
		scorer:     scorer,
		discoverer: discoverer,
		detector:   signals.NewDetector(),
	}
}

func (e *Executor) Run(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	switch job.Kind {
	case model.JobEnrichLead:
		return e.enrichLead(ctx, job)
	case model.JobEnrichCompany:
		return e.enrichCompany(ctx, job)
	case model.JobFindContacts:
		return e.findContacts(ctx, job)
	case model.JobVerifyEmail:
		return e.verifyEmail(ctx, job)
	case model.JobDetectSignals:
		return e.detectSignals(ctx, job)
	case model.JobScoreLead:
		return e.scoreLead(ctx, job)
	case model.JobDiscoverLeads:
		return e.discoverLeads(ctx, job)
	default:
		return nil, eris.Errorf("queue: no runner for job kind %q", job.Kind)
	}
}

// cancelled reports whether the job's persisted status flipped to
// cancelled since it was claimed. Multi-phase runs check it between
// provider calls so they abandon remaining work promptly.
func (e *Executor) cancelled(ctx context.Context, job *model.Job) bool {
	j, err := e.store.GetJob(ctx, job.UserID, job.ID)
	if err != nil {
		return false
	}
	return j.Status == model.JobCancelled
}

// enrichLead refreshes company data and contacts for a lead, then records
// any signals the fresh data triggers.
func (e *Executor) enrichLead(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	cfg, _ := job.Config.(*model.EnrichLeadConfig)
	if cfg == nil {
		cfg = &model.EnrichLeadConfig{}
	}

	lead, err := e.store.GetLead(ctx, job.UserID, job.Target.LeadID)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich_lead: load lead %s", job.Target.LeadID)
	}
	domain := lead.CompanyDomain
	if domain == "" {
		domain = job.Target.CompanyDomain
	}
	if domain == "" {
		return nil, eris.Errorf("enrich_lead: lead %s has no company domain", lead.ID)
	}

	outcome, err := e.enricher.EnrichCompany(ctx, job.UserID, domain, cfg.Sources)
	if err != nil {
		return nil, err
	}
	lead.Company = outcome.Company

	result := resultFromOutcome(outcome)

	if e.cancelled(ctx, job) {
		return nil, errCancelled
	}

	contacts, err := e.enricher.FindContacts(ctx, job.UserID, domain, nil, 0)
	if err != nil {
		// Contact lookup failing does not void the company refresh.
		zap.L().Warn("enrich_lead: contact lookup failed",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
		result.SourcesFailed = append(result.SourcesFailed, "contacts")
	} else if len(contacts.Contacts) > 0 {
		lead.Contacts = contacts.Contacts
		result.ContactsFound = len(contacts.Contacts)
		result.CreditsUsed += contacts.CreditsUsed
		result.CacheHits += contacts.CacheHits
	}

	if err := e.store.UpdateLead(ctx, lead); err != nil {
		return nil, eris.Wrapf(err, "enrich_lead: update lead %s", lead.ID)
	}

	found, err := e.recordSignals(ctx, lead.ID, domain, outcome)
	if err != nil {
		return nil, err
	}
	result.SignalsFound = found
	return result, nil
}

// enrichCompany refreshes a company's cached record by domain. A lead
// tracking the domain picks up the fresh data and any triggered signals.
func (e *Executor) enrichCompany(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	cfg, _ := job.Config.(*model.EnrichCompanyConfig)
	if cfg == nil {
		cfg = &model.EnrichCompanyConfig{}
	}

	outcome, err := e.enricher.EnrichCompany(ctx, job.UserID, job.Target.CompanyDomain, cfg.Sources)
	if err != nil {
		return nil, err
	}
	result := resultFromOutcome(outcome)

	lead, err := e.store.FindLeadByDomain(ctx, job.UserID, job.Target.CompanyDomain)
	if err != nil {
		return nil, eris.Wrap(err, "enrich_company: lead lookup")
	}
	if lead != nil {
		lead.Company = outcome.Company
		if err := e.store.UpdateLead(ctx, lead); err != nil {
			return nil, eris.Wrapf(err, "enrich_company: update lead %s", lead.ID)
		}
		found, err := e.recordSignals(ctx, lead.ID, job.Target.CompanyDomain, outcome)
		if err != nil {
			return nil, err
		}
		result.SignalsFound = found
	}
	return result, nil
}

func (e *Executor) findContacts(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	cfg, _ := job.Config.(*model.FindContactsConfig)
	if cfg == nil {
		cfg = &model.FindContactsConfig{}
	}

	lead, err := e.store.GetLead(ctx, job.UserID, job.Target.LeadID)
	if err != nil {
		return nil, eris.Wrapf(err, "find_contacts: load lead %s", job.Target.LeadID)
	}
	if lead.CompanyDomain == "" {
		return nil, eris.Errorf("find_contacts: lead %s has no company domain", lead.ID)
	}

	outcome, err := e.enricher.FindContacts(ctx, job.UserID, lead.CompanyDomain, cfg.Titles, cfg.Limit)
	if err != nil {
		return nil, err
	}

	lead.Contacts = outcome.Contacts
	if err := e.store.UpdateLead(ctx, lead); err != nil {
		return nil, eris.Wrapf(err, "find_contacts: update lead %s", lead.ID)
	}

	result := resultFromOutcome(outcome)
	result.ContactsFound = len(outcome.Contacts)
	return result, nil
}

func (e *Executor) verifyEmail(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	verification, err := e.enricher.VerifyEmail(ctx, job.UserID, job.Target.Email)
	if err != nil {
		return nil, err
	}
	valid := verification.Deliverable
	return &model.JobResult{
		EmailValid: &valid,
		Detail:     verification.Email,
	}, nil
}

// detectSignals re-reads the company's cached record (cache-first, so this
// only hits providers when the cache expired) and appends any signals the
// current-vs-previous diff triggers.
func (e *Executor) detectSignals(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	cfg, _ := job.Config.(*model.DetectSignalsConfig)
	if cfg == nil {
		cfg = &model.DetectSignalsConfig{}
	}

	lead, err := e.store.GetLead(ctx, job.UserID, job.Target.LeadID)
	if err != nil {
		return nil, eris.Wrapf(err, "detect_signals: load lead %s", job.Target.LeadID)
	}
	if lead.CompanyDomain == "" {
		return nil, eris.Errorf("detect_signals: lead %s has no company domain", lead.ID)
	}

	outcome, err := e.enricher.EnrichCompany(ctx, job.UserID, lead.CompanyDomain, cfg.Sources)
	if err != nil {
		return nil, err
	}

	found, err := e.recordSignals(ctx, lead.ID, lead.CompanyDomain, outcome)
	if err != nil {
		return nil, err
	}

	result := resultFromOutcome(outcome)
	result.SignalsFound = found
	return result, nil
}

func (e *Executor) scoreLead(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	cfg, _ := job.Config.(*model.ScoreLeadConfig)
	if cfg == nil {
		cfg = &model.ScoreLeadConfig{}
	}
	icpID := cfg.ICPID
	if icpID == "" {
		icpID = job.Target.ICPID
	}

	score, err := e.scorer.ScoreLead(ctx, job.UserID, job.Target.LeadID, icpID)
	if err != nil {
		return nil, err
	}
	total := score.TotalScore
	return &model.JobResult{Score: &total, Tier: score.Tier}, nil
}

func (e *Executor) discoverLeads(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	cfg, _ := job.Config.(*model.DiscoverLeadsConfig)
	if cfg == nil {
		cfg = &model.DiscoverLeadsConfig{}
	}

	res, err := e.discoverer.Run(ctx, job.UserID, job.Target.ICPID, *cfg)
	if err != nil {
		return nil, err
	}
	return &model.JobResult{
		SourcesUsed:   res.SourcesUsed,
		SourcesFailed: failedNames(res.SourcesFailed),
		LeadsStaged:   res.Staged,
		Duplicates:    res.Duplicates,
		JobsEnqueued:  res.JobsEnqueued,
	}, nil
}

// recordSignals diffs the enrichment outcome and appends triggered events.
func (e *Executor) recordSignals(ctx context.Context, leadID, domain string, outcome *enrich.Outcome) (int, error) {
	if !outcome.Changed || outcome.Company == nil {
		return 0, nil
	}

	source := "enrichment"
	if len(outcome.SourcesUsed) == 1 {
		source = outcome.SourcesUsed[0]
	}

	events := e.detector.Detect(leadID, domain, source, outcome.Company, outcome.Previous)
	for _, ev := range events {
		if err := e.store.AppendSignal(ctx, ev); err != nil {
			return 0, eris.Wrapf(err, "signals: append %s for lead %s", ev.Type, leadID)
		}
	}
	return len(events), nil
}

func resultFromOutcome(o *enrich.Outcome) *model.JobResult {
	return &model.JobResult{
		SourcesUsed:   o.SourcesUsed,
		SourcesFailed: failedNames(o.SourcesFailed),
		CreditsUsed:   o.CreditsUsed,
		CacheHits:     o.CacheHits,
	}
}

func failedNames(failed map[string]string) []string {
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
