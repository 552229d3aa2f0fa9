package enrich

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/provider"
	"github.com/sells-group/outreach-engine/internal/resilience"
)

// defaultCallTimeout bounds one provider call inside a job.
const defaultCallTimeout = 20 * time.Second

// AggregatorConfig tunes the fan-out.
type AggregatorConfig struct {
	// CallTimeout is the hard per-provider-call deadline.
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	// Merge orders sources per field.
	Merge MergeConfig `yaml:"merge" mapstructure:"merge"`
}

// Outcome is the additive result of an enrichment pass. A partially failed
// pass still carries every payload that succeeded.
type Outcome struct {
	Company  *model.CompanyData
	Contacts []model.ContactData

	// Previous is the merged prior company record for the sources whose
	// payloads changed, used for diff-based signal detection. Nil when
	// nothing changed or no prior data existed.
	Previous *model.CompanyData
	Changed  bool

	SourcesUsed   []string
	SourcesFailed map[string]string
	CacheHits     int
	CreditsUsed   int
}

// Aggregator runs cache-first, rate-limited, breaker-guarded provider
// fan-out and merges the results. Connectors come from a per-user Source
// so each call runs against the caller's own credentials.
type Aggregator struct {
	source   provider.Source
	cache    *Cache
	limits   *provider.Limiters
	breakers *resilience.BreakerPool
	cfg      AggregatorConfig
}

// NewAggregator wires the enrichment fan-out.
func NewAggregator(source provider.Source, cache *Cache, limits *provider.Limiters, breakers *resilience.BreakerPool, cfg AggregatorConfig) *Aggregator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if len(cfg.Merge.Default) == 0 {
		cfg.Merge = DefaultMergeConfig()
	}
	return &Aggregator{
		source:   source,
		cache:    cache,
		limits:   limits,
		breakers: breakers,
		cfg:      cfg,
	}
}

// EnrichCompany fetches company data for a domain from every connector that
// supports it (or the named subset), cache-first, and merges the payloads.
// It fails only when every source fails; otherwise failures are noted in
// the outcome.
func (a *Aggregator) EnrichCompany(ctx context.Context, userID, domain string, sources []string) (*Outcome, error) {
	reg, err := a.source.RegistryFor(ctx, userID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: resolve connectors")
	}
	connectors := selectConnectors(reg, provider.OpEnrichCompany, sources)
	if len(connectors) == 0 {
		return nil, eris.New("enrich: no connectors support company enrichment")
	}

	outcome := &Outcome{SourcesFailed: make(map[string]string)}
	payloads := make(map[string]*model.CompanyData)
	previous := make(map[string]*model.CompanyData)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, conn := range connectors {
		g.Go(func() error {
			company, meta, err := a.fetchCompany(gctx, userID, domain, conn)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.SourcesFailed[conn.Name()] = err.Error()
				// Partial failure is additive; only ctx errors abort the group.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return nil
			}
			payloads[conn.Name()] = company
			outcome.SourcesUsed = append(outcome.SourcesUsed, conn.Name())
			outcome.CreditsUsed += meta.credits
			if meta.cacheHit {
				outcome.CacheHits++
			}
			if meta.changed {
				outcome.Changed = true
			}
			if meta.previous != nil {
				previous[conn.Name()] = meta.previous
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "enrich: company fan-out")
	}

	if len(payloads) == 0 {
		return nil, eris.Errorf("enrich: all sources failed for %s: %v", domain, outcome.SourcesFailed)
	}

	outcome.Company = Merge(a.cfg.Merge, payloads)
	if len(previous) > 0 {
		outcome.Previous = Merge(a.cfg.Merge, previous)
	}
	return outcome, nil
}

type fetchMeta struct {
	cacheHit bool
	changed  bool
	credits  int
	previous *model.CompanyData
}

func (a *Aggregator) fetchCompany(ctx context.Context, userID, domain string, conn provider.Connector) (*model.CompanyData, fetchMeta, error) {
	var meta fetchMeta

	if entry, err := a.cache.Get(ctx, model.EntityCompany, domain, conn.Name()); err == nil && entry != nil {
		var company model.CompanyData
		if err := json.Unmarshal(entry.Payload, &company); err == nil {
			meta.cacheHit = true
			return &company, meta, nil
		}
		zap.L().Warn("discarding undecodable cache payload",
			zap.String("source", conn.Name()), zap.String("key", entry.EntityKey))
	}

	breaker := a.breakers.For(conn.Name())
	if err := breaker.Allow(); err != nil {
		return nil, meta, err
	}
	if err := a.limits.Acquire(ctx, userID, conn.Name()); err != nil {
		return nil, meta, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	result, err := conn.EnrichCompany(callCtx, domain)
	breaker.Record(err)
	if err != nil {
		return nil, meta, err
	}
	meta.credits = result.CreditsUsed

	put, err := a.cache.Put(ctx, model.EntityCompany, domain, conn.Name(), result.Company)
	if err != nil {
		// The fetched payload is still usable; log and continue.
		zap.L().Warn("cache write failed", zap.String("source", conn.Name()), zap.Error(err))
		meta.changed = true
		return result.Company, meta, nil
	}
	meta.changed = put.Changed
	if len(put.Previous) > 0 {
		var prior model.CompanyData
		if err := json.Unmarshal(put.Previous, &prior); err == nil {
			meta.previous = &prior
		}
	}
	return result.Company, meta, nil
}

// FindContacts locates decision-makers, trying Apollo first and falling
// back to Hunter when Apollo errors or returns nothing. Unverified emails
// get one verification pass through the verifier connector.
func (a *Aggregator) FindContacts(ctx context.Context, userID, domain string, titles []string, limit int) (*Outcome, error) {
	reg, err := a.source.RegistryFor(ctx, userID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: resolve connectors")
	}
	connectors := selectConnectors(reg, provider.OpFindContacts, nil)
	if len(connectors) == 0 {
		return nil, eris.New("enrich: no connectors support contact search")
	}

	outcome := &Outcome{SourcesFailed: make(map[string]string)}
	for _, conn := range connectors {
		contacts, meta, err := a.fetchContacts(ctx, userID, domain, titles, limit, conn)
		if err != nil {
			outcome.SourcesFailed[conn.Name()] = err.Error()
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "enrich: contact search")
			}
			continue
		}
		outcome.CreditsUsed += meta.credits
		if meta.cacheHit {
			outcome.CacheHits++
		}
		if len(contacts) == 0 {
			continue
		}
		outcome.Contacts = contacts
		outcome.SourcesUsed = append(outcome.SourcesUsed, conn.Name())
		break
	}

	if len(outcome.Contacts) == 0 && len(outcome.SourcesFailed) == len(connectors) {
		return nil, eris.Errorf("enrich: all contact sources failed for %s: %v", domain, outcome.SourcesFailed)
	}

	a.verifyContacts(ctx, userID, reg, outcome)
	return outcome, nil
}

func (a *Aggregator) fetchContacts(ctx context.Context, userID, domain string, titles []string, limit int, conn provider.Connector) ([]model.ContactData, fetchMeta, error) {
	var meta fetchMeta

	if entry, err := a.cache.Get(ctx, model.EntityContact, domain, conn.Name()); err == nil && entry != nil {
		var contacts []model.ContactData
		if err := json.Unmarshal(entry.Payload, &contacts); err == nil {
			meta.cacheHit = true
			return contacts, meta, nil
		}
	}

	breaker := a.breakers.For(conn.Name())
	if err := breaker.Allow(); err != nil {
		return nil, meta, err
	}
	if err := a.limits.Acquire(ctx, userID, conn.Name()); err != nil {
		return nil, meta, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	result, err := conn.FindContacts(callCtx, domain, titles, limit)
	breaker.Record(err)
	if err != nil {
		return nil, meta, err
	}
	meta.credits = result.CreditsUsed

	if len(result.Contacts) > 0 {
		if _, err := a.cache.Put(ctx, model.EntityContact, domain, conn.Name(), result.Contacts); err != nil {
			zap.L().Warn("cache write failed", zap.String("source", conn.Name()), zap.Error(err))
		}
	}
	return result.Contacts, meta, nil
}

// verifyContacts runs a best-effort verification pass over contacts with
// unverified addresses. Verification failures never fail the search.
func (a *Aggregator) verifyContacts(ctx context.Context, userID string, reg *provider.Registry, outcome *Outcome) {
	verifiers := reg.Supporting(provider.OpVerifyEmail)
	if len(verifiers) == 0 {
		return
	}
	verifier := verifiers[0]

	for i := range outcome.Contacts {
		contact := &outcome.Contacts[i]
		if contact.Email == "" || contact.EmailVerified {
			continue
		}
		result, meta, err := a.verifyOne(ctx, userID, contact.Email, verifier)
		if err != nil {
			zap.L().Debug("email verification skipped",
				zap.String("email", contact.Email), zap.Error(err))
			continue
		}
		outcome.CreditsUsed += meta.credits
		if meta.cacheHit {
			outcome.CacheHits++
		}
		contact.EmailVerified = result.Deliverable
		contact.EmailConfidence = float64(result.Score) / 100.0
	}
}

// VerifyEmail checks one address through the first verifier connector.
func (a *Aggregator) VerifyEmail(ctx context.Context, userID, email string) (*provider.EmailVerification, error) {
	reg, err := a.source.RegistryFor(ctx, userID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: resolve connectors")
	}
	verifiers := reg.Supporting(provider.OpVerifyEmail)
	if len(verifiers) == 0 {
		return nil, eris.New("enrich: no connectors support email verification")
	}
	result, _, err := a.verifyOne(ctx, userID, email, verifiers[0])
	return result, err
}

func (a *Aggregator) verifyOne(ctx context.Context, userID, email string, conn provider.Connector) (*provider.EmailVerification, fetchMeta, error) {
	var meta fetchMeta

	if entry, err := a.cache.Get(ctx, model.EntityEmail, email, conn.Name()); err == nil && entry != nil {
		var verification provider.EmailVerification
		if err := json.Unmarshal(entry.Payload, &verification); err == nil {
			meta.cacheHit = true
			return &verification, meta, nil
		}
	}

	breaker := a.breakers.For(conn.Name())
	if err := breaker.Allow(); err != nil {
		return nil, meta, err
	}
	if err := a.limits.Acquire(ctx, userID, conn.Name()); err != nil {
		return nil, meta, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	result, err := conn.VerifyEmail(callCtx, email)
	breaker.Record(err)
	if err != nil {
		return nil, meta, err
	}
	meta.credits = result.CreditsUsed

	if _, err := a.cache.Put(ctx, model.EntityEmail, email, conn.Name(), result.Verification); err != nil {
		zap.L().Warn("cache write failed", zap.String("source", conn.Name()), zap.Error(err))
	}
	return result.Verification, meta, nil
}

// selectConnectors returns the connectors for op, restricted to the named
// subset when given.
func selectConnectors(reg *provider.Registry, op provider.Op, sources []string) []provider.Connector {
	all := reg.Supporting(op)
	if len(sources) == 0 {
		return all
	}
	wanted := make(map[string]bool, len(sources))
	for _, s := range sources {
		wanted[s] = true
	}
	var out []provider.Connector
	for _, conn := range all {
		if wanted[conn.Name()] {
			out = append(out, conn)
		}
	}
	return out
}
