package main

import (
	"context"
	"os"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/config"
	"github.com/sells-group/outreach-engine/internal/discovery"
	"github.com/sells-group/outreach-engine/internal/enrich"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/provider"
	"github.com/sells-group/outreach-engine/internal/queue"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/scoring"
	"github.com/sells-group/outreach-engine/internal/secrets"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/pkg/apollo"
	"github.com/sells-group/outreach-engine/pkg/clearbit"
	"github.com/sells-group/outreach-engine/pkg/crunchbase"
	"github.com/sells-group/outreach-engine/pkg/hunter"
	sfpkg "github.com/sells-group/outreach-engine/pkg/salesforce"
)

// appEnv bundles everything a command needs after wiring.
type appEnv struct {
	Store     store.Store
	Queue     *queue.Queue
	Scorer    *scoring.Scorer
	Discovery *discovery.Service
	Secrets   *secrets.Manager
}

func (e *appEnv) Close() {
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store.database_url is required for the postgres driver (OUTREACH_STORE_DATABASE_URL)")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// credentialSource builds a per-user connector registry. Each provider's
// key resolves through the user's stored credential first and falls back
// to the shared key from config; providers with neither just shrink the
// fan-out.
type credentialSource struct {
	secrets   *secrets.Manager
	providers config.ProvidersConfig
}

func (s *credentialSource) RegistryFor(ctx context.Context, userID string) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	key, err := s.resolveKey(ctx, userID, "apollo", s.providers.Apollo.Key)
	if err != nil {
		return nil, err
	}
	if key != "" {
		reg.Register(provider.NewApollo(apollo.NewClient(key, apollo.WithBaseURL(s.providers.Apollo.BaseURL))))
	}

	key, err = s.resolveKey(ctx, userID, "clearbit", s.providers.Clearbit.Key)
	if err != nil {
		return nil, err
	}
	if key != "" {
		reg.Register(provider.NewClearbit(clearbit.NewClient(key, clearbit.WithBaseURL(s.providers.Clearbit.BaseURL))))
	}

	key, err = s.resolveKey(ctx, userID, "hunter", s.providers.Hunter.Key)
	if err != nil {
		return nil, err
	}
	if key != "" {
		reg.Register(provider.NewHunter(hunter.NewClient(key, hunter.WithBaseURL(s.providers.Hunter.BaseURL))))
	}

	key, err = s.resolveKey(ctx, userID, "crunchbase", s.providers.Crunchbase.Key)
	if err != nil {
		return nil, err
	}
	if key != "" {
		reg.Register(provider.NewCrunchbase(crunchbase.NewClient(key, crunchbase.WithBaseURL(s.providers.Crunchbase.BaseURL))))
	}

	return reg, nil
}

func (s *credentialSource) resolveKey(ctx context.Context, userID, service, fallback string) (string, error) {
	if s.secrets == nil {
		return fallback, nil
	}
	key, err := s.secrets.Get(ctx, userID, service)
	if err == nil {
		return key, nil
	}
	if eris.Is(err, store.ErrNotFound) {
		return fallback, nil
	}
	return "", eris.Wrapf(err, "resolve %s credential", service)
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (OUTREACH_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.Salesforce.RatePerSec)), nil
}

// crmExporter adapts the Salesforce client to the discovery promotion hook.
type crmExporter struct {
	client sfpkg.Client
}

func (e *crmExporter) ExportLead(ctx context.Context, lead *model.Lead) (string, error) {
	result, err := sfpkg.ExportLead(ctx, e.client, lead)
	if err != nil {
		return "", err
	}
	return result.AccountID, nil
}

func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var secretsMgr *secrets.Manager
	if cfg.Secrets.Key != "" {
		key, err := cfg.Secrets.DecodeKey()
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		secretsMgr, err = secrets.NewManager(key, st)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	source := &credentialSource{secrets: secretsMgr, providers: cfg.Providers}
	limits := provider.NewLimiters(cfg.RateLimits)
	breakers := resilience.NewBreakerPool(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	})
	cache := enrich.NewCache(st, cfg.Cache)
	aggregator := enrich.NewAggregator(source, cache, limits, breakers, enrich.AggregatorConfig{
		Merge: cfg.Merge,
	})
	scorer := scoring.NewScorer(st)

	var exporter discovery.Exporter
	if cfg.Salesforce.Enabled {
		sfClient, err := initSalesforce()
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		exporter = &crmExporter{client: sfClient}
		zap.L().Info("salesforce export enabled")
	}
	discoverySvc := discovery.NewService(st, source, limits, exporter)

	executor := queue.NewExecutor(st, aggregator, scorer, discoverySvc)
	q := queue.New(st, executor, queue.Config{
		Workers:         cfg.Queue.Workers,
		PollInterval:    cfg.Queue.PollInterval,
		JobTimeout:      cfg.Queue.JobTimeout,
		SweepInterval:   cfg.Queue.SweepInterval,
		RescoreInterval: cfg.Queue.RescoreInterval,
		Backoff: resilience.BackoffConfig{
			Base:           cfg.Queue.BackoffBase,
			Ceiling:        cfg.Queue.BackoffCeiling,
			JitterFraction: resilience.DefaultBackoffConfig().JitterFraction,
		},
	})

	return &appEnv{
		Store:     st,
		Queue:     q,
		Scorer:    scorer,
		Discovery: discoverySvc,
		Secrets:   secretsMgr,
	}, nil
}
