package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/db"
	"github.com/sells-group/outreach-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"claim_job": `UPDATE jobs SET status = 'running', started_at = now(), attempt_count = attempt_count + 1
		WHERE id = (
		  SELECT id FROM jobs WHERE status = 'pending' AND scheduled_at <= now()
		  ORDER BY priority DESC, scheduled_at ASC
		  LIMIT 1 FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns,
	"get_cache_entry": `SELECT id, entity_type, entity_key, source, payload, data_hash, fetched_at, expires_at, hit_count, last_hit_at
		FROM enrichment_cache
		WHERE entity_type = $1 AND entity_key = $2 AND source = $3 AND expires_at > now()`,
	"record_cache_hit": `UPDATE enrichment_cache SET hit_count = hit_count + 1, last_hit_at = $1 WHERE id = $2`,
	"current_score": `SELECT ` + scoreColumns + ` FROM lead_scores WHERE lead_id = $1
		ORDER BY calculated_at DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS icp_profiles (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_default  BOOLEAN NOT NULL DEFAULT false,
	filters     JSONB NOT NULL,
	weights     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id             TEXT NOT NULL,
	company_name        TEXT NOT NULL,
	company_name_folded TEXT NOT NULL,
	company_domain      TEXT NOT NULL DEFAULT '',
	contact_name        TEXT NOT NULL DEFAULT '',
	contact_title       TEXT NOT NULL DEFAULT '',
	contact_email       TEXT NOT NULL DEFAULT '',
	contact_linkedin    TEXT NOT NULL DEFAULT '',
	company_data        JSONB,
	contacts            JSONB,
	source              TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrichment_cache (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	entity_type TEXT NOT NULL,
	entity_key  TEXT NOT NULL,
	source      TEXT NOT NULL,
	payload     BYTEA NOT NULL,
	data_hash   TEXT NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	hit_count   INTEGER NOT NULL DEFAULT 0,
	last_hit_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id       TEXT NOT NULL,
	job_type      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	priority      INTEGER NOT NULL DEFAULT 0,
	target        JSONB NOT NULL,
	config        JSONB NOT NULL,
	result        JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	credits_used  INTEGER NOT NULL DEFAULT 0,
	scheduled_at  TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 3,
	next_retry_at TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS signal_events (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id         TEXT NOT NULL DEFAULT '',
	company_domain  TEXT NOT NULL DEFAULT '',
	signal_type     TEXT NOT NULL,
	signal_category TEXT NOT NULL,
	payload         JSONB NOT NULL,
	score_impact    INTEGER NOT NULL DEFAULT 0,
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	source          TEXT NOT NULL DEFAULT '',
	source_url      TEXT NOT NULL DEFAULT '',
	signal_date     TIMESTAMPTZ,
	detected_at     TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ,
	is_processed    BOOLEAN NOT NULL DEFAULT false,
	processed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS lead_scores (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id             TEXT NOT NULL,
	icp_id              TEXT NOT NULL DEFAULT '',
	intent_score        INTEGER NOT NULL,
	fit_score           INTEGER NOT NULL,
	accessibility_score INTEGER NOT NULL,
	total_score         INTEGER NOT NULL,
	tier                TEXT NOT NULL,
	breakdown           JSONB NOT NULL,
	active_signals      JSONB,
	previous_score      INTEGER,
	score_change        INTEGER,
	user_id             TEXT NOT NULL DEFAULT '',
	calculated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS discovered_leads (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id           TEXT NOT NULL,
	icp_id            TEXT NOT NULL DEFAULT '',
	company_name      TEXT NOT NULL,
	company_domain    TEXT NOT NULL DEFAULT '',
	company_linkedin  TEXT NOT NULL DEFAULT '',
	contact_name      TEXT NOT NULL DEFAULT '',
	contact_title     TEXT NOT NULL DEFAULT '',
	contact_email     TEXT NOT NULL DEFAULT '',
	contact_linkedin  TEXT NOT NULL DEFAULT '',
	company_data      JSONB,
	contact_data      JSONB,
	preliminary_score INTEGER NOT NULL DEFAULT 0,
	breakdown         JSONB NOT NULL,
	signals           JSONB,
	status            TEXT NOT NULL DEFAULT 'new',
	rejection_reason  TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL DEFAULT '',
	source_id         TEXT NOT NULL DEFAULT '',
	discovered_at     TIMESTAMPTZ NOT NULL,
	reviewed_at       TIMESTAMPTZ,
	accepted_at       TIMESTAMPTZ,
	converted_lead_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS credentials (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id           TEXT NOT NULL,
	service           TEXT NOT NULL,
	encrypted_key     BYTEA NOT NULL,
	key_suffix        TEXT NOT NULL,
	is_valid          BOOLEAN NOT NULL DEFAULT true,
	credits_remaining INTEGER,
	credits_limit     INTEGER,
	last_validated_at TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_icp_profiles_user ON icp_profiles(user_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_icp_profiles_default ON icp_profiles(user_id) WHERE is_default;
CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_user_domain ON leads(user_id, company_domain) WHERE company_domain != '';
CREATE INDEX IF NOT EXISTS idx_leads_user_folded ON leads(user_id, company_name_folded);
CREATE UNIQUE INDEX IF NOT EXISTS idx_cache_key ON enrichment_cache(entity_type, entity_key, source);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON enrichment_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, priority DESC, scheduled_at ASC);
CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_signals_lead ON signal_events(lead_id, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_signals_unprocessed ON signal_events(lead_id) WHERE NOT is_processed;
CREATE INDEX IF NOT EXISTS idx_scores_lead ON lead_scores(lead_id, calculated_at DESC);
CREATE INDEX IF NOT EXISTS idx_scores_user ON lead_scores(user_id);
CREATE INDEX IF NOT EXISTS idx_discovered_user_status ON discovered_leads(user_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_user_service ON credentials(user_id, service);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// ICP profiles

func (s *PostgresStore) CreateICP(ctx context.Context, p *model.ICPProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	filtersJSON, weightsJSON, err := marshalICPParts(p)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO icp_profiles (id, user_id, name, description, is_default, filters, weights, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.UserID, p.Name, p.Description, p.IsDefault, filtersJSON, weightsJSON, now, now,
	)
	return eris.Wrap(err, "postgres: insert icp profile")
}

func (s *PostgresStore) UpdateICP(ctx context.Context, p *model.ICPProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()

	filtersJSON, weightsJSON, err := marshalICPParts(p)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE icp_profiles SET name = $1, description = $2, filters = $3, weights = $4, updated_at = $5
		 WHERE id = $6 AND user_id = $7`,
		p.Name, p.Description, filtersJSON, weightsJSON, p.UpdatedAt, p.ID, p.UserID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update icp profile %s", p.ID)
	}
	return checkTag(tag, "icp profile", p.ID)
}

const icpColumns = `id, user_id, name, description, is_default, filters, weights, created_at, updated_at`

func (s *PostgresStore) GetICP(ctx context.Context, userID, id string) (*model.ICPProfile, error) {
	p, err := scanICP(s.pool.QueryRow(ctx,
		`SELECT `+icpColumns+` FROM icp_profiles WHERE id = $1 AND user_id = $2`, id, userID,
	))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "icp profile %s", id)
	}
	return p, err
}

func (s *PostgresStore) ListICPs(ctx context.Context, userID string) ([]model.ICPProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+icpColumns+` FROM icp_profiles WHERE user_id = $1 ORDER BY created_at ASC`, userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list icp profiles")
	}
	defer rows.Close()

	var profiles []model.ICPProfile
	for rows.Next() {
		p, err := scanICP(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, eris.Wrap(rows.Err(), "postgres: list icp profiles iterate")
}

func (s *PostgresStore) DeleteICP(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM icp_profiles WHERE id = $1 AND user_id = $2`, id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete icp profile %s", id)
	}
	return checkTag(tag, "icp profile", id)
}

func (s *PostgresStore) SetDefaultICP(ctx context.Context, userID, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin set default icp")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE icp_profiles SET is_default = false WHERE user_id = $1 AND is_default`, userID,
	); err != nil {
		return eris.Wrap(err, "postgres: clear default icp")
	}

	tag, err := tx.Exec(ctx,
		`UPDATE icp_profiles SET is_default = true, updated_at = $1 WHERE id = $2 AND user_id = $3`,
		time.Now().UTC(), id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set default icp %s", id)
	}
	if err := checkTag(tag, "icp profile", id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit set default icp")
}

func (s *PostgresStore) DefaultICP(ctx context.Context, userID string) (*model.ICPProfile, error) {
	p, err := scanICP(s.pool.QueryRow(ctx,
		`SELECT `+icpColumns+` FROM icp_profiles WHERE user_id = $1 AND is_default`, userID,
	))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "default icp for user %s", userID)
	}
	return p, err
}

// Leads

func (s *PostgresStore) CreateLead(ctx context.Context, l *model.Lead) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	companyJSON, contactsJSON, err := marshalLeadParts(l)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO leads (id, user_id, company_name, company_name_folded, company_domain,
		   contact_name, contact_title, contact_email, contact_linkedin,
		   company_data, contacts, source, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		l.ID, l.UserID, l.CompanyName, model.FoldCompanyName(l.CompanyName),
		model.NormalizeEntityKey(l.CompanyDomain),
		l.ContactName, l.ContactTitle, l.ContactEmail, l.ContactLinkedIn,
		companyJSON, contactsJSON, l.Source, now, now,
	)
	if err != nil && isUniqueViolation(err) {
		existing, lookupErr := s.FindLeadByDomain(ctx, l.UserID, l.CompanyDomain)
		if lookupErr == nil && existing != nil {
			return &DedupConflictError{ExistingLeadID: existing.ID}
		}
	}
	return eris.Wrap(err, "postgres: insert lead")
}

func (s *PostgresStore) UpdateLead(ctx context.Context, l *model.Lead) error {
	l.UpdatedAt = time.Now().UTC()

	companyJSON, contactsJSON, err := marshalLeadParts(l)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET company_name = $1, company_name_folded = $2, company_domain = $3,
		   contact_name = $4, contact_title = $5, contact_email = $6, contact_linkedin = $7,
		   company_data = $8, contacts = $9, updated_at = $10
		 WHERE id = $11 AND user_id = $12`,
		l.CompanyName, model.FoldCompanyName(l.CompanyName), model.NormalizeEntityKey(l.CompanyDomain),
		l.ContactName, l.ContactTitle, l.ContactEmail, l.ContactLinkedIn,
		companyJSON, contactsJSON, l.UpdatedAt, l.ID, l.UserID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", l.ID)
	}
	return checkTag(tag, "lead", l.ID)
}

func (s *PostgresStore) GetLead(ctx context.Context, userID, id string) (*model.Lead, error) {
	l, err := scanLead(s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1 AND user_id = $2`, id, userID,
	))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return l, err
}

func (s *PostgresStore) ListLeads(ctx context.Context, userID string, f LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE user_id = $1`
	args := []any{userID}

	if f.Source != "" {
		args = append(args, f.Source)
		query += ` AND source = $2`
	}
	args = append(args, defaultLimit(f.Limit), f.Offset)
	query += placeholderPair(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) FindLeadByDomain(ctx context.Context, userID, domain string) (*model.Lead, error) {
	domain = model.NormalizeEntityKey(domain)
	if domain == "" {
		return nil, nil
	}
	l, err := scanLead(s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE user_id = $1 AND company_domain = $2`,
		userID, domain,
	))
	if isNoRows(err) {
		return nil, nil
	}
	return l, err
}

func (s *PostgresStore) FindLeadByFoldedName(ctx context.Context, userID, foldedName string) (*model.Lead, error) {
	if foldedName == "" {
		return nil, nil
	}
	l, err := scanLead(s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE user_id = $1 AND company_name_folded = $2 LIMIT 1`,
		userID, foldedName,
	))
	if isNoRows(err) {
		return nil, nil
	}
	return l, err
}

// Enrichment cache

func (s *PostgresStore) GetCacheEntry(ctx context.Context, entityType model.EntityType, entityKey, source string) (*model.CacheEntry, error) {
	row := s.pool.QueryRow(ctx, "get_cache_entry",
		string(entityType), model.NormalizeEntityKey(entityKey), source,
	)

	return s.scanCacheRow(row)
}

func (s *PostgresStore) GetCacheEntryAny(ctx context.Context, entityType model.EntityType, entityKey, source string) (*model.CacheEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, entity_type, entity_key, source, payload, data_hash, fetched_at, expires_at, hit_count, last_hit_at
		 FROM enrichment_cache
		 WHERE entity_type = $1 AND entity_key = $2 AND source = $3`,
		string(entityType), model.NormalizeEntityKey(entityKey), source,
	)
	return s.scanCacheRow(row)
}

func (s *PostgresStore) scanCacheRow(row scannable) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var lastHit *time.Time
	err := row.Scan(&e.ID, &e.EntityType, &e.EntityKey, &e.Source, &e.Payload, &e.Hash,
		&e.FetchedAt, &e.ExpiresAt, &e.HitCount, &lastHit)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cache entry")
	}
	e.LastHitAt = lastHit
	return &e, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, e *model.CacheEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_cache (id, entity_type, entity_key, source, payload, data_hash, fetched_at, expires_at, hit_count, last_hit_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (entity_type, entity_key, source) DO UPDATE SET
		   payload = excluded.payload,
		   data_hash = excluded.data_hash,
		   fetched_at = excluded.fetched_at,
		   expires_at = excluded.expires_at`,
		e.ID, string(e.EntityType), model.NormalizeEntityKey(e.EntityKey), e.Source,
		e.Payload, e.Hash, e.FetchedAt, e.ExpiresAt, e.HitCount, e.LastHitAt,
	)
	return eris.Wrap(err, "postgres: put cache entry")
}

func (s *PostgresStore) RecordCacheHit(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, "record_cache_hit", at.UTC(), id)
	return eris.Wrap(err, "postgres: record cache hit")
}

func (s *PostgresStore) SweepCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM enrichment_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sweep cache")
	}
	return int(tag.RowsAffected()), nil
}

// Jobs

func (s *PostgresStore) EnqueueJob(ctx context.Context, j *model.Job) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	if j.ScheduledAt.IsZero() {
		j.ScheduledAt = now
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 3
	}
	j.Status = model.JobPending

	targetJSON, err := json.Marshal(j.Target)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job target")
	}
	configJSON, err := model.EncodeJobConfig(j.Config)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, job_type, status, priority, target, config,
		   scheduled_at, attempt_count, max_attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		j.ID, j.UserID, string(j.Kind), string(j.Status), j.Priority,
		string(targetJSON), string(configJSON), j.ScheduledAt, j.AttemptCount, j.MaxAttempts, now,
	)
	return eris.Wrap(err, "postgres: insert job")
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context) (*model.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, "claim_job"))
	if isNoRows(err) {
		return nil, nil
	}
	return j, err
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, result *model.JobResult, creditsUsed int) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job result")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', result = $1, credits_used = $2, completed_at = $3, error_message = ''
		 WHERE id = $4 AND status = 'running'`,
		string(resultJSON), creditsUsed, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	return checkTag(tag, "job", jobID)
}

func (s *PostgresStore) RescheduleJob(ctx context.Context, jobID, errMsg string, nextRetryAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'pending', error_message = $1, next_retry_at = $2, scheduled_at = $2, started_at = NULL
		 WHERE id = $3 AND status = 'running'`,
		errMsg, nextRetryAt.UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reschedule job %s", jobID)
	}
	return checkTag(tag, "job", jobID)
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', error_message = $1, completed_at = $2, attempt_count = max_attempts
		 WHERE id = $3 AND status = 'running'`,
		errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	return checkTag(tag, "job", jobID)
}

func (s *PostgresStore) CancelJob(ctx context.Context, userID, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'cancelled', completed_at = $1
		 WHERE id = $2 AND user_id = $3 AND status IN ('pending', 'running')`,
		time.Now().UTC(), jobID, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: cancel job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job %s is not cancellable or does not exist", jobID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, userID, jobID string) (*model.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2`, jobID, userID,
	))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return j, err
}

func (s *PostgresStore) ListJobs(ctx context.Context, userID string, f JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1`
	args := []any{userID}

	if f.Status != "" {
		args = append(args, string(f.Status))
		query += placeholder(` AND status = $%d`, len(args))
	}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		query += placeholder(` AND job_type = $%d`, len(args))
	}
	if f.LeadID != "" {
		args = append(args, f.LeadID)
		query += placeholder(` AND target->>'lead_id' = $%d`, len(args))
	}
	args = append(args, defaultLimit(f.Limit), f.Offset)
	query += placeholderPair(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// Signals

func (s *PostgresStore) AppendSignal(ctx context.Context, sig *model.SignalEvent) error {
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.DetectedAt.IsZero() {
		sig.DetectedAt = time.Now().UTC()
	}

	payloadJSON, err := model.EncodePayload(sig.Payload)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO signal_events (id, lead_id, company_domain, signal_type, signal_category,
		   payload, score_impact, confidence, source, source_url,
		   signal_date, detected_at, expires_at, is_processed, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sig.ID, sig.LeadID, model.NormalizeEntityKey(sig.CompanyDomain),
		string(sig.Type), string(sig.Category), string(payloadJSON),
		sig.ScoreImpact, sig.Confidence, sig.Source, sig.SourceURL,
		sig.SignalDate, sig.DetectedAt, sig.ExpiresAt, sig.Processed, sig.ProcessedAt,
	)
	return eris.Wrap(err, "postgres: insert signal")
}

const signalColumns = `id, lead_id, company_domain, signal_type, signal_category, payload,
	score_impact, confidence, source, source_url, signal_date, detected_at,
	expires_at, is_processed, processed_at`

func (s *PostgresStore) ListActiveSignals(ctx context.Context, leadID string, at time.Time) ([]model.SignalEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalColumns+` FROM signal_events
		 WHERE lead_id = $1 AND (expires_at IS NULL OR expires_at > $2)
		 ORDER BY detected_at DESC`,
		leadID, at.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active signals")
	}
	defer rows.Close()

	var signals []model.SignalEvent
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, *sig)
	}
	return signals, eris.Wrap(rows.Err(), "postgres: list active signals iterate")
}

func (s *PostgresStore) LeadsWithUnprocessedSignals(ctx context.Context) ([]LeadRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT se.lead_id, l.user_id FROM signal_events se
		 JOIN leads l ON l.id = se.lead_id
		 WHERE NOT se.is_processed AND se.lead_id != ''`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: leads with unprocessed signals")
	}
	defer rows.Close()

	var refs []LeadRef
	for rows.Next() {
		var ref LeadRef
		if err := rows.Scan(&ref.LeadID, &ref.UserID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead ref")
		}
		refs = append(refs, ref)
	}
	return refs, eris.Wrap(rows.Err(), "postgres: leads with unprocessed signals iterate")
}

func (s *PostgresStore) MarkSignalsProcessed(ctx context.Context, leadID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE signal_events SET is_processed = true, processed_at = $1
		 WHERE lead_id = $2 AND NOT is_processed`,
		at.UTC(), leadID,
	)
	return eris.Wrap(err, "postgres: mark signals processed")
}

// Scores

func (s *PostgresStore) AppendScore(ctx context.Context, score *model.LeadScore) error {
	if score.ID == "" {
		score.ID = uuid.New().String()
	}
	if score.CalculatedAt.IsZero() {
		score.CalculatedAt = time.Now().UTC()
	}

	breakdownJSON, err := json.Marshal(score.Breakdown)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal breakdown")
	}
	signalsJSON, err := json.Marshal(score.ActiveSignals)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal active signals")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO lead_scores (id, lead_id, icp_id, intent_score, fit_score, accessibility_score,
		   total_score, tier, breakdown, active_signals, previous_score, score_change, user_id, calculated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		   COALESCE((SELECT user_id FROM leads WHERE id = $2), ''), $13)`,
		score.ID, score.LeadID, score.ICPID, score.IntentScore, score.FitScore, score.AccessibilityScore,
		score.TotalScore, string(score.Tier), string(breakdownJSON), string(signalsJSON),
		score.PreviousScore, score.ScoreChange, score.CalculatedAt,
	)
	return eris.Wrap(err, "postgres: insert score")
}

func (s *PostgresStore) CurrentScore(ctx context.Context, leadID string) (*model.LeadScore, error) {
	score, err := scanScore(s.pool.QueryRow(ctx, "current_score", leadID))
	if isNoRows(err) {
		return nil, nil
	}
	return score, err
}

func (s *PostgresStore) ScoreHistory(ctx context.Context, leadID string, limit int) ([]model.LeadScore, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scoreColumns+` FROM lead_scores WHERE lead_id = $1
		 ORDER BY calculated_at DESC LIMIT $2`,
		leadID, defaultLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: score history")
	}
	defer rows.Close()

	var scores []model.LeadScore
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, *score)
	}
	return scores, eris.Wrap(rows.Err(), "postgres: score history iterate")
}

func (s *PostgresStore) TierDistribution(ctx context.Context, userID string) (map[model.Tier]model.TierStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tier, COUNT(*), AVG(total_score) FROM (
		   SELECT DISTINCT ON (lead_id) tier, total_score
		   FROM lead_scores WHERE user_id = $1
		   ORDER BY lead_id, calculated_at DESC
		 ) latest GROUP BY tier`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: tier distribution")
	}
	defer rows.Close()

	dist := make(map[model.Tier]model.TierStats)
	for rows.Next() {
		var tier string
		var st model.TierStats
		if err := rows.Scan(&tier, &st.Count, &st.AvgScore); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tier stats")
		}
		dist[model.Tier(tier)] = st
	}
	return dist, eris.Wrap(rows.Err(), "postgres: tier distribution iterate")
}

// Discovery staging

func (s *PostgresStore) StageDiscoveredLead(ctx context.Context, d *model.DiscoveredLead) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.DiscoveredAt.IsZero() {
		d.DiscoveredAt = time.Now().UTC()
	}
	if d.Status == "" {
		d.Status = model.DiscoveryNew
	}

	companyJSON, contactJSON, breakdownJSON, signalsJSON, err := marshalDiscoveredParts(d)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO discovered_leads (id, user_id, icp_id, company_name, company_domain, company_linkedin,
		   contact_name, contact_title, contact_email, contact_linkedin, company_data, contact_data,
		   preliminary_score, breakdown, signals, status, rejection_reason, source, source_id,
		   discovered_at, reviewed_at, accepted_at, converted_lead_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		d.ID, d.UserID, d.ICPID, d.CompanyName, model.NormalizeEntityKey(d.CompanyDomain), d.CompanyLinkedIn,
		d.ContactName, d.ContactTitle, d.ContactEmail, d.ContactLinkedIn, companyJSON, contactJSON,
		d.PreliminaryScore, breakdownJSON, signalsJSON, string(d.Status), d.RejectionReason, d.Source, d.SourceID,
		d.DiscoveredAt, d.ReviewedAt, d.AcceptedAt, d.ConvertedLeadID,
	)
	return eris.Wrap(err, "postgres: insert discovered lead")
}

func (s *PostgresStore) FindDiscoveredByDomain(ctx context.Context, userID, domain string) (*model.DiscoveredLead, error) {
	domain = model.NormalizeEntityKey(domain)
	if domain == "" {
		return nil, nil
	}
	d, err := scanDiscovered(s.pool.QueryRow(ctx,
		`SELECT `+discoveredColumns+` FROM discovered_leads WHERE user_id = $1 AND company_domain = $2
		 ORDER BY discovered_at DESC LIMIT 1`,
		userID, domain,
	))
	if isNoRows(err) {
		return nil, nil
	}
	return d, err
}

func (s *PostgresStore) GetDiscoveredLead(ctx context.Context, userID, id string) (*model.DiscoveredLead, error) {
	d, err := scanDiscovered(s.pool.QueryRow(ctx,
		`SELECT `+discoveredColumns+` FROM discovered_leads WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "discovered lead %s", id)
	}
	return d, err
}

func (s *PostgresStore) ListDiscoveredLeads(ctx context.Context, userID string, f DiscoveryFilter) ([]model.DiscoveredLead, error) {
	query := `SELECT ` + discoveredColumns + ` FROM discovered_leads WHERE user_id = $1`
	args := []any{userID}

	if f.Status != "" {
		args = append(args, string(f.Status))
		query += placeholder(` AND status = $%d`, len(args))
	}
	if f.ICPID != "" {
		args = append(args, f.ICPID)
		query += placeholder(` AND icp_id = $%d`, len(args))
	}
	if f.MinScore > 0 {
		args = append(args, f.MinScore)
		query += placeholder(` AND preliminary_score >= $%d`, len(args))
	}
	args = append(args, defaultLimit(f.Limit), f.Offset)
	query += placeholderPair(` ORDER BY preliminary_score DESC, discovered_at DESC LIMIT $%d OFFSET $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list discovered leads")
	}
	defer rows.Close()

	var leads []model.DiscoveredLead
	for rows.Next() {
		d, err := scanDiscovered(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *d)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list discovered leads iterate")
}

func (s *PostgresStore) UpdateDiscoveryStatus(ctx context.Context, userID, id string, status model.DiscoveryStatus, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovered_leads SET status = $1, rejection_reason = $2, reviewed_at = $3
		 WHERE id = $4 AND user_id = $5`,
		string(status), reason, time.Now().UTC(), id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update discovery status %s", id)
	}
	return checkTag(tag, "discovered lead", id)
}

func (s *PostgresStore) MarkDiscoveryDuplicate(ctx context.Context, userID, id, existingLeadID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovered_leads SET status = 'duplicate', converted_lead_id = $1, reviewed_at = $2
		 WHERE id = $3 AND user_id = $4`,
		existingLeadID, time.Now().UTC(), id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark discovery duplicate %s", id)
	}
	return checkTag(tag, "discovered lead", id)
}

func (s *PostgresStore) PromoteDiscoveredLead(ctx context.Context, userID, id string, lead *model.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	lead.CreatedAt = now
	lead.UpdatedAt = now

	companyJSON, contactsJSON, err := marshalLeadParts(lead)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin promote")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO leads (id, user_id, company_name, company_name_folded, company_domain,
		   contact_name, contact_title, contact_email, contact_linkedin,
		   company_data, contacts, source, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		lead.ID, lead.UserID, lead.CompanyName, model.FoldCompanyName(lead.CompanyName),
		model.NormalizeEntityKey(lead.CompanyDomain),
		lead.ContactName, lead.ContactTitle, lead.ContactEmail, lead.ContactLinkedIn,
		companyJSON, contactsJSON, lead.Source, now, now,
	); err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.FindLeadByDomain(ctx, lead.UserID, lead.CompanyDomain)
			if lookupErr == nil && existing != nil {
				return &DedupConflictError{ExistingLeadID: existing.ID}
			}
		}
		return eris.Wrap(err, "postgres: promote insert lead")
	}

	tag, err := tx.Exec(ctx,
		`UPDATE discovered_leads SET status = 'accepted', accepted_at = $1, reviewed_at = $1, converted_lead_id = $2
		 WHERE id = $3 AND user_id = $4 AND status IN ('new', 'reviewed')`,
		now, lead.ID, id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: promote mark accepted %s", id)
	}
	if err := checkTag(tag, "discovered lead", id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit promote")
}

// Credentials

func (s *PostgresStore) UpsertCredential(ctx context.Context, c *model.Credential) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (id, user_id, service, encrypted_key, key_suffix, is_valid,
		   credits_remaining, credits_limit, last_validated_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_id, service) DO UPDATE SET
		   encrypted_key = excluded.encrypted_key,
		   key_suffix = excluded.key_suffix,
		   is_valid = excluded.is_valid,
		   credits_remaining = excluded.credits_remaining,
		   credits_limit = excluded.credits_limit,
		   last_validated_at = excluded.last_validated_at,
		   updated_at = excluded.updated_at`,
		c.ID, c.UserID, c.Service, c.EncryptedKey, c.KeySuffix, c.IsValid,
		c.CreditsRemaining, c.CreditsLimit, c.LastValidatedAt, c.CreatedAt, c.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: upsert credential")
}

const credentialColumns = `id, user_id, service, encrypted_key, key_suffix, is_valid,
	credits_remaining, credits_limit, last_validated_at, created_at, updated_at`

func (s *PostgresStore) GetCredential(ctx context.Context, userID, service string) (*model.Credential, error) {
	c, err := scanCredential(s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE user_id = $1 AND service = $2`,
		userID, service,
	))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "credential %s/%s", userID, service)
	}
	return c, err
}

func (s *PostgresStore) ListCredentials(ctx context.Context, userID string) ([]model.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE user_id = $1 ORDER BY service ASC`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list credentials")
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *c)
	}
	return creds, eris.Wrap(rows.Err(), "postgres: list credentials iterate")
}

func (s *PostgresStore) DeleteCredential(ctx context.Context, userID, service string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM credentials WHERE user_id = $1 AND service = $2`, userID, service,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete credential %s", service)
	}
	return checkTag(tag, "credential", service)
}
