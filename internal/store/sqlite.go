package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// One connection serializes writers, so concurrent claims queue on
	// the pool instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS icp_profiles (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_default  INTEGER NOT NULL DEFAULT 0,
	filters     TEXT NOT NULL,
	weights     TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS leads (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	company_name        TEXT NOT NULL,
	company_name_folded TEXT NOT NULL,
	company_domain      TEXT NOT NULL DEFAULT '',
	contact_name        TEXT NOT NULL DEFAULT '',
	contact_title       TEXT NOT NULL DEFAULT '',
	contact_email       TEXT NOT NULL DEFAULT '',
	contact_linkedin    TEXT NOT NULL DEFAULT '',
	company_data        TEXT,
	contacts            TEXT,
	source              TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS enrichment_cache (
	id          TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_key  TEXT NOT NULL,
	source      TEXT NOT NULL,
	payload     BLOB NOT NULL,
	data_hash   TEXT NOT NULL,
	fetched_at  DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL,
	hit_count   INTEGER NOT NULL DEFAULT 0,
	last_hit_at DATETIME
);

CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	job_type      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	priority      INTEGER NOT NULL DEFAULT 0,
	target        TEXT NOT NULL,
	config        TEXT NOT NULL,
	result        TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	credits_used  INTEGER NOT NULL DEFAULT 0,
	scheduled_at  DATETIME NOT NULL,
	started_at    DATETIME,
	completed_at  DATETIME,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 3,
	next_retry_at DATETIME,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS signal_events (
	id              TEXT PRIMARY KEY,
	lead_id         TEXT NOT NULL DEFAULT '',
	company_domain  TEXT NOT NULL DEFAULT '',
	signal_type     TEXT NOT NULL,
	signal_category TEXT NOT NULL,
	payload         TEXT NOT NULL,
	score_impact    INTEGER NOT NULL DEFAULT 0,
	confidence      REAL NOT NULL DEFAULT 1.0,
	source          TEXT NOT NULL DEFAULT '',
	source_url      TEXT NOT NULL DEFAULT '',
	signal_date     DATETIME,
	detected_at     DATETIME NOT NULL,
	expires_at      DATETIME,
	is_processed    INTEGER NOT NULL DEFAULT 0,
	processed_at    DATETIME
);

CREATE TABLE IF NOT EXISTS lead_scores (
	id                  TEXT PRIMARY KEY,
	lead_id             TEXT NOT NULL,
	icp_id              TEXT NOT NULL DEFAULT '',
	intent_score        INTEGER NOT NULL,
	fit_score           INTEGER NOT NULL,
	accessibility_score INTEGER NOT NULL,
	total_score         INTEGER NOT NULL,
	tier                TEXT NOT NULL,
	breakdown           TEXT NOT NULL,
	active_signals      TEXT,
	previous_score      INTEGER,
	score_change        INTEGER,
	user_id             TEXT NOT NULL DEFAULT '',
	calculated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS discovered_leads (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	icp_id            TEXT NOT NULL DEFAULT '',
	company_name      TEXT NOT NULL,
	company_domain    TEXT NOT NULL DEFAULT '',
	company_linkedin  TEXT NOT NULL DEFAULT '',
	contact_name      TEXT NOT NULL DEFAULT '',
	contact_title     TEXT NOT NULL DEFAULT '',
	contact_email     TEXT NOT NULL DEFAULT '',
	contact_linkedin  TEXT NOT NULL DEFAULT '',
	company_data      TEXT,
	contact_data      TEXT,
	preliminary_score INTEGER NOT NULL DEFAULT 0,
	breakdown         TEXT NOT NULL,
	signals           TEXT,
	status            TEXT NOT NULL DEFAULT 'new',
	rejection_reason  TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL DEFAULT '',
	source_id         TEXT NOT NULL DEFAULT '',
	discovered_at     DATETIME NOT NULL,
	reviewed_at       DATETIME,
	accepted_at       DATETIME,
	converted_lead_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS credentials (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	service           TEXT NOT NULL,
	encrypted_key     BLOB NOT NULL,
	key_suffix        TEXT NOT NULL,
	is_valid          INTEGER NOT NULL DEFAULT 1,
	credits_remaining INTEGER,
	credits_limit     INTEGER,
	last_validated_at DATETIME,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_icp_profiles_user ON icp_profiles(user_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_icp_profiles_default ON icp_profiles(user_id) WHERE is_default = 1;
CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_user_domain ON leads(user_id, company_domain) WHERE company_domain != '';
CREATE INDEX IF NOT EXISTS idx_leads_user_folded ON leads(user_id, company_name_folded);
CREATE UNIQUE INDEX IF NOT EXISTS idx_cache_key ON enrichment_cache(entity_type, entity_key, source);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON enrichment_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, priority DESC, scheduled_at ASC);
CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_signals_lead ON signal_events(lead_id, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_signals_unprocessed ON signal_events(lead_id) WHERE is_processed = 0;
CREATE INDEX IF NOT EXISTS idx_scores_lead ON lead_scores(lead_id, calculated_at DESC);
CREATE INDEX IF NOT EXISTS idx_scores_user ON lead_scores(user_id);
CREATE INDEX IF NOT EXISTS idx_discovered_user_status ON discovered_leads(user_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_user_service ON credentials(user_id, service);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ICP profiles

func (s *SQLiteStore) CreateICP(ctx context.Context, p *model.ICPProfile) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO icp_profiles (id, user_id, name, description, is_default, filters, weights, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Description, p.IsDefault, filtersJSON, weightsJSON, now, now,
	)
	return eris.Wrap(err, "sqlite: insert icp profile")
}

func (s *SQLiteStore) UpdateICP(ctx context.Context, p *model.ICPProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()

	filtersJSON, weightsJSON, err := marshalICPParts(p)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE icp_profiles SET name = ?, description = ?, filters = ?, weights = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		p.Name, p.Description, filtersJSON, weightsJSON, p.UpdatedAt, p.ID, p.UserID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update icp profile %s", p.ID)
	}
	return checkRowsAffected(res, "icp profile", p.ID)
}

func (s *SQLiteStore) GetICP(ctx context.Context, userID, id string) (*model.ICPProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, description, is_default, filters, weights, created_at, updated_at
		 FROM icp_profiles WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	p, err := scanICP(row)
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "icp profile %s", id)
	}
	return p, err
}

func (s *SQLiteStore) ListICPs(ctx context.Context, userID string) ([]model.ICPProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, description, is_default, filters, weights, created_at, updated_at
		 FROM icp_profiles WHERE user_id = ? ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list icp profiles")
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
	return profiles, eris.Wrap(rows.Err(), "sqlite: list icp profiles iterate")
}

func (s *SQLiteStore) DeleteICP(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM icp_profiles WHERE id = ? AND user_id = ?`, id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete icp profile %s", id)
	}
	return checkRowsAffected(res, "icp profile", id)
}

func (s *SQLiteStore) SetDefaultICP(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin set default icp")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE icp_profiles SET is_default = 0 WHERE user_id = ? AND is_default = 1`, userID,
	); err != nil {
		return eris.Wrap(err, "sqlite: clear default icp")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE icp_profiles SET is_default = 1, updated_at = ? WHERE id = ? AND user_id = ?`,
		time.Now().UTC(), id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set default icp %s", id)
	}
	if err := checkRowsAffected(res, "icp profile", id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit set default icp")
}

func (s *SQLiteStore) DefaultICP(ctx context.Context, userID string) (*model.ICPProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, description, is_default, filters, weights, created_at, updated_at
		 FROM icp_profiles WHERE user_id = ? AND is_default = 1`,
		userID,
	)
	p, err := scanICP(row)
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "default icp for user %s", userID)
	}
	return p, err
}

// Leads

func (s *SQLiteStore) CreateLead(ctx context.Context, l *model.Lead) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, user_id, company_name, company_name_folded, company_domain,
		   contact_name, contact_title, contact_email, contact_linkedin,
		   company_data, contacts, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
	return eris.Wrap(err, "sqlite: insert lead")
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, l *model.Lead) error {
	l.UpdatedAt = time.Now().UTC()

	companyJSON, contactsJSON, err := marshalLeadParts(l)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET company_name = ?, company_name_folded = ?, company_domain = ?,
		   contact_name = ?, contact_title = ?, contact_email = ?, contact_linkedin = ?,
		   company_data = ?, contacts = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		l.CompanyName, model.FoldCompanyName(l.CompanyName), model.NormalizeEntityKey(l.CompanyDomain),
		l.ContactName, l.ContactTitle, l.ContactEmail, l.ContactLinkedIn,
		companyJSON, contactsJSON, l.UpdatedAt, l.ID, l.UserID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", l.ID)
	}
	return checkRowsAffected(res, "lead", l.ID)
}

const leadColumns = `id, user_id, company_name, company_domain, contact_name, contact_title,
	contact_email, contact_linkedin, company_data, contacts, source, created_at, updated_at`

func (s *SQLiteStore) GetLead(ctx context.Context, userID, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ? AND user_id = ?`, id, userID,
	)
	l, err := scanLead(row)
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return l, err
}

func (s *SQLiteStore) ListLeads(ctx context.Context, userID string, f LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE user_id = ?`
	args := []any{userID}

	if f.Source != "" {
		query += ` AND source = ?`
		args = append(args, f.Source)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, defaultLimit(f.Limit))
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
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
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) FindLeadByDomain(ctx context.Context, userID, domain string) (*model.Lead, error) {
	domain = model.NormalizeEntityKey(domain)
	if domain == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE user_id = ? AND company_domain = ?`,
		userID, domain,
	)
	l, err := scanLead(row)
	if isNoRows(err) {
		return nil, nil
	}
	return l, err
}

func (s *SQLiteStore) FindLeadByFoldedName(ctx context.Context, userID, foldedName string) (*model.Lead, error) {
	if foldedName == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE user_id = ? AND company_name_folded = ? LIMIT 1`,
		userID, foldedName,
	)
	l, err := scanLead(row)
	if isNoRows(err) {
		return nil, nil
	}
	return l, err
}

// Enrichment cache

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, entityType model.EntityType, entityKey, source string) (*model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_type, entity_key, source, payload, data_hash, fetched_at, expires_at, hit_count, last_hit_at
		 FROM enrichment_cache
		 WHERE entity_type = ? AND entity_key = ? AND source = ? AND expires_at > ?`,
		string(entityType), model.NormalizeEntityKey(entityKey), source, time.Now().UTC(),
	)
	return s.scanCacheRow(row)
}

func (s *SQLiteStore) GetCacheEntryAny(ctx context.Context, entityType model.EntityType, entityKey, source string) (*model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_type, entity_key, source, payload, data_hash, fetched_at, expires_at, hit_count, last_hit_at
		 FROM enrichment_cache
		 WHERE entity_type = ? AND entity_key = ? AND source = ?`,
		string(entityType), model.NormalizeEntityKey(entityKey), source,
	)
	return s.scanCacheRow(row)
}

func (s *SQLiteStore) scanCacheRow(row scannable) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var lastHit sql.NullTime
	err := row.Scan(&e.ID, &e.EntityType, &e.EntityKey, &e.Source, &e.Payload, &e.Hash,
		&e.FetchedAt, &e.ExpiresAt, &e.HitCount, &lastHit)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache entry")
	}
	if lastHit.Valid {
		e.LastHitAt = &lastHit.Time
	}
	return &e, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, e *model.CacheEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_cache (id, entity_type, entity_key, source, payload, data_hash, fetched_at, expires_at, hit_count, last_hit_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (entity_type, entity_key, source) DO UPDATE SET
		   payload = excluded.payload,
		   data_hash = excluded.data_hash,
		   fetched_at = excluded.fetched_at,
		   expires_at = excluded.expires_at`,
		e.ID, string(e.EntityType), model.NormalizeEntityKey(e.EntityKey), e.Source,
		e.Payload, e.Hash, e.FetchedAt, e.ExpiresAt, e.HitCount, nullTime(e.LastHitAt),
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

func (s *SQLiteStore) RecordCacheHit(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_cache SET hit_count = hit_count + 1, last_hit_at = ? WHERE id = ?`,
		at.UTC(), id,
	)
	return eris.Wrap(err, "sqlite: record cache hit")
}

func (s *SQLiteStore) SweepCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM enrichment_cache WHERE expires_at <= ?`, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sweep cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: sweep cache rows affected")
}

// Jobs

func (s *SQLiteStore) EnqueueJob(ctx context.Context, j *model.Job) error {
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
		return eris.Wrap(err, "sqlite: marshal job target")
	}
	configJSON, err := model.EncodeJobConfig(j.Config)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, user_id, job_type, status, priority, target, config,
		   scheduled_at, attempt_count, max_attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, string(j.Kind), string(j.Status), j.Priority,
		string(targetJSON), string(configJSON), j.ScheduledAt, j.AttemptCount, j.MaxAttempts, now,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

const jobColumns = `id, user_id, job_type, status, priority, target, config, result,
	error_message, credits_used, scheduled_at, started_at, completed_at,
	attempt_count, max_attempts, next_retry_at, created_at`

func (s *SQLiteStore) ClaimNextJob(ctx context.Context) (*model.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin claim")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE status = 'pending' AND scheduled_at <= ?
		 ORDER BY priority DESC, scheduled_at ASC LIMIT 1`,
		now,
	).Scan(&id)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select claimable job")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'running', started_at = ?, attempt_count = attempt_count + 1
		 WHERE id = ? AND status = 'pending'`,
		now, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: claim job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim rows affected")
	}
	if n == 0 {
		// Another worker won the race.
		return nil, nil
	}

	j, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit claim")
	}
	return j, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, result *model.JobResult, creditsUsed int) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job result")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', result = ?, credits_used = ?, completed_at = ?, error_message = ''
		 WHERE id = ? AND status = 'running'`,
		string(resultJSON), creditsUsed, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) RescheduleJob(ctx context.Context, jobID, errMsg string, nextRetryAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', error_message = ?, next_retry_at = ?, scheduled_at = ?, started_at = NULL
		 WHERE id = ? AND status = 'running'`,
		errMsg, nextRetryAt.UTC(), nextRetryAt.UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reschedule job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', error_message = ?, completed_at = ?, attempt_count = max_attempts
		 WHERE id = ? AND status = 'running'`,
		errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) CancelJob(ctx context.Context, userID, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'cancelled', completed_at = ?
		 WHERE id = ? AND user_id = ? AND status IN ('pending', 'running')`,
		time.Now().UTC(), jobID, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: cancel job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: cancel rows affected")
	}
	if n == 0 {
		return eris.Errorf("job %s is not cancellable or does not exist", jobID)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, userID, jobID string) (*model.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ? AND user_id = ?`, jobID, userID,
	))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return j, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context, userID string, f JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = ?`
	args := []any{userID}

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		query += ` AND job_type = ?`
		args = append(args, string(f.Kind))
	}
	if f.LeadID != "" {
		query += ` AND json_extract(target, '$.lead_id') = ?`
		args = append(args, f.LeadID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, defaultLimit(f.Limit))
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
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
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// Signals

func (s *SQLiteStore) AppendSignal(ctx context.Context, sig *model.SignalEvent) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO signal_events (id, lead_id, company_domain, signal_type, signal_category,
		   payload, score_impact, confidence, source, source_url,
		   signal_date, detected_at, expires_at, is_processed, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.LeadID, model.NormalizeEntityKey(sig.CompanyDomain),
		string(sig.Type), string(sig.Category), string(payloadJSON),
		sig.ScoreImpact, sig.Confidence, sig.Source, sig.SourceURL,
		nullTime(sig.SignalDate), sig.DetectedAt, nullTime(sig.ExpiresAt),
		sig.Processed, nullTime(sig.ProcessedAt),
	)
	return eris.Wrap(err, "sqlite: insert signal")
}

func (s *SQLiteStore) ListActiveSignals(ctx context.Context, leadID string, at time.Time) ([]model.SignalEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, company_domain, signal_type, signal_category, payload,
		   score_impact, confidence, source, source_url, signal_date, detected_at,
		   expires_at, is_processed, processed_at
		 FROM signal_events
		 WHERE lead_id = ? AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY detected_at DESC`,
		leadID, at.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active signals")
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
	return signals, eris.Wrap(rows.Err(), "sqlite: list active signals iterate")
}

func (s *SQLiteStore) LeadsWithUnprocessedSignals(ctx context.Context) ([]LeadRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT se.lead_id, l.user_id FROM signal_events se
		 JOIN leads l ON l.id = se.lead_id
		 WHERE se.is_processed = 0 AND se.lead_id != ''`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: leads with unprocessed signals")
	}
	defer rows.Close()

	var refs []LeadRef
	for rows.Next() {
		var ref LeadRef
		if err := rows.Scan(&ref.LeadID, &ref.UserID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead ref")
		}
		refs = append(refs, ref)
	}
	return refs, eris.Wrap(rows.Err(), "sqlite: leads with unprocessed signals iterate")
}

func (s *SQLiteStore) MarkSignalsProcessed(ctx context.Context, leadID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE signal_events SET is_processed = 1, processed_at = ?
		 WHERE lead_id = ? AND is_processed = 0`,
		at.UTC(), leadID,
	)
	return eris.Wrap(err, "sqlite: mark signals processed")
}

// Scores

func (s *SQLiteStore) AppendScore(ctx context.Context, score *model.LeadScore) error {
	if score.ID == "" {
		score.ID = uuid.New().String()
	}
	if score.CalculatedAt.IsZero() {
		score.CalculatedAt = time.Now().UTC()
	}

	breakdownJSON, err := json.Marshal(score.Breakdown)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal breakdown")
	}
	signalsJSON, err := json.Marshal(score.ActiveSignals)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal active signals")
	}

	var userID string
	err = s.db.QueryRowContext(ctx, `SELECT user_id FROM leads WHERE id = ?`, score.LeadID).Scan(&userID)
	if err != nil && err != sql.ErrNoRows {
		return eris.Wrap(err, "sqlite: resolve score user")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lead_scores (id, lead_id, icp_id, intent_score, fit_score, accessibility_score,
		   total_score, tier, breakdown, active_signals, previous_score, score_change, user_id, calculated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		score.ID, score.LeadID, score.ICPID, score.IntentScore, score.FitScore, score.AccessibilityScore,
		score.TotalScore, string(score.Tier), string(breakdownJSON), string(signalsJSON),
		nullInt(score.PreviousScore), nullInt(score.ScoreChange), userID, score.CalculatedAt,
	)
	return eris.Wrap(err, "sqlite: insert score")
}

const scoreColumns = `id, lead_id, icp_id, intent_score, fit_score, accessibility_score,
	total_score, tier, breakdown, active_signals, previous_score, score_change, calculated_at`

func (s *SQLiteStore) CurrentScore(ctx context.Context, leadID string) (*model.LeadScore, error) {
	score, err := scanScore(s.db.QueryRowContext(ctx,
		`SELECT `+scoreColumns+` FROM lead_scores WHERE lead_id = ?
		 ORDER BY calculated_at DESC LIMIT 1`,
		leadID,
	))
	if isNoRows(err) {
		return nil, nil
	}
	return score, err
}

func (s *SQLiteStore) ScoreHistory(ctx context.Context, leadID string, limit int) ([]model.LeadScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scoreColumns+` FROM lead_scores WHERE lead_id = ?
		 ORDER BY calculated_at DESC LIMIT ?`,
		leadID, defaultLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: score history")
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
	return scores, eris.Wrap(rows.Err(), "sqlite: score history iterate")
}

func (s *SQLiteStore) TierDistribution(ctx context.Context, userID string) (map[model.Tier]model.TierStats, error) {
	// Latest score per lead, bucketed by tier.
	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, COUNT(*), AVG(total_score) FROM (
		   SELECT lead_id, tier, total_score,
		     ROW_NUMBER() OVER (PARTITION BY lead_id ORDER BY calculated_at DESC) AS rn
		   FROM lead_scores WHERE user_id = ?
		 ) WHERE rn = 1 GROUP BY tier`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: tier distribution")
	}
	defer rows.Close()

	dist := make(map[model.Tier]model.TierStats)
	for rows.Next() {
		var tier string
		var st model.TierStats
		if err := rows.Scan(&tier, &st.Count, &st.AvgScore); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tier stats")
		}
		dist[model.Tier(tier)] = st
	}
	return dist, eris.Wrap(rows.Err(), "sqlite: tier distribution iterate")
}

// Discovery staging

func (s *SQLiteStore) StageDiscoveredLead(ctx context.Context, d *model.DiscoveredLead) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO discovered_leads (id, user_id, icp_id, company_name, company_domain, company_linkedin,
		   contact_name, contact_title, contact_email, contact_linkedin, company_data, contact_data,
		   preliminary_score, breakdown, signals, status, rejection_reason, source, source_id,
		   discovered_at, reviewed_at, accepted_at, converted_lead_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.ICPID, d.CompanyName, model.NormalizeEntityKey(d.CompanyDomain), d.CompanyLinkedIn,
		d.ContactName, d.ContactTitle, d.ContactEmail, d.ContactLinkedIn, companyJSON, contactJSON,
		d.PreliminaryScore, breakdownJSON, signalsJSON, string(d.Status), d.RejectionReason, d.Source, d.SourceID,
		d.DiscoveredAt, nullTime(d.ReviewedAt), nullTime(d.AcceptedAt), d.ConvertedLeadID,
	)
	return eris.Wrap(err, "sqlite: insert discovered lead")
}

const discoveredColumns = `id, user_id, icp_id, company_name, company_domain, company_linkedin,
	contact_name, contact_title, contact_email, contact_linkedin, company_data, contact_data,
	preliminary_score, breakdown, signals, status, rejection_reason, source, source_id,
	discovered_at, reviewed_at, accepted_at, converted_lead_id`

func (s *SQLiteStore) FindDiscoveredByDomain(ctx context.Context, userID, domain string) (*model.DiscoveredLead, error) {
	domain = model.NormalizeEntityKey(domain)
	if domain == "" {
		return nil, nil
	}
	d, err := scanDiscovered(s.db.QueryRowContext(ctx,
		`SELECT `+discoveredColumns+` FROM discovered_leads WHERE user_id = ? AND company_domain = ?
		 ORDER BY discovered_at DESC LIMIT 1`,
		userID, domain,
	))
	if isNoRows(err) {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStore) GetDiscoveredLead(ctx context.Context, userID, id string) (*model.DiscoveredLead, error) {
	d, err := scanDiscovered(s.db.QueryRowContext(ctx,
		`SELECT `+discoveredColumns+` FROM discovered_leads WHERE id = ? AND user_id = ?`,
		id, userID,
	))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "discovered lead %s", id)
	}
	return d, err
}

func (s *SQLiteStore) ListDiscoveredLeads(ctx context.Context, userID string, f DiscoveryFilter) ([]model.DiscoveredLead, error) {
	query := `SELECT ` + discoveredColumns + ` FROM discovered_leads WHERE user_id = ?`
	args := []any{userID}

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.ICPID != "" {
		query += ` AND icp_id = ?`
		args = append(args, f.ICPID)
	}
	if f.MinScore > 0 {
		query += ` AND preliminary_score >= ?`
		args = append(args, f.MinScore)
	}
	query += ` ORDER BY preliminary_score DESC, discovered_at DESC LIMIT ?`
	args = append(args, defaultLimit(f.Limit))
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list discovered leads")
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
	return leads, eris.Wrap(rows.Err(), "sqlite: list discovered leads iterate")
}

func (s *SQLiteStore) UpdateDiscoveryStatus(ctx context.Context, userID, id string, status model.DiscoveryStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovered_leads SET status = ?, rejection_reason = ?, reviewed_at = ?
		 WHERE id = ? AND user_id = ?`,
		string(status), reason, time.Now().UTC(), id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update discovery status %s", id)
	}
	return checkRowsAffected(res, "discovered lead", id)
}

func (s *SQLiteStore) MarkDiscoveryDuplicate(ctx context.Context, userID, id, existingLeadID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovered_leads SET status = 'duplicate', converted_lead_id = ?, reviewed_at = ?
		 WHERE id = ? AND user_id = ?`,
		existingLeadID, time.Now().UTC(), id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark discovery duplicate %s", id)
	}
	return checkRowsAffected(res, "discovered lead", id)
}

func (s *SQLiteStore) PromoteDiscoveredLead(ctx context.Context, userID, id string, lead *model.Lead) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin promote")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO leads (id, user_id, company_name, company_name_folded, company_domain,
		   contact_name, contact_title, contact_email, contact_linkedin,
		   company_data, contacts, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
		return eris.Wrap(err, "sqlite: promote insert lead")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE discovered_leads SET status = 'accepted', accepted_at = ?, reviewed_at = ?, converted_lead_id = ?
		 WHERE id = ? AND user_id = ? AND status IN ('new', 'reviewed')`,
		now, now, lead.ID, id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: promote mark accepted %s", id)
	}
	if err := checkRowsAffected(res, "discovered lead", id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit promote")
}

// Credentials

func (s *SQLiteStore) UpsertCredential(ctx context.Context, c *model.Credential) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, user_id, service, encrypted_key, key_suffix, is_valid,
		   credits_remaining, credits_limit, last_validated_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, service) DO UPDATE SET
		   encrypted_key = excluded.encrypted_key,
		   key_suffix = excluded.key_suffix,
		   is_valid = excluded.is_valid,
		   credits_remaining = excluded.credits_remaining,
		   credits_limit = excluded.credits_limit,
		   last_validated_at = excluded.last_validated_at,
		   updated_at = excluded.updated_at`,
		c.ID, c.UserID, c.Service, c.EncryptedKey, c.KeySuffix, c.IsValid,
		nullInt(c.CreditsRemaining), nullInt(c.CreditsLimit), nullTime(c.LastValidatedAt),
		c.CreatedAt, c.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: upsert credential")
}

func (s *SQLiteStore) GetCredential(ctx context.Context, userID, service string) (*model.Credential, error) {
	c, err := scanCredential(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, service, encrypted_key, key_suffix, is_valid,
		   credits_remaining, credits_limit, last_validated_at, created_at, updated_at
		 FROM credentials WHERE user_id = ? AND service = ?`,
		userID, service,
	))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "credential %s/%s", userID, service)
	}
	return c, err
}

func (s *SQLiteStore) ListCredentials(ctx context.Context, userID string) ([]model.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, service, encrypted_key, key_suffix, is_valid,
		   credits_remaining, credits_limit, last_validated_at, created_at, updated_at
		 FROM credentials WHERE user_id = ? ORDER BY service ASC`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list credentials")
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
	return creds, eris.Wrap(rows.Err(), "sqlite: list credentials iterate")
}

func (s *SQLiteStore) DeleteCredential(ctx context.Context, userID, service string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE user_id = ? AND service = ?`, userID, service,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete credential %s", service)
	}
	return checkRowsAffected(res, "credential", service)
}
