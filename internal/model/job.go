package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// JobKind enumerates the units of asynchronous work the queue executes.
type JobKind string

const (
	JobEnrichLead    JobKind = "enrich_lead"
	JobEnrichCompany JobKind = "enrich_company"
	JobFindContacts  JobKind = "find_contacts"
	JobVerifyEmail   JobKind = "verify_email"
	JobDetectSignals JobKind = "detect_signals"
	JobScoreLead     JobKind = "score_lead"
	JobDiscoverLeads JobKind = "discover_leads"
)

// JobStatus is the job state machine:
// pending -> running -> {completed | failed}; failed re-enqueues to pending
// while attempts remain; cancelled is terminal from pending or running.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled
}

// JobConfig is the closed set of per-kind job parameters. Each JobKind has
// exactly one config variant so the runner can dispatch exhaustively.
type JobConfig interface {
	Kind() JobKind
	Validate() error
}

// EnrichLeadConfig requests full enrichment (company + contacts) for a lead.
type EnrichLeadConfig struct {
	Sources []string `json:"sources,omitempty"`
}

func (EnrichLeadConfig) Kind() JobKind   { return JobEnrichLead }
func (EnrichLeadConfig) Validate() error { return nil }

// EnrichCompanyConfig requests company-only enrichment for a domain.
type EnrichCompanyConfig struct {
	Sources []string `json:"sources,omitempty"`
}

func (EnrichCompanyConfig) Kind() JobKind   { return JobEnrichCompany }
func (EnrichCompanyConfig) Validate() error { return nil }

// FindContactsConfig requests decision-maker lookup at a company.
type FindContactsConfig struct {
	Titles []string `json:"titles,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

func (FindContactsConfig) Kind() JobKind { return JobFindContacts }

func (c FindContactsConfig) Validate() error {
	if c.Limit < 0 || c.Limit > 25 {
		return eris.Errorf("find_contacts: limit %d out of range [0,25]", c.Limit)
	}
	return nil
}

// VerifyEmailConfig requests verification of a single address.
type VerifyEmailConfig struct {
	Email string `json:"email"`
}

func (VerifyEmailConfig) Kind() JobKind { return JobVerifyEmail }

func (c VerifyEmailConfig) Validate() error {
	if c.Email == "" {
		return eris.New("verify_email: email is required")
	}
	return nil
}

// DetectSignalsConfig requests a signal sweep over a company's cached data.
type DetectSignalsConfig struct {
	Sources []string `json:"sources,omitempty"`
}

func (DetectSignalsConfig) Kind() JobKind   { return JobDetectSignals }
func (DetectSignalsConfig) Validate() error { return nil }

// ScoreLeadConfig requests a fresh score snapshot. Scoring always appends a
// new LeadScore row; it is intentionally non-idempotent because scores decay
// as signals expire.
type ScoreLeadConfig struct {
	ICPID string `json:"icp_id,omitempty"`
}

func (ScoreLeadConfig) Kind() JobKind   { return JobScoreLead }
func (ScoreLeadConfig) Validate() error { return nil }

// DiscoverLeadsConfig requests ICP-driven discovery of new candidates.
type DiscoverLeadsConfig struct {
	Limit    int      `json:"limit,omitempty"`
	MinScore int      `json:"min_score,omitempty"`
	Sources  []string `json:"sources,omitempty"`
}

func (DiscoverLeadsConfig) Kind() JobKind { return JobDiscoverLeads }

func (c DiscoverLeadsConfig) Validate() error {
	if c.Limit < 0 || c.Limit > 100 {
		return eris.Errorf("discover_leads: limit %d out of range [0,100]", c.Limit)
	}
	if c.MinScore < 0 || c.MinScore > 100 {
		return eris.Errorf("discover_leads: min_score %d out of range [0,100]", c.MinScore)
	}
	return nil
}

// JobTarget identifies what a job operates on. Fields are optional and
// kind-dependent.
type JobTarget struct {
	LeadID        string `json:"lead_id,omitempty"`
	CompanyDomain string `json:"company_domain,omitempty"`
	ICPID         string `json:"icp_id,omitempty"`
	Email         string `json:"email,omitempty"`
}

// JobResult summarizes a completed job. Enrichment is additive: a job that
// succeeded on some sources and failed on others still completes, with the
// failures noted.
type JobResult struct {
	SourcesUsed   []string `json:"sources_used,omitempty"`
	SourcesFailed []string `json:"sources_failed,omitempty"`
	CreditsUsed   int      `json:"credits_used,omitempty"`
	CacheHits     int      `json:"cache_hits,omitempty"`
	SignalsFound  int      `json:"signals_found,omitempty"`
	ContactsFound int      `json:"contacts_found,omitempty"`
	LeadsStaged   int      `json:"leads_staged,omitempty"`
	Duplicates    int      `json:"duplicates,omitempty"`
	JobsEnqueued  int      `json:"jobs_enqueued,omitempty"`
	Score         *int     `json:"score,omitempty"`
	Tier          Tier     `json:"tier,omitempty"`
	EmailValid    *bool    `json:"email_valid,omitempty"`
	Detail        string   `json:"detail,omitempty"`
}

// Job is one persisted unit of asynchronous work.
type Job struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Kind     JobKind   `json:"job_type"`
	Status   JobStatus `json:"status"`
	Priority int       `json:"priority"`

	Target JobTarget `json:"target"`
	Config JobConfig `json:"config"`

	Result       *JobResult `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreditsUsed  int        `json:"credits_used"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Retriable reports whether a failed job still has attempts left.
func (j *Job) Retriable() bool {
	return j.Status == JobFailed && j.AttemptCount < j.MaxAttempts
}

type jobConfigEnvelope struct {
	Kind JobKind         `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeJobConfig serializes a typed config with its kind tag.
func EncodeJobConfig(c JobConfig) ([]byte, error) {
	if c == nil {
		return nil, eris.New("job: nil config")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, eris.Wrap(err, "job: marshal config")
	}
	return json.Marshal(jobConfigEnvelope{Kind: c.Kind(), Data: data})
}

// ConfigForKind returns the empty concrete config variant for a kind.
func ConfigForKind(kind JobKind) (JobConfig, error) {
	switch kind {
	case JobEnrichLead:
		return &EnrichLeadConfig{}, nil
	case JobEnrichCompany:
		return &EnrichCompanyConfig{}, nil
	case JobFindContacts:
		return &FindContactsConfig{}, nil
	case JobVerifyEmail:
		return &VerifyEmailConfig{}, nil
	case JobDetectSignals:
		return &DetectSignalsConfig{}, nil
	case JobScoreLead:
		return &ScoreLeadConfig{}, nil
	case JobDiscoverLeads:
		return &DiscoverLeadsConfig{}, nil
	default:
		return nil, eris.Errorf("job: unknown kind %q", kind)
	}
}

// DecodeJobConfig restores the concrete config variant for a kind envelope.
func DecodeJobConfig(raw []byte) (JobConfig, error) {
	var env jobConfigEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, eris.Wrap(err, "job: unmarshal envelope")
	}

	c, err := ConfigForKind(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Data, c); err != nil {
		return nil, eris.Wrapf(err, "job: unmarshal %s config", env.Kind)
	}
	return c, nil
}
