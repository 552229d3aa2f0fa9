// Package queue runs the persisted job queue: submission with typed-config
// validation, a bounded worker pool, retry with exponential backoff, and
// the periodic maintenance loops (cache sweep, signal-driven re-scoring).
package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Config tunes the worker pool and maintenance intervals.
type Config struct {
	Workers         int                      `yaml:"workers" mapstructure:"workers"`
	PollInterval    time.Duration            `yaml:"poll_interval" mapstructure:"poll_interval"`
	JobTimeout      time.Duration            `yaml:"job_timeout" mapstructure:"job_timeout"`
	SweepInterval   time.Duration            `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	RescoreInterval time.Duration            `yaml:"rescore_interval" mapstructure:"rescore_interval"`
	Backoff         resilience.BackoffConfig `yaml:"-" mapstructure:"-"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		PollInterval:    2 * time.Second,
		JobTimeout:      2 * time.Minute,
		SweepInterval:   time.Hour,
		RescoreInterval: 15 * time.Minute,
		Backoff:         resilience.DefaultBackoffConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.RescoreInterval <= 0 {
		c.RescoreInterval = d.RescoreInterval
	}
	return c
}

// ValidationError rejects a job at submission time, before anything is
// persisted. It is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "queue: invalid job: " + e.Msg
}

// Runner executes one claimed job and returns its result. A nil error
// completes the job; resilience classification of the returned error
// decides between retry and terminal failure.
type Runner interface {
	Run(ctx context.Context, job *model.Job) (*model.JobResult, error)
}

// Queue accepts jobs and runs them on a bounded worker pool.
type Queue struct {
	store  store.Store
	runner Runner
	cfg    Config

	nowFunc func() time.Time
}

func New(st store.Store, runner Runner, cfg Config) *Queue {
	return &Queue{
		store:   st,
		runner:  runner,
		cfg:     cfg.withDefaults(),
		nowFunc: time.Now,
	}
}

// Submit validates and persists a job. The job starts pending and is
// picked up by the next free worker.
func (q *Queue) Submit(ctx context.Context, job *model.Job) error {
	if err := validate(job); err != nil {
		return err
	}
	if err := q.store.EnqueueJob(ctx, job); err != nil {
		return eris.Wrap(err, "queue: enqueue")
	}
	return nil
}

// Get returns a job scoped to its owner.
func (q *Queue) Get(ctx context.Context, userID, jobID string) (*model.Job, error) {
	return q.store.GetJob(ctx, userID, jobID)
}

// List returns the user's jobs, newest first.
func (q *Queue) List(ctx context.Context, userID string, f store.JobFilter) ([]model.Job, error) {
	return q.store.ListJobs(ctx, userID, f)
}

// Cancel cancels a pending or running job. A running job's in-flight
// attempt may still finish, but its outcome is discarded: the terminal
// updates in runOne only apply while the job is still running.
func (q *Queue) Cancel(ctx context.Context, userID, jobID string) error {
	return q.store.CancelJob(ctx, userID, jobID)
}

func validate(job *model.Job) error {
	if job.UserID == "" {
		return &ValidationError{Msg: "user_id is required"}
	}
	if job.Config == nil {
		return &ValidationError{Msg: "config is required"}
	}
	if job.Config.Kind() != job.Kind {
		return &ValidationError{Msg: "config kind " + string(job.Config.Kind()) + " does not match job kind " + string(job.Kind)}
	}
	if err := job.Config.Validate(); err != nil {
		return &ValidationError{Msg: err.Error()}
	}

	switch job.Kind {
	case model.JobEnrichLead, model.JobFindContacts, model.JobDetectSignals, model.JobScoreLead:
		if job.Target.LeadID == "" {
			return &ValidationError{Msg: string(job.Kind) + " requires target.lead_id"}
		}
	case model.JobEnrichCompany:
		if job.Target.CompanyDomain == "" {
			return &ValidationError{Msg: "enrich_company requires target.company_domain"}
		}
	case model.JobVerifyEmail:
		if job.Target.Email == "" {
			return &ValidationError{Msg: "verify_email requires target.email"}
		}
	case model.JobDiscoverLeads:
		// Discovery resolves the user's default ICP when no target is set.
	default:
		return &ValidationError{Msg: "unknown job kind " + string(job.Kind)}
	}
	return nil
}
