// Package store persists leads, ICP profiles, enrichment cache entries,
// jobs, signals, scores, and discovery staging rows. Two backends are
// provided: SQLite for single-operator installs and Postgres for shared
// deployments.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sells-group/outreach-engine/internal/model"
)

// ErrNotFound is returned by lookups for rows that do not exist. Cache and
// dedup lookups return (nil, nil) on miss instead; a miss there is an
// expected outcome, not a failure.
var ErrNotFound = fmt.Errorf("store: not found")

// DedupConflictError reports that a lead with the same identity already
// exists for the user. Promotion paths treat it as idempotent success and
// surface the existing lead.
type DedupConflictError struct {
	ExistingLeadID string
}

func (e *DedupConflictError) Error() string {
	return "store: duplicate lead " + e.ExistingLeadID
}

// LeadRef pairs a lead with its owner, for maintenance scans that cross
// user boundaries.
type LeadRef struct {
	LeadID string `json:"lead_id"`
	UserID string `json:"user_id"`
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Kind   model.JobKind   `json:"job_type,omitempty"`
	LeadID string          `json:"lead_id,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// LeadFilter narrows ListLeads.
type LeadFilter struct {
	Source string `json:"source,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// DiscoveryFilter narrows ListDiscoveredLeads.
type DiscoveryFilter struct {
	Status   model.DiscoveryStatus `json:"status,omitempty"`
	ICPID    string                `json:"icp_id,omitempty"`
	MinScore int                   `json:"min_score,omitempty"`
	Limit    int                   `json:"limit,omitempty"`
	Offset   int                   `json:"offset,omitempty"`
}

// Store is the persistence interface for the outreach engine.
type Store interface {
	// ICP profiles
	CreateICP(ctx context.Context, p *model.ICPProfile) error
	UpdateICP(ctx context.Context, p *model.ICPProfile) error
	GetICP(ctx context.Context, userID, id string) (*model.ICPProfile, error)
	ListICPs(ctx context.Context, userID string) ([]model.ICPProfile, error)
	DeleteICP(ctx context.Context, userID, id string) error
	// SetDefaultICP atomically clears the user's previous default and sets
	// the new one.
	SetDefaultICP(ctx context.Context, userID, id string) error
	DefaultICP(ctx context.Context, userID string) (*model.ICPProfile, error)

	// Leads
	CreateLead(ctx context.Context, l *model.Lead) error
	UpdateLead(ctx context.Context, l *model.Lead) error
	GetLead(ctx context.Context, userID, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, userID string, f LeadFilter) ([]model.Lead, error)
	// FindLeadByDomain and FindLeadByFoldedName return (nil, nil) on miss.
	FindLeadByDomain(ctx context.Context, userID, domain string) (*model.Lead, error)
	FindLeadByFoldedName(ctx context.Context, userID, foldedName string) (*model.Lead, error)

	// Enrichment cache. GetCacheEntry returns (nil, nil) for missing or
	// expired entries; expired rows are removed by SweepCache, not on read.
	// GetCacheEntryAny ignores expiry so writers can compare content hashes
	// across a TTL boundary.
	GetCacheEntry(ctx context.Context, entityType model.EntityType, entityKey, source string) (*model.CacheEntry, error)
	GetCacheEntryAny(ctx context.Context, entityType model.EntityType, entityKey, source string) (*model.CacheEntry, error)
	PutCacheEntry(ctx context.Context, e *model.CacheEntry) error
	RecordCacheHit(ctx context.Context, id string, at time.Time) error
	SweepCache(ctx context.Context) (int, error)

	// Jobs. ClaimNextJob returns (nil, nil) when no job is ready.
	EnqueueJob(ctx context.Context, j *model.Job) error
	ClaimNextJob(ctx context.Context) (*model.Job, error)
	CompleteJob(ctx context.Context, jobID string, result *model.JobResult, creditsUsed int) error
	// RescheduleJob returns a transiently failed job to pending with a
	// retry time; FailJob marks it failed for good and exhausts its
	// remaining attempts.
	RescheduleJob(ctx context.Context, jobID, errMsg string, nextRetryAt time.Time) error
	FailJob(ctx context.Context, jobID, errMsg string) error
	CancelJob(ctx context.Context, userID, jobID string) error
	GetJob(ctx context.Context, userID, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, userID string, f JobFilter) ([]model.Job, error)

	// Signals
	AppendSignal(ctx context.Context, s *model.SignalEvent) error
	ListActiveSignals(ctx context.Context, leadID string, at time.Time) ([]model.SignalEvent, error)
	// LeadsWithUnprocessedSignals lists leads carrying signals not yet
	// folded into a score, for the periodic re-score pass.
	LeadsWithUnprocessedSignals(ctx context.Context) ([]LeadRef, error)
	MarkSignalsProcessed(ctx context.Context, leadID string, at time.Time) error

	// Scores. Score rows are append-only; the current score is the most
	// recent row per lead.
	AppendScore(ctx context.Context, s *model.LeadScore) error
	CurrentScore(ctx context.Context, leadID string) (*model.LeadScore, error)
	ScoreHistory(ctx context.Context, leadID string, limit int) ([]model.LeadScore, error)
	TierDistribution(ctx context.Context, userID string) (map[model.Tier]model.TierStats, error)

	// Discovery staging
	StageDiscoveredLead(ctx context.Context, d *model.DiscoveredLead) error
	GetDiscoveredLead(ctx context.Context, userID, id string) (*model.DiscoveredLead, error)
	// FindDiscoveredByDomain returns (nil, nil) on miss; discovery dedup
	// checks staging rows as well as promoted leads.
	FindDiscoveredByDomain(ctx context.Context, userID, domain string) (*model.DiscoveredLead, error)
	ListDiscoveredLeads(ctx context.Context, userID string, f DiscoveryFilter) ([]model.DiscoveredLead, error)
	UpdateDiscoveryStatus(ctx context.Context, userID, id string, status model.DiscoveryStatus, reason string) error
	// MarkDiscoveryDuplicate parks a staged candidate as a duplicate of an
	// existing lead so it leaves the review queue.
	MarkDiscoveryDuplicate(ctx context.Context, userID, id, existingLeadID string) error
	// PromoteDiscoveredLead creates the lead and marks the staging row
	// accepted in one transaction.
	PromoteDiscoveredLead(ctx context.Context, userID, id string, lead *model.Lead) error

	// Credentials
	UpsertCredential(ctx context.Context, c *model.Credential) error
	GetCredential(ctx context.Context, userID, service string) (*model.Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]model.Credential, error)
	DeleteCredential(ctx context.Context, userID, service string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
