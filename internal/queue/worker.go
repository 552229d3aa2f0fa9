package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Start runs the worker pool and maintenance loops until ctx is cancelled.
// It always returns after a clean shutdown; ctx cancellation is not an
// error.
func (q *Queue) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < q.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			q.workLoop(gctx, worker)
			return nil
		})
	}
	g.Go(func() error {
		q.sweepLoop(gctx)
		return nil
	})
	g.Go(func() error {
		q.rescoreLoop(gctx)
		return nil
	})

	zap.L().Info("queue: started",
		zap.Int("workers", q.cfg.Workers),
		zap.Duration("poll_interval", q.cfg.PollInterval),
	)
	return g.Wait()
}

func (q *Queue) workLoop(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := q.store.ClaimNextJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.L().Error("queue: claim failed", zap.Int("worker", worker), zap.Error(err))
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.cfg.PollInterval):
			}
			continue
		}

		q.runOne(ctx, job)
	}
}

// runOne executes a claimed job within its execution budget and records
// the outcome. Transient failures reschedule with backoff; permanent
// failures and exhausted attempts are terminal.
func (q *Queue) runOne(ctx context.Context, job *model.Job) {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.Kind)),
		zap.Int("attempt", job.AttemptCount),
	)

	jctx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	result, err := q.runner.Run(jctx, job)
	cancel()

	if err == nil {
		credits := 0
		if result != nil {
			credits = result.CreditsUsed
		}
		if cerr := q.store.CompleteJob(ctx, job.ID, result, credits); cerr != nil {
			// The completion update is guarded on status = 'running', so
			// a job cancelled mid-run surfaces here as not found. The
			// cancellation stands and the outcome is discarded.
			if eris.Is(cerr, store.ErrNotFound) {
				log.Info("queue: job no longer running, outcome discarded")
				return
			}
			log.Error("queue: complete failed", zap.Error(cerr))
			return
		}
		log.Info("queue: job completed", zap.Int("credits_used", credits))
		return
	}

	if eris.Is(err, errCancelled) {
		log.Info("queue: job cancelled mid-run")
		return
	}

	// A budget overrun surfaces as context.DeadlineExceeded, which is not
	// permanent and therefore retries with a fresh budget.
	switch {
	case resilience.IsPermanent(err):
		if ferr := q.store.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			if eris.Is(ferr, store.ErrNotFound) {
				log.Info("queue: job no longer running, failure discarded")
				return
			}
			log.Error("queue: fail failed", zap.Error(ferr))
			return
		}
		log.Warn("queue: job failed permanently", zap.Error(err))
	case job.AttemptCount >= job.MaxAttempts:
		if ferr := q.store.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			if eris.Is(ferr, store.ErrNotFound) {
				log.Info("queue: job no longer running, failure discarded")
				return
			}
			log.Error("queue: fail failed", zap.Error(ferr))
			return
		}
		log.Warn("queue: job failed, attempts exhausted", zap.Error(err))
	default:
		delay := q.cfg.Backoff.Backoff(job.AttemptCount - 1)
		retryAt := q.nowFunc().UTC().Add(delay)
		if rerr := q.store.RescheduleJob(ctx, job.ID, err.Error(), retryAt); rerr != nil {
			if eris.Is(rerr, store.ErrNotFound) {
				log.Info("queue: job no longer running, retry discarded")
				return
			}
			log.Error("queue: reschedule failed", zap.Error(rerr))
			return
		}
		log.Info("queue: job rescheduled",
			zap.Duration("delay", delay),
			zap.Time("next_retry_at", retryAt),
			zap.Error(err),
		)
	}
}

func (q *Queue) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.store.SweepCache(ctx)
			if err != nil {
				zap.L().Error("queue: cache sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Info("queue: cache swept", zap.Int("removed", n))
			}
		}
	}
}

// rescoreLoop enqueues score jobs for leads whose signals have not been
// folded into a score yet. A lead with a pending score job is skipped so
// slow workers do not pile up duplicates.
func (q *Queue) rescoreLoop(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.RescoreInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.enqueueRescores(ctx); err != nil && ctx.Err() == nil {
				zap.L().Error("queue: rescore pass failed", zap.Error(err))
			}
		}
	}
}

func (q *Queue) enqueueRescores(ctx context.Context) error {
	refs, err := q.store.LeadsWithUnprocessedSignals(ctx)
	if err != nil {
		return eris.Wrap(err, "queue: list leads to rescore")
	}

	enqueued := 0
	for _, ref := range refs {
		pending, err := q.store.ListJobs(ctx, ref.UserID, store.JobFilter{
			Status: model.JobPending,
			Kind:   model.JobScoreLead,
			LeadID: ref.LeadID,
			Limit:  1,
		})
		if err != nil {
			return eris.Wrapf(err, "queue: check pending score jobs for lead %s", ref.LeadID)
		}
		if len(pending) > 0 {
			continue
		}

		if err := q.store.EnqueueJob(ctx, &model.Job{
			UserID: ref.UserID,
			Kind:   model.JobScoreLead,
			Target: model.JobTarget{LeadID: ref.LeadID},
			Config: &model.ScoreLeadConfig{},
		}); err != nil {
			return eris.Wrapf(err, "queue: enqueue rescore for lead %s", ref.LeadID)
		}
		enqueued++
	}

	if enqueued > 0 {
		zap.L().Info("queue: rescore jobs enqueued", zap.Int("count", enqueued))
	}
	return nil
}
