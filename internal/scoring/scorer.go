package scoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Scorer runs the engine against stored lead state and appends the result
// to the score history.
type Scorer struct {
	store store.Store
}

func NewScorer(st store.Store) *Scorer {
	return &Scorer{store: st}
}

// ScoreLead loads the lead, its ICP, and its active signals, computes a new
// score, and appends it. icpID selects an explicit profile; when empty the
// user's default profile is used, and scoring proceeds without one if none
// is set. Signals folded into the score are marked processed.
func (s *Scorer) ScoreLead(ctx context.Context, userID, leadID, icpID string) (*model.LeadScore, error) {
	lead, err := s.store.GetLead(ctx, userID, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: load lead %s", leadID)
	}

	icp, err := s.resolveICP(ctx, userID, icpID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	signals, err := s.store.ListActiveSignals(ctx, leadID, now)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: load signals for lead %s", leadID)
	}

	score := NewEngine(icp).Score(leadID, Input{
		Company:  lead.Company,
		Contacts: lead.Contacts,
		Signals:  signals,
	})

	prev, err := s.store.CurrentScore(ctx, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: load previous score for lead %s", leadID)
	}
	if prev != nil {
		previous := prev.TotalScore
		change := score.TotalScore - previous
		score.PreviousScore = &previous
		score.ScoreChange = &change
	}

	if err := s.store.AppendScore(ctx, score); err != nil {
		return nil, eris.Wrapf(err, "scoring: append score for lead %s", leadID)
	}
	if err := s.store.MarkSignalsProcessed(ctx, leadID, now); err != nil {
		return nil, eris.Wrapf(err, "scoring: mark signals processed for lead %s", leadID)
	}

	zap.L().Info("scoring: lead scored",
		zap.String("lead_id", leadID),
		zap.Int("total", score.TotalScore),
		zap.String("tier", string(score.Tier)),
		zap.Int("signals", len(signals)),
	)
	return score, nil
}

func (s *Scorer) resolveICP(ctx context.Context, userID, icpID string) (*model.ICPProfile, error) {
	if icpID != "" {
		icp, err := s.store.GetICP(ctx, userID, icpID)
		if err != nil {
			return nil, eris.Wrapf(err, "scoring: load icp %s", icpID)
		}
		return icp, nil
	}
	icp, err := s.store.DefaultICP(ctx, userID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "scoring: load default icp")
	}
	return icp, nil
}

// Current returns the most recent score for a lead, or nil when the lead
// has never been scored.
func (s *Scorer) Current(ctx context.Context, leadID string) (*model.LeadScore, error) {
	return s.store.CurrentScore(ctx, leadID)
}

// History returns up to limit score rows, newest first.
func (s *Scorer) History(ctx context.Context, leadID string, limit int) ([]model.LeadScore, error) {
	return s.store.ScoreHistory(ctx, leadID, limit)
}

// Distribution returns per-tier counts and averages for one user.
func (s *Scorer) Distribution(ctx context.Context, userID string) (map[model.Tier]model.TierStats, error) {
	return s.store.TierDistribution(ctx, userID)
}
