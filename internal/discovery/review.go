package discovery

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// ReviewOutcome reports the result of one review decision.
type ReviewOutcome struct {
	ID             string                `json:"id"`
	Status         model.DiscoveryStatus `json:"status"`
	PromotedLeadID string                `json:"promoted_lead_id,omitempty"`
	CRMRecordID    string                `json:"crm_record_id,omitempty"`
}

// Review applies an operator decision to a staged candidate. Accepting an
// already-accepted candidate is idempotent and returns the previously
// promoted lead ID; the same holds for a candidate parked as a duplicate,
// which returns the existing lead.
func (s *Service) Review(ctx context.Context, userID, id string, action model.ReviewAction, reason string) (*ReviewOutcome, error) {
	candidate, err := s.store.GetDiscoveredLead(ctx, userID, id)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: load candidate %s", id)
	}

	switch action {
	case model.ReviewAccept:
		return s.accept(ctx, userID, candidate)
	case model.ReviewReject:
		if !candidate.Status.Actionable() {
			return nil, eris.Errorf("discovery: candidate %s is %s, cannot reject", id, candidate.Status)
		}
		if err := s.store.UpdateDiscoveryStatus(ctx, userID, id, model.DiscoveryRejected, reason); err != nil {
			return nil, eris.Wrapf(err, "discovery: reject candidate %s", id)
		}
		return &ReviewOutcome{ID: id, Status: model.DiscoveryRejected}, nil
	case model.ReviewSkip:
		if !candidate.Status.Actionable() {
			return nil, eris.Errorf("discovery: candidate %s is %s, cannot skip", id, candidate.Status)
		}
		if err := s.store.UpdateDiscoveryStatus(ctx, userID, id, model.DiscoveryReviewed, ""); err != nil {
			return nil, eris.Wrapf(err, "discovery: skip candidate %s", id)
		}
		return &ReviewOutcome{ID: id, Status: model.DiscoveryReviewed}, nil
	default:
		return nil, eris.Errorf("discovery: unknown review action %q", action)
	}
}

func (s *Service) accept(ctx context.Context, userID string, candidate *model.DiscoveredLead) (*ReviewOutcome, error) {
	if candidate.Status == model.DiscoveryAccepted {
		return &ReviewOutcome{
			ID:             candidate.ID,
			Status:         model.DiscoveryAccepted,
			PromotedLeadID: candidate.ConvertedLeadID,
		}, nil
	}
	if candidate.Status == model.DiscoveryDuplicate && candidate.ConvertedLeadID != "" {
		return &ReviewOutcome{
			ID:             candidate.ID,
			Status:         model.DiscoveryDuplicate,
			PromotedLeadID: candidate.ConvertedLeadID,
		}, nil
	}
	if !candidate.Status.Actionable() {
		return nil, eris.Errorf("discovery: candidate %s is %s, cannot accept", candidate.ID, candidate.Status)
	}

	lead := leadFromCandidate(candidate)
	err := s.store.PromoteDiscoveredLead(ctx, userID, candidate.ID, lead)
	if err != nil {
		var conflict *store.DedupConflictError
		if eris.As(err, &conflict) {
			// The company became a lead through another path since staging.
			// Park the row as a duplicate of that lead so it leaves the
			// review queue instead of resurfacing as pending forever.
			if merr := s.store.MarkDiscoveryDuplicate(ctx, userID, candidate.ID, conflict.ExistingLeadID); merr != nil {
				return nil, eris.Wrapf(merr, "discovery: mark candidate %s duplicate", candidate.ID)
			}
			return &ReviewOutcome{
				ID:             candidate.ID,
				Status:         model.DiscoveryDuplicate,
				PromotedLeadID: conflict.ExistingLeadID,
			}, nil
		}
		return nil, eris.Wrapf(err, "discovery: promote candidate %s", candidate.ID)
	}

	outcome := &ReviewOutcome{
		ID:             candidate.ID,
		Status:         model.DiscoveryAccepted,
		PromotedLeadID: lead.ID,
	}

	if err := s.enqueueFollowOn(ctx, userID, lead, candidate.ICPID); err != nil {
		return nil, err
	}

	// CRM export is best-effort; a failed push never rolls back promotion.
	if s.exporter != nil {
		recordID, err := s.exporter.ExportLead(ctx, lead)
		if err != nil {
			zap.L().Warn("discovery: crm export failed",
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
		} else {
			outcome.CRMRecordID = recordID
		}
	}

	zap.L().Info("discovery: candidate promoted",
		zap.String("candidate_id", candidate.ID),
		zap.String("lead_id", lead.ID),
	)
	return outcome, nil
}

func (s *Service) enqueueFollowOn(ctx context.Context, userID string, lead *model.Lead, icpID string) error {
	jobs := []*model.Job{
		{
			UserID: userID,
			Kind:   model.JobEnrichLead,
			Target: model.JobTarget{LeadID: lead.ID, CompanyDomain: lead.CompanyDomain},
			Config: &model.EnrichLeadConfig{},
		},
		{
			UserID: userID,
			Kind:   model.JobScoreLead,
			Target: model.JobTarget{LeadID: lead.ID, ICPID: icpID},
			Config: &model.ScoreLeadConfig{ICPID: icpID},
		},
	}
	for _, j := range jobs {
		if err := s.store.EnqueueJob(ctx, j); err != nil {
			return eris.Wrapf(err, "discovery: enqueue %s for lead %s", j.Kind, lead.ID)
		}
	}
	return nil
}

// Pending lists candidates awaiting review, highest preliminary score first.
func (s *Service) Pending(ctx context.Context, userID string, f store.DiscoveryFilter) ([]model.DiscoveredLead, error) {
	if f.Status == "" {
		f.Status = model.DiscoveryNew
	}
	return s.store.ListDiscoveredLeads(ctx, userID, f)
}

func leadFromCandidate(c *model.DiscoveredLead) *model.Lead {
	lead := &model.Lead{
		UserID:          c.UserID,
		CompanyName:     c.CompanyName,
		CompanyDomain:   c.CompanyDomain,
		ContactName:     c.ContactName,
		ContactTitle:    c.ContactTitle,
		ContactEmail:    c.ContactEmail,
		ContactLinkedIn: c.ContactLinkedIn,
		Company:         c.Company,
		Source:          "discovery:" + c.Source,
	}
	if c.Contact != nil {
		lead.Contacts = []model.ContactData{*c.Contact}
	}
	return lead
}
