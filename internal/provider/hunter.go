package provider

import (
	"context"
	"strings"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/pkg/hunter"
)

// HunterConnector adapts the Hunter API to the Connector interface. It is
// the contact fallback when Apollo finds nothing and the only email
// verifier.
type HunterConnector struct {
	client hunter.Client
}

// NewHunter creates a Hunter-backed connector.
func NewHunter(client hunter.Client) *HunterConnector {
	return &HunterConnector{client: client}
}

func (h *HunterConnector) Name() string { return "hunter" }

func (h *HunterConnector) Supports(op Op) bool {
	switch op {
	case OpEnrichCompany, OpFindContacts, OpVerifyEmail:
		return true
	default:
		return false
	}
}

// EnrichCompany contributes only the email pattern and address count;
// firmographics come from the dedicated enrichers.
func (h *HunterConnector) EnrichCompany(ctx context.Context, domain string) (*Result, error) {
	search, err := h.client.DomainSearch(ctx, domain, hunter.WithLimit(1))
	if err != nil {
		return nil, err
	}

	return &Result{
		Source: h.Name(),
		Company: &model.CompanyData{
			Domain:       strings.ToLower(search.Domain),
			Name:         search.Organization,
			EmailPattern: search.Pattern,
			TotalEmails:  len(search.Emails),
		},
		CreditsUsed: 1,
	}, nil
}

func (h *HunterConnector) FindContacts(ctx context.Context, domain string, titles []string, limit int) (*Result, error) {
	if limit <= 0 {
		limit = 10
	}
	search, err := h.client.DomainSearch(ctx, domain, hunter.WithLimit(limit))
	if err != nil {
		return nil, err
	}

	contacts := make([]model.ContactData, 0, len(search.Emails))
	for _, e := range search.Emails {
		if len(titles) > 0 && !titleMatches(e.Position, titles) {
			continue
		}
		contacts = append(contacts, model.ContactData{
			FirstName:       e.FirstName,
			LastName:        e.LastName,
			FullName:        strings.TrimSpace(e.FirstName + " " + e.LastName),
			Title:           e.Position,
			Email:           e.Value,
			EmailConfidence: float64(e.Confidence) / 100.0,
			Phone:           e.Phone,
			LinkedInURL:     e.LinkedIn,
			Department:      e.Department,
			Seniority:       seniorityFromString(e.Seniority),
		})
	}

	return &Result{
		Source:      h.Name(),
		Contacts:    contacts,
		CreditsUsed: 1,
	}, nil
}

func (h *HunterConnector) VerifyEmail(ctx context.Context, email string) (*Result, error) {
	verdict, err := h.client.VerifyEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	return &Result{
		Source: h.Name(),
		Verification: &EmailVerification{
			Email:       verdict.Email,
			Deliverable: verdict.Status == "valid",
			CatchAll:    verdict.AcceptAll,
			Disposable:  verdict.Disposable,
			Score:       verdict.Score,
		},
		CreditsUsed: 1,
	}, nil
}

func (h *HunterConnector) SearchCompanies(ctx context.Context, query *SearchQuery) (*Result, error) {
	return nil, errUnsupported(h.Name(), OpSearchCompanies)
}

func titleMatches(position string, titles []string) bool {
	lower := strings.ToLower(position)
	for _, title := range titles {
		if strings.Contains(lower, strings.ToLower(title)) {
			return true
		}
	}
	return false
}
