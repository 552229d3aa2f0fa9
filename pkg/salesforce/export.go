package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
)

// Account represents a Salesforce Account record.
type Account struct {
	ID                string  `json:"Id" salesforce:"Id"`
	Name              string  `json:"Name" salesforce:"Name"`
	Website           string  `json:"Website" salesforce:"Website"`
	Industry          string  `json:"Industry" salesforce:"Industry"`
	Description       string  `json:"Description" salesforce:"Description"`
	BillingCity       string  `json:"BillingCity" salesforce:"BillingCity"`
	BillingState      string  `json:"BillingState" salesforce:"BillingState"`
	BillingCountry    string  `json:"BillingCountry" salesforce:"BillingCountry"`
	NumberOfEmployees int     `json:"NumberOfEmployees" salesforce:"NumberOfEmployees"`
	AnnualRevenue     float64 `json:"AnnualRevenue" salesforce:"AnnualRevenue"`
	Type              string  `json:"Type" salesforce:"Type"`
}

// accountFields are the SOQL fields selected for Account queries.
var accountFields = []string{
	"Id", "Name", "Website", "Industry", "Description",
	"BillingCity", "BillingState", "BillingCountry",
	"NumberOfEmployees", "AnnualRevenue", "Type",
}

// ExportResult reports the CRM records written for one lead.
type ExportResult struct {
	AccountID  string
	ContactIDs []string
	Existing   bool
}

// FindAccountByWebsite queries Salesforce for an Account matching the given website.
// Returns nil if no account is found.
func FindAccountByWebsite(ctx context.Context, c Client, website string) (*Account, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Account WHERE Website LIKE '%s' LIMIT 1",
		strings.Join(accountFields, ", "),
		escapeSoql("%"+website+"%"),
	)

	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find account by website %s", website))
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// ExportLead pushes a promoted lead into the CRM: it reuses an Account
// matching the lead's domain when one exists (refreshing its firmographics),
// creates one otherwise, and inserts a Contact per enriched decision-maker.
func ExportLead(ctx context.Context, c Client, lead *model.Lead) (*ExportResult, error) {
	if lead == nil || lead.CompanyName == "" {
		return nil, eris.New("sf: lead with company name is required")
	}

	fields := accountFieldsFromLead(lead)
	result := &ExportResult{}

	if lead.CompanyDomain != "" {
		existing, err := FindAccountByWebsite(ctx, c, lead.CompanyDomain)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := c.UpdateOne(ctx, "Account", existing.ID, fields); err != nil {
				return nil, eris.Wrap(err, fmt.Sprintf("sf: refresh account %s", existing.ID))
			}
			result.AccountID = existing.ID
			result.Existing = true
		}
	}

	if result.AccountID == "" {
		id, err := c.InsertOne(ctx, "Account", fields)
		if err != nil {
			return nil, eris.Wrap(err, "sf: create account")
		}
		result.AccountID = id
	}

	for _, contact := range lead.Contacts {
		if contact.Email == "" && contact.FullName == "" {
			continue
		}
		id, err := c.InsertOne(ctx, "Contact", contactFieldsFrom(contact, result.AccountID))
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("sf: create contact for account %s", result.AccountID))
		}
		result.ContactIDs = append(result.ContactIDs, id)
	}

	return result, nil
}

func accountFieldsFromLead(lead *model.Lead) map[string]any {
	fields := map[string]any{
		"Name": lead.CompanyName,
		"Type": "Prospect",
	}
	if lead.CompanyDomain != "" {
		fields["Website"] = lead.CompanyDomain
	}
	if company := lead.Company; company != nil {
		if company.Industry != "" {
			fields["Industry"] = company.Industry
		}
		if company.Description != "" {
			fields["Description"] = company.Description
		}
		if company.EmployeeCount > 0 {
			fields["NumberOfEmployees"] = company.EmployeeCount
		}
		if company.AnnualRevenue > 0 {
			fields["AnnualRevenue"] = company.AnnualRevenue
		}
		if company.City != "" {
			fields["BillingCity"] = company.City
		}
		if company.State != "" {
			fields["BillingState"] = company.State
		}
		if company.Country != "" {
			fields["BillingCountry"] = company.Country
		}
	}
	return fields
}

func contactFieldsFrom(contact model.ContactData, accountID string) map[string]any {
	fields := map[string]any{"AccountId": accountID}

	first, last := contact.FirstName, contact.LastName
	if last == "" && contact.FullName != "" {
		parts := strings.Fields(contact.FullName)
		last = parts[len(parts)-1]
		if first == "" && len(parts) > 1 {
			first = strings.Join(parts[:len(parts)-1], " ")
		}
	}
	if first != "" {
		fields["FirstName"] = first
	}
	// Salesforce requires LastName on Contact.
	if last == "" {
		last = "Unknown"
	}
	fields["LastName"] = last

	if contact.Title != "" {
		fields["Title"] = contact.Title
	}
	if contact.Email != "" {
		fields["Email"] = contact.Email
	}
	if contact.Phone != "" {
		fields["Phone"] = contact.Phone
	}
	if contact.Department != "" {
		fields["Department"] = contact.Department
	}
	return fields
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
