package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
)

// scannable lets the row scanners work over both *sql.Row and result sets
// from either driver.
type scannable interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// placeholder and placeholderPair number the trailing postgres bind
// positions when a query is assembled from optional filters.
func placeholder(format string, n int) string {
	return fmt.Sprintf(format, n)
}

func placeholderPair(format string, n int) string {
	return fmt.Sprintf(format, n-1, n)
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time
	return &u
}

func marshalICPParts(p *model.ICPProfile) (string, string, error) {
	filtersJSON, err := json.Marshal(p.Filters)
	if err != nil {
		return "", "", eris.Wrap(err, "marshal icp filters")
	}
	weightsJSON, err := json.Marshal(p.Weights)
	if err != nil {
		return "", "", eris.Wrap(err, "marshal icp weights")
	}
	return string(filtersJSON), string(weightsJSON), nil
}

func marshalLeadParts(l *model.Lead) (sql.NullString, sql.NullString, error) {
	var companyJSON, contactsJSON sql.NullString
	if l.Company != nil {
		b, err := json.Marshal(l.Company)
		if err != nil {
			return companyJSON, contactsJSON, eris.Wrap(err, "marshal lead company")
		}
		companyJSON = sql.NullString{String: string(b), Valid: true}
	}
	if len(l.Contacts) > 0 {
		b, err := json.Marshal(l.Contacts)
		if err != nil {
			return companyJSON, contactsJSON, eris.Wrap(err, "marshal lead contacts")
		}
		contactsJSON = sql.NullString{String: string(b), Valid: true}
	}
	return companyJSON, contactsJSON, nil
}

func marshalDiscoveredParts(d *model.DiscoveredLead) (sql.NullString, sql.NullString, string, sql.NullString, error) {
	var companyJSON, contactJSON, signalsJSON sql.NullString
	if d.Company != nil {
		b, err := json.Marshal(d.Company)
		if err != nil {
			return companyJSON, contactJSON, "", signalsJSON, eris.Wrap(err, "marshal discovered company")
		}
		companyJSON = sql.NullString{String: string(b), Valid: true}
	}
	if d.Contact != nil {
		b, err := json.Marshal(d.Contact)
		if err != nil {
			return companyJSON, contactJSON, "", signalsJSON, eris.Wrap(err, "marshal discovered contact")
		}
		contactJSON = sql.NullString{String: string(b), Valid: true}
	}
	breakdownJSON, err := json.Marshal(d.Breakdown)
	if err != nil {
		return companyJSON, contactJSON, "", signalsJSON, eris.Wrap(err, "marshal discovered breakdown")
	}
	if len(d.Signals) > 0 {
		b, err := json.Marshal(d.Signals)
		if err != nil {
			return companyJSON, contactJSON, "", signalsJSON, eris.Wrap(err, "marshal discovered signals")
		}
		signalsJSON = sql.NullString{String: string(b), Valid: true}
	}
	return companyJSON, contactJSON, string(breakdownJSON), signalsJSON, nil
}

func scanICP(row scannable) (*model.ICPProfile, error) {
	var p model.ICPProfile
	var filtersJSON, weightsJSON string

	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.IsDefault,
		&filtersJSON, &weightsJSON, &p.CreatedAt, &p.UpdatedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan icp profile")
	}

	if err := json.Unmarshal([]byte(filtersJSON), &p.Filters); err != nil {
		return nil, eris.Wrap(err, "unmarshal icp filters")
	}
	if err := json.Unmarshal([]byte(weightsJSON), &p.Weights); err != nil {
		return nil, eris.Wrap(err, "unmarshal icp weights")
	}
	return &p, nil
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var companyJSON, contactsJSON sql.NullString

	err := row.Scan(&l.ID, &l.UserID, &l.CompanyName, &l.CompanyDomain,
		&l.ContactName, &l.ContactTitle, &l.ContactEmail, &l.ContactLinkedIn,
		&companyJSON, &contactsJSON, &l.Source, &l.CreatedAt, &l.UpdatedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan lead")
	}

	if companyJSON.Valid {
		l.Company = &model.CompanyData{}
		if err := json.Unmarshal([]byte(companyJSON.String), l.Company); err != nil {
			return nil, eris.Wrap(err, "unmarshal lead company")
		}
	}
	if contactsJSON.Valid {
		if err := json.Unmarshal([]byte(contactsJSON.String), &l.Contacts); err != nil {
			return nil, eris.Wrap(err, "unmarshal lead contacts")
		}
	}
	return &l, nil
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var targetJSON, configJSON string
	var resultJSON sql.NullString
	var startedAt, completedAt, nextRetryAt sql.NullTime

	err := row.Scan(&j.ID, &j.UserID, &j.Kind, &j.Status, &j.Priority,
		&targetJSON, &configJSON, &resultJSON, &j.ErrorMessage, &j.CreditsUsed,
		&j.ScheduledAt, &startedAt, &completedAt,
		&j.AttemptCount, &j.MaxAttempts, &nextRetryAt, &j.CreatedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan job")
	}

	if err := json.Unmarshal([]byte(targetJSON), &j.Target); err != nil {
		return nil, eris.Wrap(err, "unmarshal job target")
	}
	cfg, err := model.DecodeJobConfig([]byte(configJSON))
	if err != nil {
		return nil, err
	}
	j.Config = cfg
	if resultJSON.Valid {
		j.Result = &model.JobResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), j.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal job result")
		}
	}
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	j.NextRetryAt = timePtr(nextRetryAt)
	return &j, nil
}

func scanSignal(row scannable) (*model.SignalEvent, error) {
	var sig model.SignalEvent
	var payloadJSON string
	var signalDate, expiresAt, processedAt sql.NullTime

	err := row.Scan(&sig.ID, &sig.LeadID, &sig.CompanyDomain, &sig.Type, &sig.Category,
		&payloadJSON, &sig.ScoreImpact, &sig.Confidence, &sig.Source, &sig.SourceURL,
		&signalDate, &sig.DetectedAt, &expiresAt, &sig.Processed, &processedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan signal")
	}

	payload, err := model.DecodePayload([]byte(payloadJSON))
	if err != nil {
		return nil, err
	}
	sig.Payload = payload
	sig.SignalDate = timePtr(signalDate)
	sig.ExpiresAt = timePtr(expiresAt)
	sig.ProcessedAt = timePtr(processedAt)
	return &sig, nil
}

func scanScore(row scannable) (*model.LeadScore, error) {
	var score model.LeadScore
	var breakdownJSON string
	var signalsJSON sql.NullString
	var previous, change sql.NullInt64

	err := row.Scan(&score.ID, &score.LeadID, &score.ICPID,
		&score.IntentScore, &score.FitScore, &score.AccessibilityScore, &score.TotalScore,
		&score.Tier, &breakdownJSON, &signalsJSON, &previous, &change, &score.CalculatedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan score")
	}

	if err := json.Unmarshal([]byte(breakdownJSON), &score.Breakdown); err != nil {
		return nil, eris.Wrap(err, "unmarshal score breakdown")
	}
	if signalsJSON.Valid {
		if err := json.Unmarshal([]byte(signalsJSON.String), &score.ActiveSignals); err != nil {
			return nil, eris.Wrap(err, "unmarshal active signals")
		}
	}
	score.PreviousScore = intPtr(previous)
	score.ScoreChange = intPtr(change)
	return &score, nil
}

func scanDiscovered(row scannable) (*model.DiscoveredLead, error) {
	var d model.DiscoveredLead
	var companyJSON, contactJSON, signalsJSON sql.NullString
	var breakdownJSON string
	var reviewedAt, acceptedAt sql.NullTime

	err := row.Scan(&d.ID, &d.UserID, &d.ICPID, &d.CompanyName, &d.CompanyDomain, &d.CompanyLinkedIn,
		&d.ContactName, &d.ContactTitle, &d.ContactEmail, &d.ContactLinkedIn,
		&companyJSON, &contactJSON, &d.PreliminaryScore, &breakdownJSON, &signalsJSON,
		&d.Status, &d.RejectionReason, &d.Source, &d.SourceID,
		&d.DiscoveredAt, &reviewedAt, &acceptedAt, &d.ConvertedLeadID)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan discovered lead")
	}

	if companyJSON.Valid {
		d.Company = &model.CompanyData{}
		if err := json.Unmarshal([]byte(companyJSON.String), d.Company); err != nil {
			return nil, eris.Wrap(err, "unmarshal discovered company")
		}
	}
	if contactJSON.Valid {
		d.Contact = &model.ContactData{}
		if err := json.Unmarshal([]byte(contactJSON.String), d.Contact); err != nil {
			return nil, eris.Wrap(err, "unmarshal discovered contact")
		}
	}
	if err := json.Unmarshal([]byte(breakdownJSON), &d.Breakdown); err != nil {
		return nil, eris.Wrap(err, "unmarshal discovered breakdown")
	}
	if signalsJSON.Valid {
		if err := json.Unmarshal([]byte(signalsJSON.String), &d.Signals); err != nil {
			return nil, eris.Wrap(err, "unmarshal discovered signals")
		}
	}
	d.ReviewedAt = timePtr(reviewedAt)
	d.AcceptedAt = timePtr(acceptedAt)
	return &d, nil
}

func scanCredential(row scannable) (*model.Credential, error) {
	var c model.Credential
	var remaining, limit sql.NullInt64
	var lastValidated sql.NullTime

	err := row.Scan(&c.ID, &c.UserID, &c.Service, &c.EncryptedKey, &c.KeySuffix, &c.IsValid,
		&remaining, &limit, &lastValidated, &c.CreatedAt, &c.UpdatedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan credential")
	}

	c.CreditsRemaining = intPtr(remaining)
	c.CreditsLimit = intPtr(limit)
	c.LastValidatedAt = timePtr(lastValidated)
	return &c, nil
}
