package store

import (
	"database/sql"
	"fmt"

	"github.com/leadflow/leadflow/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(r rowScanner) (models.Lead, error) {
	var l models.Lead
	var source sql.NullString
	if err := r.Scan(&l.ID, &l.PhoneNumber, &l.DisplayName, &l.MaturityScore, &source, &l.CreatedAt); err != nil {
		return l, err
	}
	l.Source = source.String
	return l, nil
}

func scanConversation(r rowScanner) (models.Conversation, error) {
	var c models.Conversation
	if err := r.Scan(&c.ID, &c.ChatID, &c.LeadID, &c.Status, &c.IsUrgent, &c.CreatedAt, &c.LastMessageAt); err != nil {
		return c, err
	}
	return c, nil
}

func scanTurn(r rowScanner) (models.Turn, error) {
	var t models.Turn
	var externalID sql.NullString
	if err := r.Scan(&t.ID, &t.ConversationID, &t.Direction, &t.Content, &externalID, &t.CreatedAt); err != nil {
		return t, err
	}
	t.ExternalMessageID = externalID.String
	return t, nil
}

func scanPlaybookStep(r rowScanner) (models.PlaybookStep, error) {
	var s models.PlaybookStep
	var body, mediaURL sql.NullString
	var lat, lng sql.NullFloat64
	if err := r.Scan(&s.ID, &s.PlaybookID, &s.StepOrder, &s.Kind, &body, &mediaURL, &lat, &lng, &s.DelayMS, &s.CreatedAt); err != nil {
		return s, err
	}
	s.Body = body.String
	s.MediaURL = mediaURL.String
	s.Latitude = lat.Float64
	s.Longitude = lng.Float64
	return s, nil
}

// scanJob scans a Job from sql.Rows.
func scanJob(rows *sql.Rows) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := rows.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, fmt.Errorf("scan job failed: %w", err)
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

// scanJobRow scans a Job from a single sql.Row.
func scanJobRow(row *sql.Row) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}
