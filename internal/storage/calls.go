package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const callColumns = `id, provider_call_id, provider_conversation_id, firm_id,
	from_number, to_number, status, urgency, handled_by, transcript_text,
	intake_json, summary_text, recording_url, error_message,
	started_at, ended_at, created_at, updated_at`

// CreateCall inserts a new call record. Status defaults to in_progress and
// intake_json to an empty object when unset.
func (s *Store) CreateCall(c CallRecord) error {
	now := time.Now().UTC()
	if c.Status == "" {
		c.Status = StatusInProgress
	}
	if c.IntakeJSON == "" {
		c.IntakeJSON = "{}"
	}
	if c.HandledBy == "" {
		c.HandledBy = "ai"
	}
	_, err := s.db.Exec(`
		INSERT INTO call_records (`+callColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProviderCallID, c.ProviderConversationID, c.FirmID,
		c.FromNumber, c.ToNumber, string(c.Status), c.Urgency, c.HandledBy,
		c.TranscriptText, c.IntakeJSON, c.SummaryText, c.RecordingURL,
		c.ErrorMessage, formatTime(c.StartedAt), formatTime(c.EndedAt),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

func scanCall(row interface{ Scan(...any) error }) (CallRecord, error) {
	var c CallRecord
	var status string
	var startedAt, endedAt, createdAt, updatedAt string
	err := row.Scan(
		&c.ID, &c.ProviderCallID, &c.ProviderConversationID, &c.FirmID,
		&c.FromNumber, &c.ToNumber, &status, &c.Urgency, &c.HandledBy,
		&c.TranscriptText, &c.IntakeJSON, &c.SummaryText, &c.RecordingURL,
		&c.ErrorMessage, &startedAt, &endedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return CallRecord{}, ErrNotFound
	}
	if err != nil {
		return CallRecord{}, err
	}
	c.Status = CallStatus(status)
	for _, f := range []struct {
		raw string
		dst *time.Time
	}{
		{startedAt, &c.StartedAt},
		{endedAt, &c.EndedAt},
		{createdAt, &c.CreatedAt},
		{updatedAt, &c.UpdatedAt},
	} {
		t, err := parseTime(f.raw)
		if err != nil {
			return CallRecord{}, fmt.Errorf("parsing timestamp: %w", err)
		}
		*f.dst = t
	}
	return c, nil
}

// GetCall returns the record with the given internal id.
func (s *Store) GetCall(id string) (CallRecord, error) {
	row := s.db.QueryRow(`SELECT `+callColumns+` FROM call_records WHERE id = ?`, id)
	return scanCall(row)
}

// GetCallByProviderID returns the record keyed by the telephony provider's
// call id.
func (s *Store) GetCallByProviderID(providerCallID string) (CallRecord, error) {
	row := s.db.QueryRow(`SELECT `+callColumns+` FROM call_records WHERE provider_call_id = ?`, providerCallID)
	return scanCall(row)
}

// GetCallByConversationID returns the record keyed by the voice-agent
// provider's conversation id.
func (s *Store) GetCallByConversationID(conversationID string) (CallRecord, error) {
	row := s.db.QueryRow(`SELECT `+callColumns+` FROM call_records WHERE provider_conversation_id = ?`, conversationID)
	return scanCall(row)
}

// ListCalls returns call records for a firm ordered newest-first. Pass an
// empty firmID to list across firms.
func (s *Store) ListCalls(firmID string, limit, offset int) ([]CallRecord, error) {
	query := `SELECT ` + callColumns + ` FROM call_records`
	args := []any{}
	if firmID != "" {
		query += ` WHERE firm_id = ?`
		args = append(args, firmID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CallRecord
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// SearchCalls matches the query against transcripts, intake fields, and
// summaries, newest-first.
func (s *Store) SearchCalls(query string, limit int) ([]CallRecord, error) {
	pattern := "%" + strings.ReplaceAll(query, "%", `\%`) + "%"
	rows, err := s.db.Query(`
		SELECT `+callColumns+` FROM call_records
		WHERE transcript_text LIKE ? ESCAPE '\'
		   OR intake_json LIKE ? ESCAPE '\'
		   OR summary_text LIKE ? ESCAPE '\'
		ORDER BY created_at DESC LIMIT ?`,
		pattern, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CallRecord
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// DeleteCall removes a record permanently (explicit user action only).
func (s *Store) DeleteCall(id string) error {
	res, err := s.db.Exec(`DELETE FROM call_records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountCalls returns the total number of call records.
func (s *Store) CountCalls() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM call_records`).Scan(&n)
	return n, err
}

// ClaimStatus atomically moves a record from one of the given statuses to
// next, returning false when the record was not in any of them. This is the
// per-call-id claim that keeps concurrent finalize invocations (duplicate
// webhooks, watchdog races) from running the same stage twice.
func (s *Store) ClaimStatus(id string, from []CallStatus, next CallStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("claim requires at least one source status")
	}
	placeholders := strings.Repeat(",?", len(from)-1)
	args := make([]any, 0, len(from)+3)
	args = append(args, string(next), time.Now().UTC().Format(time.RFC3339), id)
	for _, f := range from {
		args = append(args, string(f))
	}
	res, err := s.db.Exec(
		`UPDATE call_records SET status = ?, updated_at = ? WHERE id = ? AND status IN (?`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// touch updates a single column and the updated_at stamp.
func (s *Store) setCallColumn(id, column, value string) error {
	res, err := s.db.Exec(
		`UPDATE call_records SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTranscript stores the transcript text.
func (s *Store) SetTranscript(id, text string) error {
	return s.setCallColumn(id, "transcript_text", text)
}

// SetIntake stores the structured snapshot as JSON.
func (s *Store) SetIntake(id, intakeJSON string) error {
	return s.setCallColumn(id, "intake_json", intakeJSON)
}

// SetSummary stores the generated summary and urgency classification.
func (s *Store) SetSummary(id, summary, urgency string) error {
	_, err := s.db.Exec(
		`UPDATE call_records SET summary_text = ?, urgency = ?, updated_at = ? WHERE id = ?`,
		summary, urgency, time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

// SetRecordingURL stores the call recording link.
func (s *Store) SetRecordingURL(id, url string) error {
	return s.setCallColumn(id, "recording_url", url)
}

// SetConversationID stores the voice-agent conversation id once known.
func (s *Store) SetConversationID(id, conversationID string) error {
	return s.setCallColumn(id, "provider_conversation_id", conversationID)
}

// SetCallEnded stamps the call end time.
func (s *Store) SetCallEnded(id string, endedAt time.Time) error {
	return s.setCallColumn(id, "ended_at", formatTime(endedAt))
}

// MarkError moves a record to the error state with a human-readable message.
// Unlike ClaimStatus this is unconditional: an unrecoverable failure must be
// visible no matter what state the record was in.
func (s *Store) MarkError(id, message string) error {
	_, err := s.db.Exec(
		`UPDATE call_records SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(StatusError), message, time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

// FindStale returns records stuck in one of the given statuses whose last
// update is older than the cutoff. Used by the recovery watchdog.
func (s *Store) FindStale(statuses []CallStatus, cutoff time.Time) ([]CallRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat(",?", len(statuses)-1)
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, cutoff.UTC().Format(time.RFC3339))

	rows, err := s.db.Query(
		`SELECT `+callColumns+` FROM call_records
		WHERE status IN (?`+placeholders+`) AND updated_at < ?
		ORDER BY updated_at ASC`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CallRecord
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}
