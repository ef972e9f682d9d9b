package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const firmColumns = `id, name, phone_number, forward_number, notify_emails,
	timezone, business_open, business_close, always_ai, created_at`

// SaveFirm inserts or updates a firm keyed by id.
func (s *Store) SaveFirm(f Firm) error {
	if f.NotifyEmails == "" {
		f.NotifyEmails = "[]"
	}
	if f.Timezone == "" {
		f.Timezone = "UTC"
	}
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO firms (`+firmColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone_number = excluded.phone_number,
			forward_number = excluded.forward_number,
			notify_emails = excluded.notify_emails,
			timezone = excluded.timezone,
			business_open = excluded.business_open,
			business_close = excluded.business_close,
			always_ai = excluded.always_ai`,
		f.ID, f.Name, f.PhoneNumber, f.ForwardNumber, f.NotifyEmails,
		f.Timezone, f.BusinessOpen, f.BusinessClose, boolToInt(f.AlwaysAI),
		createdAt.Format(time.RFC3339),
	)
	return err
}

func scanFirm(row interface{ Scan(...any) error }) (Firm, error) {
	var f Firm
	var alwaysAI int
	var createdAt string
	err := row.Scan(
		&f.ID, &f.Name, &f.PhoneNumber, &f.ForwardNumber, &f.NotifyEmails,
		&f.Timezone, &f.BusinessOpen, &f.BusinessClose, &alwaysAI, &createdAt,
	)
	if err == sql.ErrNoRows {
		return Firm{}, ErrNotFound
	}
	if err != nil {
		return Firm{}, err
	}
	f.AlwaysAI = alwaysAI != 0
	t, err := parseTime(createdAt)
	if err != nil {
		return Firm{}, fmt.Errorf("parsing created_at: %w", err)
	}
	f.CreatedAt = t
	return f, nil
}

// GetFirm returns the firm with the given id.
func (s *Store) GetFirm(id string) (Firm, error) {
	row := s.db.QueryRow(`SELECT `+firmColumns+` FROM firms WHERE id = ?`, id)
	return scanFirm(row)
}

// GetFirmByNumber returns the firm that owns the dialed provider number.
func (s *Store) GetFirmByNumber(phoneNumber string) (Firm, error) {
	row := s.db.QueryRow(`SELECT `+firmColumns+` FROM firms WHERE phone_number = ?`, phoneNumber)
	return scanFirm(row)
}

// ListFirms returns all firms ordered by name.
func (s *Store) ListFirms() ([]Firm, error) {
	rows, err := s.db.Query(`SELECT ` + firmColumns + ` FROM firms ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Firm
	for rows.Next() {
		f, err := scanFirm(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
