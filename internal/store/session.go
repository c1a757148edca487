package store

import (
	"database/sql"
	"errors"
	"time"
)

// Session is a persisted capture session.
type Session struct {
	ID        string     `json:"id"`
	DeviceID  int        `json:"device_id"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	SignCount int        `json:"sign_count"`
	Signs     []string   `json:"signs,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// SessionRepository provides operations for capture sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Start records a new session.
func (r *SessionRepository) Start(id string, deviceID int, startedAt time.Time) error {
	_, err := r.db.Exec(
		`INSERT INTO sessions (id, device_id, started_at) VALUES (?, ?, ?)`,
		id, deviceID, startedAt.UTC(),
	)
	return err
}

// Finish stores the session's label sequence and marks it stopped, in a
// single transaction. Signs already stored for the session are replaced.
func (r *SessionRepository) Finish(id string, stoppedAt time.Time, signs []string, lastErr string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE sessions SET stopped_at = ?, sign_count = ?, last_error = ? WHERE id = ?`,
		stoppedAt.UTC(), len(signs), lastErr, id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM session_signs WHERE session_id = ?`, id); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO session_signs (session_id, sequence, label) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, label := range signs {
		if _, err := stmt.Exec(id, i, label); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Get retrieves a session with its signs.
func (r *SessionRepository) Get(id string) (*Session, error) {
	var (
		s       Session
		stopped sql.NullTime
	)
	err := r.db.QueryRow(
		`SELECT id, device_id, started_at, stopped_at, sign_count, last_error
		 FROM sessions WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.DeviceID, &s.StartedAt, &stopped, &s.SignCount, &s.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if stopped.Valid {
		t := stopped.Time
		s.StoppedAt = &t
	}

	rows, err := r.db.Query(
		`SELECT label FROM session_signs WHERE session_id = ? ORDER BY sequence`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		s.Signs = append(s.Signs, label)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Delete removes a session and its signs. Transcripts keep their text but
// lose the session reference.
func (r *SessionRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
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
