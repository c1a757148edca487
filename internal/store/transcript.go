package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultTranscriptLimit caps List when no limit is given.
const DefaultTranscriptLimit = 50

// Transcript is a stored translation.
type Transcript struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id,omitempty"`
	Signs       []string  `json:"signs"`
	Instruction string    `json:"instruction,omitempty"`
	Sentence    string    `json:"sentence"`
	Fallback    bool      `json:"fallback"`
	Spoken      bool      `json:"spoken"`
	CreatedAt   time.Time `json:"created_at"`
}

// TranscriptRepository provides CRUD operations for transcripts.
type TranscriptRepository struct {
	db *sql.DB
}

// Transcripts returns the transcript repository for this store.
func (s *Store) Transcripts() *TranscriptRepository {
	return &TranscriptRepository{db: s.db}
}

// Create inserts t, assigning its ID and CreatedAt when unset.
func (r *TranscriptRepository) Create(t *Transcript) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	signs, err := json.Marshal(nonNil(t.Signs))
	if err != nil {
		return err
	}

	var session any
	if t.SessionID != "" {
		session = t.SessionID
	}
	_, err = r.db.Exec(
		`INSERT INTO transcripts (id, session_id, signs, instruction, sentence, fallback, spoken, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, session, string(signs), t.Instruction, t.Sentence, t.Fallback, t.Spoken, t.CreatedAt,
	)
	return err
}

// MarkSpoken flags a transcript as having been read aloud.
func (r *TranscriptRepository) MarkSpoken(id string) error {
	res, err := r.db.Exec(`UPDATE transcripts SET spoken = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// List returns up to limit transcripts, newest first.
func (r *TranscriptRepository) List(limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = DefaultTranscriptLimit
	}
	rows, err := r.db.Query(
		`SELECT id, session_id, signs, instruction, sentence, fallback, spoken, created_at
		 FROM transcripts
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transcripts := []Transcript{}
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		transcripts = append(transcripts, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return transcripts, nil
}

// Get retrieves a transcript by ID.
func (r *TranscriptRepository) Get(id string) (*Transcript, error) {
	row := r.db.QueryRow(
		`SELECT id, session_id, signs, instruction, sentence, fallback, spoken, created_at
		 FROM transcripts WHERE id = ?`,
		id,
	)
	t, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// Delete removes a transcript.
func (r *TranscriptRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM transcripts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTranscript(s scanner) (*Transcript, error) {
	var (
		t       Transcript
		session sql.NullString
		signs   string
	)
	if err := s.Scan(&t.ID, &session, &signs, &t.Instruction, &t.Sentence, &t.Fallback, &t.Spoken, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.SessionID = session.String
	if err := json.Unmarshal([]byte(signs), &t.Signs); err != nil {
		return nil, err
	}
	return &t, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
