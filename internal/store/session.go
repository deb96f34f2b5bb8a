package store

import (
	"database/sql"
	"errors"
	"time"
)

// SessionRecord is the journal entry of one stream session.
type SessionRecord struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Frames    int64      `json:"frames"`
	Skipped   int64      `json:"skipped"`
	Accepted  int64      `json:"accepted"`
	EndReason string     `json:"end_reason,omitempty"`
}

// Active reports whether the session has not been finished.
func (r *SessionRecord) Active() bool {
	return r.EndedAt == nil
}

// SessionRepository records stream sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a started session.
func (r *SessionRepository) Create(rec *SessionRecord) error {
	_, err := r.db.Exec(
		`INSERT INTO sessions (id, started_at) VALUES (?, ?)`,
		rec.ID, rec.StartedAt.UTC(),
	)
	return err
}

// Finish stores the final counters and end reason of a session.
func (r *SessionRepository) Finish(rec *SessionRecord) error {
	if rec.EndedAt == nil {
		now := time.Now()
		rec.EndedAt = &now
	}

	result, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ?, frames = ?, skipped = ?, accepted = ?, end_reason = ?
		 WHERE id = ?`,
		rec.EndedAt.UTC(), rec.Frames, rec.Skipped, rec.Accepted, rec.EndReason, rec.ID,
	)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*SessionRecord, error) {
	row := r.db.QueryRow(
		`SELECT id, started_at, ended_at, frames, skipped, accepted, end_reason
		 FROM sessions WHERE id = ?`,
		id,
	)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// List returns the most recent sessions first, at most limit (0 means all).
func (r *SessionRepository) List(limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, started_at, ended_at, frames, skipped, accepted, end_reason
		 FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []*SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, rec)
	}

	return sessions, rows.Err()
}

// CloseDangling marks sessions left open by a crash as ended.
func (r *SessionRepository) CloseDangling(reason string) (int64, error) {
	result, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ?, end_reason = ? WHERE ended_at IS NULL`,
		time.Now().UTC(), reason,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*SessionRecord, error) {
	rec := &SessionRecord{}
	var ended sql.NullTime

	if err := row.Scan(&rec.ID, &rec.StartedAt, &ended, &rec.Frames, &rec.Skipped, &rec.Accepted, &rec.EndReason); err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		rec.EndedAt = &t
	}
	return rec, nil
}
