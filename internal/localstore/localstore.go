// Package localstore is a single-file SQLite backend for sessions and
// preferences, used when no PostgreSQL server is configured and by the replay
// tool.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meltforce/pushreps/internal/preferences"
	"github.com/meltforce/pushreps/internal/session"
)

// Times are stored as unix milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS workout_sessions (
	id                  TEXT PRIMARY KEY,
	start_time          INTEGER NOT NULL,
	end_time            INTEGER,
	push_up_count       INTEGER NOT NULL DEFAULT 0,
	duration_sec        REAL NOT NULL DEFAULT 0,
	status              TEXT NOT NULL,
	detection_accuracy  REAL NOT NULL DEFAULT 0,
	manual_adjustments  INTEGER NOT NULL DEFAULT 0,
	camera_used         INTEGER NOT NULL DEFAULT 0,
	notes               TEXT NOT NULL DEFAULT '',
	auto_increments     INTEGER NOT NULL DEFAULT 0,
	auto_confidence_sum REAL NOT NULL DEFAULT 0,
	active_sec          REAL NOT NULL DEFAULT 0,
	resumed_at          INTEGER
);
CREATE INDEX IF NOT EXISTS idx_workout_sessions_start ON workout_sessions (start_time DESC);
CREATE TABLE IF NOT EXISTS user_preferences (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	preferences TEXT NOT NULL,
	updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

const sessionColumns = `id, start_time, end_time, push_up_count, duration_sec, status,
	detection_accuracy, manual_adjustments, camera_used, notes,
	auto_increments, auto_confidence_sum, active_sec, resumed_at`

// StateDB implements session.Store, session.Summarizer and preferences.Store.
type StateDB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path.
func Open(path string) (*StateDB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state tables: %w", err)
	}
	return &StateDB{db: db}, nil
}

// Close closes the database.
func (s *StateDB) Close() error {
	return s.db.Close()
}

// Ping checks the database.
func (s *StateDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *StateDB) Load(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM workout_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotStored
	}
	if err != nil {
		return nil, fmt.Errorf("querying session %s: %w", id, err)
	}
	return sess, nil
}

func (s *StateDB) Save(ctx context.Context, sess *session.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO workout_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, toMillis(sess.StartTime), ptrMillis(sess.EndTime), sess.PushUpCount, sess.Duration,
		string(sess.Status), sess.DetectionAccuracy, sess.ManualAdjustments, sess.CameraUsed, sess.Notes,
		sess.AutoIncrements, sess.AutoConfidenceSum, sess.ActiveSeconds, zeroMillis(sess.ResumedAt))
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *StateDB) List(ctx context.Context, limit, offset int) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM workout_sessions
		 ORDER BY start_time DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var result []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		result = append(result, *sess)
	}
	return result, rows.Err()
}

func (s *StateDB) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workout_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrNotStored
	}
	return nil
}

// Summary aggregates completed sessions started at or after since.
func (s *StateDB) Summary(ctx context.Context, since time.Time) (session.Summary, error) {
	var (
		sum         session.Summary
		first, last sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(push_up_count), 0),
		        COALESCE(SUM(duration_sec), 0),
		        COALESCE(MAX(push_up_count), 0),
		        COALESCE(AVG(detection_accuracy), 0),
		        COALESCE(SUM(manual_adjustments), 0),
		        MIN(start_time),
		        MAX(start_time)
		 FROM workout_sessions
		 WHERE status = 'completed' AND start_time >= ?`,
		toMillis(since),
	).Scan(&sum.Sessions, &sum.TotalReps, &sum.TotalDuration, &sum.BestSession,
		&sum.AverageAccuracy, &sum.ManualAdjustments, &first, &last)
	if err != nil {
		return session.Summary{}, fmt.Errorf("summarizing sessions: %w", err)
	}
	sum.FirstSession = fromNullMillis(first)
	sum.LastSession = fromNullMillis(last)
	return sum, nil
}

// LoadPreferences returns the stored preferences or preferences.ErrNotStored.
func (s *StateDB) LoadPreferences(ctx context.Context) (*preferences.Preferences, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT preferences FROM user_preferences WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, preferences.ErrNotStored
	}
	if err != nil {
		return nil, fmt.Errorf("querying preferences: %w", err)
	}
	p := preferences.Defaults()
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decoding preferences: %w", err)
	}
	return &p, nil
}

// SavePreferences replaces the stored preferences.
func (s *StateDB) SavePreferences(ctx context.Context, p *preferences.Preferences) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO user_preferences (id, preferences) VALUES (1, ?)`, string(raw))
	if err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*session.Session, error) {
	var (
		sess           session.Session
		start          int64
		end, resumedAt sql.NullInt64
		status         string
	)
	if err := row.Scan(&sess.ID, &start, &end, &sess.PushUpCount, &sess.Duration, &status,
		&sess.DetectionAccuracy, &sess.ManualAdjustments, &sess.CameraUsed, &sess.Notes,
		&sess.AutoIncrements, &sess.AutoConfidenceSum, &sess.ActiveSeconds, &resumedAt); err != nil {
		return nil, err
	}
	sess.StartTime = time.UnixMilli(start).UTC()
	sess.EndTime = fromNullMillis(end)
	if t := fromNullMillis(resumedAt); t != nil {
		sess.ResumedAt = *t
	}
	sess.Status = session.Status(status)
	return &sess, nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func ptrMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func zeroMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
