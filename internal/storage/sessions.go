package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meltforce/pushreps/internal/session"
)

const sessionColumns = `id, start_time, end_time, push_up_count, duration_sec, status,
	 detection_accuracy, manual_adjustments, camera_used, notes,
	 auto_increments, auto_confidence_sum, active_sec, resumed_at`

// Load retrieves one session. Unknown or malformed ids return session.ErrNotStored.
func (db *DB) Load(ctx context.Context, id string) (*session.Session, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, session.ErrNotStored
	}
	row := db.Pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM workout_sessions WHERE id = $1`, uid)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotStored
	}
	if err != nil {
		return nil, fmt.Errorf("querying session %s: %w", id, err)
	}
	return s, nil
}

// Save upserts a session.
func (db *DB) Save(ctx context.Context, s *session.Session) error {
	var resumedAt *time.Time
	if !s.ResumedAt.IsZero() {
		resumedAt = &s.ResumedAt
	}
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO workout_sessions (`+sessionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			push_up_count = EXCLUDED.push_up_count,
			duration_sec = EXCLUDED.duration_sec,
			status = EXCLUDED.status,
			detection_accuracy = EXCLUDED.detection_accuracy,
			manual_adjustments = EXCLUDED.manual_adjustments,
			camera_used = EXCLUDED.camera_used,
			notes = EXCLUDED.notes,
			auto_increments = EXCLUDED.auto_increments,
			auto_confidence_sum = EXCLUDED.auto_confidence_sum,
			active_sec = EXCLUDED.active_sec,
			resumed_at = EXCLUDED.resumed_at,
			updated_at = NOW()`,
		s.ID, s.StartTime, s.EndTime, s.PushUpCount, s.Duration, string(s.Status),
		s.DetectionAccuracy, s.ManualAdjustments, s.CameraUsed, s.Notes,
		s.AutoIncrements, s.AutoConfidenceSum, s.ActiveSeconds, resumedAt)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", s.ID, err)
	}
	return nil
}

// List returns sessions newest first.
func (db *DB) List(ctx context.Context, limit, offset int) ([]session.Session, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM workout_sessions
		 ORDER BY start_time DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var result []session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// Delete removes a session. Unknown ids return session.ErrNotStored.
func (db *DB) Delete(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return session.ErrNotStored
	}
	tag, err := db.Pool.Exec(ctx, `DELETE FROM workout_sessions WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotStored
	}
	return nil
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var (
		s         session.Session
		status    string
		resumedAt *time.Time
	)
	if err := row.Scan(&s.ID, &s.StartTime, &s.EndTime, &s.PushUpCount, &s.Duration, &status,
		&s.DetectionAccuracy, &s.ManualAdjustments, &s.CameraUsed, &s.Notes,
		&s.AutoIncrements, &s.AutoConfidenceSum, &s.ActiveSeconds, &resumedAt); err != nil {
		return nil, err
	}
	s.Status = session.Status(status)
	if resumedAt != nil {
		s.ResumedAt = *resumedAt
	}
	return &s, nil
}
