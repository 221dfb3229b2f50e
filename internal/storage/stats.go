package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/meltforce/pushreps/internal/session"
)

// Summary aggregates completed sessions started at or after since.
func (db *DB) Summary(ctx context.Context, since time.Time) (session.Summary, error) {
	var sum session.Summary
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(push_up_count), 0),
		        COALESCE(SUM(duration_sec), 0),
		        COALESCE(MAX(push_up_count), 0),
		        COALESCE(AVG(detection_accuracy), 0),
		        COALESCE(SUM(manual_adjustments), 0),
		        MIN(start_time),
		        MAX(start_time)
		 FROM workout_sessions
		 WHERE status = 'completed' AND start_time >= $1`,
		since,
	).Scan(&sum.Sessions, &sum.TotalReps, &sum.TotalDuration, &sum.BestSession,
		&sum.AverageAccuracy, &sum.ManualAdjustments, &sum.FirstSession, &sum.LastSession)
	if err != nil {
		return session.Summary{}, fmt.Errorf("summarizing sessions: %w", err)
	}
	return sum, nil
}
