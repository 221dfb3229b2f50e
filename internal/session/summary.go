package session

import (
	"context"
	"time"
)

// Summary aggregates completed sessions.
type Summary struct {
	Sessions          int        `json:"sessions"`
	TotalReps         int        `json:"total_reps"`
	TotalDuration     float64    `json:"total_duration_sec"`
	BestSession       int        `json:"best_session_reps"`
	AverageAccuracy   float64    `json:"average_accuracy"`
	ManualAdjustments int        `json:"manual_adjustments"`
	FirstSession      *time.Time `json:"first_session,omitempty"`
	LastSession       *time.Time `json:"last_session,omitempty"`
}

// Summarizer is implemented by stores that can aggregate in the database.
type Summarizer interface {
	Summary(ctx context.Context, since time.Time) (Summary, error)
}

// Add folds one completed session into the summary.
func (s *Summary) Add(sess Session) {
	s.Sessions++
	s.TotalReps += sess.PushUpCount
	s.TotalDuration += sess.Duration
	s.BestSession = max(s.BestSession, sess.PushUpCount)
	s.ManualAdjustments += sess.ManualAdjustments
	// Running mean.
	s.AverageAccuracy += (sess.DetectionAccuracy - s.AverageAccuracy) / float64(s.Sessions)

	start := sess.StartTime
	if s.FirstSession == nil || start.Before(*s.FirstSession) {
		s.FirstSession = &start
	}
	if s.LastSession == nil || start.After(*s.LastSession) {
		s.LastSession = &start
	}
}

const summaryPage = 100

// Summary aggregates completed sessions started at or after since. Stores
// that implement Summarizer do it themselves; others are paged through.
func (m *Manager) Summary(ctx context.Context, since time.Time) (Summary, error) {
	if agg, ok := m.store.(Summarizer); ok {
		sum, err := agg.Summary(ctx, since)
		if err != nil {
			return Summary{}, storageError("summarizing sessions", err)
		}
		return sum, nil
	}

	var sum Summary
	for offset := 0; ; offset += summaryPage {
		page, err := m.store.List(ctx, summaryPage, offset)
		if err != nil {
			return Summary{}, storageError("listing sessions", err)
		}
		for _, s := range page {
			if s.StartTime.Before(since) {
				return sum, nil
			}
			if s.Status == StatusCompleted {
				sum.Add(s)
			}
		}
		if len(page) < summaryPage {
			return sum, nil
		}
	}
}
