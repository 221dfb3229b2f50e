package mcp

import (
	"context"
	"time"

	"github.com/meltforce/pushreps/internal/session"
	"github.com/meltforce/pushreps/internal/stats"
)

// DataSource abstracts the data layer for MCP tools. Both Local (in-process)
// and HTTPClient (remote via REST API) satisfy this interface.
type DataSource interface {
	// CurrentSession returns nil when no workout is in progress.
	CurrentSession(ctx context.Context) (*session.Session, error)
	SessionHistory(ctx context.Context, limit, offset int) ([]session.Session, error)
	GetSession(ctx context.Context, id string) (*session.Session, error)
	DetectionStats(ctx context.Context) (*stats.DetectionStats, error)
	Summary(ctx context.Context, since time.Time) (*session.Summary, error)
}

// Local serves MCP from the running process.
type Local struct {
	sessions *session.Manager
	stats    *stats.Aggregator
}

// Compile-time check: *Local satisfies DataSource.
var _ DataSource = (*Local)(nil)

func NewLocal(sessions *session.Manager, agg *stats.Aggregator) *Local {
	return &Local{sessions: sessions, stats: agg}
}

func (l *Local) CurrentSession(context.Context) (*session.Session, error) {
	s, ok := l.sessions.GetCurrentSession()
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (l *Local) SessionHistory(ctx context.Context, limit, offset int) ([]session.Session, error) {
	return l.sessions.GetSessionHistory(ctx, limit, offset)
}

func (l *Local) GetSession(ctx context.Context, id string) (*session.Session, error) {
	s, err := l.sessions.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (l *Local) DetectionStats(context.Context) (*stats.DetectionStats, error) {
	st := l.stats.Snapshot()
	return &st, nil
}

func (l *Local) Summary(ctx context.Context, since time.Time) (*session.Summary, error) {
	sum, err := l.sessions.Summary(ctx, since)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}
