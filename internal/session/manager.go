package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meltforce/pushreps/internal/events"
)

// DefaultHistoryLimit is used when GetSessionHistory is called without a limit.
const DefaultHistoryLimit = 20

// Manager is the session state machine. One mutex guards the current session,
// so automatic increments from the detector and manual edits never interleave.
type Manager struct {
	mu      sync.Mutex
	store   Store
	current *Session
	dirty   bool // last save of current failed

	now       func() time.Time
	log       *slog.Logger
	observers []CountObserver
	changes   *events.Bus[Change]
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCountObserver registers a synchronous count observer.
func WithCountObserver(o CountObserver) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// WithChanges publishes every change on bus.
func WithChanges(bus *events.Bus[Change]) Option {
	return func(m *Manager) { m.changes = bus }
}

// NewManager creates a Manager with no current session.
func NewManager(store Store, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{store: store, now: time.Now, log: log}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Restore reloads an unfinished session left in the store by a previous
// process. The newest stored session is the only candidate. It comes back
// paused because no detection pipeline is attached to it yet.
func (m *Manager) Restore(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list, err := m.store.List(ctx, 1, 0)
	if err != nil {
		return nil, storageError("listing sessions", err)
	}
	if len(list) == 0 || list[0].Status.Terminal() {
		return nil, nil
	}
	s := list[0]
	if s.Status == StatusActive {
		s.Status = StatusPaused
		s.ResumedAt = time.Time{}
	}
	m.current = &s
	m.log.Info("restored unfinished session", "session_id", s.ID, "count", s.PushUpCount)

	snap := s.snapshot(m.now())
	return &snap, m.persistLocked(ctx, "saving restored session")
}

// StartWorkout creates a new active session.
func (m *Manager) StartWorkout(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.Status.Terminal() {
		return Session{}, &Error{Code: CodeSessionAlreadyActive, Message: "session " + m.current.ID + " is " + string(m.current.Status)}
	}
	if m.current != nil && m.dirty {
		// A completed session that never reached the store must not be lost.
		if err := m.persistLocked(ctx, "saving previous session"); err != nil {
			return Session{}, err
		}
	}

	now := m.now()
	m.current = &Session{
		ID:        uuid.NewString(),
		StartTime: now,
		Status:    StatusActive,
		ResumedAt: now,
	}
	m.log.Info("workout started", "session_id", m.current.ID)
	return m.commitLocked(ctx, ChangeStarted, nil, "saving new session")
}

// PauseWorkout moves the current session from active to paused.
func (m *Manager) PauseWorkout(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.liveLocked(id)
	if err != nil {
		return Session{}, err
	}
	if s.Status != StatusActive {
		return Session{}, notFound("session %s is not active", id)
	}
	now := m.now()
	s.ActiveSeconds += now.Sub(s.ResumedAt).Seconds()
	s.ResumedAt = time.Time{}
	s.Status = StatusPaused
	return m.commitLocked(ctx, ChangePaused, nil, "saving paused session")
}

// ResumeWorkout moves the current session from paused to active.
func (m *Manager) ResumeWorkout(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.liveLocked(id)
	if err != nil {
		return Session{}, err
	}
	if s.Status != StatusPaused {
		return Session{}, notFound("session %s is not paused", id)
	}
	s.ResumedAt = m.now()
	s.Status = StatusActive
	return m.commitLocked(ctx, ChangeResumed, nil, "saving resumed session")
}

// EndWorkout completes the current session, fixing its end time, duration and
// detection accuracy. The session stops being current.
func (m *Manager) EndWorkout(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.liveLocked(id)
	if err != nil {
		return Session{}, err
	}
	now := m.now()
	if s.Status == StatusActive {
		s.ActiveSeconds += now.Sub(s.ResumedAt).Seconds()
	}
	s.ResumedAt = time.Time{}
	s.EndTime = &now
	s.Duration = s.ActiveSeconds
	s.DetectionAccuracy = s.accuracy()
	s.Status = StatusCompleted

	m.log.Info("workout ended",
		"session_id", s.ID,
		"count", s.PushUpCount,
		"duration_sec", s.Duration,
		"accuracy", s.DetectionAccuracy,
		"manual_adjustments", s.ManualAdjustments,
	)
	snap, err := m.commitLocked(ctx, ChangeEnded, nil, "saving completed session")
	if err == nil {
		m.current = nil
	}
	return snap, err
}

// IncrementCount adds one to the count of the active session. Manual
// increments count as adjustments; automatic ones carry full confidence.
func (m *Manager) IncrementCount(ctx context.Context, id string, method Method) (CountUpdate, error) {
	return m.increment(ctx, id, method, 1)
}

// RecordDetection applies one automatic increment from the detector with the
// confidence of the detection event.
func (m *Manager) RecordDetection(ctx context.Context, id string, confidence float64) (CountUpdate, error) {
	return m.increment(ctx, id, MethodAuto, confidence)
}

func (m *Manager) increment(ctx context.Context, id string, method Method, confidence float64) (CountUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.liveLocked(id)
	if err != nil {
		return CountUpdate{SessionID: id, Method: method}, err
	}
	if s.Status != StatusActive {
		return CountUpdate{SessionID: id, Method: method, NewCount: s.PushUpCount}, notFound("session %s is not active", id)
	}

	switch method {
	case MethodAuto:
		s.AutoIncrements++
		s.AutoConfidenceSum += min(1, max(0, confidence))
	case MethodManual:
		s.ManualAdjustments++
		confidence = 0
	default:
		return CountUpdate{SessionID: id, Method: method}, &Error{Code: CodeInvalidCount, Message: "unknown method " + string(method)}
	}
	return m.setCountLocked(ctx, s, s.PushUpCount+1, method, confidence)
}

// DecrementCount removes one from the count as a manual correction. It is
// allowed while the session is paused.
func (m *Manager) DecrementCount(ctx context.Context, id string) (CountUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.liveLocked(id)
	if err != nil {
		return CountUpdate{SessionID: id, Method: MethodManual}, err
	}
	if s.PushUpCount == 0 {
		return CountUpdate{SessionID: id, Method: MethodManual}, &Error{Code: CodeInvalidCount, Message: "count is already zero"}
	}
	s.ManualAdjustments++
	return m.setCountLocked(ctx, s, s.PushUpCount-1, MethodManual, 0)
}

// SetCount overwrites the count as a manual correction.
func (m *Manager) SetCount(ctx context.Context, id string, n int) (CountUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.liveLocked(id)
	if err != nil {
		return CountUpdate{SessionID: id, Method: MethodManual}, err
	}
	if n < 0 {
		return CountUpdate{SessionID: id, Method: MethodManual, NewCount: s.PushUpCount}, &Error{Code: CodeInvalidCount, Message: "count must not be negative"}
	}
	s.ManualAdjustments++
	return m.setCountLocked(ctx, s, n, MethodManual, 0)
}

func (m *Manager) setCountLocked(ctx context.Context, s *Session, n int, method Method, confidence float64) (CountUpdate, error) {
	u := CountUpdate{
		SessionID:     s.ID,
		PreviousCount: s.PushUpCount,
		NewCount:      n,
		Timestamp:     m.now(),
		Method:        method,
		Confidence:    confidence,
		Success:       true,
	}
	s.PushUpCount = n

	for _, o := range m.observers {
		o.ObserveCount(u)
	}
	_, err := m.commitLocked(ctx, ChangeCount, &u, "saving count")
	return u, err
}

// MarkCameraUsed records that automatic detection ran for the session.
func (m *Manager) MarkCameraUsed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.liveLocked(id)
	if err != nil {
		return err
	}
	if s.CameraUsed {
		return nil
	}
	s.CameraUsed = true
	_, err = m.commitLocked(ctx, ChangeUpdated, nil, "saving camera flag")
	return err
}

// SetNotes replaces the free-text notes of the current session.
func (m *Manager) SetNotes(ctx context.Context, id, notes string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.liveLocked(id)
	if err != nil {
		return Session{}, err
	}
	s.Notes = notes
	return m.commitLocked(ctx, ChangeUpdated, nil, "saving notes")
}

// GetCurrentSession returns the live session, if any.
func (m *Manager) GetCurrentSession() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Status.Terminal() {
		return Session{}, false
	}
	return m.current.snapshot(m.now()), true
}

// GetSessionHistory lists stored sessions, newest first. The live session is
// reported with its in-memory state.
func (m *Manager) GetSessionHistory(ctx context.Context, limit, offset int) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	offset = max(offset, 0)

	list, err := m.store.List(ctx, limit, offset)
	if err != nil {
		return nil, storageError("listing sessions", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		for i := range list {
			if list[i].ID == m.current.ID {
				list[i] = m.current.snapshot(m.now())
			}
		}
	}
	return list, nil
}

// GetSessionByID returns the live session or a stored one.
func (m *Manager) GetSessionByID(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	if m.current != nil && m.current.ID == id {
		snap := m.current.snapshot(m.now())
		m.mu.Unlock()
		return snap, nil
	}
	m.mu.Unlock()

	s, err := m.store.Load(ctx, id)
	if errors.Is(err, ErrNotStored) {
		return Session{}, notFound("session %s does not exist", id)
	}
	if err != nil {
		return Session{}, storageError("loading session", err)
	}
	return *s, nil
}

// DeleteSession removes a session. Deleting the live session tears it down.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasCurrent := m.current != nil && m.current.ID == id
	err := m.store.Delete(ctx, id)
	switch {
	case errors.Is(err, ErrNotStored) && !wasCurrent:
		return notFound("session %s does not exist", id)
	case err != nil && !errors.Is(err, ErrNotStored):
		return storageError("deleting session", err)
	}

	if wasCurrent {
		snap := m.current.snapshot(m.now())
		m.current = nil
		m.dirty = false
		m.publish(Change{Type: ChangeDeleted, Session: snap})
	}
	m.log.Info("session deleted", "session_id", id, "was_current", wasCurrent)
	return nil
}

// Flush retries saving the current session after a STORAGE_ERROR.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.dirty {
		return nil
	}
	if err := m.persistLocked(ctx, "flushing session"); err != nil {
		return err
	}
	if m.current.Status.Terminal() {
		m.current = nil
	}
	return nil
}

// liveLocked returns the current session if it matches id and is not terminal.
func (m *Manager) liveLocked(id string) (*Session, error) {
	if m.current == nil || m.current.ID != id || m.current.Status.Terminal() {
		return nil, notFound("session %s is not the current session", id)
	}
	return m.current, nil
}

// commitLocked persists the current session and publishes the change. The
// in-memory mutation stands even when the save fails.
func (m *Manager) commitLocked(ctx context.Context, ct ChangeType, u *CountUpdate, op string) (Session, error) {
	snap := m.current.snapshot(m.now())
	m.publish(Change{Type: ct, Session: snap, Update: u})
	return snap, m.persistLocked(ctx, op)
}

func (m *Manager) persistLocked(ctx context.Context, op string) error {
	snap := m.current.snapshot(m.now())
	if err := m.store.Save(ctx, &snap); err != nil {
		m.dirty = true
		m.log.Error("session save failed", "session_id", snap.ID, "op", op, "error", err)
		return storageError(op, err)
	}
	m.dirty = false
	return nil
}

func (m *Manager) publish(c Change) {
	if m.changes != nil {
		m.changes.Publish(c)
	}
}
