// Package session owns the workout session lifecycle and the authoritative
// push-up count. At most one session is live (active or paused) at a time;
// every mutation of it is serialized by the Manager.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// Method says where a count change came from.
type Method string

const (
	MethodAuto   Method = "auto"
	MethodManual Method = "manual"
)

// Session is one workout. Fields tagged json:"-" are accounting state kept
// for persistence and derived statistics.
type Session struct {
	ID                string     `json:"id"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	PushUpCount       int        `json:"push_up_count"`
	Duration          float64    `json:"duration"`
	Status            Status     `json:"status"`
	DetectionAccuracy float64    `json:"detection_accuracy"`
	ManualAdjustments int        `json:"manual_adjustments"`
	CameraUsed        bool       `json:"camera_used"`
	Notes             string     `json:"notes,omitempty"`

	AutoIncrements    int       `json:"-"`
	AutoConfidenceSum float64   `json:"-"`
	ActiveSeconds     float64   `json:"-"`
	ResumedAt         time.Time `json:"-"`
}

// accuracy weights automatic increments by their confidence against every
// count change, manual corrections included.
func (s *Session) accuracy() float64 {
	total := s.AutoIncrements + s.ManualAdjustments
	if total == 0 {
		return 0
	}
	return min(1, max(0, s.AutoConfidenceSum/float64(total)))
}

// snapshot returns a copy with Duration and DetectionAccuracy brought up to now.
func (s *Session) snapshot(now time.Time) Session {
	c := *s
	if c.Status.Terminal() {
		return c
	}
	c.Duration = c.ActiveSeconds
	if c.Status == StatusActive && !c.ResumedAt.IsZero() {
		c.Duration += now.Sub(c.ResumedAt).Seconds()
	}
	c.DetectionAccuracy = c.accuracy()
	return c
}

// CountUpdate is the result of a count mutation.
type CountUpdate struct {
	SessionID     string    `json:"session_id"`
	NewCount      int       `json:"new_count"`
	PreviousCount int       `json:"previous_count"`
	Timestamp     time.Time `json:"timestamp"`
	Method        Method    `json:"method"`
	Confidence    float64   `json:"confidence,omitempty"`
	Success       bool      `json:"success"`
}

// Delta is the signed change in count.
func (u CountUpdate) Delta() int {
	return u.NewCount - u.PreviousCount
}

// Code classifies session errors.
type Code string

const (
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeSessionAlreadyActive Code = "SESSION_ALREADY_ACTIVE"
	CodeInvalidCount         Code = "INVALID_COUNT"
	CodeStorage              Code = "STORAGE_ERROR"
)

// Error is a typed session failure. Two errors match under errors.Is when
// their codes are equal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrSessionNotFound      = &Error{Code: CodeSessionNotFound}
	ErrSessionAlreadyActive = &Error{Code: CodeSessionAlreadyActive}
	ErrInvalidCount         = &Error{Code: CodeInvalidCount}
	ErrStorage              = &Error{Code: CodeStorage}
)

func notFound(format string, args ...any) *Error {
	return &Error{Code: CodeSessionNotFound, Message: fmt.Sprintf(format, args...)}
}

func storageError(op string, err error) *Error {
	return &Error{Code: CodeStorage, Message: op, Err: err}
}

// ErrNotStored is returned by a Store when a session id is unknown.
var ErrNotStored = errors.New("session: not stored")

// Store persists sessions. Implementations return ErrNotStored (possibly
// wrapped) for unknown ids. List orders by start time, newest first.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	List(ctx context.Context, limit, offset int) ([]Session, error)
	Delete(ctx context.Context, id string) error
}

// CountObserver is told about every applied count change, synchronously and
// in order.
type CountObserver interface {
	ObserveCount(u CountUpdate)
}

// ChangeType names a session change published on the change bus.
type ChangeType string

const (
	ChangeStarted ChangeType = "started"
	ChangePaused  ChangeType = "paused"
	ChangeResumed ChangeType = "resumed"
	ChangeEnded   ChangeType = "ended"
	ChangeDeleted ChangeType = "deleted"
	ChangeCount   ChangeType = "count"
	ChangeUpdated ChangeType = "updated"
)

// Change is published after every successful mutation.
type Change struct {
	Type    ChangeType   `json:"type"`
	Session Session      `json:"session"`
	Update  *CountUpdate `json:"update,omitempty"`
}
