// Package preferences stores the user's settings. The detector reads the
// detection sensitivity from here; everything else is kept for clients.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Preferences are the user settings.
type Preferences struct {
	AudioEnabled         bool      `json:"audio_enabled"`
	AudioVolume          float64   `json:"audio_volume"`
	CameraPreference     string    `json:"camera_preference"`
	DetectionSensitivity string    `json:"detection_sensitivity"`
	Theme                string    `json:"theme"`
	ShowTutorial         bool      `json:"show_tutorial"`
	PrivacyConsent       bool      `json:"privacy_consent"`
	WeeklyGoal           *int      `json:"weekly_goal,omitempty"`
	MonthlyGoal          *int      `json:"monthly_goal,omitempty"`
	HighContrast         bool      `json:"high_contrast"`
	ReduceMotion         bool      `json:"reduce_motion"`
	AnnounceCount        bool      `json:"announce_count"`
	LastUpdated          time.Time `json:"last_updated"`
}

// Defaults returns the settings used before the user changes anything.
func Defaults() Preferences {
	return Preferences{
		AudioEnabled:         true,
		AudioVolume:          0.7,
		CameraPreference:     "auto",
		DetectionSensitivity: "medium",
		Theme:                "auto",
		ShowTutorial:         true,
		AnnounceCount:        true,
	}
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	AudioEnabled         *bool    `json:"audio_enabled,omitempty"`
	AudioVolume          *float64 `json:"audio_volume,omitempty"`
	CameraPreference     *string  `json:"camera_preference,omitempty"`
	DetectionSensitivity *string  `json:"detection_sensitivity,omitempty"`
	Theme                *string  `json:"theme,omitempty"`
	ShowTutorial         *bool    `json:"show_tutorial,omitempty"`
	PrivacyConsent       *bool    `json:"privacy_consent,omitempty"`
	WeeklyGoal           *int     `json:"weekly_goal,omitempty"`
	MonthlyGoal          *int     `json:"monthly_goal,omitempty"`
	HighContrast         *bool    `json:"high_contrast,omitempty"`
	ReduceMotion         *bool    `json:"reduce_motion,omitempty"`
	AnnounceCount        *bool    `json:"announce_count,omitempty"`
}

func (p Patch) apply(to *Preferences) {
	setIf(&to.AudioEnabled, p.AudioEnabled)
	setIf(&to.AudioVolume, p.AudioVolume)
	setIf(&to.CameraPreference, p.CameraPreference)
	setIf(&to.DetectionSensitivity, p.DetectionSensitivity)
	setIf(&to.Theme, p.Theme)
	setIf(&to.ShowTutorial, p.ShowTutorial)
	setIf(&to.PrivacyConsent, p.PrivacyConsent)
	setIf(&to.HighContrast, p.HighContrast)
	setIf(&to.ReduceMotion, p.ReduceMotion)
	setIf(&to.AnnounceCount, p.AnnounceCount)
	if p.WeeklyGoal != nil {
		to.WeeklyGoal = p.WeeklyGoal
	}
	if p.MonthlyGoal != nil {
		to.MonthlyGoal = p.MonthlyGoal
	}
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks every enumerated and ranged field.
func (p Preferences) Validate() error {
	switch {
	case p.AudioVolume < 0 || p.AudioVolume > 1:
		return validation("audio_volume", "must be between 0 and 1")
	case !oneOf(p.CameraPreference, "front", "back", "auto"):
		return validation("camera_preference", "must be front, back or auto")
	case !oneOf(p.DetectionSensitivity, "low", "medium", "high"):
		return validation("detection_sensitivity", "must be low, medium or high")
	case !oneOf(p.Theme, "light", "dark", "auto"):
		return validation("theme", "must be light, dark or auto")
	case p.WeeklyGoal != nil && *p.WeeklyGoal < 0:
		return validation("weekly_goal", "must not be negative")
	case p.MonthlyGoal != nil && *p.MonthlyGoal < 0:
		return validation("monthly_goal", "must not be negative")
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Code classifies preference errors.
type Code string

const (
	CodeStorage    Code = "STORAGE_ERROR"
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "PREFERENCE_NOT_FOUND"
)

// Error is a typed preferences failure. Errors match under errors.Is by code.
type Error struct {
	Code    Code
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrStorage    = &Error{Code: CodeStorage}
	ErrValidation = &Error{Code: CodeValidation}
	ErrNotFound   = &Error{Code: CodeNotFound}
)

func validation(field, msg string) *Error {
	return &Error{Code: CodeValidation, Field: field, Message: msg}
}

// ErrNotStored is returned by a Store that holds no preferences yet.
var ErrNotStored = errors.New("preferences: not stored")

// Store persists one preferences record.
type Store interface {
	LoadPreferences(ctx context.Context) (*Preferences, error)
	SavePreferences(ctx context.Context, p *Preferences) error
}

// Service reads and updates preferences. Missing stored preferences read as
// the defaults.
type Service struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
	log   *slog.Logger
}

func NewService(store Store, log *slog.Logger) *Service {
	return &Service{store: store, now: time.Now, log: log}
}

// Get returns the stored preferences or the defaults.
func (s *Service) Get(ctx context.Context) (Preferences, error) {
	p, err := s.store.LoadPreferences(ctx)
	if errors.Is(err, ErrNotStored) {
		return Defaults(), nil
	}
	if err != nil {
		return Defaults(), &Error{Code: CodeStorage, Message: "loading preferences", Err: err}
	}
	return *p, nil
}

// Update applies a patch, validates the result and saves it.
func (s *Service) Update(ctx context.Context, patch Patch) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.Get(ctx)
	if err != nil {
		return cur, err
	}
	next := cur
	patch.apply(&next)
	if err := next.Validate(); err != nil {
		return cur, err
	}
	return s.saveLocked(ctx, next)
}

// Reset restores the defaults.
func (s *Service) Reset(ctx context.Context) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, Defaults())
}

// ResetField restores one field, named by its JSON key, to its default.
func (s *Service) ResetField(ctx context.Context, field string) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.Get(ctx)
	if err != nil {
		return cur, err
	}
	def := Defaults()
	switch field {
	case "audio_enabled":
		cur.AudioEnabled = def.AudioEnabled
	case "audio_volume":
		cur.AudioVolume = def.AudioVolume
	case "camera_preference":
		cur.CameraPreference = def.CameraPreference
	case "detection_sensitivity":
		cur.DetectionSensitivity = def.DetectionSensitivity
	case "theme":
		cur.Theme = def.Theme
	case "show_tutorial":
		cur.ShowTutorial = def.ShowTutorial
	case "privacy_consent":
		cur.PrivacyConsent = def.PrivacyConsent
	case "weekly_goal":
		cur.WeeklyGoal = nil
	case "monthly_goal":
		cur.MonthlyGoal = nil
	case "high_contrast":
		cur.HighContrast = def.HighContrast
	case "reduce_motion":
		cur.ReduceMotion = def.ReduceMotion
	case "announce_count":
		cur.AnnounceCount = def.AnnounceCount
	default:
		return cur, &Error{Code: CodeNotFound, Field: field, Message: "unknown preference"}
	}
	return s.saveLocked(ctx, cur)
}

// Sensitivity returns the detection sensitivity level.
func (s *Service) Sensitivity(ctx context.Context) (string, error) {
	p, err := s.Get(ctx)
	return p.DetectionSensitivity, err
}

func (s *Service) saveLocked(ctx context.Context, p Preferences) (Preferences, error) {
	p.LastUpdated = s.now().UTC()
	if err := s.store.SavePreferences(ctx, &p); err != nil {
		s.log.Error("saving preferences", "error", err)
		return p, &Error{Code: CodeStorage, Message: "saving preferences", Err: fmt.Errorf("save: %w", err)}
	}
	return p, nil
}

// MemoryStore keeps preferences in memory.
type MemoryStore struct {
	mu sync.Mutex
	p  *Preferences
}

func (m *MemoryStore) LoadPreferences(context.Context) (*Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.p == nil {
		return nil, ErrNotStored
	}
	c := *m.p
	return &c, nil
}

func (m *MemoryStore) SavePreferences(_ context.Context, p *Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.p = &c
	return nil
}
