package preferences

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func newTestService() (*Service, *MemoryStore) {
	store := &MemoryStore{}
	return NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

type brokenStore struct{}

func (brokenStore) LoadPreferences(context.Context) (*Preferences, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) SavePreferences(context.Context, *Preferences) error {
	return errors.New("connection refused")
}

func ptr[T any](v T) *T { return &v }

// TestGetDefaults verifies an empty store reads as the defaults.
func TestGetDefaults(t *testing.T) {
	svc, _ := newTestService()
	p, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.DetectionSensitivity != "medium" || p.AudioVolume != 0.7 || !p.AudioEnabled || !p.AnnounceCount {
		t.Errorf("defaults = %+v", p)
	}
	if p.PrivacyConsent {
		t.Error("privacy consent must default to false")
	}
}

// TestUpdatePatch verifies only patched fields change and the result is saved.
func TestUpdatePatch(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()

	p, err := svc.Update(ctx, Patch{DetectionSensitivity: ptr("high"), WeeklyGoal: ptr(150)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.DetectionSensitivity != "high" || p.WeeklyGoal == nil || *p.WeeklyGoal != 150 {
		t.Errorf("updated = %+v", p)
	}
	if p.Theme != "auto" {
		t.Errorf("theme = %q, want unchanged auto", p.Theme)
	}
	if p.LastUpdated.IsZero() {
		t.Error("last_updated not stamped")
	}
	stored, _ := store.LoadPreferences(ctx)
	if stored.DetectionSensitivity != "high" {
		t.Errorf("stored sensitivity = %q", stored.DetectionSensitivity)
	}
	if s, _ := svc.Sensitivity(ctx); s != "high" {
		t.Errorf("Sensitivity = %q, want high", s)
	}
}

// TestUpdateValidation verifies invalid values are rejected with the field name
// and nothing is saved.
func TestUpdateValidation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		patch Patch
		field string
	}{
		{"volume", Patch{AudioVolume: ptr(1.5)}, "audio_volume"},
		{"camera", Patch{CameraPreference: ptr("side")}, "camera_preference"},
		{"sensitivity", Patch{DetectionSensitivity: ptr("max")}, "detection_sensitivity"},
		{"theme", Patch{Theme: ptr("neon")}, "theme"},
		{"goal", Patch{MonthlyGoal: ptr(-1)}, "monthly_goal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService()
			_, err := svc.Update(ctx, tt.patch)
			var pe *Error
			if !errors.As(err, &pe) || pe.Code != CodeValidation {
				t.Fatalf("err = %v, want VALIDATION_ERROR", err)
			}
			if pe.Field != tt.field {
				t.Errorf("field = %q, want %q", pe.Field, tt.field)
			}
			if _, err := store.LoadPreferences(ctx); !errors.Is(err, ErrNotStored) {
				t.Error("invalid preferences were saved")
			}
		})
	}
}

// TestReset verifies full and single-field resets.
func TestReset(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	svc.Update(ctx, Patch{Theme: ptr("dark"), AudioVolume: ptr(0.2)})

	p, err := svc.ResetField(ctx, "theme")
	if err != nil {
		t.Fatalf("reset field: %v", err)
	}
	if p.Theme != "auto" || p.AudioVolume != 0.2 {
		t.Errorf("after field reset = %+v", p)
	}
	if _, err := svc.ResetField(ctx, "colour"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown field: err = %v, want PREFERENCE_NOT_FOUND", err)
	}

	p, err = svc.Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if p.AudioVolume != 0.7 {
		t.Errorf("volume after reset = %v, want 0.7", p.AudioVolume)
	}
}

// TestStorageErrors verifies store failures surface as STORAGE_ERROR while
// Get still hands back usable defaults.
func TestStorageErrors(t *testing.T) {
	ctx := context.Background()
	svc := NewService(brokenStore{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	p, err := svc.Get(ctx)
	if !errors.Is(err, ErrStorage) {
		t.Errorf("get: err = %v, want STORAGE_ERROR", err)
	}
	if p.DetectionSensitivity != "medium" {
		t.Errorf("fallback sensitivity = %q", p.DetectionSensitivity)
	}
	if _, err := svc.Reset(ctx); !errors.Is(err, ErrStorage) {
		t.Errorf("reset: err = %v, want STORAGE_ERROR", err)
	}
}
