package stats

import (
	"math"
	"testing"
	"time"

	"github.com/meltforce/pushreps/internal/session"
)

var t0 = time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func auto(ts time.Time, prev int) session.CountUpdate {
	return session.CountUpdate{Method: session.MethodAuto, PreviousCount: prev, NewCount: prev + 1, Timestamp: ts, Success: true}
}

func manual(ts time.Time, prev, next int) session.CountUpdate {
	return session.CountUpdate{Method: session.MethodManual, PreviousCount: prev, NewCount: next, Timestamp: ts, Success: true}
}

// TestAverageConfidence verifies the running mean over counted detections.
func TestAverageConfidence(t *testing.T) {
	a := New("test-model")
	a.RecordDetection(0.8)
	a.RecordDetection(0.6)

	s := a.Snapshot()
	if s.TotalDetections != 2 {
		t.Errorf("total = %d, want 2", s.TotalDetections)
	}
	if !approx(s.AverageConfidence, 0.7) {
		t.Errorf("average = %v, want 0.7", s.AverageConfidence)
	}
	if s.ModelVersion != "test-model" {
		t.Errorf("model version = %q", s.ModelVersion)
	}
}

// TestFrameRateAndLatency verifies the moving averages start at the first
// sample and follow later ones with the smoothing factor.
func TestFrameRateAndLatency(t *testing.T) {
	a := New("m")
	a.RecordFrame(t0, 10*time.Millisecond, false)
	a.RecordFrame(t0.Add(100*time.Millisecond), 20*time.Millisecond, true)

	s := a.Snapshot()
	if !approx(s.ProcessingLatency, 11) {
		t.Errorf("latency = %v, want 11", s.ProcessingLatency)
	}
	if !approx(s.FrameRate, 10) {
		t.Errorf("frame rate = %v, want 10", s.FrameRate)
	}

	a.RecordFrame(t0.Add(150*time.Millisecond), 10*time.Millisecond, false)
	s = a.Snapshot()
	if !approx(s.FrameRate, 11) {
		t.Errorf("frame rate = %v, want 11", s.FrameRate)
	}
	if s.FramesProcessed != 3 || s.FramesRejected != 1 {
		t.Errorf("frames = %d rejected = %d, want 3 and 1", s.FramesProcessed, s.FramesRejected)
	}
}

// TestFalsePositiveRate verifies manual reductions shortly after automatic
// increments are treated as reversals, and late corrections are not.
func TestFalsePositiveRate(t *testing.T) {
	a := New("m")
	a.ObserveCount(auto(t0, 0))
	a.ObserveCount(auto(t0.Add(time.Second), 1))
	a.ObserveCount(auto(t0.Add(2*time.Second), 2))
	a.ObserveCount(auto(t0.Add(3*time.Second), 3))
	a.ObserveCount(manual(t0.Add(4*time.Second), 4, 3))

	if got := a.Snapshot().FalsePositiveRate; !approx(got, 0.25) {
		t.Errorf("rate = %v, want 0.25", got)
	}

	// Everything is outside the window by now.
	a.ObserveCount(manual(t0.Add(time.Minute), 3, 0))
	if got := a.Snapshot().FalsePositiveRate; !approx(got, 0.25) {
		t.Errorf("rate after late correction = %v, want 0.25", got)
	}
}

// TestFalsePositiveIgnoresManualIncrements verifies that manual additions and
// raising setCount do not reverse anything.
func TestFalsePositiveIgnoresManualIncrements(t *testing.T) {
	a := New("m")
	a.ObserveCount(auto(t0, 0))
	a.ObserveCount(manual(t0.Add(time.Second), 1, 2))
	a.ObserveCount(manual(t0.Add(2*time.Second), 2, 5))
	if got := a.Snapshot().FalsePositiveRate; got != 0 {
		t.Errorf("rate = %v, want 0", got)
	}
}

// TestReversalNeverExceedsIncrements verifies a large manual reduction only
// reverses the automatic increments that exist.
func TestReversalNeverExceedsIncrements(t *testing.T) {
	a := New("m")
	a.ObserveCount(auto(t0, 10))
	a.ObserveCount(manual(t0.Add(time.Second), 11, 0))
	if got := a.Snapshot().FalsePositiveRate; got != 1 {
		t.Errorf("rate = %v, want 1", got)
	}
}

// TestReset verifies Reset keeps the model version.
func TestReset(t *testing.T) {
	a := New("m1")
	a.RecordDetection(1)
	a.RecordDropped()
	a.Reset()
	s := a.Snapshot()
	if s.TotalDetections != 0 || s.FramesDropped != 0 {
		t.Errorf("after reset = %+v", s)
	}
	if s.ModelVersion != "m1" {
		t.Errorf("model version = %q, want m1", s.ModelVersion)
	}
}
