package detect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/meltforce/pushreps/internal/metrics"
	"github.com/meltforce/pushreps/internal/pose"
	"github.com/meltforce/pushreps/internal/session"
	"github.com/meltforce/pushreps/internal/stats"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixedSensitivity struct {
	level string
	err   error
}

func (f fixedSensitivity) Sensitivity(context.Context) (string, error) { return f.level, f.err }

type rig struct {
	det      *Detector
	sessions *session.Manager
	agg      *stats.Aggregator
	id       string
	ms       int
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()
	ctx := context.Background()
	agg := stats.New("test")
	mgr := session.NewManager(session.NewMemoryStore(), discard(), session.WithCountObserver(agg))
	cfg := DefaultConfig()
	cfg.MinRepInterval = 0
	cfg.DegradedWindow = 4
	opts = append([]Option{WithMetrics(metrics.NewTestManager())}, opts...)
	det := New(cfg, mgr, agg, discard(), opts...)
	t.Cleanup(det.Close)

	s, err := mgr.StartWorkout(ctx)
	if err != nil {
		t.Fatalf("start workout: %v", err)
	}
	if _, err := det.Start(ctx, s.ID); err != nil {
		t.Fatalf("start detection: %v", err)
	}
	return &rig{det: det, sessions: mgr, agg: agg, id: s.ID}
}

// frame builds a one-arm frame with the given elbow angle, 100 ms after the
// previous one.
func (r *rig) frame(degrees, conf float64) pose.Frame {
	r.ms += 100
	a := bentArm("left", degrees, conf)
	return pose.Frame{
		Timestamp: base.Add(time.Duration(r.ms) * time.Millisecond),
		Keypoints: []pose.Keypoint{a.Shoulder, a.Elbow, a.Wrist},
	}
}

func (r *rig) feed(t *testing.T, degrees ...float64) []*DetectionEvent {
	t.Helper()
	var evs []*DetectionEvent
	for _, deg := range degrees {
		ev, err := r.det.ProcessFrame(context.Background(), r.frame(deg, 0.9))
		if err != nil {
			t.Fatalf("frame %v°: %v", deg, err)
		}
		evs = append(evs, ev)
	}
	return evs
}

func (r *rig) count(t *testing.T) int {
	t.Helper()
	s, ok := r.sessions.GetCurrentSession()
	if !ok {
		t.Fatal("no current session")
	}
	return s.PushUpCount
}

// TestDetectorCountsReps verifies full down/up cycles reach the session and
// the detection stats.
func TestDetectorCountsReps(t *testing.T) {
	r := newRig(t)
	evs := r.feed(t, 170, 80, 80, 126, 170, 90, 175)

	var counted int
	for _, ev := range evs {
		if ev.CountIncremented {
			counted++
			if !ev.Applied {
				t.Error("counted rep not applied")
			}
		}
	}
	if counted != 2 {
		t.Errorf("counted = %d, want 2", counted)
	}
	if got := r.count(t); got != 2 {
		t.Errorf("session count = %d, want 2", got)
	}
	if evs[6].Count != 2 || evs[6].SessionID != r.id {
		t.Errorf("last event = %+v", evs[6])
	}

	st := r.det.Stats()
	if st.TotalDetections != 2 || st.FramesProcessed != 7 {
		t.Errorf("stats = %+v", st)
	}
	if st.AverageConfidence < 0.89 || st.AverageConfidence > 0.91 {
		t.Errorf("average confidence = %v, want 0.9", st.AverageConfidence)
	}
	s, _ := r.sessions.GetCurrentSession()
	if !s.CameraUsed {
		t.Error("camera_used not set by Start")
	}
}

// TestDetectorPauseSuppression verifies that while the session is paused,
// frames are still processed but counted reps do not change the count, and
// the counter keeps its phase across pause and resume.
func TestDetectorPauseSuppression(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)

	r.feed(t, 80) // down: counter waits for up
	if _, err := r.sessions.PauseWorkout(ctx, r.id); err != nil {
		t.Fatalf("pause: %v", err)
	}
	evs := r.feed(t, 170)
	if !evs[0].CountIncremented || evs[0].Applied {
		t.Errorf("paused rep: incremented=%v applied=%v, want true/false", evs[0].CountIncremented, evs[0].Applied)
	}
	if got := r.count(t); got != 0 {
		t.Fatalf("count while paused = %d, want 0", got)
	}

	r.feed(t, 80) // down again while paused
	if _, err := r.sessions.ResumeWorkout(ctx, r.id); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if st := r.det.Status(); st.CounterState != WaitingForUp.String() {
		t.Errorf("counter after resume = %s, want waiting_for_up", st.CounterState)
	}
	evs = r.feed(t, 170)
	if !evs[0].Applied {
		t.Error("rep after resume not applied")
	}
	if got := r.count(t); got != 1 {
		t.Errorf("count after resume = %d, want 1", got)
	}
}

// TestDetectorPauseDetection verifies detector-level pause withholds reps the
// same way.
func TestDetectorPauseDetection(t *testing.T) {
	r := newRig(t)
	if err := r.det.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	r.feed(t, 80, 170)
	if got := r.count(t); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
	if err := r.det.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	r.feed(t, 80, 170)
	if got := r.count(t); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
	if err := r.det.Resume(); !errors.Is(err, ErrDetectionInactive) {
		t.Errorf("resume running: err = %v, want ErrDetectionInactive", err)
	}
}

// TestDetectorRejectsLeaveCounterAlone verifies low-confidence frames produce
// no event and do not move the counter.
func TestDetectorRejectsLeaveCounterAlone(t *testing.T) {
	r := newRig(t)
	r.feed(t, 80)

	ev, err := r.det.ProcessFrame(context.Background(), r.frame(170, 0.1))
	if !errors.Is(err, pose.ErrLowConfidence) || ev != nil {
		t.Fatalf("low confidence frame: ev=%v err=%v", ev, err)
	}
	if st := r.det.Status(); st.CounterState != WaitingForUp.String() {
		t.Errorf("counter = %s, want waiting_for_up", st.CounterState)
	}
	if got := r.det.Stats().FramesRejected; got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
}

// TestDetectorDegraded verifies a full window of rejections raises
// PERFORMANCE_DEGRADED once per episode.
func TestDetectorDegraded(t *testing.T) {
	r := newRig(t)
	sub, err := r.det.Errors().Subscribe("test")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for range 8 {
		r.det.ProcessFrame(context.Background(), r.frame(170, 0.1))
	}
	select {
	case de := <-sub.C():
		if de.Code != CodePerformanceDegraded {
			t.Errorf("code = %s, want PERFORMANCE_DEGRADED", de.Code)
		}
	default:
		t.Fatal("no degraded error published")
	}
	select {
	case de := <-sub.C():
		t.Errorf("second error in same episode: %+v", de)
	default:
	}
	if !r.det.Status().Degraded {
		t.Error("status not degraded")
	}

	r.feed(t, 170, 170, 170, 170)
	if r.det.Status().Degraded {
		t.Error("still degraded after recovery")
	}
}

// TestDetectorFatalError verifies a fatal collaborator error disables frame
// processing until the next start, while manual counting keeps working.
func TestDetectorFatalError(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)

	r.det.ReportError(CodeModelLoadFailed, "model missing", nil)
	_, err := r.det.ProcessFrame(ctx, r.frame(80, 0.9))
	var de *DetectionError
	if !errors.As(err, &de) || de.Code != CodeModelLoadFailed {
		t.Fatalf("frame after failure: err = %v", err)
	}
	if _, err := r.sessions.IncrementCount(ctx, r.id, session.MethodManual); err != nil {
		t.Errorf("manual increment after failure: %v", err)
	}

	if _, err := r.det.Start(ctx, r.id); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, err := r.det.ProcessFrame(ctx, r.frame(80, 0.9)); err != nil {
		t.Errorf("frame after restart: %v", err)
	}
}

// TestDetectorLifecycle verifies start validation and stop.
func TestDetectorLifecycle(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)

	if _, err := r.det.Start(ctx, r.id); !errors.Is(err, ErrDetectionActive) {
		t.Errorf("double start: err = %v, want ErrDetectionActive", err)
	}
	r.det.StopSession("other")
	if r.det.Status().State != StateRunning {
		t.Error("StopSession for another session stopped detection")
	}
	r.det.StopSession(r.id)
	if _, err := r.det.ProcessFrame(ctx, r.frame(80, 0.9)); !errors.Is(err, ErrDetectionInactive) {
		t.Errorf("frame after stop: err = %v, want ErrDetectionInactive", err)
	}
	if _, err := r.det.Start(ctx, "missing"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("start unknown session: err = %v, want SESSION_NOT_FOUND", err)
	}
}

// TestDetectorDropsConcurrentFrame verifies a frame arriving while another is
// in flight is dropped rather than queued.
func TestDetectorDropsConcurrentFrame(t *testing.T) {
	r := newRig(t)
	r.det.frameMu.Lock()
	_, err := r.det.ProcessFrame(context.Background(), r.frame(80, 0.9))
	r.det.frameMu.Unlock()
	if !errors.Is(err, ErrFrameDropped) {
		t.Errorf("err = %v, want ErrFrameDropped", err)
	}
	if got := r.det.Stats().FramesDropped; got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

// TestDetectorSensitivity verifies the preference is read at start and can be
// changed while running.
func TestDetectorSensitivity(t *testing.T) {
	r := newRig(t, WithSensitivitySource(fixedSensitivity{level: "high"}))
	if got := r.det.Status().Sensitivity; got != SensitivityHigh {
		t.Errorf("sensitivity = %s, want high", got)
	}
	if err := r.det.UpdateSensitivity("low"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := r.det.Status().Sensitivity; got != SensitivityLow {
		t.Errorf("sensitivity = %s, want low", got)
	}
	if err := r.det.UpdateSensitivity("max"); !errors.Is(err, ErrInvalidSensitivity) {
		t.Errorf("invalid: err = %v, want ErrInvalidSensitivity", err)
	}

	bad := newRig(t, WithSensitivitySource(fixedSensitivity{err: errors.New("offline")}))
	if got := bad.det.Status().Sensitivity; got != SensitivityMedium {
		t.Errorf("fallback sensitivity = %s, want medium", got)
	}
}

// TestDetectorStopsWhenSessionEnds verifies ending or deleting the session
// through the manager alone stops detection, so no frame is admitted for a
// finished session and a new session can start detection.
func TestDetectorStopsWhenSessionEnds(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		finish func(r *rig) error
	}{
		{"end", func(r *rig) error {
			_, err := r.sessions.EndWorkout(ctx, r.id)
			return err
		}},
		{"delete", func(r *rig) error { return r.sessions.DeleteSession(ctx, r.id) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			r.feed(t, 80)
			if err := tt.finish(r); err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}

			ev, err := r.det.ProcessFrame(ctx, r.frame(170, 0.9))
			if !errors.Is(err, ErrDetectionInactive) || ev != nil {
				t.Errorf("frame after %s: ev = %v, err = %v, want ErrDetectionInactive", tt.name, ev, err)
			}
			if st := r.det.Status(); st.State != StateIdle || st.SessionID != "" {
				t.Errorf("status = %+v, want idle", st)
			}

			next, err := r.sessions.StartWorkout(ctx)
			if err != nil {
				t.Fatalf("start next workout: %v", err)
			}
			if _, err := r.det.Start(ctx, next.ID); err != nil {
				t.Errorf("start detection for next session: %v", err)
			}
		})
	}
}

// TestDetectorTransitionIsNotDrop verifies a frame turned away while Stop
// waits for the frame lock is refused as inactive and not counted as dropped.
func TestDetectorTransitionIsNotDrop(t *testing.T) {
	r := newRig(t)
	r.det.frameMu.Lock()
	stopped := make(chan struct{})
	go func() {
		r.det.Stop()
		close(stopped)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for r.det.transitions.Load() == 0 {
		if time.Now().After(deadline) {
			r.det.frameMu.Unlock()
			t.Fatal("Stop never started waiting")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := r.det.ProcessFrame(context.Background(), r.frame(80, 0.9))
	r.det.frameMu.Unlock()
	<-stopped

	if !errors.Is(err, ErrDetectionInactive) {
		t.Errorf("err = %v, want ErrDetectionInactive", err)
	}
	if got := r.det.Stats().FramesDropped; got != 0 {
		t.Errorf("dropped = %d, want 0", got)
	}
	if got := r.det.Status().State; got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
}
