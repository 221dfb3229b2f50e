package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meltforce/pushreps/internal/events"
	"github.com/meltforce/pushreps/internal/metrics"
	"github.com/meltforce/pushreps/internal/pose"
	"github.com/meltforce/pushreps/internal/session"
	"github.com/meltforce/pushreps/internal/stats"
)

// SessionSink is the part of the session manager the detector drives.
type SessionSink interface {
	GetCurrentSession() (session.Session, bool)
	RecordDetection(ctx context.Context, id string, confidence float64) (session.CountUpdate, error)
	MarkCameraUsed(ctx context.Context, id string) error
}

// SensitivitySource supplies the user's detection sensitivity.
type SensitivitySource interface {
	Sensitivity(ctx context.Context) (string, error)
}

// Config tunes the detection pipeline.
type Config struct {
	MinConfidence      float64
	MinRepInterval     time.Duration
	Center             float64
	ModelVersion       string
	DegradedWindow     int
	DegradedThreshold  float64
	DefaultSensitivity Sensitivity
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		MinConfidence:      pose.DefaultMinConfidence,
		MinRepInterval:     DefaultMinRepInterval,
		Center:             DefaultCenter,
		ModelVersion:       "movenet-lightning-4",
		DegradedWindow:     30,
		DegradedThreshold:  0.5,
		DefaultSensitivity: SensitivityMedium,
	}
}

// State is the detector lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateFailed  State = "failed"
)

// StartResponse is returned by Start.
type StartResponse struct {
	Success         bool   `json:"success"`
	SessionID       string `json:"session_id"`
	ModelLoaded     bool   `json:"model_loaded"`
	DetectionActive bool   `json:"detection_active"`
}

// Status describes the detector for API callers.
type Status struct {
	State        State           `json:"state"`
	SessionID    string          `json:"session_id,omitempty"`
	Sensitivity  Sensitivity     `json:"sensitivity"`
	CounterState string          `json:"counter_state"`
	Degraded     bool            `json:"degraded"`
	Failure      *DetectionError `json:"failure,omitempty"`
}

// Option configures a Detector.
type Option func(*Detector)

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.Manager) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithSensitivitySource reads the sensitivity from the user's preferences.
func WithSensitivitySource(src SensitivitySource) Option {
	return func(d *Detector) { d.prefs = src }
}

// WithEventBus publishes detection events on bus.
func WithEventBus(bus *events.Bus[DetectionEvent]) Option {
	return func(d *Detector) { d.events = bus }
}

// WithErrorBus publishes detection errors on bus.
func WithErrorBus(bus *events.Bus[DetectionError]) Option {
	return func(d *Detector) { d.errors = bus }
}

// Detector runs validator, classifier and counter over incoming frames and
// forwards counted reps to the current session.
//
// frameMu is held for the whole of one frame, so a frame arriving while
// another is in flight is dropped. Start and Stop take it too, which makes
// them wait for the in-flight frame; transitions counts callers doing so, and
// a frame turned away during a transition is refused as inactive, not dropped.
type Detector struct {
	frameMu     sync.Mutex
	transitions atomic.Int32

	validator  *pose.Validator
	classifier *Classifier
	counter    *Counter

	mu          sync.Mutex
	state       State
	sessionID   string
	sensitivity Sensitivity
	failure     *DetectionError
	counterSt   CounterState
	window      []bool
	windowPos   int
	windowFill  int
	rejects     int
	degraded    bool

	cfg      Config
	sessions SessionSink
	prefs    SensitivitySource
	stats    *stats.Aggregator
	metrics  *metrics.Manager
	events   *events.Bus[DetectionEvent]
	errors   *events.Bus[DetectionError]
	log      *slog.Logger
}

// New creates an idle Detector.
func New(cfg Config, sessions SessionSink, agg *stats.Aggregator, log *slog.Logger, opts ...Option) *Detector {
	if cfg.DegradedWindow <= 0 {
		cfg.DegradedWindow = DefaultConfig().DegradedWindow
	}
	if cfg.DegradedThreshold <= 0 || cfg.DegradedThreshold >= 1 {
		cfg.DegradedThreshold = DefaultConfig().DegradedThreshold
	}
	if _, err := ParseSensitivity(string(cfg.DefaultSensitivity)); err != nil {
		cfg.DefaultSensitivity = SensitivityMedium
	}

	d := &Detector{
		validator:   pose.NewValidator(cfg.MinConfidence),
		classifier:  NewClassifier(cfg.Center),
		counter:     NewCounter(cfg.MinRepInterval),
		state:       StateIdle,
		sensitivity: cfg.DefaultSensitivity,
		window:      make([]bool, cfg.DegradedWindow),
		cfg:         cfg,
		sessions:    sessions,
		stats:       agg,
		log:         log,
	}
	for _, o := range opts {
		o(d)
	}
	if d.events == nil {
		d.events = events.New[DetectionEvent](events.DefaultQueueSize, log)
	}
	if d.errors == nil {
		d.errors = events.New[DetectionError](events.DefaultQueueSize, log)
	}
	return d
}

// Events is the detection event bus.
func (d *Detector) Events() *events.Bus[DetectionEvent] { return d.events }

// Errors is the detection error bus.
func (d *Detector) Errors() *events.Bus[DetectionError] { return d.errors }

// Stats returns the rolling detection statistics.
func (d *Detector) Stats() stats.DetectionStats { return d.stats.Snapshot() }

// Start attaches the detector to the current session and begins admitting
// frames. Counter, validator ordering and the degraded window start fresh.
func (d *Detector) Start(ctx context.Context, sessionID string) (StartResponse, error) {
	cur, ok := d.sessions.GetCurrentSession()
	if !ok || cur.ID != sessionID {
		return StartResponse{SessionID: sessionID}, &session.Error{
			Code:    session.CodeSessionNotFound,
			Message: "session " + sessionID + " is not the current session",
		}
	}
	sens := d.readSensitivity(ctx)

	d.lockFrames()
	d.mu.Lock()
	if d.state == StateRunning || d.state == StatePaused {
		current := d.sessionID
		d.mu.Unlock()
		d.unlockFrames()
		return StartResponse{SessionID: current, ModelLoaded: true, DetectionActive: true}, ErrDetectionActive
	}
	d.validator.Reset()
	d.counter.Reset()
	d.counterSt = d.counter.State()
	d.resetWindowLocked()
	d.failure = nil
	d.state = StateRunning
	d.sessionID = sessionID
	d.sensitivity = sens
	d.mu.Unlock()
	d.unlockFrames()

	if d.metrics != nil {
		d.metrics.GaugeDetectionActive.Set(1)
	}
	if err := d.sessions.MarkCameraUsed(ctx, sessionID); err != nil {
		d.log.Warn("marking camera used", "session_id", sessionID, "error", err)
	}
	d.log.Info("detection started", "session_id", sessionID, "sensitivity", sens)
	return StartResponse{Success: true, SessionID: sessionID, ModelLoaded: true, DetectionActive: true}, nil
}

// Stop detaches the detector. It waits for an in-flight frame and is a no-op
// when detection is not running.
func (d *Detector) Stop() {
	d.lockFrames()
	defer d.unlockFrames()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// StopSession stops detection only if it is attached to sessionID.
func (d *Detector) StopSession(sessionID string) {
	d.lockFrames()
	defer d.unlockFrames()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessionID == sessionID {
		d.stopLocked()
	}
}

// lockFrames takes frameMu for a lifecycle transition.
func (d *Detector) lockFrames() {
	d.transitions.Add(1)
	d.frameMu.Lock()
}

func (d *Detector) unlockFrames() {
	d.frameMu.Unlock()
	d.transitions.Add(-1)
}

func (d *Detector) stopLocked() {
	if d.state == StateIdle {
		return
	}
	d.log.Info("detection stopped", "session_id", d.sessionID, "state", d.state)
	d.state = StateIdle
	d.sessionID = ""
	d.failure = nil
	if d.metrics != nil {
		d.metrics.GaugeDetectionActive.Set(0)
	}
}

// Pause keeps processing frames but withholds counted reps from the session.
func (d *Detector) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateRunning {
		return ErrDetectionInactive
	}
	d.state = StatePaused
	return nil
}

// Resume undoes Pause. The counter continues from its current state.
func (d *Detector) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StatePaused {
		return ErrDetectionInactive
	}
	d.state = StateRunning
	return nil
}

// UpdateSensitivity changes the hysteresis band for subsequent frames.
func (d *Detector) UpdateSensitivity(level string) error {
	s, err := ParseSensitivity(level)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSensitivity, err)
	}
	d.mu.Lock()
	d.sensitivity = s
	d.mu.Unlock()
	d.log.Info("sensitivity updated", "sensitivity", s)
	return nil
}

// RefreshSensitivity rereads the sensitivity from the preferences source.
func (d *Detector) RefreshSensitivity(ctx context.Context) Sensitivity {
	s := d.readSensitivity(ctx)
	d.mu.Lock()
	d.sensitivity = s
	d.mu.Unlock()
	return s
}

func (d *Detector) readSensitivity(ctx context.Context) Sensitivity {
	if d.prefs == nil {
		return d.cfg.DefaultSensitivity
	}
	raw, err := d.prefs.Sensitivity(ctx)
	if err != nil {
		d.log.Warn("reading sensitivity preference, using default", "error", err)
		return d.cfg.DefaultSensitivity
	}
	s, err := ParseSensitivity(raw)
	if err != nil {
		d.log.Warn("stored sensitivity invalid, using default", "value", raw)
		return d.cfg.DefaultSensitivity
	}
	return s
}

// Status returns the detector state.
func (d *Detector) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		State:        d.state,
		SessionID:    d.sessionID,
		Sensitivity:  d.sensitivity,
		CounterState: d.counterSt.String(),
		Degraded:     d.degraded,
		Failure:      d.failure,
	}
}

// ReportError raises an error from the capture collaborator. Fatal codes
// disable detection until the next Start; manual session methods keep working.
func (d *Detector) ReportError(code ErrorCode, message string, details map[string]any) *DetectionError {
	de := &DetectionError{Code: code, Message: message, Details: details, Timestamp: time.Now()}
	if code.Fatal() {
		d.mu.Lock()
		if d.state == StateRunning || d.state == StatePaused {
			d.state = StateFailed
			d.failure = de
			if d.metrics != nil {
				d.metrics.GaugeDetectionActive.Set(0)
			}
		}
		d.mu.Unlock()
		d.log.Error("detection failed", "code", code, "message", message)
	} else {
		d.log.Warn("detection error reported", "code", code, "message", message)
	}
	d.publishError(de)
	return de
}

func (d *Detector) publishError(de *DetectionError) {
	if d.metrics != nil {
		d.metrics.CounterErrors.WithLabelValues(string(de.Code)).Inc()
	}
	d.errors.Publish(*de)
}

// ProcessFrame runs one frame through the pipeline. A rejected frame returns
// the validator error and no event. A counted rep is forwarded to the session
// unless the detector or the session is paused. Once the attached session is
// ended or deleted, detection stops and frames are refused.
func (d *Detector) ProcessFrame(ctx context.Context, f pose.Frame) (*DetectionEvent, error) {
	if !d.frameMu.TryLock() {
		if d.transitions.Load() > 0 {
			return nil, ErrDetectionInactive
		}
		d.stats.RecordDropped()
		if d.metrics != nil {
			d.metrics.CounterFrames.WithLabelValues("dropped").Inc()
		}
		return nil, ErrFrameDropped
	}
	defer d.frameMu.Unlock()

	d.mu.Lock()
	state, sessionID, sens, failure := d.state, d.sessionID, d.sensitivity, d.failure
	d.mu.Unlock()
	switch state {
	case StateFailed:
		return nil, failure
	case StateIdle:
		return nil, ErrDetectionInactive
	}
	if cur, ok := d.sessions.GetCurrentSession(); !ok || cur.ID != sessionID {
		d.mu.Lock()
		if d.sessionID == sessionID {
			d.stopLocked()
		}
		d.mu.Unlock()
		return nil, ErrDetectionInactive
	}

	start := time.Now()
	vf, err := d.validator.Validate(f)
	if err != nil {
		d.finishFrame(f.Timestamp, start, true)
		if !errors.Is(err, pose.ErrLowConfidence) {
			d.log.Debug("frame rejected", "error", err)
		}
		return nil, err
	}

	phase, feature := d.classifier.Classify(vf, sens)
	counted := d.counter.Observe(phase, f.Timestamp)
	d.mu.Lock()
	d.counterSt = d.counter.State()
	d.mu.Unlock()
	ev := DetectionEvent{
		SessionID:        sessionID,
		Timestamp:        f.Timestamp,
		Confidence:       vf.Confidence(),
		Keypoints:        f.Keypoints,
		Phase:            phase,
		Feature:          feature,
		CountIncremented: counted,
	}
	d.finishFrame(f.Timestamp, start, false)

	if counted {
		d.stats.RecordDetection(ev.Confidence)
		if state == StateRunning {
			d.applyRep(ctx, &ev)
		}
		if d.metrics != nil {
			d.metrics.CounterReps.WithLabelValues(fmt.Sprint(ev.Applied)).Inc()
		}
	}
	d.events.Publish(ev)
	return &ev, nil
}

func (d *Detector) applyRep(ctx context.Context, ev *DetectionEvent) {
	u, err := d.sessions.RecordDetection(ctx, ev.SessionID, ev.Confidence)
	switch {
	case err == nil:
		ev.Applied, ev.Count = true, u.NewCount
	case errors.Is(err, session.ErrStorage):
		// Applied in memory; the save is retried by a later mutation or Flush.
		ev.Applied, ev.Count = true, u.NewCount
		d.log.Warn("rep applied but not saved", "session_id", ev.SessionID, "error", err)
	case errors.Is(err, session.ErrSessionNotFound):
		d.log.Debug("rep suppressed", "session_id", ev.SessionID, "reason", err)
	default:
		d.log.Error("applying rep", "session_id", ev.SessionID, "error", err)
	}
}

// finishFrame records latency and frame rate, and tracks the rejection rate
// over the degraded window.
func (d *Detector) finishFrame(ts time.Time, start time.Time, rejected bool) {
	latency := time.Since(start)
	d.stats.RecordFrame(ts, latency, rejected)
	if d.metrics != nil {
		outcome := "processed"
		if rejected {
			outcome = "rejected"
		}
		d.metrics.CounterFrames.WithLabelValues(outcome).Inc()
		d.metrics.HistFrameLatency.Observe(latency.Seconds())
	}

	d.mu.Lock()
	if d.window[d.windowPos] {
		d.rejects--
	}
	d.window[d.windowPos] = rejected
	if rejected {
		d.rejects++
	}
	d.windowPos = (d.windowPos + 1) % len(d.window)
	d.windowFill = min(d.windowFill+1, len(d.window))

	rate := float64(d.rejects) / float64(len(d.window))
	var raise bool
	switch {
	case d.windowFill == len(d.window) && rate > d.cfg.DegradedThreshold && !d.degraded:
		d.degraded = true
		raise = true
	case d.degraded && rate <= d.cfg.DegradedThreshold:
		d.degraded = false
		d.log.Info("detection quality recovered", "rejection_rate", rate)
	}
	d.mu.Unlock()

	if raise {
		d.log.Warn("detection degraded", "rejection_rate", rate, "window", len(d.window))
		d.publishError(&DetectionError{
			Code:      CodePerformanceDegraded,
			Message:   "frame rejection rate above threshold",
			Details:   map[string]any{"rejection_rate": rate, "window": len(d.window)},
			Timestamp: time.Now(),
		})
	}
}

func (d *Detector) resetWindowLocked() {
	clear(d.window)
	d.windowPos, d.windowFill, d.rejects = 0, 0, 0
	d.degraded = false
}

// Close closes both buses.
func (d *Detector) Close() {
	d.Stop()
	d.events.Close()
	d.errors.Close()
}
