// Package stats keeps the process-wide rolling detection statistics.
package stats

import (
	"sync"
	"time"

	"github.com/meltforce/pushreps/internal/session"
)

const (
	// DefaultAlpha is the smoothing factor of the latency and frame-rate averages.
	DefaultAlpha = 0.1
	// DefaultReversalWindow bounds how long after an automatic increment a
	// manual correction is still treated as reversing it.
	DefaultReversalWindow = 10 * time.Second
)

// DetectionStats is a snapshot of the aggregate.
type DetectionStats struct {
	TotalDetections   int     `json:"total_detections"`
	AverageConfidence float64 `json:"average_confidence"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	ProcessingLatency float64 `json:"processing_latency"` // ms
	FrameRate         float64 `json:"frame_rate"`
	ModelVersion      string  `json:"model_version"`

	FramesProcessed int `json:"frames_processed"`
	FramesRejected  int `json:"frames_rejected"`
	FramesDropped   int `json:"frames_dropped"`
}

type autoIncrement struct {
	at       time.Time
	reversed bool
}

// Aggregator accumulates frame and detection statistics without keeping the
// full history. It is safe for concurrent use.
type Aggregator struct {
	mu sync.Mutex

	modelVersion string
	alpha        float64
	window       time.Duration

	frames, rejected, dropped int
	latencyMS                 float64
	frameRate                 float64
	lastFrame                 time.Time
	haveLatency               bool

	detections    int
	confidenceSum float64

	// Recent automatic increments, oldest first, for the false positive estimate.
	recent       []autoIncrement
	autoTotal    int
	autoReversed int
}

// New creates an Aggregator reporting modelVersion.
func New(modelVersion string) *Aggregator {
	return &Aggregator{
		modelVersion: modelVersion,
		alpha:        DefaultAlpha,
		window:       DefaultReversalWindow,
	}
}

// SetReversalWindow changes the false positive window. Non-positive values
// keep the current one.
func (a *Aggregator) SetReversalWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	a.mu.Lock()
	a.window = d
	a.mu.Unlock()
}

// RecordFrame accounts one processed frame. ts is the frame timestamp and
// latency the wall time the pipeline spent on it.
func (a *Aggregator) RecordFrame(ts time.Time, latency time.Duration, rejected bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.frames++
	if rejected {
		a.rejected++
	}

	ms := float64(latency) / float64(time.Millisecond)
	if !a.haveLatency {
		a.latencyMS = ms
		a.haveLatency = true
	} else {
		a.latencyMS += a.alpha * (ms - a.latencyMS)
	}

	if !a.lastFrame.IsZero() && ts.After(a.lastFrame) {
		rate := 1 / ts.Sub(a.lastFrame).Seconds()
		if a.frameRate == 0 {
			a.frameRate = rate
		} else {
			a.frameRate += a.alpha * (rate - a.frameRate)
		}
	}
	if ts.After(a.lastFrame) {
		a.lastFrame = ts
	}
}

// RecordDropped accounts a frame that arrived while another was in flight.
func (a *Aggregator) RecordDropped() {
	a.mu.Lock()
	a.dropped++
	a.mu.Unlock()
}

// RecordDetection accounts one counted repetition with its confidence.
func (a *Aggregator) RecordDetection(confidence float64) {
	a.mu.Lock()
	a.detections++
	a.confidenceSum += confidence
	a.mu.Unlock()
}

// ObserveCount implements session.CountObserver. Automatic increments are
// remembered for the reversal window; a manual reduction of the count marks
// that many of the newest unreversed ones as reversed.
func (a *Aggregator) ObserveCount(u session.CountUpdate) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.prune(u.Timestamp)
	delta := u.Delta()
	switch {
	case u.Method == session.MethodAuto && delta > 0:
		a.autoTotal += delta
		for range delta {
			a.recent = append(a.recent, autoIncrement{at: u.Timestamp})
		}
	case u.Method == session.MethodManual && delta < 0:
		n := -delta
		for i := len(a.recent) - 1; i >= 0 && n > 0; i-- {
			if a.recent[i].reversed {
				continue
			}
			a.recent[i].reversed = true
			a.autoReversed++
			n--
		}
	}
}

func (a *Aggregator) prune(now time.Time) {
	cut := 0
	for cut < len(a.recent) && now.Sub(a.recent[cut].at) > a.window {
		cut++
	}
	if cut > 0 {
		a.recent = append(a.recent[:0], a.recent[cut:]...)
	}
}

// Snapshot returns the current statistics.
func (a *Aggregator) Snapshot() DetectionStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := DetectionStats{
		TotalDetections:   a.detections,
		ProcessingLatency: a.latencyMS,
		FrameRate:         a.frameRate,
		ModelVersion:      a.modelVersion,
		FramesProcessed:   a.frames,
		FramesRejected:    a.rejected,
		FramesDropped:     a.dropped,
	}
	if a.detections > 0 {
		s.AverageConfidence = a.confidenceSum / float64(a.detections)
	}
	if a.autoTotal > 0 {
		s.FalsePositiveRate = float64(a.autoReversed) / float64(a.autoTotal)
	}
	return s
}

// Reset clears everything except the model version and configuration.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.frames, a.rejected, a.dropped = 0, 0, 0
	a.latencyMS, a.frameRate, a.haveLatency = 0, 0, false
	a.lastFrame = time.Time{}
	a.detections, a.confidenceSum = 0, 0
	a.recent = nil
	a.autoTotal, a.autoReversed = 0, 0
}
