package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meltforce/pushreps/internal/session"
)

type Manager struct {
	// counters
	CounterRequests       *prometheus.CounterVec
	CounterFrames         *prometheus.CounterVec
	CounterReps           *prometheus.CounterVec
	CounterCountChanges   *prometheus.CounterVec
	CounterErrors         *prometheus.CounterVec
	CounterSessionChanges *prometheus.CounterVec
	CounterExported       *prometheus.CounterVec

	// gauges
	GaugeDetectionActive prometheus.Gauge
	GaugeSubscribers     prometheus.Gauge

	// histograms
	HistFrameLatency    prometheus.Histogram
	HistRequestDuration prometheus.Histogram
}

func NewTestManager() *Manager {
	return NewManager("pushreps", "test", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("pushreps", "test", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request",
		Help:      "The total number of incoming API requests",
	}, []string{"method", "status"})
	counterFrames := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "frames",
		Help:      "Pose frames by outcome (processed, rejected, dropped)",
	}, []string{"outcome"})
	counterReps := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "reps_detected",
		Help:      "Repetitions completed by the counter, by whether they reached the session",
	}, []string{"applied"})
	counterCountChanges := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "count_changes",
		Help:      "Applied session count changes by method",
	}, []string{"method"})
	counterErrors := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "detection_errors",
		Help:      "Detection errors by code",
	}, []string{"code"})
	counterSessionChanges := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "session_changes",
		Help:      "Session lifecycle changes by type",
	}, []string{"type"})
	counterExported := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "exported",
		Help:      "Messages handed to export sinks by sink and result",
	}, []string{"sink", "result"})

	gaugeDetectionActive := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "detection_active",
		Help:      "1 while the detector admits frames",
	})
	gaugeSubscribers := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "event_stream_clients",
		Help:      "Connected detection event stream clients",
	})

	histFrameLatency := factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Buckets: []float64{
			0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005,
			0.001, 0.0025, 0.005, 0.01, 0.033, 0.066, 0.1,
		},
		Name: "frame_processing_seconds",
		Help: "Validator, classifier and counter wall time per frame",
	})
	histRequestDuration := factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Buckets:   prometheus.DefBuckets,
		Name:      "request_duration_seconds",
		Help:      "Duration of API requests in seconds",
	})

	return &Manager{
		CounterRequests:       counterRequests,
		CounterFrames:         counterFrames,
		CounterReps:           counterReps,
		CounterCountChanges:   counterCountChanges,
		CounterErrors:         counterErrors,
		CounterSessionChanges: counterSessionChanges,
		CounterExported:       counterExported,
		GaugeDetectionActive:  gaugeDetectionActive,
		GaugeSubscribers:      gaugeSubscribers,
		HistFrameLatency:      histFrameLatency,
		HistRequestDuration:   histRequestDuration,
	}
}

// ObserveCount implements session.CountObserver.
func (m *Manager) ObserveCount(u session.CountUpdate) {
	m.CounterCountChanges.WithLabelValues(string(u.Method)).Inc()
}

// ObserveChange counts a session lifecycle change.
func (m *Manager) ObserveChange(c session.Change) {
	m.CounterSessionChanges.WithLabelValues(string(c.Type)).Inc()
}
