package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meltforce/pushreps/internal/detect"
	"github.com/meltforce/pushreps/internal/events"
	"github.com/meltforce/pushreps/internal/metrics"
	"github.com/meltforce/pushreps/internal/preferences"
	"github.com/meltforce/pushreps/internal/session"
)

// Deps are the services behind the HTTP API. Metrics, Gatherer, Changes and
// MCP are optional.
type Deps struct {
	Sessions    *session.Manager
	Detector    *detect.Detector
	Preferences *preferences.Service
	Changes     *events.Bus[session.Change]
	Metrics     *metrics.Manager
	Gatherer    prometheus.Gatherer
	MCP         http.Handler
	APIKey      string
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	sessions *session.Manager
	detector *detect.Detector
	prefs    *preferences.Service
	changes  *events.Bus[session.Change]
	metrics  *metrics.Manager
	log      *slog.Logger
	router   chi.Router
}

// New creates a new Server with all routes configured.
func New(d Deps, log *slog.Logger) *Server {
	s := &Server{
		sessions: d.Sessions,
		detector: d.Detector,
		prefs:    d.Preferences,
		changes:  d.Changes,
		metrics:  d.Metrics,
		log:      log,
		router:   chi.NewRouter(),
	}
	s.routes(d)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(d Deps) {
	s.router.Use(RequestLogging(s.log))
	if s.metrics != nil {
		s.router.Use(RequestMetrics(s.metrics))
	}
	s.router.Use(CORS)

	s.router.Get("/healthz", s.handleHealth)

	// Read endpoints (no auth, tsnet handles access)
	s.router.Get("/api/v1/workouts", s.handleListWorkouts)
	s.router.Get("/api/v1/workouts/current", s.handleCurrentWorkout)
	s.router.Get("/api/v1/workouts/summary", s.handleWorkoutSummary)
	s.router.Get("/api/v1/workouts/{id}", s.handleGetWorkout)
	s.router.Get("/api/v1/detection/stats", s.handleDetectionStats)
	s.router.Get("/api/v1/detection/status", s.handleDetectionStatus)
	s.router.Get("/api/v1/detection/events", s.handleDetectionEvents)
	s.router.Get("/api/v1/preferences", s.handleGetPreferences)

	// Mutating endpoints (API key required)
	s.router.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(d.APIKey))

		r.Post("/api/v1/workouts", s.handleStartWorkout)
		r.Delete("/api/v1/workouts/{id}", s.handleDeleteWorkout)
		r.Post("/api/v1/workouts/{id}/pause", s.handlePauseWorkout)
		r.Post("/api/v1/workouts/{id}/resume", s.handleResumeWorkout)
		r.Post("/api/v1/workouts/{id}/end", s.handleEndWorkout)
		r.Post("/api/v1/workouts/{id}/count/increment", s.handleIncrementCount)
		r.Post("/api/v1/workouts/{id}/count/decrement", s.handleDecrementCount)
		r.Put("/api/v1/workouts/{id}/count", s.handleSetCount)
		r.Put("/api/v1/workouts/{id}/notes", s.handleSetNotes)

		r.Post("/api/v1/detection/start", s.handleStartDetection)
		r.Post("/api/v1/detection/stop", s.handleStopDetection)
		r.Post("/api/v1/detection/pause", s.handlePauseDetection)
		r.Post("/api/v1/detection/resume", s.handleResumeDetection)
		r.Post("/api/v1/detection/frames", s.handleFrame)
		r.Post("/api/v1/detection/errors", s.handleReportError)
		r.Put("/api/v1/detection/sensitivity", s.handleSensitivity)

		r.Put("/api/v1/preferences", s.handleUpdatePreferences)
		r.Post("/api/v1/preferences/reset", s.handleResetPreferences)
	})

	if d.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	if d.MCP != nil {
		s.router.Handle("/mcp", d.MCP)
	}
}
