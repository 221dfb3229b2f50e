package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meltforce/pushreps/internal/detect"
	"github.com/meltforce/pushreps/internal/pose"
	"github.com/meltforce/pushreps/internal/preferences"
	"github.com/meltforce/pushreps/internal/session"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartWorkout(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.StartWorkout(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleCurrentWorkout(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.GetCurrentSession()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{
			Error: "no workout in progress",
			Code:  string(session.CodeSessionNotFound),
		})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListWorkouts(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "VALIDATION_ERROR", Field: "limit"})
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "VALIDATION_ERROR", Field: "offset"})
		return
	}

	list, err := s.sessions.GetSessionHistory(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []session.Session{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleWorkoutSummary(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "VALIDATION_ERROR", Field: "since"})
		return
	}
	sum, err := s.sessions.Summary(r.Context(), since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleGetWorkout(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSessionByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteWorkout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.DeleteSession(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.detector.StopSession(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePauseWorkout(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.PauseWorkout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleResumeWorkout(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.ResumeWorkout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleEndWorkout detaches the detector before ending, so no rep can arrive
// for a completed session.
func (s *Server) handleEndWorkout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.detector.StopSession(id)
	sess, err := s.sessions.EndWorkout(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleIncrementCount(w http.ResponseWriter, r *http.Request) {
	u, err := s.sessions.IncrementCount(r.Context(), chi.URLParam(r, "id"), session.MethodManual)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleDecrementCount(w http.ResponseWriter, r *http.Request) {
	u, err := s.sessions.DecrementCount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleSetCount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count *int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "body must be {\"count\": n}", Code: "VALIDATION_ERROR", Field: "count"})
		return
	}
	u, err := s.sessions.SetCount(r.Context(), chi.URLParam(r, "id"), *body.Count)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleSetNotes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error(), Code: "VALIDATION_ERROR"})
		return
	}
	sess, err := s.sessions.SetNotes(r.Context(), chi.URLParam(r, "id"), body.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// writeError maps domain errors to status codes: unknown or stale sessions
// are 404, conflicts 409, bad input 400 and storage failures 503.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, body := http.StatusInternalServerError, errorBody{Error: err.Error(), Code: "INTERNAL_ERROR"}

	var (
		se *session.Error
		pe *preferences.Error
		de *detect.DetectionError
	)
	switch {
	case errors.As(err, &se):
		body.Code = string(se.Code)
		switch se.Code {
		case session.CodeSessionNotFound:
			status = http.StatusNotFound
		case session.CodeSessionAlreadyActive:
			status = http.StatusConflict
		case session.CodeInvalidCount:
			status = http.StatusBadRequest
		case session.CodeStorage:
			status = http.StatusServiceUnavailable
		}
	case errors.As(err, &pe):
		body.Code, body.Field = string(pe.Code), pe.Field
		switch pe.Code {
		case preferences.CodeValidation:
			status = http.StatusBadRequest
		case preferences.CodeNotFound:
			status = http.StatusNotFound
		case preferences.CodeStorage:
			status = http.StatusServiceUnavailable
		}
	case errors.As(err, &de):
		status, body.Code = http.StatusConflict, string(de.Code)
	case errors.Is(err, detect.ErrDetectionActive):
		status, body.Code = http.StatusConflict, "DETECTION_ACTIVE"
	case errors.Is(err, detect.ErrDetectionInactive):
		status, body.Code = http.StatusConflict, "DETECTION_INACTIVE"
	case errors.Is(err, detect.ErrFrameDropped):
		status, body.Code = http.StatusTooManyRequests, "FRAME_DROPPED"
	case errors.Is(err, detect.ErrInvalidSensitivity):
		status, body.Code, body.Field = http.StatusBadRequest, "VALIDATION_ERROR", "level"
	case errors.Is(err, pose.ErrInvalidFrame), errors.Is(err, pose.ErrOutOfOrder):
		status, body.Code = http.StatusBadRequest, string(detect.CodeInvalidFrame)
	case errors.Is(err, pose.ErrLowConfidence):
		status, body.Code = http.StatusUnprocessableEntity, "LOW_CONFIDENCE"
	}

	if status >= 500 {
		s.log.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// parseSince reads the since parameter as RFC 3339 or a date. It defaults to
// seven days ago.
func parseSince(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return time.Now().AddDate(0, 0, -7), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		t, err = time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, fmt.Errorf("since must be RFC 3339 or YYYY-MM-DD")
		}
	}
	return t, nil
}
