package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/meltforce/pushreps/internal/detect"
	"github.com/meltforce/pushreps/internal/pose"
	"github.com/meltforce/pushreps/internal/preferences"
)

func (s *Server) handleStartDetection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "session_id is required", Code: "VALIDATION_ERROR", Field: "session_id"})
		return
	}

	resp, err := s.detector.Start(r.Context(), body.SessionID)
	if errors.Is(err, detect.ErrDetectionActive) {
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStopDetection(w http.ResponseWriter, r *http.Request) {
	s.detector.Stop()
	writeJSON(w, http.StatusOK, s.detector.Status())
}

func (s *Server) handlePauseDetection(w http.ResponseWriter, r *http.Request) {
	if err := s.detector.Pause(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.detector.Status())
}

func (s *Server) handleResumeDetection(w http.ResponseWriter, r *http.Request) {
	if err := s.detector.Resume(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.detector.Status())
}

// handleFrame runs one keypoint frame through the pipeline. Frames without a
// timestamp are stamped on arrival.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	var f pose.Frame
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error(), Code: string(detect.CodeInvalidFrame)})
		return
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}

	ev, err := s.detector.ProcessFrame(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleReportError accepts an error raised by the capture side, such as a
// model that failed to load.
func (s *Server) handleReportError(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error(), Code: "VALIDATION_ERROR"})
		return
	}
	code, err := detect.ParseErrorCode(body.Code)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "VALIDATION_ERROR", Field: "code"})
		return
	}
	de := s.detector.ReportError(code, body.Message, body.Details)
	writeJSON(w, http.StatusAccepted, de)
}

// handleSensitivity stores the level in the preferences and applies it to
// the running detector.
func (s *Server) handleSensitivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error(), Code: "VALIDATION_ERROR"})
		return
	}
	if err := s.detector.UpdateSensitivity(body.Level); err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.prefs.Update(r.Context(), preferences.Patch{DetectionSensitivity: &body.Level}); err != nil {
		s.log.Warn("persisting sensitivity", "level", body.Level, "error", err)
	}
	writeJSON(w, http.StatusOK, s.detector.Status())
}

func (s *Server) handleDetectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.detector.Stats())
}

func (s *Server) handleDetectionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.detector.Status())
}
