package server

import (
	"encoding/json"
	"net/http"

	"github.com/meltforce/pushreps/internal/preferences"
)

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := s.prefs.Get(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var patch preferences.Patch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error(), Code: string(preferences.CodeValidation)})
		return
	}

	p, err := s.prefs.Update(r.Context(), patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if patch.DetectionSensitivity != nil {
		s.detector.RefreshSensitivity(r.Context())
	}
	writeJSON(w, http.StatusOK, p)
}

// handleResetPreferences restores every preference, or only the one named by
// the field query parameter.
func (s *Server) handleResetPreferences(w http.ResponseWriter, r *http.Request) {
	var (
		p   preferences.Preferences
		err error
	)
	if field := r.URL.Query().Get("field"); field != "" {
		p, err = s.prefs.ResetField(r.Context(), field)
	} else {
		p, err = s.prefs.Reset(r.Context())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.detector.RefreshSensitivity(r.Context())
	writeJSON(w, http.StatusOK, p)
}
