package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.Jobs.List()
	out := make([]models.Job, 0, len(jobs))
	for _, j := range jobs {
		snap := j.Snapshot()
		snap.Output = nil
		out = append(out, snap)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	snap := job.Snapshot()
	writeJSON(w, http.StatusOK, &snap)
}

// GetMappings returns the mapping store in its on-disk format.
func (s *Server) GetMappings(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no migration loaded")
		return
	}
	writeJSON(w, http.StatusOK, s.Store)
}

func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "no migration loaded")
		return
	}
	writeJSON(w, http.StatusOK, s.Stats.Summary())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
