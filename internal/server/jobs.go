package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	httpmiddleware "github.com/wolfeidau/genjobs/internal/http"
	"github.com/wolfeidau/genjobs/internal/models"
	"github.com/wolfeidau/genjobs/internal/store"
)

// ListJobsResponse is the body of the generation jobs endpoint.
type ListJobsResponse struct {
	Jobs []*models.GenerationJob `json:"jobs"`
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "generationID")

	jobs, err := s.cfg.Store.ListJobs(r.Context(), generationID)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("generation_id", generationID).Msg("Failed to list jobs")
		httpmiddleware.WriteError(w, r, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, ListJobsResponse{Jobs: jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.cfg.Store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			httpmiddleware.WriteError(w, r, http.StatusNotFound, "job not found")
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		httpmiddleware.WriteError(w, r, http.StatusInternalServerError, "failed to get job")
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, job)
}
