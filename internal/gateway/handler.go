package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	httpmiddleware "github.com/wolfeidau/genjobs/internal/http"
	"github.com/wolfeidau/genjobs/internal/models"
)

// maxRequestBytes bounds submission bodies, payloads can carry reference images.
const maxRequestBytes = 32 << 20

// SubmitResponse is returned by the async submit endpoint.
type SubmitResponse struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

// Routes mounts the submission endpoints on r.
func (g *Gateway) Routes(r chi.Router) {
	r.Post("/jobs", g.handleSubmit)
	r.Post("/jobs/submit", g.handleSubmitAsync)
}

func (g *Gateway) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	if err := g.Validate(req); err != nil {
		httpmiddleware.WriteError(w, r, http.StatusBadRequest, ValidationMessage(err))
		return
	}

	outcome := g.Submit(r.Context(), *req)

	zerolog.Ctx(r.Context()).Debug().
		Str("job_id", outcome.JobID).
		Int("status", outcome.StatusCode).
		Msg("Submission finished")

	httpmiddleware.WriteRawJSON(w, r, outcome.StatusCode, outcome.Body)
}

func (g *Gateway) handleSubmitAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	job, err := g.SubmitAsync(r.Context(), *req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			httpmiddleware.WriteError(w, r, http.StatusBadRequest, ValidationMessage(err))
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Async submission failed")
		httpmiddleware.WriteError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusAccepted, SubmitResponse{
		JobID:  job.ID,
		Status: models.JobStatusGenerating,
	})
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (*Request, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpmiddleware.WriteError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		httpmiddleware.WriteError(w, r, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		httpmiddleware.WriteError(w, r, http.StatusBadRequest, "request body must be valid JSON")
		return nil, false
	}

	return &req, true
}
