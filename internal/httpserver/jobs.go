package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fetchframe/webextract-api/internal/apperr"
	"github.com/fetchframe/webextract-api/internal/job"
	"github.com/fetchframe/webextract-api/internal/models"
)

// jobResponse is the wire shape of a job in every JSON response.
type jobResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	URL         string `json:"url"`
	BatchID     string `json:"batch_id,omitempty"`
	ResultPath  string `json:"result_path,omitempty"`
	TokenUsage  int    `json:"token_usage"`
	LatencyMs   int    `json:"latency_ms"`
	Blocked     bool   `json:"blocked"`
	ErrorMsg    string `json:"error_msg,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toJobResponse(j *models.Job) jobResponse {
	resp := jobResponse{
		ID:         j.ID,
		Status:     string(j.Status),
		URL:        j.URL,
		BatchID:    j.BatchID,
		ResultPath: j.ResultPath,
		TokenUsage: j.TokenUsage,
		LatencyMs:  j.LatencyMs,
		Blocked:    j.Blocked,
		ErrorMsg:   j.ErrorMsg,
		CreatedAt:  j.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if j.CompletedAt != nil {
		resp.CompletedAt = j.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

// ListJobsInput is the query for GET /jobs.
type ListJobsInput struct {
	Limit  int    `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Maximum number of jobs to return"`
	Offset int    `query:"offset" default:"0" minimum:"0" doc:"Offset for pagination"`
	Status string `query:"status" doc:"Filter by job status"`
}

// ListJobsOutput carries the `{data:[job]}` envelope spec §6 requires.
type ListJobsOutput struct {
	Body struct {
		Data []jobResponse `json:"data"`
	}
}

func (h *handlers) listJobs(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	ownerKeyID := apiKeyIDFrom(ctx)
	jobs, err := h.deps.Repos.Job.GetByOwnerKeyID(ctx, ownerKeyID, input.Limit, input.Offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindServerError, "failed to list jobs", err)
	}

	resp := &ListJobsOutput{}
	resp.Body.Data = make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		if input.Status != "" && string(j.Status) != input.Status {
			continue
		}
		resp.Body.Data = append(resp.Body.Data, toJobResponse(j))
	}
	return resp, nil
}

// GetJobInput identifies a single job by path parameter.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// GetJobOutput carries the `{data:job}` envelope.
type GetJobOutput struct {
	Body struct {
		Data jobResponse `json:"data"`
	}
}

func (h *handlers) getJob(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	j, err := h.deps.JobSvc.GetForCaller(ctx, input.ID, apiKeyIDFrom(ctx), h.deps.Config.AnonymousMode)
	if err != nil {
		return nil, err
	}
	resp := &GetJobOutput{}
	resp.Body.Data = toJobResponse(j)
	return resp, nil
}

// getJobResult streams the completed result blob verbatim. Raw handler
// because it answers with the stored JSON bytes directly rather than a
// wrapped envelope.
func (h *handlers) getJobResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := h.deps.JobSvc.GetForCaller(r.Context(), id, apiKeyIDFrom(r.Context()), h.deps.Config.AnonymousMode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := job.CheckResultReady(j); err != nil {
		writeError(w, r, err)
		return
	}

	body, err := h.deps.Artifacts.Get(r.Context(), j.ResultPath)
	if err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindServerError, "failed to read result blob", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
