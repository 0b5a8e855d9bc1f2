package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"stylizer/internal/domain"
	"stylizer/internal/infra"
	"stylizer/internal/middleware"
	"stylizer/internal/pipeline"
)

// Orchestrator is the slice of the pipeline the HTTP layer consumes.
type Orchestrator interface {
	Create(ctx context.Context, ownerID string, input pipeline.CreateInput) (*pipeline.CreateResult, error)
	Refine(ctx context.Context, ownerID, jobID, instruction string) (string, error)
	GetStatus(ctx context.Context, ownerID, jobID string) (*pipeline.StatusView, error)
	PollStatus(ctx context.Context, ownerID, jobID string) (domain.JobStatus, error)
	ExecuteStep(ctx context.Context, payload pipeline.StepPayload) error
	Publish(ctx context.Context, ownerID, jobID string) (string, error)
	SetAvatar(ctx context.Context, ownerID, jobID, versionID string) error
	Delete(ctx context.Context, ownerID, jobID string, opts pipeline.DeleteOptions) error
	Export(ctx context.Context, ownerID, jobID string) ([]byte, error)
}

type App struct {
	Pipeline Orchestrator
	Log      infra.Logger

	// Checks back the health endpoint; wired at startup.
	Checks []ReadinessCheck
}

func NewApp(p Orchestrator, log infra.Logger) *App {
	return &App{Pipeline: p, Log: log}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]string{"error": slug, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// domainError maps domain sentinels onto HTTP responses.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusForbidden, "forbidden", "not allowed")
	case errors.Is(err, domain.ErrTooManyJobs):
		a.error(w, http.StatusTooManyRequests, "too_many_jobs", "active job limit reached")
	case errors.Is(err, domain.ErrUnsafePrompt):
		a.error(w, http.StatusUnprocessableEntity, "unsafe_prompt", "prompt rejected by safety check")
	case errors.Is(err, domain.ErrNoVersions):
		a.error(w, http.StatusConflict, "no_versions", "job has no completed versions")
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
