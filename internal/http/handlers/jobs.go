package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stylizer/internal/domain"
	"stylizer/internal/pipeline"
)

type createJobRequest struct {
	SelfieIDs      []string `json:"selfie_ids"`
	Mode           string   `json:"mode"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	AspectRatio    string   `json:"aspect_ratio"`
	Quality        string   `json:"quality"`
	SeedPostID     string   `json:"seed_post_id"`
}

type createJobResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	EstimatedMs int64  `json:"estimated_ms"`
}

func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	result, err := a.Pipeline.Create(r.Context(), userID, pipeline.CreateInput{
		SelfieIDs:      req.SelfieIDs,
		Mode:           domain.Mode(req.Mode),
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    req.AspectRatio,
		Quality:        domain.Quality(req.Quality),
		SeedPostID:     req.SeedPostID,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, createJobResponse{
		JobID:       result.JobID,
		Status:      string(domain.JobStatusQueued),
		EstimatedMs: result.EstimatedMs,
	})
}

type refineJobRequest struct {
	Instruction string `json:"instruction"`
}

func (a *App) RefineJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	var req refineJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	id, err := a.Pipeline.Refine(r.Context(), userID, jobID, req.Instruction)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"job_id": id, "status": string(domain.JobStatusQueued)})
}

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")

	// fields=status is the cheap polling form: no version URLs are minted.
	if r.URL.Query().Get("fields") == "status" {
		status, err := a.Pipeline.PollStatus(r.Context(), userID, jobID)
		if err != nil {
			a.domainError(w, err)
			return
		}
		a.json(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(status)})
		return
	}

	view, err := a.Pipeline.GetStatus(r.Context(), userID, jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, view)
}

func (a *App) PublishJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	url, err := a.Pipeline.Publish(r.Context(), userID, chi.URLParam(r, "job_id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"public_url": url})
}

type setAvatarRequest struct {
	VersionID string `json:"version_id"`
}

func (a *App) SetAvatar(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req setAvatarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Pipeline.SetAvatar(r.Context(), userID, chi.URLParam(r, "job_id"), req.VersionID); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	opts := pipeline.DeleteOptions{Archive: r.URL.Query().Get("archive") == "1"}
	if err := a.Pipeline.Delete(r.Context(), userID, chi.URLParam(r, "job_id"), opts); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *App) ExportJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	archive, err := a.Pipeline.Export(r.Context(), userID, jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+jobID+`.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
