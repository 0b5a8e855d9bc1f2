package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"stylizer/internal/domain"
	"stylizer/internal/middleware"
	"stylizer/internal/pipeline"
)

type stubPipeline struct {
	createResult *pipeline.CreateResult
	createErr    error
	createInput  pipeline.CreateInput

	refineErr   error
	instruction string

	statusView *pipeline.StatusView
	statusErr  error

	pollStatus domain.JobStatus
	pollErr    error

	executeErr error

	publishURL string
	publishErr error

	avatarVersion string
	avatarErr     error

	deleteOpts pipeline.DeleteOptions
	deleteErr  error

	exportData []byte
	exportErr  error
}

func (s *stubPipeline) Create(ctx context.Context, ownerID string, input pipeline.CreateInput) (*pipeline.CreateResult, error) {
	s.createInput = input
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.createResult, nil
}

func (s *stubPipeline) Refine(ctx context.Context, ownerID, jobID, instruction string) (string, error) {
	s.instruction = instruction
	if s.refineErr != nil {
		return "", s.refineErr
	}
	return jobID, nil
}

func (s *stubPipeline) GetStatus(ctx context.Context, ownerID, jobID string) (*pipeline.StatusView, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.statusView, nil
}

func (s *stubPipeline) PollStatus(ctx context.Context, ownerID, jobID string) (domain.JobStatus, error) {
	if s.pollErr != nil {
		return "", s.pollErr
	}
	return s.pollStatus, nil
}

func (s *stubPipeline) ExecuteStep(ctx context.Context, payload pipeline.StepPayload) error {
	return s.executeErr
}

func (s *stubPipeline) Publish(ctx context.Context, ownerID, jobID string) (string, error) {
	if s.publishErr != nil {
		return "", s.publishErr
	}
	return s.publishURL, nil
}

func (s *stubPipeline) SetAvatar(ctx context.Context, ownerID, jobID, versionID string) error {
	s.avatarVersion = versionID
	return s.avatarErr
}

func (s *stubPipeline) Delete(ctx context.Context, ownerID, jobID string, opts pipeline.DeleteOptions) error {
	s.deleteOpts = opts
	return s.deleteErr
}

func (s *stubPipeline) Export(ctx context.Context, ownerID, jobID string) ([]byte, error) {
	if s.exportErr != nil {
		return nil, s.exportErr
	}
	return s.exportData, nil
}

func newTestRouter(p Orchestrator) http.Handler {
	app := NewApp(p, zerolog.Nop())
	r := chi.NewRouter()
	r.Use(middleware.Auth)
	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", app.CreateJob)
		r.Get("/{job_id}", app.JobStatus)
		r.Post("/{job_id}/refine", app.RefineJob)
		r.Post("/{job_id}/publish", app.PublishJob)
		r.Post("/{job_id}/avatar", app.SetAvatar)
		r.Get("/{job_id}/export", app.ExportJob)
		r.Delete("/{job_id}", app.DeleteJob)
	})
	r.Post("/internal/execute", app.ExecuteStep)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateJobAccepted(t *testing.T) {
	stub := &stubPipeline{createResult: &pipeline.CreateResult{JobID: "job-1", EstimatedMs: 20000}}
	router := newTestRouter(stub)

	body := `{"selfie_ids":["selfie-1"],"mode":"preset","prompt":"warrior","quality":"standard"}`
	rec := doRequest(t, router, http.MethodPost, "/v1/jobs", body, "owner-1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	var resp createJobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != "job-1" || resp.Status != "queued" || resp.EstimatedMs != 20000 {
		t.Fatalf("response = %+v", resp)
	}
	if stub.createInput.Mode != domain.ModePreset || stub.createInput.Prompt != "warrior" {
		t.Fatalf("forwarded input = %+v", stub.createInput)
	}
}

func TestCreateJobRequiresUser(t *testing.T) {
	router := newTestRouter(&stubPipeline{})
	rec := doRequest(t, router, http.MethodPost, "/v1/jobs", `{}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateJobErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ceiling reached", domain.ErrTooManyJobs, http.StatusTooManyRequests},
		{"unsafe prompt", domain.ErrUnsafePrompt, http.StatusUnprocessableEntity},
		{"invalid input", domain.ErrInvalidInput, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubPipeline{createErr: tc.err})
			rec := doRequest(t, router, http.MethodPost, "/v1/jobs", `{}`, "owner-1")
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRefineJobAccepted(t *testing.T) {
	stub := &stubPipeline{}
	router := newTestRouter(stub)

	rec := doRequest(t, router, http.MethodPost, "/v1/jobs/job-1/refine", `{"instruction":"warmer colors"}`, "owner-1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if stub.instruction != "warmer colors" {
		t.Fatalf("instruction = %q", stub.instruction)
	}
}

func TestRefineJobNoVersionsConflicts(t *testing.T) {
	router := newTestRouter(&stubPipeline{refineErr: domain.ErrNoVersions})
	rec := doRequest(t, router, http.MethodPost, "/v1/jobs/job-1/refine", `{"instruction":"x"}`, "owner-1")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestJobStatusReturnsView(t *testing.T) {
	stub := &stubPipeline{statusView: &pipeline.StatusView{JobID: "job-1", Status: domain.JobStatusSucceeded}}
	router := newTestRouter(stub)

	rec := doRequest(t, router, http.MethodGet, "/v1/jobs/job-1", "", "owner-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var view pipeline.StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.JobID != "job-1" || view.Status != domain.JobStatusSucceeded {
		t.Fatalf("view = %+v", view)
	}
}

func TestJobStatusLightPoll(t *testing.T) {
	stub := &stubPipeline{pollStatus: domain.JobStatusRunning}
	router := newTestRouter(stub)

	rec := doRequest(t, router, http.MethodGet, "/v1/jobs/job-1?fields=status", "", "owner-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "running" {
		t.Fatalf("response = %+v, want running", resp)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	router := newTestRouter(&stubPipeline{statusErr: domain.ErrNotFound})
	rec := doRequest(t, router, http.MethodGet, "/v1/jobs/job-none", "", "owner-1")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteJobPassesArchiveFlag(t *testing.T) {
	stub := &stubPipeline{}
	router := newTestRouter(stub)

	rec := doRequest(t, router, http.MethodDelete, "/v1/jobs/job-1?archive=1", "", "owner-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !stub.deleteOpts.Archive {
		t.Fatal("archive flag not forwarded")
	}
}

func TestSetAvatarForwardsVersion(t *testing.T) {
	stub := &stubPipeline{}
	router := newTestRouter(stub)

	rec := doRequest(t, router, http.MethodPost, "/v1/jobs/job-1/avatar", `{"version_id":"v2"}`, "owner-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if stub.avatarVersion != "v2" {
		t.Fatalf("version = %q, want v2", stub.avatarVersion)
	}
}

func TestExportJobStreamsZip(t *testing.T) {
	stub := &stubPipeline{exportData: []byte("PK\x03\x04fake")}
	router := newTestRouter(stub)

	rec := doRequest(t, router, http.MethodGet, "/v1/jobs/job-1/export", "", "owner-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %q, want application/zip", ct)
	}
}

func TestExecuteStepClassifiesOutcome(t *testing.T) {
	payload := `{"job_id":"job-1","type":"initial","requested_version_id":"v1"}`

	router := newTestRouter(&stubPipeline{})
	if rec := doRequest(t, router, http.MethodPost, "/internal/execute", payload, ""); rec.Code != http.StatusOK {
		t.Fatalf("success status = %d, want 200", rec.Code)
	}

	retryable := &pipeline.StepError{Code: domain.CodeGenerationFailed, Retryable: true}
	router = newTestRouter(&stubPipeline{executeErr: retryable})
	if rec := doRequest(t, router, http.MethodPost, "/internal/execute", payload, ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("retryable status = %d, want 503", rec.Code)
	}

	terminal := &pipeline.StepError{Code: domain.CodeBlocked, Retryable: false}
	router = newTestRouter(&stubPipeline{executeErr: terminal})
	if rec := doRequest(t, router, http.MethodPost, "/internal/execute", payload, ""); rec.Code != http.StatusOK {
		t.Fatalf("terminal status = %d, want 200", rec.Code)
	}

	router = newTestRouter(&stubPipeline{})
	if rec := doRequest(t, router, http.MethodPost, "/internal/execute", `{"job_id":""}`, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed status = %d, want 400", rec.Code)
	}
}
