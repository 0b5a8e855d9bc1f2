package handlers

import (
	"encoding/json"
	"net/http"

	"stylizer/internal/pipeline"
)

// ExecuteStep is the internal endpoint queue bridges call to run one
// generation step. Retryable failures return 503 so the caller redelivers;
// terminal outcomes return 200 because the job record already carries them.
func (a *App) ExecuteStep(w http.ResponseWriter, r *http.Request) {
	var payload pipeline.StepPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := payload.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	err := a.Pipeline.ExecuteStep(r.Context(), payload)
	if err == nil {
		a.json(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if pipeline.IsRetryable(err) {
		a.Log.Warn().Err(err).Str("job_id", payload.JobID).Str("version", payload.RequestedVersionID).Msg("step failed, retryable")
		a.error(w, http.StatusServiceUnavailable, "retry", "step failed, retry later")
		return
	}
	a.Log.Error().Err(err).Str("job_id", payload.JobID).Str("version", payload.RequestedVersionID).Msg("step failed terminally")
	a.json(w, http.StatusOK, map[string]string{"status": "failed"})
}
