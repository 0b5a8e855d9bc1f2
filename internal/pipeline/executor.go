package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stylizer/internal/domain"
	"stylizer/internal/imaging"
	"stylizer/internal/providers/genai"
	"stylizer/internal/providers/image"
	"stylizer/internal/storage"
)

// ExecuteStep runs one execution step to completion. It is safe to call any
// number of times with the same payload: once the requested version exists
// the call is a fast no-op, which is what makes at-least-once delivery and
// sweep re-drives correct.
//
// A nil return means success or idempotent no-op. A *StepError carries the
// classification the dispatch surface needs: retryable failures should be
// redelivered, terminal ones must not be.
func (s *Service) ExecuteStep(ctx context.Context, payload StepPayload) error {
	if err := payload.Validate(); err != nil {
		return terminalErr(domain.CodeInvalidInput, err)
	}
	log := s.log.With().Str("job_id", payload.JobID).Str("version", payload.RequestedVersionID).Logger()

	job, err := s.jobs.GetByID(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return terminalErr(domain.CodeInvalidInput, fmt.Errorf("job vanished: %w", err))
		}
		return retryableErr(domain.CodeStorageFailed, err)
	}

	// Idempotency check: if the expensive work already landed, converge.
	// Only a running job is settled here; a queued job holding the
	// requested version is a stale duplicate arriving while a later step
	// is pending, and must not clobber that step's state.
	if job.FindVersion(payload.RequestedVersionID) != nil {
		if job.Status == domain.JobStatusRunning {
			if err := s.jobs.MarkSucceeded(ctx, payload.JobID); err != nil {
				return retryableErr(domain.CodeStorageFailed, err)
			}
			s.cacheStatus(ctx, payload.JobID, job.OwnerID, domain.JobStatusSucceeded)
		}
		log.Debug().Msg("pipeline: version already present, idempotent no-op")
		return nil
	}

	// Claim: only {queued,running} may proceed.
	job, err = s.jobs.Claim(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrStaleClaim) {
			return terminalErr(domain.CodeInvalidInput, fmt.Errorf("claim rejected: %w", err))
		}
		return retryableErr(domain.CodeStorageFailed, err)
	}
	s.cacheStatus(ctx, payload.JobID, job.OwnerID, domain.JobStatusRunning)

	refs, stepErr := s.fetchReferences(ctx, job)
	if stepErr != nil {
		return s.settleFailure(ctx, job, stepErr)
	}

	artifact, stepErr := s.invokeProvider(ctx, job, payload, refs)
	if stepErr != nil {
		return s.settleFailure(ctx, job, stepErr)
	}

	result, verr := imaging.Validate(artifact.Data, s.cfg.Limits)
	if verr != nil {
		var vfail *imaging.ValidationError
		if errors.As(verr, &vfail) {
			s.cleanupRaw(ctx, job, payload.RequestedVersionID)
			log.Warn().Str("reason", vfail.Reason).Msg("pipeline: artifact rejected")
			return s.settleFailure(ctx, job, terminalErr(domain.CodeValidationFailed, verr))
		}
		return s.settleFailure(ctx, job, retryableErr(domain.CodeValidationFailed, verr))
	}

	thumb, err := imaging.Thumbnail(result.Cleaned, s.cfg.ThumbWidth)
	if err != nil {
		s.cleanupRaw(ctx, job, payload.RequestedVersionID)
		return s.settleFailure(ctx, job, terminalErr(domain.CodeValidationFailed, err))
	}

	// Deterministic placement: a retried step overwrites the same objects.
	imageKey := storage.ArtifactKey(job.OwnerID, job.ID, payload.RequestedVersionID)
	thumbKey := storage.ThumbKey(job.OwnerID, job.ID, payload.RequestedVersionID)

	if err := s.store.Upload(ctx, storage.PoolRaw, imageKey, result.Cleaned, "image/png", "private, max-age=0"); err != nil {
		return s.settleFailure(ctx, job, retryableErr(domain.CodeStorageFailed, err))
	}
	if err := s.store.Upload(ctx, storage.PoolDerivative, thumbKey, thumb, "image/jpeg", "private, max-age=86400"); err != nil {
		return s.settleFailure(ctx, job, retryableErr(domain.CodeStorageFailed, err))
	}
	if err := s.store.Move(ctx, storage.PoolRaw, imageKey, storage.PoolPrivate, imageKey); err != nil {
		return s.settleFailure(ctx, job, retryableErr(domain.CodeStorageFailed, err))
	}

	version := domain.Version{
		VersionID:     payload.RequestedVersionID,
		BaseVersionID: payload.BaseVersionID,
		ImagePool:     string(storage.PoolPrivate),
		ImagePath:     imageKey,
		ThumbPath:     thumbKey,
		CreatedAt:     time.Now().UTC(),
	}
	appended, err := s.jobs.AppendVersion(ctx, job.ID, version)
	if err != nil {
		return s.settleFailure(ctx, job, retryableErr(domain.CodeStorageFailed, err))
	}
	if !appended {
		// A concurrent execution of the same payload won the append; both
		// converge on the same version.
		log.Debug().Msg("pipeline: version appended concurrently")
	}

	if err := s.jobs.MarkSucceeded(ctx, job.ID); err != nil {
		return retryableErr(domain.CodeStorageFailed, err)
	}
	s.cacheStatus(ctx, job.ID, job.OwnerID, domain.JobStatusSucceeded)

	// Audit trail is best-effort; losing a request id is not fatal.
	if artifact.ProviderRequestID != "" {
		if err := s.jobs.AppendProviderRequestID(ctx, job.ID, artifact.ProviderRequestID); err != nil {
			log.Warn().Err(err).Msg("pipeline: failed to record provider request id")
		}
	}

	log.Info().Str("image_path", imageKey).Msg("pipeline: version produced")
	return nil
}

// fetchReferences resolves the job's selfie ids to raw bytes, plus the
// seed post artifact for style-transfer jobs. A missing or inactive record
// is fatal for the job; a storage read failure is retryable.
func (s *Service) fetchReferences(ctx context.Context, job *domain.Job) ([]image.Reference, *StepError) {
	selfies, err := s.selfies.FindActive(ctx, job.OwnerID, job.SelfieIDs)
	if err != nil {
		return nil, retryableErr(domain.CodeStorageFailed, err)
	}
	if len(selfies) != len(job.SelfieIDs) {
		return nil, terminalErr(domain.CodeInvalidInput, fmt.Errorf("reference image missing or inactive"))
	}
	refs := make([]image.Reference, 0, len(selfies)+1)
	for _, selfie := range selfies {
		data, err := s.store.Download(ctx, storage.PoolPrivate, selfie.StoragePath)
		if err != nil {
			return nil, retryableErr(domain.CodeStorageFailed, fmt.Errorf("fetch reference %s: %w", selfie.ID, err))
		}
		refs = append(refs, image.Reference{MIME: "image/jpeg", Data: data})
	}
	if job.Mode == domain.ModeStyleTransfer {
		post, err := s.posts.Get(ctx, job.SeedPostID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, terminalErr(domain.CodeInvalidInput, fmt.Errorf("seed post %s no longer exists", job.SeedPostID))
			}
			return nil, retryableErr(domain.CodeStorageFailed, err)
		}
		data, err := s.store.Download(ctx, storage.Pool(post.ImagePool), post.ImagePath)
		if err != nil {
			return nil, retryableErr(domain.CodeStorageFailed, fmt.Errorf("fetch seed post %s: %w", post.ID, err))
		}
		refs = append(refs, image.Reference{MIME: "image/png", Data: data})
	}
	return refs, nil
}

// invokeProvider builds the final instruction text and calls the provider,
// classifying any failure.
func (s *Service) invokeProvider(ctx context.Context, job *domain.Job, payload StepPayload, refs []image.Reference) (*image.Artifact, *StepError) {
	req := image.Request{
		Model:          job.Model,
		Prompt:         BuildPrompt(job),
		NegativePrompt: job.NegativePrompt,
		AspectRatio:    job.AspectRatio,
		References:     refs,
		RequestID:      job.ID + "/" + payload.RequestedVersionID,
	}

	var artifact *image.Artifact
	var err error
	switch payload.Type {
	case StepRefine:
		base := job.FindVersion(payload.BaseVersionID)
		if base == nil {
			return nil, terminalErr(domain.CodeInvalidInput, fmt.Errorf("base version %s not found", payload.BaseVersionID))
		}
		baseData, derr := s.store.Download(ctx, storage.Pool(base.ImagePool), base.ImagePath)
		if derr != nil {
			return nil, retryableErr(domain.CodeStorageFailed, fmt.Errorf("fetch base artifact: %w", derr))
		}
		req.Base = &image.Reference{MIME: "image/png", Data: baseData}
		req.Instruction = payload.Instruction
		artifact, err = s.provider.Refine(ctx, req)
	default:
		artifact, err = s.provider.Generate(ctx, req)
	}
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return artifact, nil
}

func classifyProviderError(err error) *StepError {
	var perr *genai.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case genai.FailureBlocked:
			return terminalErr(domain.CodeBlocked, err)
		case genai.FailureRateLimited:
			return &StepError{Code: domain.CodeRateLimited, Retryable: true, Backoff: true, Err: err}
		}
	}
	return retryableErr(domain.CodeGenerationFailed, err)
}

// settleFailure records the classified outcome on the job. Terminal
// failures fail the job (or, for refinement attempts on a job that already
// holds versions, restore it to succeeded — the per-attempt failure is not
// surfaced at the job level). Retryable failures re-queue the job under a
// bounded retry budget; past the budget the job is force-failed as stuck.
func (s *Service) settleFailure(ctx context.Context, job *domain.Job, stepErr *StepError) error {
	log := s.log.With().Str("job_id", job.ID).Str("code", stepErr.Code).Logger()

	if !stepErr.Retryable {
		if len(job.Versions) > 0 {
			// The prior versions remain good; a failed refinement leaves
			// the job succeeded rather than clobbering delivered work.
			if err := s.jobs.RestoreSucceeded(ctx, job.ID); err != nil {
				return retryableErr(domain.CodeStorageFailed, err)
			}
			s.cacheStatus(ctx, job.ID, job.OwnerID, domain.JobStatusSucceeded)
			log.Warn().Err(stepErr.Err).Msg("pipeline: refinement failed, job restored to succeeded")
			return stepErr
		}
		jobErr := domain.JobError{Code: stepErr.Code, Message: publicMessage(stepErr.Code), Retryable: false}
		if err := s.jobs.MarkFailed(ctx, job.ID, jobErr); err != nil {
			return retryableErr(domain.CodeStorageFailed, err)
		}
		s.cacheStatus(ctx, job.ID, job.OwnerID, domain.JobStatusFailed)
		log.Warn().Err(stepErr.Err).Msg("pipeline: job failed terminally")
		return stepErr
	}

	retries, err := s.jobs.IncrementRetry(ctx, job.ID)
	if err != nil {
		return retryableErr(domain.CodeStorageFailed, err)
	}
	if retries > s.cfg.MaxStepRetries {
		jobErr := domain.JobError{Code: domain.CodeStuck, Message: publicMessage(domain.CodeStuck), Retryable: false}
		if err := s.jobs.MarkFailed(ctx, job.ID, jobErr); err != nil {
			return retryableErr(domain.CodeStorageFailed, err)
		}
		s.cacheStatus(ctx, job.ID, job.OwnerID, domain.JobStatusFailed)
		log.Error().Err(stepErr.Err).Int("retries", retries).Msg("pipeline: retry budget exhausted, job stuck")
		return terminalErr(domain.CodeStuck, stepErr.Err)
	}

	if err := s.jobs.Requeue(ctx, job.ID); err != nil {
		return retryableErr(domain.CodeStorageFailed, err)
	}
	s.cacheStatus(ctx, job.ID, job.OwnerID, domain.JobStatusQueued)
	log.Warn().Err(stepErr.Err).Int("retries", retries).Msg("pipeline: step failed, job re-queued")
	return stepErr
}

// cleanupRaw removes any partially placed artifact after a validation
// failure so no version can ever reference invalid bytes.
func (s *Service) cleanupRaw(ctx context.Context, job *domain.Job, versionID string) {
	imageKey := storage.ArtifactKey(job.OwnerID, job.ID, versionID)
	if err := s.store.Delete(ctx, storage.PoolRaw, imageKey); err != nil {
		s.log.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: raw cleanup failed")
	}
}

func publicMessage(code string) string {
	switch code {
	case domain.CodeBlocked:
		return "The request was rejected by the content policy."
	case domain.CodeValidationFailed:
		return "The generated image could not be processed."
	case domain.CodeInvalidInput:
		return "One or more inputs are missing or invalid."
	case domain.CodeRateLimited:
		return "The service is busy; the request will be retried."
	case domain.CodeStuck:
		return "The request could not be completed."
	default:
		return "Image generation failed."
	}
}
