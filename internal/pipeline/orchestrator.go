package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stylizer/internal/domain"
)

// CreateInput is the intake contract for a new generation job.
type CreateInput struct {
	SelfieIDs      []string
	Mode           domain.Mode
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Quality        domain.Quality
	SeedPostID     string
}

// CreateResult returns the job id and a coarse, tier-dependent estimate.
type CreateResult struct {
	JobID       string
	EstimatedMs int64
}

// Create admits a new job: it validates the request, enforces the per-owner
// concurrency ceiling, persists the record with status queued and hands the
// first execution step to the dispatch surface without blocking the caller.
func (s *Service) Create(ctx context.Context, ownerID string, input CreateInput) (*CreateResult, error) {
	if ownerID == "" {
		return nil, domain.ErrUnauthorized
	}
	if len(input.SelfieIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one reference image is required", domain.ErrInvalidInput)
	}
	switch input.Mode {
	case domain.ModePreset, domain.ModeFreeform, domain.ModeStyleTransfer:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidInput, input.Mode)
	}
	if input.AspectRatio == "" {
		input.AspectRatio = domain.AspectSquare
	}
	if input.AspectRatio != domain.AspectSquare && input.AspectRatio != domain.AspectPortrait {
		return nil, fmt.Errorf("%w: unsupported aspect ratio %q", domain.ErrInvalidInput, input.AspectRatio)
	}
	if input.Quality == "" {
		input.Quality = domain.QualityStandard
	}
	if input.Quality != domain.QualityStandard && input.Quality != domain.QualityHigh {
		return nil, fmt.Errorf("%w: unsupported quality %q", domain.ErrInvalidInput, input.Quality)
	}
	prompt := strings.TrimSpace(input.Prompt)
	if s.cfg.MaxPromptLen > 0 && len(prompt) > s.cfg.MaxPromptLen {
		return nil, fmt.Errorf("%w: prompt exceeds %d characters", domain.ErrInvalidInput, s.cfg.MaxPromptLen)
	}
	if input.Mode != domain.ModeStyleTransfer && prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrInvalidInput)
	}
	if s.safety != nil && prompt != "" {
		if err := s.safety.Check(ctx, prompt); err != nil {
			return nil, err
		}
	}

	selfies, err := s.selfies.FindActive(ctx, ownerID, input.SelfieIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve reference images: %w", err)
	}
	if len(selfies) != len(input.SelfieIDs) {
		return nil, fmt.Errorf("%w: one or more reference images are missing or inactive", domain.ErrInvalidInput)
	}

	if input.Mode == domain.ModeStyleTransfer {
		if input.SeedPostID == "" {
			return nil, fmt.Errorf("%w: seed post is required for style transfer", domain.ErrInvalidInput)
		}
		if _, err := s.posts.Get(ctx, input.SeedPostID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: seed post does not exist", domain.ErrInvalidInput)
			}
			return nil, fmt.Errorf("resolve seed post: %w", err)
		}
	}

	// Best-effort admission check. A concurrent create can admit one job
	// over the ceiling; that is an accepted trade-off, not a correctness
	// bug, so no lock is taken here.
	active, err := s.jobs.CountActive(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count active jobs: %w", err)
	}
	if active >= s.cfg.MaxActiveJobs {
		return nil, domain.ErrTooManyJobs
	}

	job := &domain.Job{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Mode:           input.Mode,
		SelfieIDs:      input.SelfieIDs,
		SeedPostID:     input.SeedPostID,
		Prompt:         prompt,
		NegativePrompt: strings.TrimSpace(input.NegativePrompt),
		AspectRatio:    input.AspectRatio,
		Quality:        input.Quality,
		Provider:       s.cfg.ProviderName,
		Model:          domain.ModelForQuality(input.Quality),
		Status:         domain.JobStatusQueued,

		PendingStep:      string(StepInitial),
		PendingVersionID: "v1",
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.cacheStatus(ctx, job.ID, ownerID, domain.JobStatusQueued)

	payload := StepPayload{JobID: job.ID, Type: StepInitial, RequestedVersionID: "v1"}
	if err := s.dispatcher.Dispatch(ctx, payload); err != nil {
		// The job stays queued; the recovery sweep will re-drive it.
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("pipeline: dispatch failed, deferring to sweep")
	}

	s.log.Info().Str("job_id", job.ID).Str("owner_id", ownerID).Str("mode", string(input.Mode)).Msg("pipeline: job created")
	return &CreateResult{
		JobID:       job.ID,
		EstimatedMs: domain.EstimateForQuality(input.Quality).Milliseconds(),
	}, nil
}

// Refine appends a new version to an existing job by re-queuing it with a
// refinement instruction. This is the only path that moves a job out of a
// terminal state (succeeded back to queued).
func (s *Service) Refine(ctx context.Context, ownerID, jobID, instruction string) (string, error) {
	if ownerID == "" {
		return "", domain.ErrUnauthorized
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", fmt.Errorf("%w: instruction is required", domain.ErrInvalidInput)
	}
	if s.cfg.MaxPromptLen > 0 && len(instruction) > s.cfg.MaxPromptLen {
		return "", fmt.Errorf("%w: instruction exceeds %d characters", domain.ErrInvalidInput, s.cfg.MaxPromptLen)
	}
	if s.safety != nil {
		if err := s.safety.Check(ctx, instruction); err != nil {
			return "", err
		}
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.OwnerID != ownerID {
		return "", domain.ErrUnauthorized
	}
	if len(job.Versions) == 0 {
		return "", domain.ErrNoVersions
	}

	active, err := s.jobs.CountActive(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("count active jobs: %w", err)
	}
	if active >= s.cfg.MaxActiveJobs {
		return "", domain.ErrTooManyJobs
	}

	base := job.LatestVersion()
	requested := job.NextVersionID()

	if err := s.jobs.RequeueRefine(ctx, jobID, instruction, requested, base.VersionID); err != nil {
		return "", fmt.Errorf("requeue job: %w", err)
	}
	s.cacheStatus(ctx, jobID, ownerID, domain.JobStatusQueued)

	payload := StepPayload{
		JobID:              jobID,
		Type:               StepRefine,
		RequestedVersionID: requested,
		BaseVersionID:      base.VersionID,
		Instruction:        instruction,
	}
	if err := s.dispatcher.Dispatch(ctx, payload); err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("pipeline: dispatch failed, deferring to sweep")
	}

	s.log.Info().
		Str("job_id", jobID).
		Str("base_version", base.VersionID).
		Str("requested_version", requested).
		Msg("pipeline: refinement queued")
	return jobID, nil
}

// estimateRemaining surfaces a rough completion time for polling clients.
func estimateRemaining(job *domain.Job) time.Duration {
	if job.Status != domain.JobStatusQueued && job.Status != domain.JobStatusRunning {
		return 0
	}
	est := domain.EstimateForQuality(job.Quality)
	elapsed := time.Since(job.UpdatedAt)
	if elapsed >= est {
		return time.Second
	}
	return est - elapsed
}
