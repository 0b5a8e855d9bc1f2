package pipeline

import (
	"context"
	"time"

	"stylizer/internal/domain"
	"stylizer/internal/infra"
)

// Sweeper periodically re-drives jobs stuck in a non-terminal state. The
// re-drive replays the pending step recorded on the job at dispatch time,
// so a step whose work already landed converges through the execution
// step's idempotency check instead of running again.
type Sweeper struct {
	jobs       domain.JobRepository
	dispatcher Dispatcher
	log        infra.Logger

	StaleAfter time.Duration
	Interval   time.Duration
	MaxRetries int
	BatchSize  int
}

// NewSweeper wires a sweeper with the given bounds.
func NewSweeper(jobs domain.JobRepository, dispatcher Dispatcher, log infra.Logger, staleAfter, interval time.Duration, maxRetries int) *Sweeper {
	return &Sweeper{
		jobs:       jobs,
		dispatcher: dispatcher,
		log:        log,
		StaleAfter: staleAfter,
		Interval:   interval,
		MaxRetries: maxRetries,
		BatchSize:  50,
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	s.log.Info().Dur("interval", s.Interval).Msg("sweep: started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweep: stopped")
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep: pass failed")
			} else if n > 0 {
				s.log.Info().Int("redriven", n).Msg("sweep: pass complete")
			}
		}
	}
}

// SweepOnce re-drives one batch of stale jobs and returns how many were
// re-dispatched.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.StaleAfter)
	stale, err := s.jobs.ListStale(ctx, cutoff, s.BatchSize)
	if err != nil {
		return 0, err
	}

	redriven := 0
	for i := range stale {
		job := &stale[i]
		// Non-retryable classifications must never be re-driven. Failed
		// jobs are already excluded by the stale query; this guards
		// against a requeued record that still carries one.
		if job.Error != nil && !job.Error.Retryable {
			continue
		}
		if job.RetryCount >= s.MaxRetries {
			jobErr := domain.JobError{Code: domain.CodeStuck, Message: publicMessage(domain.CodeStuck), Retryable: false}
			if err := s.jobs.MarkFailed(ctx, job.ID, jobErr); err != nil {
				s.log.Error().Err(err).Str("job_id", job.ID).Msg("sweep: force-fail failed")
			} else {
				s.log.Warn().Str("job_id", job.ID).Int("retries", job.RetryCount).Msg("sweep: job force-failed as stuck")
			}
			continue
		}
		if _, err := s.jobs.IncrementRetry(ctx, job.ID); err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("sweep: retry increment failed")
			continue
		}
		payload := reconstructPayload(job)
		if err := s.dispatcher.Dispatch(ctx, payload); err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("sweep: re-dispatch failed")
			continue
		}
		s.log.Info().
			Str("job_id", job.ID).
			Str("requested_version", payload.RequestedVersionID).
			Msg("sweep: job re-driven")
		redriven++
	}
	return redriven, nil
}

// reconstructPayload rebuilds the exact payload that was in flight from
// the pending step recorded on the job. Inferring the payload from the
// versions list instead would mint a fresh sequence key for a job that
// crashed after its version landed, re-invoking the provider for work
// that is already done.
func reconstructPayload(job *domain.Job) StepPayload {
	payload := StepPayload{
		JobID:              job.ID,
		Type:               StepType(job.PendingStep),
		RequestedVersionID: job.PendingVersionID,
		BaseVersionID:      job.PendingBaseVersionID,
	}
	if payload.Type == StepRefine {
		payload.Instruction = job.RefineInstruction
	}
	return payload
}
