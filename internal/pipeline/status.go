package pipeline

import (
	"context"
	"time"

	"stylizer/internal/domain"
	"stylizer/internal/storage"
)

// VersionView is one version as exposed to polling clients: short-lived
// signed read URLs, never raw storage paths.
type VersionView struct {
	VersionID     string    `json:"version_id"`
	BaseVersionID string    `json:"base_version_id,omitempty"`
	ImageURL      string    `json:"image_url"`
	ThumbURL      string    `json:"thumb_url"`
	CreatedAt     time.Time `json:"created_at"`
}

// StatusView is the stable polling contract.
type StatusView struct {
	JobID       string           `json:"job_id"`
	Status      domain.JobStatus `json:"status"`
	Versions    []VersionView    `json:"versions"`
	Error       *domain.JobError `json:"error,omitempty"`
	EstimatedMs int64            `json:"estimated_ms,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// PollStatus answers a bare status probe from the cache when possible,
// falling back to the record store. Ownership is enforced on both paths.
func (s *Service) PollStatus(ctx context.Context, ownerID, jobID string) (domain.JobStatus, error) {
	if ownerID == "" {
		return "", domain.ErrUnauthorized
	}
	if s.cache != nil {
		cachedOwner, status, err := s.cache.GetStatus(ctx, jobID)
		if err == nil {
			if cachedOwner != ownerID {
				return "", domain.ErrUnauthorized
			}
			return status, nil
		}
	}
	job, err := s.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, jobID, ownerID, job.Status)
	return job.Status, nil
}

// GetStatus returns the job's current state with minted read URLs for each
// version.
func (s *Service) GetStatus(ctx context.Context, ownerID, jobID string) (*StatusView, error) {
	job, err := s.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		JobID:       job.ID,
		Status:      job.Status,
		Versions:    make([]VersionView, 0, len(job.Versions)),
		Error:       job.Error,
		EstimatedMs: estimateRemaining(job).Milliseconds(),
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	for _, version := range job.Versions {
		imageURL, err := s.store.MintReadURL(ctx, storage.Pool(version.ImagePool), version.ImagePath, s.cfg.ReadURLTTL)
		if err != nil {
			s.log.Warn().Err(err).Str("job_id", jobID).Str("version", version.VersionID).Msg("pipeline: mint image url failed")
		}
		thumbURL, err := s.store.MintReadURL(ctx, storage.PoolDerivative, version.ThumbPath, s.cfg.ReadURLTTL)
		if err != nil {
			s.log.Warn().Err(err).Str("job_id", jobID).Str("version", version.VersionID).Msg("pipeline: mint thumb url failed")
		}
		view.Versions = append(view.Versions, VersionView{
			VersionID:     version.VersionID,
			BaseVersionID: version.BaseVersionID,
			ImageURL:      imageURL,
			ThumbURL:      thumbURL,
			CreatedAt:     version.CreatedAt,
		})
	}
	return view, nil
}
