package pipeline

import (
	"context"
	"errors"
	"fmt"

	"stylizer/internal/domain"
	"stylizer/internal/storage"
	"stylizer/pkg/zip"
)

// Publish moves the latest version's full artifact from its private pool to
// the public pool, rewrites the stored location on the job and mints a
// long-lived public reference.
func (s *Service) Publish(ctx context.Context, ownerID, jobID string) (string, error) {
	job, err := s.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return "", err
	}
	version := job.LatestVersion()
	if version == nil {
		return "", domain.ErrNoVersions
	}

	if version.ImagePool != string(storage.PoolPublic) {
		if err := s.store.Move(ctx, storage.Pool(version.ImagePool), version.ImagePath, storage.PoolPublic, version.ImagePath); err != nil {
			return "", fmt.Errorf("publish artifact: %w", err)
		}
		if err := s.jobs.SetVersionPool(ctx, jobID, version.VersionID, string(storage.PoolPublic), version.ImagePath); err != nil {
			return "", fmt.Errorf("record publish: %w", err)
		}
	}

	url, err := s.store.MintReadURL(ctx, storage.PoolPublic, version.ImagePath, s.cfg.PublishURLTTL)
	if err != nil {
		return "", fmt.Errorf("mint public url: %w", err)
	}
	s.log.Info().Str("job_id", jobID).Str("version", version.VersionID).Msg("pipeline: version published")
	return url, nil
}

// SetAvatar copies a chosen version's paths onto the owner's profile
// record. The job and its versions are never deleted as a side effect.
func (s *Service) SetAvatar(ctx context.Context, ownerID, jobID, versionID string) error {
	job, err := s.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return err
	}
	version := job.FindVersion(versionID)
	if versionID == "" {
		version = job.LatestVersion()
	}
	if version == nil {
		return fmt.Errorf("%w: version %q", domain.ErrNotFound, versionID)
	}
	if err := s.profiles.SetAvatar(ctx, ownerID, version.ImagePath, version.ThumbPath); err != nil {
		return fmt.Errorf("set avatar: %w", err)
	}
	s.log.Info().Str("job_id", jobID).Str("version", version.VersionID).Msg("pipeline: avatar set")
	return nil
}

// DeleteOptions controls artifact disposal.
type DeleteOptions struct {
	Archive bool
}

// Delete removes the job's artifacts from the live pools, optionally
// archiving them first, purges cached status, and soft-deletes the record.
// Deleting an already-deleted job is a no-op success.
func (s *Service) Delete(ctx context.Context, ownerID, jobID string, opts DeleteOptions) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if job.OwnerID != ownerID {
		return domain.ErrUnauthorized
	}

	for _, version := range job.Versions {
		pool := storage.Pool(version.ImagePool)
		if opts.Archive {
			if err := s.store.Copy(ctx, pool, version.ImagePath, storage.PoolArchive, version.ImagePath); err != nil {
				return fmt.Errorf("archive version %s: %w", version.VersionID, err)
			}
		}
		if err := s.store.Delete(ctx, pool, version.ImagePath); err != nil {
			s.log.Warn().Err(err).Str("job_id", jobID).Str("version", version.VersionID).Msg("pipeline: artifact delete failed")
		}
		if err := s.store.Delete(ctx, storage.PoolDerivative, version.ThumbPath); err != nil {
			s.log.Warn().Err(err).Str("job_id", jobID).Str("version", version.VersionID).Msg("pipeline: derivative delete failed")
		}
	}

	s.purgeCache(ctx, jobID)
	if err := s.jobs.SoftDelete(ctx, jobID); err != nil {
		return fmt.Errorf("soft delete job: %w", err)
	}
	s.log.Info().Str("job_id", jobID).Bool("archived", opts.Archive).Msg("pipeline: job deleted")
	return nil
}

// Export bundles every version's full artifact into a zip archive, with
// thumbnails included best-effort.
func (s *Service) Export(ctx context.Context, ownerID, jobID string) ([]byte, error) {
	job, err := s.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if len(job.Versions) == 0 {
		return nil, domain.ErrNoVersions
	}
	entries := make([]zip.Entry, 0, 2*len(job.Versions))
	for _, version := range job.Versions {
		data, err := s.store.Download(ctx, storage.Pool(version.ImagePool), version.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("fetch version %s: %w", version.VersionID, err)
		}
		entries = append(entries, zip.Entry{Name: version.VersionID + ".png", Data: data})
		thumb, err := s.store.Download(ctx, storage.PoolDerivative, version.ThumbPath)
		if err != nil {
			s.log.Warn().Err(err).Str("job_id", jobID).Str("version", version.VersionID).Msg("pipeline: thumb missing from export")
			continue
		}
		entries = append(entries, zip.Entry{Name: version.VersionID + "-thumb.jpg", Data: thumb})
	}
	return zip.Archive(entries)
}

func (s *Service) ownedJob(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	if ownerID == "" {
		return nil, domain.ErrUnauthorized
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrUnauthorized
	}
	return job, nil
}
