package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job records. Every mutating method
// is a conditional single-statement update so that two concurrent
// executions of the same step converge instead of corrupting each other.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	CountActive(ctx context.Context, ownerID string) (int, error)

	// Claim transitions status from {queued,running} to running and returns
	// the claimed job. ErrStaleClaim means the job is deleted or in an
	// unexpected state and must not be executed.
	Claim(ctx context.Context, jobID string) (*Job, error)

	// Requeue moves the job back to queued after a retryable failure. The
	// pending step fields are left untouched so a re-drive replays the
	// same payload.
	Requeue(ctx context.Context, jobID string) error

	// RequeueRefine moves the job back to queued and records the
	// refinement step as the pending payload. It is the only transition
	// out of succeeded.
	RequeueRefine(ctx context.Context, jobID, instruction, requestedVersionID, baseVersionID string) error

	// AppendVersion adds the version if no version with the same sequence
	// key exists. It reports false when the key was already present, which
	// callers treat as idempotent success.
	AppendVersion(ctx context.Context, jobID string, v Version) (bool, error)

	// MarkSucceeded transitions running to succeeded and clears any error.
	MarkSucceeded(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, jobErr JobError) error

	// RestoreSucceeded puts a job that already holds versions back into
	// succeeded after a failed refinement attempt.
	RestoreSucceeded(ctx context.Context, jobID string) error

	AppendProviderRequestID(ctx context.Context, jobID, requestID string) error
	SetVersionPool(ctx context.Context, jobID, versionID, pool, imagePath string) error
	IncrementRetry(ctx context.Context, jobID string) (int, error)

	// SoftDelete is an idempotent no-op when the job is already deleted.
	SoftDelete(ctx context.Context, jobID string) error

	// ListStale returns non-terminal jobs untouched since the cutoff, for
	// the recovery sweep.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Job, error)
}

// SelfieRepository resolves reference-image ids for a given owner. Only
// active selfies are returned.
type SelfieRepository interface {
	FindActive(ctx context.Context, ownerID string, ids []string) ([]Selfie, error)
}

// PostRepository resolves the seed post for the style-transfer mode, both
// at admission and when the executor fetches the post artifact.
type PostRepository interface {
	Get(ctx context.Context, postID string) (*Post, error)
}

// ProfileRepository copies a chosen version's paths onto the owner's
// profile record. The job and version remain the source of truth.
type ProfileRepository interface {
	SetAvatar(ctx context.Context, userID, imagePath, thumbPath string) error
}
