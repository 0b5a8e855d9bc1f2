package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stylizer/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. Versions
// live embedded in the row as an append-only jsonb array, which keeps the
// idempotency check ("is version X already present") a single-row read and
// the append a single conditional statement.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, owner_id, mode, selfie_ids, seed_post_id, prompt, negative_prompt,
aspect_ratio, quality, provider, model, status, versions, error_code, error_message,
error_retryable, refine_instruction, provider_request_ids, retry_count,
pending_step, pending_version_id, pending_base_version_id, created_at, updated_at`

// Create inserts a new job record with status queued, no versions, and the
// initial step recorded as pending.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, owner_id, mode, selfie_ids, seed_post_id, prompt, negative_prompt,
                  aspect_ratio, quality, provider, model, status, versions,
                  pending_step, pending_version_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '[]'::jsonb, $13, $14);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.OwnerID,
		job.Mode,
		job.SelfieIDs,
		nullableString(job.SeedPostID),
		job.Prompt,
		job.NegativePrompt,
		job.AspectRatio,
		job.Quality,
		job.Provider,
		job.Model,
		domain.JobStatusQueued,
		job.PendingStep,
		job.PendingVersionID,
	)
	return err
}

// GetByID fetches a job by its identifier. Soft-deleted jobs are not visible.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1 AND deleted_at IS NULL;`, jobColumns)
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// CountActive counts an owner's jobs in queued or running state. The caller
// uses this as a best-effort admission check immediately before insert.
func (r *JobRepositoryPG) CountActive(ctx context.Context, ownerID string) (int, error) {
	query := `
SELECT count(*) FROM jobs
WHERE owner_id = $1 AND status IN ('queued', 'running') AND deleted_at IS NULL;
`
	var n int
	if err := r.pool.QueryRow(ctx, query, ownerID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Claim atomically transitions status from {queued,running} to running.
func (r *JobRepositoryPG) Claim(ctx context.Context, jobID string) (*domain.Job, error) {
	query := fmt.Sprintf(`
UPDATE jobs
SET status = 'running', updated_at = now()
WHERE id = $1 AND status IN ('queued', 'running') AND deleted_at IS NULL
RETURNING %s;
`, jobColumns)
	job, err := r.scanJob(r.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrStaleClaim
		}
		return nil, err
	}
	return job, nil
}

// Requeue moves the job back to queued for a retryable re-drive. The
// pending step columns are untouched, so the sweep replays the same
// payload that originally stalled.
func (r *JobRepositoryPG) Requeue(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = 'queued',
    error_code = NULL, error_message = NULL, error_retryable = NULL,
    updated_at = now()
WHERE id = $1 AND deleted_at IS NULL;
`
	tag, err := r.pool.Exec(ctx, query, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RequeueRefine moves the job back to queued and records the refinement
// step as the pending payload.
func (r *JobRepositoryPG) RequeueRefine(ctx context.Context, jobID, instruction, requestedVersionID, baseVersionID string) error {
	query := `
UPDATE jobs
SET status = 'queued',
    refine_instruction = $2,
    pending_step = 'refine',
    pending_version_id = $3,
    pending_base_version_id = $4,
    error_code = NULL, error_message = NULL, error_retryable = NULL,
    updated_at = now()
WHERE id = $1 AND deleted_at IS NULL;
`
	tag, err := r.pool.Exec(ctx, query, jobID, instruction, requestedVersionID, baseVersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppendVersion adds the version only when its sequence key is absent. The
// guard and the append run in one statement so concurrent executions of the
// same payload cannot both append.
func (r *JobRepositoryPG) AppendVersion(ctx context.Context, jobID string, v domain.Version) (bool, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encode version: %w", err)
	}
	query := `
UPDATE jobs
SET versions = versions || $2::jsonb, updated_at = now()
WHERE id = $1
  AND deleted_at IS NULL
  AND NOT EXISTS (
    SELECT 1 FROM jsonb_array_elements(versions) elem
    WHERE elem->>'version_id' = $3
  );
`
	tag, err := r.pool.Exec(ctx, query, jobID, payload, v.VersionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSucceeded transitions running to succeeded and clears the error.
func (r *JobRepositoryPG) MarkSucceeded(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = 'succeeded',
    error_code = NULL, error_message = NULL, error_retryable = NULL,
    updated_at = now()
WHERE id = $1 AND status = 'running' AND deleted_at IS NULL;
`
	_, err := r.pool.Exec(ctx, query, jobID)
	return err
}

// MarkFailed records the classified error and moves the job to failed.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID string, jobErr domain.JobError) error {
	query := `
UPDATE jobs
SET status = 'failed',
    error_code = $2, error_message = $3, error_retryable = $4,
    updated_at = now()
WHERE id = $1 AND deleted_at IS NULL;
`
	_, err := r.pool.Exec(ctx, query, jobID, jobErr.Code, jobErr.Message, jobErr.Retryable)
	return err
}

// RestoreSucceeded returns a job holding at least one version to succeeded
// after a refinement attempt failed terminally.
func (r *JobRepositoryPG) RestoreSucceeded(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = 'succeeded',
    error_code = NULL, error_message = NULL, error_retryable = NULL,
    updated_at = now()
WHERE id = $1 AND jsonb_array_length(versions) > 0 AND deleted_at IS NULL;
`
	_, err := r.pool.Exec(ctx, query, jobID)
	return err
}

// AppendProviderRequestID records a provider request id on the audit trail.
func (r *JobRepositoryPG) AppendProviderRequestID(ctx context.Context, jobID, requestID string) error {
	query := `
UPDATE jobs
SET provider_request_ids = array_append(provider_request_ids, $2)
WHERE id = $1 AND deleted_at IS NULL;
`
	_, err := r.pool.Exec(ctx, query, jobID, requestID)
	return err
}

// SetVersionPool rewrites the stored pool and path of one version. Used by
// publish, which moves the artifact between storage pools.
func (r *JobRepositoryPG) SetVersionPool(ctx context.Context, jobID, versionID, pool, imagePath string) error {
	query := `
UPDATE jobs
SET versions = (
      SELECT jsonb_agg(
        CASE WHEN elem->>'version_id' = $2
             THEN elem || jsonb_build_object('image_pool', $3::text, 'image_path', $4::text)
             ELSE elem
        END)
      FROM jsonb_array_elements(versions) elem
    ),
    updated_at = now()
WHERE id = $1 AND deleted_at IS NULL;
`
	_, err := r.pool.Exec(ctx, query, jobID, versionID, pool, imagePath)
	return err
}

// IncrementRetry bumps the retry counter and returns the new value.
func (r *JobRepositoryPG) IncrementRetry(ctx context.Context, jobID string) (int, error) {
	query := `
UPDATE jobs
SET retry_count = retry_count + 1
WHERE id = $1 AND deleted_at IS NULL
RETURNING retry_count;
`
	var n int
	if err := r.pool.QueryRow(ctx, query, jobID).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return n, nil
}

// SoftDelete marks the job deleted. Deleting an already-deleted job is a
// no-op success.
func (r *JobRepositoryPG) SoftDelete(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET deleted_at = now(), updated_at = now()
WHERE id = $1 AND deleted_at IS NULL;
`
	_, err := r.pool.Exec(ctx, query, jobID)
	return err
}

// ListStale returns non-terminal jobs whose updated_at is older than the
// cutoff, oldest first.
func (r *JobRepositoryPG) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM jobs
WHERE status IN ('queued', 'running') AND updated_at < $1 AND deleted_at IS NULL
ORDER BY updated_at ASC
LIMIT $2;
`, jobColumns)
	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *JobRepositoryPG) scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job          domain.Job
		seedPost     *string
		versionsJSON []byte
		errCode      *string
		errMsg       *string
		errRetryable *bool
		instruction  *string
		pendingBase  *string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Mode,
		&job.SelfieIDs,
		&seedPost,
		&job.Prompt,
		&job.NegativePrompt,
		&job.AspectRatio,
		&job.Quality,
		&job.Provider,
		&job.Model,
		&job.Status,
		&versionsJSON,
		&errCode,
		&errMsg,
		&errRetryable,
		&instruction,
		&job.ProviderRequestIDs,
		&job.RetryCount,
		&job.PendingStep,
		&job.PendingVersionID,
		&pendingBase,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if seedPost != nil {
		job.SeedPostID = *seedPost
	}
	if instruction != nil {
		job.RefineInstruction = *instruction
	}
	if pendingBase != nil {
		job.PendingBaseVersionID = *pendingBase
	}
	if len(versionsJSON) > 0 {
		if err := json.Unmarshal(versionsJSON, &job.Versions); err != nil {
			return nil, fmt.Errorf("decode versions: %w", err)
		}
	}
	if errCode != nil {
		job.Error = &domain.JobError{Code: *errCode}
		if errMsg != nil {
			job.Error.Message = *errMsg
		}
		if errRetryable != nil {
			job.Error.Retryable = *errRetryable
		}
	}
	return &job, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
