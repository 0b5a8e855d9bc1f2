package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileRepositoryPG implements domain.ProfileRepository.
type ProfileRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewProfileRepository creates a profile repository backed by PostgreSQL.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepositoryPG {
	return &ProfileRepositoryPG{pool: pool}
}

// SetAvatar copies the chosen version's paths onto the user's profile row.
// The job and its versions remain the source of truth and are untouched.
func (r *ProfileRepositoryPG) SetAvatar(ctx context.Context, userID, imagePath, thumbPath string) error {
	query := `
INSERT INTO profiles (user_id, avatar_image_path, avatar_thumb_path, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (user_id) DO UPDATE
SET avatar_image_path = EXCLUDED.avatar_image_path,
    avatar_thumb_path = EXCLUDED.avatar_thumb_path,
    updated_at = now();
`
	_, err := r.pool.Exec(ctx, query, userID, imagePath, thumbPath)
	return err
}
