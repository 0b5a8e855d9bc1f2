package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stylizer/internal/domain"
)

// PostRepositoryPG implements domain.PostRepository.
type PostRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPostRepository creates a post repository backed by PostgreSQL.
func NewPostRepository(pool *pgxpool.Pool) *PostRepositoryPG {
	return &PostRepositoryPG{pool: pool}
}

// Get fetches a published post by id. Deleted posts are not visible.
func (r *PostRepositoryPG) Get(ctx context.Context, postID string) (*domain.Post, error) {
	query := `
SELECT id, owner_id, image_pool, image_path, created_at
FROM posts
WHERE id = $1 AND deleted_at IS NULL;
`
	var post domain.Post
	if err := r.pool.QueryRow(ctx, query, postID).Scan(
		&post.ID,
		&post.OwnerID,
		&post.ImagePool,
		&post.ImagePath,
		&post.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &post, nil
}
