package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"stylizer/internal/domain"
)

// SelfieRepositoryPG implements domain.SelfieRepository.
type SelfieRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewSelfieRepository creates a selfie repository backed by PostgreSQL.
func NewSelfieRepository(pool *pgxpool.Pool) *SelfieRepositoryPG {
	return &SelfieRepositoryPG{pool: pool}
}

// FindActive resolves the given ids to active selfies owned by ownerID.
// Ids that are missing, foreign or soft-deleted are simply absent from the
// result; the caller decides whether that is fatal.
func (r *SelfieRepositoryPG) FindActive(ctx context.Context, ownerID string, ids []string) ([]domain.Selfie, error) {
	query := `
SELECT id, owner_id, storage_path, status, created_at
FROM selfies
WHERE owner_id = $1 AND id = ANY($2) AND status = 'active';
`
	rows, err := r.pool.Query(ctx, query, ownerID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var selfies []domain.Selfie
	for rows.Next() {
		var s domain.Selfie
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.StoragePath, &s.Status, &s.CreatedAt); err != nil {
			return nil, err
		}
		selfies = append(selfies, s)
	}
	return selfies, rows.Err()
}
