package statuscache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stylizer/internal/domain"
)

const keyPrefix = "job_status:"

// Cache mirrors job status in Redis so polling clients can be answered
// without a database read. It never participates in pipeline correctness;
// the job record is the single source of truth.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a cache around an existing Redis client.
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

// SetStatus records the latest status transition. The owner travels with
// the value so a cache hit can still enforce ownership.
func (c *Cache) SetStatus(ctx context.Context, jobID, ownerID string, status domain.JobStatus) error {
	return c.client.Set(ctx, keyPrefix+jobID, ownerID+"|"+string(status), c.ttl).Err()
}

// GetStatus returns the cached owner and status, or domain.ErrNotFound on a
// miss or an undecodable entry.
func (c *Cache) GetStatus(ctx context.Context, jobID string) (string, domain.JobStatus, error) {
	val, err := c.client.Get(ctx, keyPrefix+jobID).Result()
	if err == redis.Nil {
		return "", "", domain.ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	ownerID, status, ok := strings.Cut(val, "|")
	if !ok {
		return "", "", domain.ErrNotFound
	}
	return ownerID, domain.JobStatus(status), nil
}

// Purge removes the cached entry, e.g. on job deletion.
func (c *Cache) Purge(ctx context.Context, jobID string) error {
	return c.client.Del(ctx, keyPrefix+jobID).Err()
}
