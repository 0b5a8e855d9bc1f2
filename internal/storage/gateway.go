package storage

import (
	"context"
	"time"
)

// Pool names a storage tier with its own visibility and retention policy.
// The pipeline selects the pool at placement time; it never hard-codes one.
type Pool string

const (
	PoolRaw        Pool = "raw"
	PoolPrivate    Pool = "private"
	PoolPublic     Pool = "public"
	PoolDerivative Pool = "derivative"
	PoolArchive    Pool = "archive"
)

// Gateway moves named byte blobs across pools and mints time-limited
// references to them.
type Gateway interface {
	Upload(ctx context.Context, pool Pool, path string, data []byte, contentType, cacheControl string) error
	Download(ctx context.Context, pool Pool, path string) ([]byte, error)
	Delete(ctx context.Context, pool Pool, path string) error
	Copy(ctx context.Context, srcPool Pool, srcPath string, dstPool Pool, dstPath string) error
	Move(ctx context.Context, srcPool Pool, srcPath string, dstPool Pool, dstPath string) error
	MintReadURL(ctx context.Context, pool Pool, path string, ttl time.Duration) (string, error)
	MintWriteURL(ctx context.Context, pool Pool, path string, ttl time.Duration) (string, error)
}
