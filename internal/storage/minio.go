package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore implements Gateway on a MinIO/S3 endpoint. Each pool maps to
// its own bucket so retention and visibility policies can be attached per
// bucket.
type MinioStore struct {
	client  *minio.Client
	buckets map[Pool]string
}

// MinioOptions configures the S3 gateway.
type MinioOptions struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	BucketPrefix string
}

// NewMinioStore connects to the object storage endpoint and ensures the
// per-pool buckets exist.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create s3 client: %w", err)
	}

	store := &MinioStore{
		client:  client,
		buckets: make(map[Pool]string),
	}
	for _, pool := range []Pool{PoolRaw, PoolPrivate, PoolPublic, PoolDerivative, PoolArchive} {
		bucket := fmt.Sprintf("%s-%s", opts.BucketPrefix, pool)
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("storage: check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("storage: create bucket %s: %w", bucket, err)
			}
		}
		store.buckets[pool] = bucket
	}
	return store, nil
}

func (s *MinioStore) bucket(pool Pool) (string, error) {
	bucket, ok := s.buckets[pool]
	if !ok {
		return "", fmt.Errorf("storage: unknown pool %q", pool)
	}
	return bucket, nil
}

// Upload writes data to the pool under the given key.
func (s *MinioStore) Upload(ctx context.Context, pool Pool, path string, data []byte, contentType, cacheControl string) error {
	bucket, err := s.bucket(pool)
	if err != nil {
		return err
	}
	key, err := SanitizeKey(path)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: cacheControl,
	})
	if err != nil {
		return fmt.Errorf("storage: put object: %w", err)
	}
	return nil
}

// Download reads the full object back.
func (s *MinioStore) Download(ctx context.Context, pool Pool, path string) ([]byte, error) {
	bucket, err := s.bucket(pool)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: get object: %w", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("storage: read object: %w", err)
	}
	return data, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *MinioStore) Delete(ctx context.Context, pool Pool, path string) error {
	bucket, err := s.bucket(pool)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: remove object: %w", err)
	}
	return nil
}

// Copy duplicates an object across pools.
func (s *MinioStore) Copy(ctx context.Context, srcPool Pool, srcPath string, dstPool Pool, dstPath string) error {
	srcBucket, err := s.bucket(srcPool)
	if err != nil {
		return err
	}
	dstBucket, err := s.bucket(dstPool)
	if err != nil {
		return err
	}
	_, err = s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dstBucket, Object: dstPath},
		minio.CopySrcOptions{Bucket: srcBucket, Object: srcPath},
	)
	if err != nil {
		return fmt.Errorf("storage: copy object: %w", err)
	}
	return nil
}

// Move copies the object then deletes the source.
func (s *MinioStore) Move(ctx context.Context, srcPool Pool, srcPath string, dstPool Pool, dstPath string) error {
	if err := s.Copy(ctx, srcPool, srcPath, dstPool, dstPath); err != nil {
		return err
	}
	return s.Delete(ctx, srcPool, srcPath)
}

// MintReadURL returns a presigned GET reference valid for ttl.
func (s *MinioStore) MintReadURL(ctx context.Context, pool Pool, path string, ttl time.Duration) (string, error) {
	bucket, err := s.bucket(pool)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, bucket, path, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("storage: presign get: %w", err)
	}
	return u.String(), nil
}

// MintWriteURL returns a presigned PUT reference valid for ttl.
func (s *MinioStore) MintWriteURL(ctx context.Context, pool Pool, path string, ttl time.Duration) (string, error) {
	bucket, err := s.bucket(pool)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedPutObject(ctx, bucket, path, ttl)
	if err != nil {
		return "", fmt.Errorf("storage: presign put: %w", err)
	}
	return u.String(), nil
}

var _ Gateway = (*MinioStore)(nil)
