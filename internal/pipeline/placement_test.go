package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"stylizer/internal/domain"
	"stylizer/internal/storage"
)

func TestPublishMovesLatestVersionToPublicPool(t *testing.T) {
	env := newTestEnv()
	job := env.seedJob("job-1", "owner-1")
	job.Status = domain.JobStatusSucceeded
	env.jobs.put(job)
	version := env.seedVersion("job-1", "owner-1", "v1")

	url, err := env.svc.Publish(context.Background(), "owner-1", "job-1")
	if err != nil {
		t.Fatalf("Publish() = %v, want nil", err)
	}
	if !strings.Contains(url, string(storage.PoolPublic)) {
		t.Fatalf("url = %q, want public pool reference", url)
	}
	if env.store.has(storage.PoolPrivate, version.ImagePath) {
		t.Fatal("artifact left behind in private pool")
	}
	if !env.store.has(storage.PoolPublic, version.ImagePath) {
		t.Fatal("artifact missing from public pool")
	}

	got := env.jobs.get("job-1").FindVersion("v1")
	if got.ImagePool != string(storage.PoolPublic) {
		t.Fatalf("recorded pool = %s, want public", got.ImagePool)
	}

	// Publishing again is a pure re-mint, no second move.
	if _, err := env.svc.Publish(context.Background(), "owner-1", "job-1"); err != nil {
		t.Fatalf("second Publish() = %v, want nil", err)
	}
}

func TestPublishRequiresVersions(t *testing.T) {
	env := newTestEnv()
	env.seedJob("job-1", "owner-1")

	_, err := env.svc.Publish(context.Background(), "owner-1", "job-1")
	if !errors.Is(err, domain.ErrNoVersions) {
		t.Fatalf("Publish() = %v, want ErrNoVersions", err)
	}
}

func TestSetAvatarDefaultsToLatestVersion(t *testing.T) {
	env := newTestEnv()
	env.seedJob("job-1", "owner-1")
	env.seedVersion("job-1", "owner-1", "v1")
	v2 := env.seedVersion("job-1", "owner-1", "v2")

	if err := env.svc.SetAvatar(context.Background(), "owner-1", "job-1", ""); err != nil {
		t.Fatalf("SetAvatar() = %v, want nil", err)
	}
	if env.profiles.calls != 1 {
		t.Fatalf("profile updates = %d, want 1", env.profiles.calls)
	}
	if env.profiles.imagePath != v2.ImagePath || env.profiles.thumbPath != v2.ThumbPath {
		t.Fatalf("avatar paths = %s/%s, want latest version", env.profiles.imagePath, env.profiles.thumbPath)
	}
}

func TestSetAvatarWithExplicitVersion(t *testing.T) {
	env := newTestEnv()
	env.seedJob("job-1", "owner-1")
	v1 := env.seedVersion("job-1", "owner-1", "v1")
	env.seedVersion("job-1", "owner-1", "v2")

	if err := env.svc.SetAvatar(context.Background(), "owner-1", "job-1", "v1"); err != nil {
		t.Fatalf("SetAvatar() = %v, want nil", err)
	}
	if env.profiles.imagePath != v1.ImagePath {
		t.Fatalf("avatar path = %s, want v1", env.profiles.imagePath)
	}

	if err := env.svc.SetAvatar(context.Background(), "owner-1", "job-1", "v9"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetAvatar(v9) = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesArtifactsAndSoftDeletes(t *testing.T) {
	env := newTestEnv()
	env.seedJob("job-1", "owner-1")
	version := env.seedVersion("job-1", "owner-1", "v1")

	err := env.svc.Delete(context.Background(), "owner-1", "job-1", DeleteOptions{Archive: true})
	if err != nil {
		t.Fatalf("Delete() = %v, want nil", err)
	}
	if env.store.has(storage.PoolPrivate, version.ImagePath) {
		t.Fatal("artifact still present in private pool")
	}
	if env.store.has(storage.PoolDerivative, version.ThumbPath) {
		t.Fatal("derivative still present")
	}
	if !env.store.has(storage.PoolArchive, version.ImagePath) {
		t.Fatal("archived copy missing")
	}
	if _, err := env.jobs.GetByID(context.Background(), "job-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByID after delete = %v, want ErrNotFound", err)
	}

	// Deleting again, or deleting a job that never existed, is a no-op.
	if err := env.svc.Delete(context.Background(), "owner-1", "job-1", DeleteOptions{}); err != nil {
		t.Fatalf("repeat Delete() = %v, want nil", err)
	}
	if err := env.svc.Delete(context.Background(), "owner-1", "job-none", DeleteOptions{}); err != nil {
		t.Fatalf("Delete(missing) = %v, want nil", err)
	}
}

func TestDeleteRejectsForeignJob(t *testing.T) {
	env := newTestEnv()
	env.seedJob("job-1", "owner-1")

	err := env.svc.Delete(context.Background(), "owner-2", "job-1", DeleteOptions{})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Delete() = %v, want ErrUnauthorized", err)
	}
}

func TestExportBundlesEveryVersion(t *testing.T) {
	env := newTestEnv()
	env.seedJob("job-1", "owner-1")
	env.seedVersion("job-1", "owner-1", "v1")
	env.seedVersion("job-1", "owner-1", "v2")

	archive, err := env.svc.Export(context.Background(), "owner-1", "job-1")
	if err != nil {
		t.Fatalf("Export() = %v, want nil", err)
	}
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("zip.NewReader() = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range reader.File {
		names[f.Name] = true
	}
	if !names["v1.png"] || !names["v2.png"] {
		t.Fatalf("archive entries = %v, want v1.png and v2.png", names)
	}
	if !names["v1-thumb.jpg"] || !names["v2-thumb.jpg"] {
		t.Fatalf("archive entries = %v, want thumbnails included", names)
	}
}

func TestGetStatusMintsSignedURLs(t *testing.T) {
	env := newTestEnv()
	job := env.seedJob("job-1", "owner-1")
	job.Status = domain.JobStatusSucceeded
	env.jobs.put(job)
	version := env.seedVersion("job-1", "owner-1", "v1")

	view, err := env.svc.GetStatus(context.Background(), "owner-1", "job-1")
	if err != nil {
		t.Fatalf("GetStatus() = %v, want nil", err)
	}
	if view.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", view.Status)
	}
	if len(view.Versions) != 1 {
		t.Fatalf("versions = %d, want 1", len(view.Versions))
	}
	got := view.Versions[0]
	if !strings.HasPrefix(got.ImageURL, "https://") || !strings.HasPrefix(got.ThumbURL, "https://") {
		t.Fatalf("urls = %q / %q, want signed references", got.ImageURL, got.ThumbURL)
	}
	if got.ImageURL == version.ImagePath {
		t.Fatal("raw storage path leaked to the client")
	}
}

func TestPollStatusServedFromCache(t *testing.T) {
	env := newTestEnv()
	env.seedJob("job-1", "owner-1")
	_ = env.cache.SetStatus(context.Background(), "job-1", "owner-1", domain.JobStatusRunning)

	status, err := env.svc.PollStatus(context.Background(), "owner-1", "job-1")
	if err != nil {
		t.Fatalf("PollStatus() = %v, want nil", err)
	}
	if status != domain.JobStatusRunning {
		t.Fatalf("status = %s, want cached running", status)
	}

	// Cache hits still enforce ownership.
	if _, err := env.svc.PollStatus(context.Background(), "owner-2", "job-1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("PollStatus(foreign) = %v, want ErrUnauthorized", err)
	}
}

func TestPollStatusFallsBackToRecordStore(t *testing.T) {
	env := newTestEnv()
	env.seedJob("job-1", "owner-1")
	_ = env.cache.Purge(context.Background(), "job-1")

	status, err := env.svc.PollStatus(context.Background(), "owner-1", "job-1")
	if err != nil {
		t.Fatalf("PollStatus() = %v, want nil", err)
	}
	if status != domain.JobStatusQueued {
		t.Fatalf("status = %s, want queued", status)
	}
	// The miss repopulates the cache.
	if _, cached, err := env.cache.GetStatus(context.Background(), "job-1"); err != nil || cached != domain.JobStatusQueued {
		t.Fatalf("cache after fallback = %s, %v", cached, err)
	}
}

func TestGetStatusRejectsForeignJob(t *testing.T) {
	env := newTestEnv()
	env.seedJob("job-1", "owner-1")

	if _, err := env.svc.GetStatus(context.Background(), "owner-2", "job-1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("GetStatus() = %v, want ErrUnauthorized", err)
	}
}
