package pipeline

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	"image/color"
	"image/png"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stylizer/internal/domain"
	provimg "stylizer/internal/providers/image"
	"stylizer/internal/safety"
	"stylizer/internal/storage"
)

// memJobs is an in-memory JobRepository mirroring the conditional-update
// semantics of the SQL implementation.
type memJobs struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	deleted map[string]bool
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*domain.Job), deleted: make(map[string]bool)}
}

func (m *memJobs) put(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
}

func (m *memJobs) get(jobID string) *domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	copied := *job
	copied.Versions = append([]domain.Version(nil), job.Versions...)
	return &copied
}

func (m *memJobs) Create(ctx context.Context, job *domain.Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	m.put(job)
	return nil
}

func (m *memJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || m.deleted[jobID] {
		return nil, domain.ErrNotFound
	}
	copied := *job
	copied.Versions = append([]domain.Version(nil), job.Versions...)
	return &copied, nil
}

func (m *memJobs) CountActive(ctx context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, job := range m.jobs {
		if job.OwnerID == ownerID && job.Active() && !m.deleted[id] {
			count++
		}
	}
	return count, nil
}

func (m *memJobs) Claim(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || m.deleted[jobID] {
		return nil, domain.ErrStaleClaim
	}
	if job.Status != domain.JobStatusQueued && job.Status != domain.JobStatusRunning {
		return nil, domain.ErrStaleClaim
	}
	job.Status = domain.JobStatusRunning
	job.UpdatedAt = time.Now().UTC()
	copied := *job
	copied.Versions = append([]domain.Version(nil), job.Versions...)
	return &copied, nil
}

func (m *memJobs) Requeue(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || m.deleted[jobID] {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusQueued
	job.Error = nil
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memJobs) RequeueRefine(ctx context.Context, jobID, instruction, requestedVersionID, baseVersionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || m.deleted[jobID] {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusQueued
	job.RefineInstruction = instruction
	job.PendingStep = string(StepRefine)
	job.PendingVersionID = requestedVersionID
	job.PendingBaseVersionID = baseVersionID
	job.Error = nil
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memJobs) AppendVersion(ctx context.Context, jobID string, v domain.Version) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || m.deleted[jobID] {
		return false, domain.ErrNotFound
	}
	for _, existing := range job.Versions {
		if existing.VersionID == v.VersionID {
			return false, nil
		}
	}
	job.Versions = append(job.Versions, v)
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memJobs) MarkSucceeded(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	// Conditional transition, like the SQL statement: only a running job
	// moves to succeeded; anything else is a no-op.
	if job.Status != domain.JobStatusRunning {
		return nil
	}
	job.Status = domain.JobStatusSucceeded
	job.Error = nil
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memJobs) MarkFailed(ctx context.Context, jobID string, jobErr domain.JobError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusFailed
	job.Error = &jobErr
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memJobs) RestoreSucceeded(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusSucceeded
	job.Error = nil
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memJobs) AppendProviderRequestID(ctx context.Context, jobID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.ProviderRequestIDs = append(job.ProviderRequestIDs, requestID)
	return nil
}

func (m *memJobs) SetVersionPool(ctx context.Context, jobID, versionID, pool, imagePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	for i := range job.Versions {
		if job.Versions[i].VersionID == versionID {
			job.Versions[i].ImagePool = pool
			job.Versions[i].ImagePath = imagePath
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memJobs) IncrementRetry(ctx context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	job.RetryCount++
	job.UpdatedAt = time.Now().UTC()
	return job.RetryCount, nil
}

func (m *memJobs) SoftDelete(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted[jobID] = true
	return nil
}

func (m *memJobs) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for id, job := range m.jobs {
		if m.deleted[id] || !job.Active() || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		copied := *job
		copied.Versions = append([]domain.Version(nil), job.Versions...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memSelfies struct {
	selfies map[string]domain.Selfie
}

func newMemSelfies() *memSelfies {
	return &memSelfies{selfies: make(map[string]domain.Selfie)}
}

func (m *memSelfies) add(s domain.Selfie) {
	m.selfies[s.ID] = s
}

func (m *memSelfies) FindActive(ctx context.Context, ownerID string, ids []string) ([]domain.Selfie, error) {
	var out []domain.Selfie
	for _, id := range ids {
		s, ok := m.selfies[id]
		if ok && s.OwnerID == ownerID && s.Status == domain.SelfieStatusActive {
			out = append(out, s)
		}
	}
	return out, nil
}

type memPosts struct {
	posts map[string]domain.Post
}

func newMemPosts() *memPosts {
	return &memPosts{posts: make(map[string]domain.Post)}
}

func (m *memPosts) add(p domain.Post) {
	m.posts[p.ID] = p
}

func (m *memPosts) Get(ctx context.Context, postID string) (*domain.Post, error) {
	p, ok := m.posts[postID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

type stubProfiles struct {
	userID    string
	imagePath string
	thumbPath string
	calls     int
}

func (s *stubProfiles) SetAvatar(ctx context.Context, userID, imagePath, thumbPath string) error {
	s.userID = userID
	s.imagePath = imagePath
	s.thumbPath = thumbPath
	s.calls++
	return nil
}

// memStore is an in-memory Gateway keyed by pool and path.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	failDownload bool
	failUpload   bool
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) key(pool storage.Pool, path string) string {
	return string(pool) + "/" + path
}

func (m *memStore) put(pool storage.Pool, path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[m.key(pool, path)] = data
}

func (m *memStore) has(pool storage.Pool, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[m.key(pool, path)]
	return ok
}

func (m *memStore) Upload(ctx context.Context, pool storage.Pool, path string, data []byte, contentType, cacheControl string) error {
	if m.failUpload {
		return fmt.Errorf("upload unavailable")
	}
	m.put(pool, path, data)
	return nil
}

func (m *memStore) Download(ctx context.Context, pool storage.Pool, path string) ([]byte, error) {
	if m.failDownload {
		return nil, fmt.Errorf("download unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[m.key(pool, path)]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", pool, path)
	}
	return data, nil
}

func (m *memStore) Delete(ctx context.Context, pool storage.Pool, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, m.key(pool, path))
	return nil
}

func (m *memStore) Copy(ctx context.Context, srcPool storage.Pool, srcPath string, dstPool storage.Pool, dstPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[m.key(srcPool, srcPath)]
	if !ok {
		return fmt.Errorf("object %s/%s not found", srcPool, srcPath)
	}
	m.objects[m.key(dstPool, dstPath)] = data
	return nil
}

func (m *memStore) Move(ctx context.Context, srcPool storage.Pool, srcPath string, dstPool storage.Pool, dstPath string) error {
	if err := m.Copy(ctx, srcPool, srcPath, dstPool, dstPath); err != nil {
		return err
	}
	return m.Delete(ctx, srcPool, srcPath)
}

func (m *memStore) MintReadURL(ctx context.Context, pool storage.Pool, path string, ttl time.Duration) (string, error) {
	return "https://signed.test/" + string(pool) + "/" + path, nil
}

func (m *memStore) MintWriteURL(ctx context.Context, pool storage.Pool, path string, ttl time.Duration) (string, error) {
	return "https://signed.test/put/" + string(pool) + "/" + path, nil
}

// memCache is an in-memory StatusCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]string)}
}

func (c *memCache) SetStatus(ctx context.Context, jobID, ownerID string, status domain.JobStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[jobID] = ownerID + "|" + string(status)
	return nil
}

func (c *memCache) GetStatus(ctx context.Context, jobID string) (string, domain.JobStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	val, ok := c.entries[jobID]
	if !ok {
		return "", "", domain.ErrNotFound
	}
	owner, status, _ := strings.Cut(val, "|")
	return owner, domain.JobStatus(status), nil
}

func (c *memCache) Purge(ctx context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, jobID)
	return nil
}

// stubGenerator returns a fixed artifact and counts invocations.
type stubGenerator struct {
	artifact      []byte
	err           error
	generateCalls int
	refineCalls   int
	lastRequest   provimg.Request
}

func (g *stubGenerator) Generate(ctx context.Context, req provimg.Request) (*provimg.Artifact, error) {
	g.generateCalls++
	g.lastRequest = req
	if g.err != nil {
		return nil, g.err
	}
	return &provimg.Artifact{Data: g.artifact, MIME: "image/png", ProviderRequestID: "req-" + req.RequestID}, nil
}

func (g *stubGenerator) Refine(ctx context.Context, req provimg.Request) (*provimg.Artifact, error) {
	g.refineCalls++
	g.lastRequest = req
	if g.err != nil {
		return nil, g.err
	}
	return &provimg.Artifact{Data: g.artifact, MIME: "image/png", ProviderRequestID: "req-" + req.RequestID}, nil
}

// recDispatcher records payloads instead of executing them.
type recDispatcher struct {
	payloads []StepPayload
	err      error
}

func (d *recDispatcher) Dispatch(ctx context.Context, payload StepPayload) error {
	if d.err != nil {
		return d.err
	}
	d.payloads = append(d.payloads, payload)
	return nil
}

// execDispatcher runs the step synchronously, exercising the full
// dispatch-to-execution path in one call.
type execDispatcher struct {
	svc *Service
}

func (d execDispatcher) Dispatch(ctx context.Context, payload StepPayload) error {
	_ = d.svc.ExecuteStep(ctx, payload)
	return nil
}

func testPNG(w, h int) []byte {
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	_ = png.Encode(buf, img)
	return buf.Bytes()
}

type testEnv struct {
	jobs       *memJobs
	selfies    *memSelfies
	posts      *memPosts
	profiles   *stubProfiles
	store      *memStore
	cache      *memCache
	generator  *stubGenerator
	dispatcher *recDispatcher
	svc        *Service
}

func newTestEnv() *testEnv {
	env := &testEnv{
		jobs:       newMemJobs(),
		selfies:    newMemSelfies(),
		posts:      newMemPosts(),
		profiles:   &stubProfiles{},
		store:      newMemStore(),
		cache:      newMemCache(),
		generator:  &stubGenerator{artifact: testPNG(512, 512)},
		dispatcher: &recDispatcher{},
	}
	env.svc = NewService(Deps{
		Jobs:       env.jobs,
		Selfies:    env.selfies,
		Posts:      env.posts,
		Profiles:   env.profiles,
		Store:      env.store,
		Provider:   env.generator,
		Dispatcher: env.dispatcher,
		Safety:     safety.NewKeywordChecker(),
		Cache:      env.cache,
		Logger:     zerolog.Nop(),
	}, DefaultConfig())
	return env
}

// seedSelfie registers an active reference image with bytes in the private
// pool so the executor can resolve it.
func (e *testEnv) seedSelfie(ownerID, id string) {
	path := ownerID + "/selfies/" + id + ".jpg"
	e.selfies.add(domain.Selfie{ID: id, OwnerID: ownerID, StoragePath: path, Status: domain.SelfieStatusActive})
	e.store.put(storage.PoolPrivate, path, testPNG(256, 256))
}

// seedJob persists a queued job with one resolved reference image.
func (e *testEnv) seedJob(id, ownerID string) *domain.Job {
	e.seedSelfie(ownerID, "selfie-1")
	job := &domain.Job{
		ID:          id,
		OwnerID:     ownerID,
		Mode:        domain.ModeFreeform,
		SelfieIDs:   []string{"selfie-1"},
		Prompt:      "a medieval knight portrait",
		AspectRatio: domain.AspectSquare,
		Quality:     domain.QualityStandard,
		Provider:    "gemini",
		Model:       domain.ModelForQuality(domain.QualityStandard),
		Status:      domain.JobStatusQueued,

		PendingStep:      string(StepInitial),
		PendingVersionID: "v1",
	}
	_ = e.jobs.Create(context.Background(), job)
	return job
}

// seedVersion appends a completed version and places its bytes.
func (e *testEnv) seedVersion(jobID, ownerID, versionID string) domain.Version {
	imagePath := storage.ArtifactKey(ownerID, jobID, versionID)
	thumbPath := storage.ThumbKey(ownerID, jobID, versionID)
	e.store.put(storage.PoolPrivate, imagePath, testPNG(512, 512))
	e.store.put(storage.PoolDerivative, thumbPath, testPNG(64, 64))
	version := domain.Version{
		VersionID: versionID,
		ImagePool: string(storage.PoolPrivate),
		ImagePath: imagePath,
		ThumbPath: thumbPath,
		CreatedAt: time.Now().UTC(),
	}
	_, _ = e.jobs.AppendVersion(context.Background(), jobID, version)
	return version
}
