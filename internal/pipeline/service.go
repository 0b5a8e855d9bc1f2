package pipeline

import (
	"context"
	"time"

	"stylizer/internal/domain"
	"stylizer/internal/imaging"
	"stylizer/internal/infra"
	"stylizer/internal/providers/image"
	"stylizer/internal/safety"
	"stylizer/internal/storage"
)

// StatusCache mirrors job status for cheap polling. All calls are
// best-effort: cache failures never fail pipeline operations.
type StatusCache interface {
	SetStatus(ctx context.Context, jobID, ownerID string, status domain.JobStatus) error
	GetStatus(ctx context.Context, jobID string) (ownerID string, status domain.JobStatus, err error)
	Purge(ctx context.Context, jobID string) error
}

// Config bounds the pipeline's behavior.
type Config struct {
	MaxActiveJobs  int
	MaxPromptLen   int
	MaxStepRetries int
	ThumbWidth     int
	ReadURLTTL     time.Duration
	PublishURLTTL  time.Duration
	Limits         imaging.Limits
	ProviderName   string
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxActiveJobs:  2,
		MaxPromptLen:   1000,
		MaxStepRetries: 3,
		ThumbWidth:     512,
		ReadURLTTL:     15 * time.Minute,
		PublishURLTTL:  168 * time.Hour,
		Limits:         imaging.DefaultLimits,
		ProviderName:   "gemini",
	}
}

// Service is the pipeline orchestrator: it admits jobs, hands execution to
// the dispatch surface, runs the idempotent execution step, and performs
// the placement operations.
type Service struct {
	jobs       domain.JobRepository
	selfies    domain.SelfieRepository
	posts      domain.PostRepository
	profiles   domain.ProfileRepository
	store      storage.Gateway
	provider   image.Generator
	dispatcher Dispatcher
	safety     safety.Checker
	cache      StatusCache
	log        infra.Logger
	cfg        Config
}

// Deps collects the collaborators the orchestrator needs.
type Deps struct {
	Jobs       domain.JobRepository
	Selfies    domain.SelfieRepository
	Posts      domain.PostRepository
	Profiles   domain.ProfileRepository
	Store      storage.Gateway
	Provider   image.Generator
	Dispatcher Dispatcher
	Safety     safety.Checker
	Cache      StatusCache
	Logger     infra.Logger
}

// NewService wires the orchestrator.
func NewService(deps Deps, cfg Config) *Service {
	if cfg.MaxActiveJobs <= 0 {
		cfg.MaxActiveJobs = 2
	}
	if cfg.ThumbWidth <= 0 {
		cfg.ThumbWidth = 512
	}
	if cfg.Limits == (imaging.Limits{}) {
		cfg.Limits = imaging.DefaultLimits
	}
	return &Service{
		jobs:       deps.Jobs,
		selfies:    deps.Selfies,
		posts:      deps.Posts,
		profiles:   deps.Profiles,
		store:      deps.Store,
		provider:   deps.Provider,
		dispatcher: deps.Dispatcher,
		safety:     deps.Safety,
		cache:      deps.Cache,
		log:        deps.Logger,
		cfg:        cfg,
	}
}

// SetDispatcher replaces the dispatch surface. Used by the worker to point
// sweep re-drives at its own executor when no broker is configured.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

func (s *Service) cacheStatus(ctx context.Context, jobID, ownerID string, status domain.JobStatus) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetStatus(ctx, jobID, ownerID, status); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("pipeline: status cache write failed")
	}
}

func (s *Service) purgeCache(ctx context.Context, jobID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Purge(ctx, jobID); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("pipeline: status cache purge failed")
	}
}
