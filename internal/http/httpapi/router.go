package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"stylizer/internal/http/handlers"
	"stylizer/internal/infra"
	"stylizer/internal/middleware"
)

func NewRouter(app *handlers.App, cfg *infra.Config, log infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	// Auth runs before the logger so access-log lines carry the user id.
	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.Auth,
		middleware.Logger(log),
		middleware.CORS(cfg.CORSOrigins),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	limit := middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)
	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(limit).Post("/", app.CreateJob)
		r.Get("/{job_id}", app.JobStatus)
		r.With(limit).Post("/{job_id}/refine", app.RefineJob)
		r.Post("/{job_id}/publish", app.PublishJob)
		r.Post("/{job_id}/avatar", app.SetAvatar)
		r.Get("/{job_id}/export", app.ExportJob)
		r.Delete("/{job_id}", app.DeleteJob)
	})

	// Queue bridges and the sweeper drive steps through here when the
	// worker binary is not deployed.
	r.Post("/internal/execute", app.ExecuteStep)

	return r
}
