package handlers

import (
	"context"
	"net/http"
	"time"
)

// ReadinessCheck probes one dependency the service cannot run without.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Health reports per-dependency readiness. Any failing check degrades the
// response to 503 so load balancers stop routing here.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]string, len(a.Checks))
	healthy := true
	for _, c := range a.Checks {
		if err := c.Check(ctx); err != nil {
			a.Log.Warn().Err(err).Str("component", c.Name).Msg("health check failed")
			components[c.Name] = "unavailable"
			healthy = false
			continue
		}
		components[c.Name] = "ok"
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	a.json(w, code, map[string]any{"status": status, "components": components})
}
