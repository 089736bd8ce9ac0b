// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Probe reports a component failure as a non-nil error.
type Probe func(ctx context.Context) error

// Checker runs readiness checks against the dependencies it was given.
// Components left nil are not checked.
type Checker struct {
	db           *sql.DB
	redis        *redis.Client
	probes       map[string]Probe
	version      string
	checkTimeout time.Duration
}

type CheckerConfig struct {
	DB      *sql.DB
	Redis   *redis.Client
	Probes  map[string]Probe
	Version string
	Timeout time.Duration
}

func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		db:           cfg.DB,
		redis:        cfg.Redis,
		probes:       cfg.Probes,
		version:      cfg.Version,
		checkTimeout: timeout,
	}
}

// CheckDB pings the database and runs a trivial query
func (c *Checker) CheckDB(ctx context.Context) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return ComponentHealth{
			Status:   StatusUnhealthy,
			Message:  "database ping failed",
			Duration: time.Since(start).String(),
		}
	}

	var result int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return ComponentHealth{
			Status:   StatusDegraded,
			Message:  "database query failed",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// CheckRedis pings the revocation cache
func (c *Checker) CheckRedis(ctx context.Context) ComponentHealth {
	return c.runProbe(ctx, "redis ping failed", func(ctx context.Context) error {
		return c.redis.Ping(ctx).Err()
	})
}

func (c *Checker) runProbe(ctx context.Context, failure string, probe Probe) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := probe(ctx); err != nil {
		return ComponentHealth{
			Status:   StatusUnhealthy,
			Message:  failure,
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// Check is the liveness answer; it touches no dependency.
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   c.version,
	}
}

// DeepCheck checks every configured component in parallel (readiness)
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth),
	}

	checks := map[string]func(context.Context) ComponentHealth{}
	if c.db != nil {
		checks["database"] = c.CheckDB
	}
	if c.redis != nil {
		checks["redis"] = c.CheckRedis
	}
	for name, probe := range c.probes {
		probe := probe
		checks[name] = func(ctx context.Context) ComponentHealth {
			return c.runProbe(ctx, name+" check failed", probe)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, check := range checks {
		wg.Add(1)
		go func(n string, ch func(context.Context) ComponentHealth) {
			defer wg.Done()
			result := ch(ctx)
			mu.Lock()
			response.Components[n] = result
			mu.Unlock()
		}(name, check)
	}

	wg.Wait()

	for _, comp := range response.Components {
		if comp.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
			break
		} else if comp.Status == StatusDegraded && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

type Handler struct {
	checker *Checker
}

func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// LivenessHandler handles liveness probe requests
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, h.checker.Check(r.Context()))
}

// ReadinessHandler reports 503 while any component is unhealthy. A degraded
// service still accepts traffic.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, h.checker.DeepCheck(r.Context()))
}

// HealthHandler serves /health; ?deep=true runs the readiness checks.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}

func writeHealth(w http.ResponseWriter, response *HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if response.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}
