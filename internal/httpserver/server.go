package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/beargallbladder/domainrunner/internal/config"
	"github.com/beargallbladder/domainrunner/internal/version"
	"github.com/beargallbladder/domainrunner/pkg/breaker"
	"github.com/beargallbladder/domainrunner/pkg/provider"
	"github.com/beargallbladder/domainrunner/pkg/scheduler"
)

// Scheduler is the subset of *scheduler.Scheduler the control plane drives.
type Scheduler interface {
	Trigger(ctx context.Context, req scheduler.TriggerRequest) (*scheduler.Run, error)
	CancelRun(runID string) error
	Status() scheduler.StatusSnapshot
}

// Server holds the crawler control plane's HTTP dependencies: health/ready
// probes, provider/breaker introspection, and the Scheduler trigger/cancel
// endpoints (§6).
type Server struct {
	Router    *chi.Mux
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *prometheus.Registry
	registry  *provider.Registry
	breakers  *breaker.Set
	scheduler Scheduler
	startedAt time.Time
}

// NewServer wires the crawler control plane: health/readiness probes,
// read-only provider/breaker/status introspection, and Scheduler
// trigger/cancel endpoints guarded by the internal bearer token.
func NewServer(
	cfg *config.Config,
	logger *slog.Logger,
	db *pgxpool.Pool,
	rdb *redis.Client,
	metricsReg *prometheus.Registry,
	registry *provider.Registry,
	breakers *breaker.Set,
	sched Scheduler,
) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		registry:  registry,
		breakers:  breakers,
		scheduler: sched,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Get("/status", s.handleStatus)
	s.Router.Get("/providers", s.handleProviders)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Group(func(r chi.Router) {
		r.Use(RequireInternalToken(cfg.InternalToken))
		r.Post("/trigger", s.handleTrigger)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			s.Logger.Error("readiness check: redis ping failed", "error", err)
			RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
			return
		}
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the §6 GET /status response shape: per-tier next-run
// time plus the active and last runs. It does not report rolling throughput.
type statusResponse struct {
	Status        string                             `json:"status"`
	Version       string                             `json:"version"`
	CommitSHA     string                             `json:"commit_sha"`
	UptimeSeconds int64                              `json:"uptime_seconds"`
	Database      string                             `json:"database"`
	ProvidersUp   int                                `json:"providers_enabled"`
	ActiveRuns    map[scheduler.Tier]*scheduler.Run   `json:"active_runs"`
	LastRuns      map[scheduler.Tier]*scheduler.Run   `json:"last_runs"`
	NextRunAt     map[scheduler.Tier]time.Time        `json:"next_run_at"`
	CircuitStates map[string]breaker.State            `json:"circuit_states,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uptime := time.Since(s.startedAt)

	resp := statusResponse{
		Version:       version.Version,
		CommitSHA:     version.Commit,
		UptimeSeconds: int64(uptime.Seconds()),
		ProvidersUp:   len(s.registry.ListEnabled()),
	}

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("status check: database ping failed", "error", err)
		resp.Database = "error"
	} else {
		resp.Database = "ok"
	}

	if s.breakers != nil {
		resp.CircuitStates = s.breakers.States()
	}

	if s.scheduler != nil {
		snap := s.scheduler.Status()
		resp.ActiveRuns = snap.Active
		resp.LastRuns = snap.LastRun
		resp.NextRunAt = snap.NextRunAt
	}

	if resp.Database == "ok" {
		resp.Status = "ok"
	} else {
		resp.Status = "degraded"
	}

	Respond(w, http.StatusOK, resp)
}

// providerSummary is the read-only view of one provider's catalog entry and
// key-pool size (never the keys themselves).
type providerSummary struct {
	ID           string           `json:"id"`
	DisplayName  string           `json:"display_name"`
	Tier         provider.Tier    `json:"tier"`
	Dialect      provider.Dialect `json:"dialect"`
	DefaultModel string           `json:"default_model"`
	KeyCount     int              `json:"key_count"`
	Enabled      bool             `json:"enabled"`
	CircuitState string           `json:"circuit_state,omitempty"`
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	enabled := s.registry.ListEnabled()
	out := make([]providerSummary, 0, len(enabled))
	for _, p := range enabled {
		summary := providerSummary{
			ID:           p.ID,
			DisplayName:  p.DisplayName,
			Tier:         p.Tier,
			Dialect:      p.Dialect,
			DefaultModel: p.DefaultModel,
			KeyCount:     len(p.Keys),
			Enabled:      p.Enabled(),
		}
		if s.breakers != nil {
			if b, ok := s.breakers.Get(p.ID); ok {
				summary.CircuitState = b.State().String()
			}
		}
		out = append(out, summary)
	}
	Respond(w, http.StatusOK, map[string]any{"providers": out})
}

// triggerRequest is the §6 POST /trigger body.
type triggerRequest struct {
	Tier  string `json:"tier" validate:"required,oneof=cheap medium expensive full"`
	Limit int    `json:"limit,omitempty" validate:"omitempty,gte=0"`
	Force bool   `json:"force,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	run, err := s.scheduler.Trigger(r.Context(), scheduler.TriggerRequest{
		Tier:  scheduler.Tier(req.Tier),
		Limit: req.Limit,
		Force: req.Force,
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrRunActive) {
			RespondError(w, http.StatusConflict, "run_active", err.Error())
			return
		}
		RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	Respond(w, http.StatusAccepted, run)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.CancelRun(id); err != nil {
		RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	Respond(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
}
