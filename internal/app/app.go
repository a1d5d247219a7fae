package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/beargallbladder/domainrunner/internal/config"
	"github.com/beargallbladder/domainrunner/internal/httpserver"
	"github.com/beargallbladder/domainrunner/internal/platform"
	"github.com/beargallbladder/domainrunner/internal/telemetry"
	"github.com/beargallbladder/domainrunner/internal/version"
	"github.com/beargallbladder/domainrunner/pkg/breaker"
	"github.com/beargallbladder/domainrunner/pkg/domain"
	"github.com/beargallbladder/domainrunner/pkg/eventlog"
	"github.com/beargallbladder/domainrunner/pkg/guardian"
	"github.com/beargallbladder/domainrunner/pkg/orchestrator"
	"github.com/beargallbladder/domainrunner/pkg/prompt"
	"github.com/beargallbladder/domainrunner/pkg/provider"
	"github.com/beargallbladder/domainrunner/pkg/rate"
	"github.com/beargallbladder/domainrunner/pkg/response"
	"github.com/beargallbladder/domainrunner/pkg/scheduler"
	"github.com/beargallbladder/domainrunner/pkg/tariff"
)

// processorSource identifies this deployment's claims so that an
// independently deployed "modular" processor never collides with it (§4.5).
const processorSource = "crawler"

// ErrGuardianBlocked is returned by Run in "trigger" mode when the Tensor
// Guardian's pre-flight gate fails (§7, §8 scenario 6). main.go maps this to
// exit code 2, distinct from ErrConfigError's exit code 3 and every other
// fatal error's exit code 1.
var ErrGuardianBlocked = errors.New("guardian blocked the run")

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (crawler, claim-sweeper or
// trigger).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting domainrunner",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
		"shadow_mode", cfg.ShadowMode,
	)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	registry := provider.NewRegistry()
	logger.Info("provider registry loaded", "enabled", len(registry.ListEnabled()))

	limiter := rate.NewLimiter()
	for _, p := range registry.ListEnabled() {
		limiter.Configure(p.ID, p.Keys, p.MinDelay)
	}

	domains := domain.NewStore(db, cfg.MaxPendingCycles)
	responses := response.NewStore(db)
	events := eventlog.NewStore(db)
	health := tariff.NewHealthTracker()

	prompts := prompt.NewStore(db)
	if err := prompts.EnsureSeeded(ctx); err != nil {
		return fmt.Errorf("seeding prompt templates: %w", err)
	}

	breakers := breaker.NewSet(cfg.CircuitFailureThreshold, cfg.CircuitCooldown, cfg.CircuitCooldownCap,
		func(providerID string, to breaker.State) {
			telemetry.CircuitState.WithLabelValues(providerID).Set(float64(to))
			logger.Warn("circuit breaker state change", "provider", providerID, "state", to.String())
		})

	httpClient := &http.Client{Timeout: cfg.PerCallTimeout}

	orchCfg := orchestrator.Config{
		PerCallTimeout:   cfg.PerCallTimeout,
		PerDomainTimeout: cfg.PerDomainTimeout,
		ShadowMode:       cfg.ShadowMode,
	}
	newOrch := func(lister orchestrator.ProviderLister) *orchestrator.Orchestrator {
		return orchestrator.New(lister, limiter, breakers, domains, responses, events, health, httpClient, orchCfg)
	}

	guardianStore := guardian.NewStore(db, http.DefaultClient, rdb)

	schedCfg := scheduler.Config{
		WorkerConcurrency: cfg.WorkerConcurrency,
		ClaimBatchSize:    cfg.ClaimBatchSize,
		LeaseTTL:          cfg.LeaseTTL,
		PerBatchTimeout:   cfg.PerBatchTimeout,
		PollInterval:      cfg.SchedulerPoll,
		Source:            processorSource,
	}
	policies := scheduler.DefaultPolicies(cfg.CronCheap, cfg.CronMedium, cfg.CronExpensive, cfg.CronFull)
	sched := scheduler.New(policies, registry, domains, guardianStore, events, newOrch, schedCfg, logger)

	switch cfg.Mode {
	case "crawler":
		return runCrawler(ctx, cfg, logger, db, rdb, metricsReg, registry, breakers, domains, events, sched)
	case "claim-sweeper":
		return runClaimSweeper(ctx, logger, domains, events)
	case "trigger":
		return runTriggerOnce(ctx, logger, sched, scheduler.Tier(cfg.TriggerTier), cfg.TriggerLimit)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// runTriggerOnce runs exactly one tier run to completion and returns,
// letting a one-shot CLI invocation exit with a status that reflects the
// run's outcome (§6 exit codes; §8 scenario 6: a guardian-blocked run must
// be observable as exit code 2 from a single process invocation).
func runTriggerOnce(ctx context.Context, logger *slog.Logger, sched *scheduler.Scheduler, tier scheduler.Tier, limit int) error {
	run, err := sched.TriggerSync(ctx, scheduler.TriggerRequest{Tier: tier, Limit: limit})
	if err != nil {
		return fmt.Errorf("triggering run: %w", err)
	}

	switch run.Status {
	case scheduler.RunCompleted:
		logger.Info("trigger run completed", "run_id", run.ID, "tier", run.Tier,
			"claimed", run.Summary.DomainsClaimed, "completed", run.Summary.DomainsCompleted,
			"partial", run.Summary.DomainsPartial, "pending", run.Summary.DomainsPending)
		return nil
	case scheduler.RunGuardianBlocked:
		logger.Warn("trigger run blocked by guardian", "run_id", run.ID, "tier", run.Tier, "reasons", run.Summary.GuardianReasons)
		return fmt.Errorf("%w: %v", ErrGuardianBlocked, run.Summary.GuardianReasons)
	default:
		return fmt.Errorf("run %s (tier %s) ended in status %s: %s", run.ID, run.Tier, run.Status, run.Summary.Err)
	}
}

func runCrawler(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *pgxpool.Pool,
	rdb *redis.Client,
	metricsReg *prometheus.Registry,
	registry *provider.Registry,
	breakers *breaker.Set,
	domains *domain.Store,
	events *eventlog.Store,
	sched *scheduler.Scheduler,
) error {
	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, registry, breakers, sched)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	bgCtx, cancelBG := context.WithCancel(ctx)
	defer cancelBG()
	go sched.Run(bgCtx)
	go runLeaseSweeper(bgCtx, logger, domains, events)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control plane listening", "addr", cfg.ListenAddr(), "version", version.Version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down control plane")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runClaimSweeper runs only the lease-reclaim sweeper, for a deployment that
// wants the reclaim loop isolated from the control plane and the scheduler
// (§4.5: "a periodic sweeper resets rows ... back to pending").
func runClaimSweeper(ctx context.Context, logger *slog.Logger, domains *domain.Store, events *eventlog.Store) error {
	logger.Info("claim sweeper started")
	runLeaseSweeper(ctx, logger, domains, events)
	return nil
}

// runLeaseSweeper periodically reclaims expired leases, logging a release
// event per row per §4.5.
func runLeaseSweeper(ctx context.Context, logger *slog.Logger, domains *domain.Store, events *eventlog.Store) {
	const interval = 1 * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep := func() {
		ids, err := domains.ReleaseExpiredLeases(ctx)
		if err != nil {
			logger.Error("releasing expired leases", "error", err)
			return
		}
		if len(ids) == 0 {
			return
		}
		telemetry.DomainsReleasedTotal.Add(float64(len(ids)))
		logger.Info("released expired leases", "count", len(ids))
		for _, id := range ids {
			if err := events.Append(ctx, eventlog.ForDomain(id, eventlog.KindRelease, nil)); err != nil {
				logger.Error("logging release event", "domain_id", id, "error", err)
			}
		}
	}

	sweep()
	for {
		select {
		case <-ctx.Done():
			logger.Info("lease sweeper stopped")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
