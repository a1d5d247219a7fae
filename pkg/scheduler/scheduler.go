// Package scheduler implements the Scheduler (§4.7): cron-driven tier runs
// that gate on the Tensor Guardian, mark domains pending per a tier policy,
// and dispatch claimed domains to a tier-scoped Orchestrator.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/sync/errgroup"

	"github.com/beargallbladder/domainrunner/pkg/domain"
	"github.com/beargallbladder/domainrunner/pkg/eventlog"
	"github.com/beargallbladder/domainrunner/pkg/guardian"
	"github.com/beargallbladder/domainrunner/pkg/orchestrator"
	"github.com/beargallbladder/domainrunner/pkg/provider"
)

// Tier is a processing tier, distinct from provider.Tier: a Tier selects
// which provider.Tier values are in play plus a domain-selection policy.
type Tier string

const (
	TierCheap     Tier = "cheap"
	TierMedium    Tier = "medium"
	TierExpensive Tier = "expensive"
	TierFull      Tier = "full"
)

// Policy is one tier's cron cadence, provider eligibility, domain-selection
// predicate, and default cap, per the §4.7 tier policy table.
type Policy struct {
	Tier                 Tier
	CronExpr             string
	AllowedProviderTiers []provider.Tier
	SQLPredicate         string
	DefaultLimit         int
	Description          string
}

// allowsAllProviders reports whether this policy's AllowedProviderTiers has
// no restriction, i.e. every enabled provider is eligible (tier "full").
func (p Policy) allowsAllProviders() bool {
	return len(p.AllowedProviderTiers) == 0
}

func (p Policy) allowsProviderTier(t provider.Tier) bool {
	if p.allowsAllProviders() {
		return true
	}
	for _, allowed := range p.AllowedProviderTiers {
		if allowed == t {
			return true
		}
	}
	return false
}

// DefaultPolicies builds the four tier policies from cron expressions
// supplied by config, wired to the §4.7 table's providers/predicate/cap per
// tier. Predicates reference columns on the domains table.
func DefaultPolicies(cronCheap, cronMedium, cronExpensive, cronFull string) map[Tier]Policy {
	return map[Tier]Policy{
		TierCheap: {
			Tier:                 TierCheap,
			CronExpr:             cronCheap,
			AllowedProviderTiers: []provider.Tier{provider.TierEconomy},
			SQLPredicate:         `length(hostname) <= 20 OR last_processed_at < now() - interval '1 day'`,
			DefaultLimit:         100,
			Description:          "economy providers only; short popular hostnames, or stale > 1d",
		},
		TierMedium: {
			Tier:                 TierMedium,
			CronExpr:             cronMedium,
			AllowedProviderTiers: []provider.Tier{provider.TierStandard, provider.TierEconomy},
			SQLPredicate:         `hostname ~* '(ai|tech|software|cloud|data)' OR last_processed_at < now() - interval '7 days'`,
			DefaultLimit:         500,
			Description:          "standard + economy providers; AI/tech hostnames or stale > 7d",
		},
		TierExpensive: {
			Tier:                 TierExpensive,
			CronExpr:             cronExpensive,
			AllowedProviderTiers: []provider.Tier{provider.TierPremium, provider.TierStandard, provider.TierEconomy},
			SQLPredicate:         `(SELECT count(*) FROM responses WHERE responses.domain_id = domains.id) < 5`,
			DefaultLimit:         200,
			Description:          "all non-economy-restricted providers; domains with < 5 historical responses",
		},
		TierFull: {
			Tier:         TierFull,
			CronExpr:     cronFull,
			SQLPredicate: `true`,
			DefaultLimit: 0,
			Description:  "all enabled providers; every domain, once per week",
		},
	}
}

// filteredProviderLister wraps a ProviderLister, restricting ListEnabled to
// providers whose Tier is eligible under a tier Policy. It satisfies
// orchestrator.ProviderLister so a tier-scoped Orchestrator can be built
// without touching the underlying registry.
type filteredProviderLister struct {
	inner  orchestrator.ProviderLister
	policy Policy
}

func (f filteredProviderLister) ListEnabled() []provider.Provider {
	all := f.inner.ListEnabled()
	if f.policy.allowsAllProviders() {
		return all
	}
	out := make([]provider.Provider, 0, len(all))
	for _, p := range all {
		if f.policy.allowsProviderTier(p.Tier) {
			out = append(out, p)
		}
	}
	return out
}

// RunStatus is a tier run's lifecycle state.
type RunStatus string

const (
	RunRunning         RunStatus = "running"
	RunCompleted       RunStatus = "completed"
	RunGuardianBlocked RunStatus = "guardian_blocked"
	RunFailed          RunStatus = "failed"
	RunCanceled        RunStatus = "canceled"
)

// Run is one tier-scheduled or manually-triggered processing pass.
type Run struct {
	ID         string
	Tier       Tier
	Limit      int
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    Summary
	cancel     context.CancelFunc
}

// Summary is the run's observable outcome, per §6's control-plane contract.
type Summary struct {
	DomainsClaimed   int
	DomainsCompleted int
	DomainsPartial   int
	DomainsPending   int
	GuardianReasons  []string
	Err              string
}

// TriggerRequest is a manual or cron-driven request to start a tier run.
type TriggerRequest struct {
	Tier  Tier
	Limit int // 0 uses the policy's DefaultLimit
	Force bool
}

// GuardianGate is the subset of the Tensor Guardian the Scheduler consults
// before every run.
type GuardianGate interface {
	PreflightStats(ctx context.Context) (guardian.PreflightStats, error)
}

// DomainMarker is the subset of the Work Claimer the Scheduler uses to
// stage a tier's domain-selection policy and then dispatch claimed work.
type DomainMarker interface {
	MarkPendingForTier(ctx context.Context, predicate string, limit int) (int64, error)
	Claim(ctx context.Context, ownerID, source string, batchSize int, leaseTTL time.Duration) ([]domain.Claimed, error)
	ReleaseLease(ctx context.Context, id, ownerID string) error
}

// Config is the Scheduler's tunable behavior, sourced from internal/config.
type Config struct {
	WorkerConcurrency int
	ClaimBatchSize    int
	LeaseTTL          time.Duration
	PerBatchTimeout   time.Duration
	PollInterval      time.Duration
	Source            string
}

// Scheduler drives cron-triggered and manually-triggered tier runs: it
// checks the Guardian, stages work via the Work Claimer, and dispatches
// claimed domains to a tier-scoped Orchestrator.
type Scheduler struct {
	policies map[Tier]Policy
	registry orchestrator.ProviderLister
	domains  DomainMarker
	guardian GuardianGate
	events   *eventlog.Store
	newOrch  func(lister orchestrator.ProviderLister) *orchestrator.Orchestrator
	cfg      Config
	logger   *slog.Logger

	mu          sync.Mutex
	activeRuns  map[Tier]*Run
	lastRun     map[Tier]*Run
	lastTrigger map[Tier]string // minute-bucket of the last cron-triggered fire, to guard double-fire
}

// New creates a Scheduler. newOrch builds an Orchestrator scoped to the
// ProviderLister it is given, so each tier run sees only its eligible
// providers.
func New(
	policies map[Tier]Policy,
	registry orchestrator.ProviderLister,
	domains DomainMarker,
	gate GuardianGate,
	events *eventlog.Store,
	newOrch func(lister orchestrator.ProviderLister) *orchestrator.Orchestrator,
	cfg Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		policies:    policies,
		registry:    registry,
		domains:     domains,
		guardian:    gate,
		events:      events,
		newOrch:     newOrch,
		cfg:         cfg,
		logger:      logger,
		activeRuns:  make(map[Tier]*Run),
		lastRun:     make(map[Tier]*Run),
		lastTrigger: make(map[Tier]string),
	}
}

// prepareRun validates req, registers a new active Run for its tier, and
// returns the run context execute should be driven with. Shared by Trigger
// (async) and TriggerSync (blocking).
func (s *Scheduler) prepareRun(ctx context.Context, req TriggerRequest) (*Run, Policy, context.Context, error) {
	policy, ok := s.policies[req.Tier]
	if !ok {
		return nil, Policy{}, nil, fmt.Errorf("%w: unknown tier %q", ErrConfigError, req.Tier)
	}

	s.mu.Lock()
	if existing, busy := s.activeRuns[req.Tier]; busy && !req.Force {
		s.mu.Unlock()
		return nil, Policy{}, nil, fmt.Errorf("%w: tier %q run %s is already active", ErrRunActive, req.Tier, existing.ID)
	}
	s.mu.Unlock()

	limit := req.Limit
	if limit == 0 {
		limit = policy.DefaultLimit
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:        newRunID(),
		Tier:      req.Tier,
		Limit:     limit,
		Status:    RunRunning,
		StartedAt: time.Now(),
		cancel:    cancel,
	}

	s.mu.Lock()
	s.activeRuns[req.Tier] = run
	s.mu.Unlock()

	return run, policy, runCtx, nil
}

// Trigger starts a tier run. It is rejected with an error satisfying
// errors.Is(err, ErrRunActive) if an identical tier already has an active
// run and req.Force is false (§6: 409-equivalent).
func (s *Scheduler) Trigger(ctx context.Context, req TriggerRequest) (*Run, error) {
	run, policy, runCtx, err := s.prepareRun(ctx, req)
	if err != nil {
		return nil, err
	}
	go s.execute(runCtx, run, policy)
	return run, nil
}

// TriggerSync starts a tier run and blocks until it finishes (or ctx is
// canceled), for the one-shot CLI "trigger" mode where the process needs
// the run's final status before it can decide its exit code.
func (s *Scheduler) TriggerSync(ctx context.Context, req TriggerRequest) (*Run, error) {
	run, policy, runCtx, err := s.prepareRun(ctx, req)
	if err != nil {
		return nil, err
	}
	s.execute(runCtx, run, policy)
	return run, nil
}

// CancelRun requests cooperative cancellation of an active run. The
// in-flight claim-loop honors ctx on its next per-domain or per-batch
// boundary; it does not interrupt calls already in progress beyond their
// own per-call timeout.
func (s *Scheduler) CancelRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.activeRuns {
		if run.ID == runID {
			run.cancel()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// StatusSnapshot is the §6 /status response shape.
type StatusSnapshot struct {
	NextRunAt map[Tier]time.Time
	LastRun   map[Tier]*Run
	Active    map[Tier]*Run
}

// Status reports each tier's next scheduled fire time and its most recent
// run summary.
func (s *Scheduler) Status() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatusSnapshot{
		NextRunAt: make(map[Tier]time.Time, len(s.policies)),
		LastRun:   make(map[Tier]*Run, len(s.lastRun)),
		Active:    make(map[Tier]*Run, len(s.activeRuns)),
	}
	now := time.Now()
	for tier, policy := range s.policies {
		if next, err := gronx.NextTick(policy.CronExpr, false); err == nil {
			snap.NextRunAt[tier] = next
		} else {
			snap.NextRunAt[tier] = now
		}
	}
	for tier, run := range s.lastRun {
		snap.LastRun[tier] = run
	}
	for tier, run := range s.activeRuns {
		snap.Active[tier] = run
	}
	return snap
}

// Run polls the cron expressions at cfg.PollInterval and triggers non-forced
// runs when due, until ctx is canceled. Each tier fires at most once per
// matched minute, guarding against a slow poll tick double-firing within
// the same due minute.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler poll loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler poll loop stopped")
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	now := time.Now()
	bucket := now.Format("200601021504")

	for tier, policy := range s.policies {
		due, err := gronx.IsDue(policy.CronExpr, now)
		if err != nil {
			s.logger.Error("evaluating cron expression", "tier", tier, "cron", policy.CronExpr, "error", err)
			continue
		}
		if !due {
			continue
		}

		s.mu.Lock()
		fired := s.lastTrigger[tier] == bucket
		if !fired {
			s.lastTrigger[tier] = bucket
		}
		s.mu.Unlock()
		if fired {
			continue
		}

		if _, err := s.Trigger(ctx, TriggerRequest{Tier: tier}); err != nil {
			s.logger.Warn("cron-triggered run rejected", "tier", tier, "error", err)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, run *Run, policy Policy) {
	defer func() {
		run.FinishedAt = time.Now()
		s.mu.Lock()
		delete(s.activeRuns, run.Tier)
		s.lastRun[run.Tier] = run
		s.mu.Unlock()
	}()

	if s.events != nil {
		_ = s.events.Append(ctx, eventlog.Global(eventlog.KindSchedulerTick, map[string]any{
			"run_id": run.ID, "tier": string(run.Tier), "limit": run.Limit,
		}))
	}

	if s.guardian != nil {
		stats, err := s.guardian.PreflightStats(ctx)
		if err != nil {
			run.Status = RunFailed
			run.Summary.Err = err.Error()
			s.logger.Error("guardian preflight failed", "run_id", run.ID, "error", err)
			return
		}
		verdict := guardian.Evaluate(stats)
		if !verdict.Pass {
			run.Status = RunGuardianBlocked
			run.Summary.GuardianReasons = verdict.Reasons
			if s.events != nil {
				_ = s.events.Append(ctx, eventlog.Global(eventlog.KindGuardianBlock, map[string]any{
					"run_id": run.ID, "tier": string(run.Tier), "reasons": verdict.Reasons,
				}))
			}
			s.logger.Warn("guardian blocked run", "run_id", run.ID, "tier", run.Tier, "reasons", verdict.Reasons)
			return
		}
	}

	marked, err := s.domains.MarkPendingForTier(ctx, policy.SQLPredicate, run.Limit)
	if err != nil {
		run.Status = RunFailed
		run.Summary.Err = err.Error()
		s.logger.Error("marking domains pending for tier", "run_id", run.ID, "error", err)
		return
	}
	s.logger.Info("tier run staged", "run_id", run.ID, "tier", run.Tier, "marked", marked)

	lister := filteredProviderLister{inner: s.registry, policy: policy}
	orch := s.newOrch(lister)

	summary, err := s.claimLoop(ctx, run, orch)
	run.Summary = summary
	if err != nil {
		if ctx.Err() != nil {
			run.Status = RunCanceled
		} else {
			run.Status = RunFailed
			run.Summary.Err = err.Error()
		}
		return
	}
	run.Status = RunCompleted
}

// claimLoop repeatedly claims a batch of domains and dispatches them to orch
// with cfg.WorkerConcurrency in-flight at a time, until no domains remain
// claimable or ctx is canceled.
func (s *Scheduler) claimLoop(ctx context.Context, run *Run, orch *orchestrator.Orchestrator) (Summary, error) {
	var summary Summary
	ownerID := fmt.Sprintf("scheduler-%s", run.ID)
	concurrency := s.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	for {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		batchCtx, cancel := context.WithTimeout(ctx, s.batchTimeout())
		claimed, err := s.domains.Claim(batchCtx, ownerID, s.cfg.Source, s.cfg.ClaimBatchSize, s.cfg.LeaseTTL)
		cancel()
		if err != nil {
			return summary, fmt.Errorf("claiming batch: %w", err)
		}
		if len(claimed) == 0 {
			return summary, nil
		}
		summary.DomainsClaimed += len(claimed)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		var summaryMu sync.Mutex
		for _, c := range claimed {
			c := c
			g.Go(func() error {
				if gctx.Err() != nil {
					_ = s.domains.ReleaseLease(ctx, c.ID, ownerID)
					summaryMu.Lock()
					summary.DomainsPending++
					summaryMu.Unlock()
					return nil
				}
				out, err := orch.Process(gctx, c, ownerID)
				if err != nil {
					s.logger.Error("processing claimed domain", "domain_id", c.ID, "error", err)
					_ = s.domains.ReleaseLease(ctx, c.ID, ownerID)
					summaryMu.Lock()
					summary.DomainsPending++
					summaryMu.Unlock()
					return nil
				}
				summaryMu.Lock()
				switch out.Status {
				case domain.StatusCompleted:
					summary.DomainsCompleted++
				case domain.StatusCompletedPartial:
					summary.DomainsPartial++
				case domain.StatusPending, domain.StatusError:
					summary.DomainsPending++
				}
				summaryMu.Unlock()
				return nil
			})
		}
		_ = g.Wait() // per-domain errors never abort the batch; see orchestrator.Process contract
	}
}

func (s *Scheduler) batchTimeout() time.Duration {
	if s.cfg.PerBatchTimeout > 0 {
		return s.cfg.PerBatchTimeout
	}
	return 10 * time.Minute
}
