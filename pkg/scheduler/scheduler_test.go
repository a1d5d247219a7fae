package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beargallbladder/domainrunner/pkg/breaker"
	"github.com/beargallbladder/domainrunner/pkg/domain"
	"github.com/beargallbladder/domainrunner/pkg/guardian"
	"github.com/beargallbladder/domainrunner/pkg/orchestrator"
	"github.com/beargallbladder/domainrunner/pkg/provider"
	"github.com/beargallbladder/domainrunner/pkg/rate"
	"github.com/beargallbladder/domainrunner/pkg/tariff"
)

type fakeRegistry struct{ providers []provider.Provider }

func (f fakeRegistry) ListEnabled() []provider.Provider { return f.providers }

type fakeGuardian struct {
	stats guardian.PreflightStats
	err   error
}

func (f fakeGuardian) PreflightStats(ctx context.Context) (guardian.PreflightStats, error) {
	return f.stats, f.err
}

func passingGuardian() fakeGuardian {
	return fakeGuardian{stats: guardian.PreflightStats{
		SuccessfulResponsesLast7d:      1500,
		DistinctActiveProvidersLast3d:  8,
		DistinctDomainsProcessedLast3d: 150,
		MeanResponseLengthLast24h:      800,
		CriticalProviderLivenessOK:     true,
	}}
}

// fakeDomains serves a single batch of domains on the first Claim call, then
// an empty batch on every subsequent call, so the claim-loop terminates.
type fakeDomains struct {
	mu            sync.Mutex
	batch         []domain.Claimed
	served        bool
	markedLimit   int
	markedCalls   int
	releasedCount int
}

func (f *fakeDomains) MarkPendingForTier(ctx context.Context, predicate string, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedCalls++
	f.markedLimit = limit
	return int64(len(f.batch)), nil
}

func (f *fakeDomains) Claim(ctx context.Context, ownerID, source string, batchSize int, leaseTTL time.Duration) ([]domain.Claimed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.served {
		return nil, nil
	}
	f.served = true
	return f.batch, nil
}

func (f *fakeDomains) ReleaseLease(ctx context.Context, id, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releasedCount++
	return nil
}

func ai21Server(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"completions": []map[string]any{{"data": map[string]any{"text": text}}},
		})
	}))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newOrchFactory(providers []provider.Provider) func(orchestrator.ProviderLister) *orchestrator.Orchestrator {
	limiter := rate.NewLimiter()
	for _, p := range providers {
		limiter.Configure(p.ID, p.Keys, p.MinDelay)
	}
	breakers := breaker.NewSet(5, time.Minute, 10*time.Minute, nil)
	health := tariff.NewHealthTracker()
	cfg := orchestrator.Config{PerCallTimeout: 5 * time.Second, PerDomainTimeout: 10 * time.Second, ShadowMode: true}
	return func(lister orchestrator.ProviderLister) *orchestrator.Orchestrator {
		return orchestrator.New(lister, limiter, breakers, nil, nil, nil, health, http.DefaultClient, cfg)
	}
}

func testPolicies() map[Tier]Policy {
	return DefaultPolicies("0 */6 * * *", "0 3 * * 1", "0 4 1,15 * *", "0 2 * * 0")
}

func TestTrigger_UnknownTierIsConfigError(t *testing.T) {
	s := New(testPolicies(), fakeRegistry{}, &fakeDomains{}, passingGuardian(), nil, newOrchFactory(nil), Config{}, testLogger())

	_, err := s.Trigger(context.Background(), TriggerRequest{Tier: "nonexistent"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigError)
}

func TestTrigger_ConcurrentTriggerWithoutForceIsRejected(t *testing.T) {
	domains := &fakeDomains{}
	s := New(testPolicies(), fakeRegistry{}, domains, passingGuardian(), nil, newOrchFactory(nil), Config{}, testLogger())

	run, err := s.Trigger(context.Background(), TriggerRequest{Tier: TierCheap})
	require.NoError(t, err)
	require.NotNil(t, run)

	_, err = s.Trigger(context.Background(), TriggerRequest{Tier: TierCheap})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunActive)

	require.Eventually(t, func() bool {
		return len(s.Status().Active) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTrigger_GuardianBlockSkipsDomainMarking(t *testing.T) {
	domains := &fakeDomains{}
	blocked := fakeGuardian{stats: guardian.PreflightStats{}} // zeroed stats trips every condition
	s := New(testPolicies(), fakeRegistry{}, domains, blocked, nil, newOrchFactory(nil), Config{}, testLogger())

	run, err := s.Trigger(context.Background(), TriggerRequest{Tier: TierCheap})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		last, ok := s.Status().LastRun[TierCheap]
		return ok && last.ID == run.ID
	}, 2*time.Second, 10*time.Millisecond)

	finished := s.Status().LastRun[TierCheap]
	assert.Equal(t, RunGuardianBlocked, finished.Status)
	assert.NotEmpty(t, finished.Summary.GuardianReasons)
	assert.Equal(t, 0, domains.markedCalls)
}

func TestTrigger_HappyPathProcessesClaimedDomains(t *testing.T) {
	srv := ai21Server(t, "a thorough answer about the brand")
	defer srv.Close()

	providers := []provider.Provider{
		{ID: "econ1", Endpoint: srv.URL, Dialect: provider.DialectAI21, DefaultModel: "m", Tier: provider.TierEconomy, Keys: []string{"k1"}, MinDelay: time.Millisecond},
	}
	domains := &fakeDomains{batch: []domain.Claimed{{ID: "d1", Hostname: "example.com"}, {ID: "d2", Hostname: "example.org"}}}
	cfg := Config{WorkerConcurrency: 4, ClaimBatchSize: 10, LeaseTTL: time.Minute, Source: "crawler"}
	s := New(testPolicies(), fakeRegistry{providers: providers}, domains, passingGuardian(), nil, newOrchFactory(providers), cfg, testLogger())

	run, err := s.Trigger(context.Background(), TriggerRequest{Tier: TierCheap, Limit: 2})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		last, ok := s.Status().LastRun[TierCheap]
		return ok && last.ID == run.ID
	}, 2*time.Second, 10*time.Millisecond)

	finished := s.Status().LastRun[TierCheap]
	assert.Equal(t, RunCompleted, finished.Status)
	assert.Equal(t, 2, finished.Summary.DomainsClaimed)
	assert.Equal(t, 2, finished.Summary.DomainsCompleted)
	assert.Equal(t, 1, domains.markedCalls)
	assert.Equal(t, 2, domains.markedLimit)
}

func TestFilteredProviderLister_RestrictsByTier(t *testing.T) {
	providers := []provider.Provider{
		{ID: "premium1", Tier: provider.TierPremium},
		{ID: "standard1", Tier: provider.TierStandard},
		{ID: "economy1", Tier: provider.TierEconomy},
	}
	policy := DefaultPolicies("", "", "", "")[TierCheap]
	lister := filteredProviderLister{inner: fakeRegistry{providers: providers}, policy: policy}

	got := lister.ListEnabled()
	require.Len(t, got, 1)
	assert.Equal(t, "economy1", got[0].ID)
}

func TestFilteredProviderLister_FullTierAllowsEverything(t *testing.T) {
	providers := []provider.Provider{
		{ID: "premium1", Tier: provider.TierPremium},
		{ID: "economy1", Tier: provider.TierEconomy},
	}
	policy := DefaultPolicies("", "", "", "")[TierFull]
	lister := filteredProviderLister{inner: fakeRegistry{providers: providers}, policy: policy}

	assert.Len(t, lister.ListEnabled(), 2)
}

func TestPollOnce_DoesNotDoubleFireWithinSameMinute(t *testing.T) {
	domains := &fakeDomains{}
	policies := map[Tier]Policy{
		TierCheap: {Tier: TierCheap, CronExpr: "* * * * *", AllowedProviderTiers: []provider.Tier{provider.TierEconomy}, SQLPredicate: "true", DefaultLimit: 1},
	}
	s := New(policies, fakeRegistry{}, domains, passingGuardian(), nil, newOrchFactory(nil), Config{}, testLogger())

	ctx := context.Background()
	s.pollOnce(ctx)
	s.pollOnce(ctx)

	require.Eventually(t, func() bool {
		return len(s.Status().Active) == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.LessOrEqual(t, domains.markedCalls, 1, "a due cron tick must not trigger twice within the same matched minute")
}
