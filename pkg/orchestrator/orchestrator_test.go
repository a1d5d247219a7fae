package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beargallbladder/domainrunner/pkg/breaker"
	"github.com/beargallbladder/domainrunner/pkg/domain"
	"github.com/beargallbladder/domainrunner/pkg/provider"
	"github.com/beargallbladder/domainrunner/pkg/rate"
	"github.com/beargallbladder/domainrunner/pkg/tariff"
)

// fakeProviders satisfies ProviderLister with a fixed list, letting tests
// point a provider's Endpoint at an httptest.Server instead of the real
// catalog's fixed hosts.
type fakeProviders struct{ providers []provider.Provider }

func (f fakeProviders) ListEnabled() []provider.Provider { return f.providers }

func ai21Server(t *testing.T, status int, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"completions": []map[string]any{
				{"data": map[string]any{"text": text}},
			},
		})
	}))
}

func newTestOrchestrator(t *testing.T, providers []provider.Provider) *Orchestrator {
	t.Helper()
	limiter := rate.NewLimiter()
	for _, p := range providers {
		limiter.Configure(p.ID, p.Keys, p.MinDelay)
	}
	breakers := breaker.NewSet(5, time.Minute, 10*time.Minute, nil)
	cfg := Config{PerCallTimeout: 5 * time.Second, PerDomainTimeout: 10 * time.Second, ShadowMode: true}
	return New(fakeProviders{providers}, limiter, breakers, nil, nil, nil, tariff.NewHealthTracker(), http.DefaultClient, cfg)
}

func TestProcess_AllProvidersSucceed_MarksCompleted(t *testing.T) {
	srv := ai21Server(t, http.StatusOK, "a thorough answer about the brand")
	defer srv.Close()

	providers := []provider.Provider{
		{ID: "p1", Endpoint: srv.URL, Dialect: provider.DialectAI21, DefaultModel: "m", Keys: []string{"k1"}, MinDelay: time.Millisecond},
		{ID: "p2", Endpoint: srv.URL, Dialect: provider.DialectAI21, DefaultModel: "m", Keys: []string{"k1"}, MinDelay: time.Millisecond},
	}
	o := newTestOrchestrator(t, providers)

	out, err := o.Process(context.Background(), domain.Claimed{ID: "d1", Hostname: "example.com"}, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, out.Status)
	assert.Equal(t, out.Expected, out.Successful)
	assert.Greater(t, out.CostUSD, 0.0)
}

func TestProcess_OneProviderAlwaysFails_MarksPending(t *testing.T) {
	okSrv := ai21Server(t, http.StatusOK, "fine")
	defer okSrv.Close()
	failSrv := ai21Server(t, http.StatusInternalServerError, "")
	defer failSrv.Close()

	providers := []provider.Provider{
		{ID: "ok", Endpoint: okSrv.URL, Dialect: provider.DialectAI21, DefaultModel: "m", Keys: []string{"k1"}, MinDelay: time.Millisecond},
		{ID: "bad", Endpoint: failSrv.URL, Dialect: provider.DialectAI21, DefaultModel: "m", Keys: []string{"k1"}, MinDelay: time.Millisecond},
	}
	o := newTestOrchestrator(t, providers)

	out, err := o.Process(context.Background(), domain.Claimed{ID: "d2", Hostname: "example.com"}, "worker-1")
	require.NoError(t, err)
	// The failing provider's first element ends on a transient failure after
	// 3 attempts, before its breaker (threshold 5) opens partway through the
	// second element, so its deficit is NOT confined to an open circuit: the
	// domain goes back to pending for retry.
	assert.Equal(t, domain.StatusPending, out.Status)
	assert.Less(t, out.Successful, out.Expected)
}

func TestProcess_ConcurrentCallCountRespectsProviderKeyPool(t *testing.T) {
	var concurrent int32
	var maxConcurrent int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&concurrent, 1)
		for {
			m := atomic.LoadInt32(&maxConcurrent)
			if cur <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"completions": []map[string]any{{"data": map[string]any{"text": "ok"}}},
		})
	}))
	defer srv.Close()

	providers := []provider.Provider{
		{ID: "single-key", Endpoint: srv.URL, Dialect: provider.DialectAI21, DefaultModel: "m", Keys: []string{"only-key"}, MinDelay: 0},
	}
	o := newTestOrchestrator(t, providers)

	_, err := o.Process(context.Background(), domain.Claimed{ID: "d3", Hostname: "example.com"}, "worker-1")
	require.NoError(t, err)

	assert.LessOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(1),
		"a single-key provider must never see more than one in-flight call at a time")
}
