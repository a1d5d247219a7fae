package guardian

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// criticalProviders are checked for liveness before every pre-flight gate;
// an outage on any of these is treated as infrastructure-critical even if
// the aggregate response counts still look healthy.
var criticalProviders = []string{"openai", "anthropic"}

// defaultProbeEndpoints is the liveness-check URL for each critical provider.
var defaultProbeEndpoints = map[string]string{
	"openai":    "https://api.openai.com/v1/models",
	"anthropic": "https://api.anthropic.com",
}

// livenessCacheKey is the Redis key the critical-provider liveness result is
// cached under, so a burst of concurrent preflight checks (one per tier
// trigger) doesn't each re-probe every critical provider.
const livenessCacheKey = "guardian:critical_liveness_ok"

// livenessCacheTTL bounds how stale a cached liveness result can be; short
// enough that a real outage is still caught well within one scheduler poll.
const livenessCacheTTL = 20 * time.Second

// Store computes the rolling-window aggregates the gate and the anomaly
// classifier need, straight from the responses/domains tables.
type Store struct {
	pool           *pgxpool.Pool
	httpClient     *http.Client
	redis          *redis.Client // optional; nil disables the liveness cache
	probeEndpoints map[string]string
}

// NewStore creates a guardian Store backed by pool. httpClient is used for
// the critical-provider liveness probe; rdb caches its result. rdb may be
// nil, in which case every preflight check re-probes live.
func NewStore(pool *pgxpool.Pool, httpClient *http.Client, rdb *redis.Client) *Store {
	return &Store{pool: pool, httpClient: httpClient, redis: rdb, probeEndpoints: defaultProbeEndpoints}
}

// SetProbeEndpoints overrides the liveness-check URLs, e.g. in tests to
// point at an httptest.Server instead of the real provider hosts.
func (s *Store) SetProbeEndpoints(endpoints map[string]string) {
	s.probeEndpoints = endpoints
}

// PreflightStats gathers the five rolling-window figures §4.8 checks.
func (s *Store) PreflightStats(ctx context.Context) (PreflightStats, error) {
	var stats PreflightStats

	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM responses WHERE captured_at >= now() - interval '7 days'
	`).Scan(&stats.SuccessfulResponsesLast7d); err != nil {
		return PreflightStats{}, fmt.Errorf("counting 7d responses: %w", err)
	}

	if err := s.pool.QueryRow(ctx, `
		SELECT count(DISTINCT provider) FROM responses WHERE captured_at >= now() - interval '3 days'
	`).Scan(&stats.DistinctActiveProvidersLast3d); err != nil {
		return PreflightStats{}, fmt.Errorf("counting 3d active providers: %w", err)
	}

	if err := s.pool.QueryRow(ctx, `
		SELECT count(DISTINCT domain_id) FROM responses WHERE captured_at >= now() - interval '3 days'
	`).Scan(&stats.DistinctDomainsProcessedLast3d); err != nil {
		return PreflightStats{}, fmt.Errorf("counting 3d distinct domains: %w", err)
	}

	if err := s.pool.QueryRow(ctx, `
		SELECT coalesce(avg(length(response_text)), 0) FROM responses WHERE captured_at >= now() - interval '24 hours'
	`).Scan(&stats.MeanResponseLengthLast24h); err != nil {
		return PreflightStats{}, fmt.Errorf("averaging 24h response length: %w", err)
	}

	stats.CriticalProviderLivenessOK = s.probeCriticalProviders(ctx)

	return stats, nil
}

// probeCriticalProviders issues a lightweight HEAD liveness check against
// every critical provider's base endpoint. Any unreachable or
// 5xx-responding endpoint fails the probe. The result is cached in Redis for
// livenessCacheTTL so concurrent tier triggers share one probe round.
func (s *Store) probeCriticalProviders(ctx context.Context) bool {
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, livenessCacheKey).Result(); err == nil {
			return cached == "1"
		}
	}

	ok := s.probeCriticalProvidersLive(ctx)

	if s.redis != nil {
		val := "0"
		if ok {
			val = "1"
		}
		if err := s.redis.Set(ctx, livenessCacheKey, val, livenessCacheTTL).Err(); err != nil {
			// cache is an optimization; a write failure never fails the probe itself
			_ = err
		}
	}

	return ok
}

// probeCriticalProvidersLive performs the actual network round trip,
// uncached.
func (s *Store) probeCriticalProvidersLive(ctx context.Context) bool {
	for _, id := range criticalProviders {
		url, ok := s.probeEndpoints[id]
		if !ok {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
		if err != nil {
			cancel()
			return false
		}
		resp, err := s.httpClient.Do(req)
		cancel()
		if err != nil {
			return false
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return false
		}
	}
	return true
}

// AnomalyInput gathers the 12-week lookback the post-hoc classifier needs.
func (s *Store) AnomalyInput(ctx context.Context) (AnomalyInput, error) {
	var in AnomalyInput

	rows, err := s.pool.Query(ctx, `
		SELECT count(*) FROM responses
		WHERE captured_at >= now() - interval '91 days'
		GROUP BY date_trunc('week', captured_at)
		ORDER BY date_trunc('week', captured_at) ASC
	`)
	if err != nil {
		return AnomalyInput{}, fmt.Errorf("querying weekly response counts: %w", err)
	}
	for rows.Next() {
		var c int64
		if err := rows.Scan(&c); err != nil {
			rows.Close()
			return AnomalyInput{}, fmt.Errorf("scanning weekly response count: %w", err)
		}
		in.WeeklyResponseCounts = append(in.WeeklyResponseCounts, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return AnomalyInput{}, fmt.Errorf("iterating weekly response counts: %w", err)
	}

	in.ProviderActiveDays = make(map[string]int)
	activeRows, err := s.pool.Query(ctx, `
		SELECT provider, count(DISTINCT date_trunc('day', captured_at))
		FROM responses WHERE captured_at >= now() - interval '91 days'
		GROUP BY provider
	`)
	if err != nil {
		return AnomalyInput{}, fmt.Errorf("querying provider active days: %w", err)
	}
	for activeRows.Next() {
		var providerID string
		var days int
		if err := activeRows.Scan(&providerID, &days); err != nil {
			activeRows.Close()
			return AnomalyInput{}, fmt.Errorf("scanning provider active days: %w", err)
		}
		in.ProviderActiveDays[providerID] = days
	}
	activeRows.Close()
	if err := activeRows.Err(); err != nil {
		return AnomalyInput{}, fmt.Errorf("iterating provider active days: %w", err)
	}

	in.ProviderResponsesLast3d = make(map[string]int64)
	recentRows, err := s.pool.Query(ctx, `
		SELECT provider, count(*) FROM responses
		WHERE captured_at >= now() - interval '3 days'
		GROUP BY provider
	`)
	if err != nil {
		return AnomalyInput{}, fmt.Errorf("querying provider 3d responses: %w", err)
	}
	for recentRows.Next() {
		var providerID string
		var count int64
		if err := recentRows.Scan(&providerID, &count); err != nil {
			recentRows.Close()
			return AnomalyInput{}, fmt.Errorf("scanning provider 3d responses: %w", err)
		}
		in.ProviderResponsesLast3d[providerID] = count
	}
	recentRows.Close()
	if err := recentRows.Err(); err != nil {
		return AnomalyInput{}, fmt.Errorf("iterating provider 3d responses: %w", err)
	}

	if err := s.pool.QueryRow(ctx, `
		SELECT coalesce(avg(length(response_text)), 0) FROM responses
		WHERE captured_at >= date_trunc('day', now())
	`).Scan(&in.MeanResponseLengthToday); err != nil {
		return AnomalyInput{}, fmt.Errorf("averaging today's response length: %w", err)
	}

	if err := s.pool.QueryRow(ctx, `
		SELECT coalesce(avg(length(response_text)), 0) FROM responses
		WHERE captured_at >= date_trunc('day', now()) - interval '1 day'
		  AND captured_at < date_trunc('day', now())
	`).Scan(&in.MeanResponseLengthYesterday); err != nil {
		return AnomalyInput{}, fmt.Errorf("averaging yesterday's response length: %w", err)
	}

	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM domains
		WHERE last_processed_at IS NULL OR last_processed_at < now() - interval '7 days'
	`).Scan(&in.DomainsUntouchedLast7d); err != nil {
		return AnomalyInput{}, fmt.Errorf("counting untouched domains: %w", err)
	}

	return in, nil
}
