package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks control-plane HTTP request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "domainrunner",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// ProviderCallsTotal counts provider calls by provider, template and outcome kind.
var ProviderCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "domainrunner",
		Subsystem: "provider",
		Name:      "calls_total",
		Help:      "Total number of provider calls by provider, prompt template and outcome.",
	},
	[]string{"provider", "template", "outcome"},
)

// ProviderCallDuration tracks per-call latency by provider.
var ProviderCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "domainrunner",
		Subsystem: "provider",
		Name:      "call_duration_seconds",
		Help:      "Provider call duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
	},
	[]string{"provider"},
)

// ProviderCostUSDTotal sums estimated USD cost by provider.
var ProviderCostUSDTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "domainrunner",
		Subsystem: "provider",
		Name:      "cost_usd_total",
		Help:      "Cumulative estimated USD cost by provider.",
	},
	[]string{"provider"},
)

// ProviderHealthScore reports the rolling [0,100] health score per provider.
var ProviderHealthScore = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "domainrunner",
		Subsystem: "provider",
		Name:      "health_score",
		Help:      "Rolling provider health score in [0,100].",
	},
	[]string{"provider"},
)

// CircuitState reports the current breaker state per provider: 0=closed, 1=half-open, 2=open.
var CircuitState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "domainrunner",
		Subsystem: "provider",
		Name:      "circuit_state",
		Help:      "Circuit breaker state per provider (0=closed, 1=half-open, 2=open).",
	},
	[]string{"provider"},
)

// DomainsClaimedTotal counts domains claimed by the Work Claimer per owner.
var DomainsClaimedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "domainrunner",
		Subsystem: "claimer",
		Name:      "domains_claimed_total",
		Help:      "Total number of domains claimed, by owner.",
	},
	[]string{"owner"},
)

// DomainsReleasedTotal counts leases reclaimed by the sweeper.
var DomainsReleasedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "domainrunner",
		Subsystem: "claimer",
		Name:      "domains_released_total",
		Help:      "Total number of expired leases released back to pending.",
	},
)

// DomainCompletionsTotal counts domain completions by terminal status.
var DomainCompletionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "domainrunner",
		Subsystem: "orchestrator",
		Name:      "domain_completions_total",
		Help:      "Total domains reaching a terminal status for a run.",
	},
	[]string{"status"},
)

// GuardianBlocksTotal counts pre-flight gate rejections by tier.
var GuardianBlocksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "domainrunner",
		Subsystem: "guardian",
		Name:      "blocks_total",
		Help:      "Total number of runs blocked by the pre-flight health gate, by tier.",
	},
	[]string{"tier"},
)

// All returns the crawler-specific collectors for registration. Of these,
// only CircuitState and DomainsReleasedTotal are updated by code in this
// repository; the others are registered and exported but never set or
// incremented.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ProviderCallsTotal,
		ProviderCallDuration,
		ProviderCostUSDTotal,
		ProviderHealthScore,
		CircuitState,
		DomainsClaimedTotal,
		DomainsReleasedTotal,
		DomainCompletionsTotal,
		GuardianBlocksTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional collectors passed in.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
