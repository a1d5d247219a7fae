// Package guardian implements the Tensor Guardian: a pre-flight health gate
// that blocks crawls during degraded infrastructure, and a post-hoc anomaly
// classifier that keeps infra failures from being mis-labeled as brand
// memory decay downstream (§4.8).
package guardian

import (
	"fmt"
	"math"
)

const (
	minSuccessfulResponses7d  = 1000
	minDistinctProviders3d    = 6
	minDistinctDomains3d      = 100
	minMeanResponseLength24h  = 500
	volumeDropZScoreThreshold = 2.5
	qualityDegradationDrop    = 0.30
	coverageGapDomainCount    = 100
)

// PreflightStats is the rolling-window snapshot the pre-flight gate inspects.
type PreflightStats struct {
	SuccessfulResponsesLast7d   int64
	DistinctActiveProvidersLast3d int
	DistinctDomainsProcessedLast3d int
	MeanResponseLengthLast24h   float64
	CriticalProviderLivenessOK  bool
}

// Verdict is the pre-flight gate's boolean result plus the reasons behind a
// block, so the control plane and the audit trail can report why.
type Verdict struct {
	Pass    bool
	Reasons []string
}

// Evaluate runs the five pre-flight conditions from §4.8. The gate fails
// (blocks the run) if any condition is violated.
func Evaluate(s PreflightStats) Verdict {
	var reasons []string

	if s.SuccessfulResponsesLast7d < minSuccessfulResponses7d {
		reasons = append(reasons, fmt.Sprintf("successful responses in last 7d (%d) below minimum %d", s.SuccessfulResponsesLast7d, minSuccessfulResponses7d))
	}
	if s.DistinctActiveProvidersLast3d < minDistinctProviders3d {
		reasons = append(reasons, fmt.Sprintf("distinct active providers in last 3d (%d) below minimum %d", s.DistinctActiveProvidersLast3d, minDistinctProviders3d))
	}
	if s.DistinctDomainsProcessedLast3d < minDistinctDomains3d {
		reasons = append(reasons, fmt.Sprintf("distinct domains processed in last 3d (%d) below minimum %d", s.DistinctDomainsProcessedLast3d, minDistinctDomains3d))
	}
	if s.MeanResponseLengthLast24h < minMeanResponseLength24h {
		reasons = append(reasons, fmt.Sprintf("mean response length in last 24h (%.1f) below minimum %d", s.MeanResponseLengthLast24h, minMeanResponseLength24h))
	}
	if !s.CriticalProviderLivenessOK {
		reasons = append(reasons, "a critical provider endpoint failed its liveness probe")
	}

	return Verdict{Pass: len(reasons) == 0, Reasons: reasons}
}

// AnomalyKind is the closed set of anomaly shapes the post-hoc classifier
// detects over a 12-week lookback.
type AnomalyKind string

const (
	AnomalyVolumeDrop          AnomalyKind = "volume_drop"
	AnomalyModelFailure        AnomalyKind = "model_failure"
	AnomalyQualityDegradation  AnomalyKind = "quality_degradation"
	AnomalyCoverageGap         AnomalyKind = "coverage_gap"
)

// Classification says whether an anomaly should be attributed to
// infrastructure trouble or treated as a genuine signal. Only MemoryDecay
// is allowed to propagate to downstream tensor consumers.
type Classification string

const (
	ClassificationSystemFailure Classification = "system_failure"
	ClassificationMemoryDecay   Classification = "memory_decay"
	ClassificationUnknown       Classification = "unknown"
)

// Anomaly is one detected deviation, already classified.
type Anomaly struct {
	Kind           AnomalyKind
	Classification Classification
	Detail         string
}

// AnomalyInput is the 12-week lookback snapshot the post-hoc classifier
// inspects. WeeklyResponseCounts is ordered oldest-to-newest and should
// contain the trailing window (typically 12 entries) plus the current week
// as the last element.
type AnomalyInput struct {
	WeeklyResponseCounts      []int64
	ProviderActiveDays        map[string]int   // count of days with >=1 response, lookback window
	ProviderResponsesLast3d   map[string]int64 // per-provider response count, most recent 3 days
	MeanResponseLengthToday   float64
	MeanResponseLengthYesterday float64
	DomainsUntouchedLast7d    int64
}

// DetectAnomalies evaluates every anomaly shape independently, then assigns
// each a Classification. A model_failure anomaly is unambiguous
// infrastructure trouble; a concurrent model_failure reclassifies a
// volume_drop or quality_degradation from memory_decay to system_failure,
// since a provider outage is the more parsimonious explanation for either.
func DetectAnomalies(in AnomalyInput) []Anomaly {
	var anomalies []Anomaly

	modelFailures := detectModelFailures(in)
	anomalies = append(anomalies, modelFailures...)
	hasModelFailure := len(modelFailures) > 0

	if a, ok := detectVolumeDrop(in, hasModelFailure); ok {
		anomalies = append(anomalies, a)
	}
	if a, ok := detectQualityDegradation(in, hasModelFailure); ok {
		anomalies = append(anomalies, a)
	}
	if a, ok := detectCoverageGap(in); ok {
		anomalies = append(anomalies, a)
	}

	return anomalies
}

func detectModelFailures(in AnomalyInput) []Anomaly {
	var out []Anomaly
	for providerID, activeDays := range in.ProviderActiveDays {
		if activeDays == 0 {
			continue
		}
		if in.ProviderResponsesLast3d[providerID] == 0 {
			out = append(out, Anomaly{
				Kind:           AnomalyModelFailure,
				Classification: ClassificationSystemFailure,
				Detail:         fmt.Sprintf("provider %q had %d active days in the lookback window but zero responses in the last 3 days", providerID, activeDays),
			})
		}
	}
	return out
}

func detectVolumeDrop(in AnomalyInput, hasModelFailure bool) (Anomaly, bool) {
	z, ok := latestWeekZScore(in.WeeklyResponseCounts)
	if !ok || math.Abs(z) <= volumeDropZScoreThreshold {
		return Anomaly{}, false
	}

	classification := ClassificationMemoryDecay
	if hasModelFailure {
		classification = ClassificationSystemFailure
	}
	if z > 0 {
		// A positive-z deviation is a volume spike, not a drop; still worth
		// surfacing but never attributable to memory decay.
		classification = ClassificationUnknown
	}

	return Anomaly{
		Kind:           AnomalyVolumeDrop,
		Classification: classification,
		Detail:         fmt.Sprintf("latest week's response count deviates from trailing mean by z=%.2f", z),
	}, true
}

func detectQualityDegradation(in AnomalyInput, hasModelFailure bool) (Anomaly, bool) {
	if in.MeanResponseLengthYesterday <= 0 {
		return Anomaly{}, false
	}
	drop := (in.MeanResponseLengthYesterday - in.MeanResponseLengthToday) / in.MeanResponseLengthYesterday
	if drop <= qualityDegradationDrop {
		return Anomaly{}, false
	}

	classification := ClassificationMemoryDecay
	if hasModelFailure {
		classification = ClassificationSystemFailure
	}

	return Anomaly{
		Kind:           AnomalyQualityDegradation,
		Classification: classification,
		Detail:         fmt.Sprintf("mean response length dropped %.0f%% day-over-day", drop*100),
	}, true
}

func detectCoverageGap(in AnomalyInput) (Anomaly, bool) {
	if in.DomainsUntouchedLast7d <= coverageGapDomainCount {
		return Anomaly{}, false
	}
	return Anomaly{
		Kind:           AnomalyCoverageGap,
		Classification: ClassificationSystemFailure,
		Detail:         fmt.Sprintf("%d domains untouched for 7 days", in.DomainsUntouchedLast7d),
	}, true
}

// latestWeekZScore computes the z-score of the last element against the
// mean/stddev of the preceding elements. Requires at least 2 data points.
func latestWeekZScore(counts []int64) (float64, bool) {
	if len(counts) < 2 {
		return 0, false
	}
	history := counts[:len(counts)-1]
	latest := float64(counts[len(counts)-1])

	var sum float64
	for _, c := range history {
		sum += float64(c)
	}
	mean := sum / float64(len(history))

	var sumSq float64
	for _, c := range history {
		d := float64(c) - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(len(history)))
	if stddev == 0 {
		return 0, false
	}

	return (latest - mean) / stddev, true
}
