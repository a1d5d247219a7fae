package guardian

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func healthyStats() PreflightStats {
	return PreflightStats{
		SuccessfulResponsesLast7d:      1500,
		DistinctActiveProvidersLast3d:  8,
		DistinctDomainsProcessedLast3d: 150,
		MeanResponseLengthLast24h:      800,
		CriticalProviderLivenessOK:     true,
	}
}

func TestEvaluate_HealthyStatsPass(t *testing.T) {
	v := Evaluate(healthyStats())
	assert.True(t, v.Pass)
	assert.Empty(t, v.Reasons)
}

func TestEvaluate_LowVolumeBlocks(t *testing.T) {
	stats := healthyStats()
	stats.SuccessfulResponsesLast7d = 200

	v := Evaluate(stats)
	assert.False(t, v.Pass)
	assert.Len(t, v.Reasons, 1)
}

func TestEvaluate_MultipleFailuresAllReported(t *testing.T) {
	stats := PreflightStats{}
	v := Evaluate(stats)
	assert.False(t, v.Pass)
	assert.Len(t, v.Reasons, 5, "a fully zeroed snapshot must trip every condition")
}

func TestDetectAnomalies_ModelFailureIsSystemFailure(t *testing.T) {
	in := AnomalyInput{
		WeeklyResponseCounts:        []int64{1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000},
		ProviderActiveDays:          map[string]int{"openai": 90, "flaky": 90},
		ProviderResponsesLast3d:     map[string]int64{"openai": 50, "flaky": 0},
		MeanResponseLengthToday:     800,
		MeanResponseLengthYesterday: 800,
		DomainsUntouchedLast7d:      5,
	}

	anomalies := DetectAnomalies(in)
	requireAnomalyCount(t, anomalies, 1)
	assert.Equal(t, AnomalyModelFailure, anomalies[0].Kind)
	assert.Equal(t, ClassificationSystemFailure, anomalies[0].Classification)
}

func TestDetectAnomalies_VolumeDropWithoutModelFailureIsMemoryDecay(t *testing.T) {
	counts := make([]int64, 13)
	for i := range counts {
		if i%2 == 0 {
			counts[i] = 950
		} else {
			counts[i] = 1050
		}
	}
	counts[len(counts)-1] = 200 // sharp drop in the latest week

	in := AnomalyInput{
		WeeklyResponseCounts:        counts,
		ProviderActiveDays:          map[string]int{"openai": 90},
		ProviderResponsesLast3d:     map[string]int64{"openai": 50},
		MeanResponseLengthToday:     800,
		MeanResponseLengthYesterday: 800,
	}

	anomalies := DetectAnomalies(in)
	requireAnomalyCount(t, anomalies, 1)
	assert.Equal(t, AnomalyVolumeDrop, anomalies[0].Kind)
	assert.Equal(t, ClassificationMemoryDecay, anomalies[0].Classification)
}

func TestDetectAnomalies_CoverageGapIsSystemFailure(t *testing.T) {
	in := AnomalyInput{
		WeeklyResponseCounts:        []int64{1000, 1000},
		ProviderActiveDays:          map[string]int{},
		ProviderResponsesLast3d:     map[string]int64{},
		MeanResponseLengthToday:     800,
		MeanResponseLengthYesterday: 800,
		DomainsUntouchedLast7d:      500,
	}

	anomalies := DetectAnomalies(in)
	requireAnomalyCount(t, anomalies, 1)
	assert.Equal(t, AnomalyCoverageGap, anomalies[0].Kind)
	assert.Equal(t, ClassificationSystemFailure, anomalies[0].Classification)
}

func TestDetectAnomalies_NoDeviationsNoAnomalies(t *testing.T) {
	counts := make([]int64, 13)
	for i := range counts {
		counts[i] = 1000
	}

	in := AnomalyInput{
		WeeklyResponseCounts:        counts,
		ProviderActiveDays:          map[string]int{"openai": 90},
		ProviderResponsesLast3d:     map[string]int64{"openai": 50},
		MeanResponseLengthToday:     800,
		MeanResponseLengthYesterday: 820,
		DomainsUntouchedLast7d:      3,
	}

	assert.Empty(t, DetectAnomalies(in))
}

func requireAnomalyCount(t *testing.T, anomalies []Anomaly, n int) {
	t.Helper()
	if len(anomalies) != n {
		t.Fatalf("expected %d anomalies, got %d: %+v", n, len(anomalies), anomalies)
	}
}
