// Package anomaly implements MAD-based (median absolute deviation) outlier
// detection on a series of bytes-added samples.
package anomaly

import "sort"

// MinSamples is the minimum number of prior positive samples required
// before a decision is made.
const MinSamples = 5

// MaxSamples is the maximum number of prior samples considered.
const MaxSamples = 30

// Decision is the outcome of scoring one new sample against its prior
// series.
type Decision struct {
	// Starved is true when fewer than MinSamples prior positive samples
	// were available — no decision was made.
	Starved bool

	Median float64
	Score  float64

	// Anomalous is true when Score >= 3.5.
	Anomalous bool
	// Severe is true when Score >= 6 (severity "error" vs "warning").
	Severe bool
	// Larger is true when actual > median (reason larger_than_expected).
	Larger bool
}

// Score evaluates actual against up to MaxSamples prior positive samples
// (already filtered to the correct (user, policy|repository) series and
// ordered newest-first by the caller; only the first MaxSamples are used).
func Score(priorSamples []int64, actual int64) Decision {
	samples := priorSamples
	if len(samples) > MaxSamples {
		samples = samples[:MaxSamples]
	}

	positive := make([]float64, 0, len(samples))
	for _, v := range samples {
		if v > 0 {
			positive = append(positive, float64(v))
		}
	}
	sort.Float64s(positive)

	if len(positive) < MinSamples {
		return Decision{Starved: true}
	}

	median := medianOf(positive)

	deviations := make([]float64, len(positive))
	for i, v := range positive {
		deviations[i] = abs(v - median)
	}
	sort.Float64s(deviations)
	mad := medianOf(deviations)

	denom := mad
	if denom < 1 {
		denom = 1
	}

	score := abs(float64(actual)-median) / denom
	larger := float64(actual) > median

	return Decision{
		Median:    median,
		Score:     score,
		Anomalous: score >= 3.5,
		Severe:    score >= 6,
		Larger:    larger,
	}
}

func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
