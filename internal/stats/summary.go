// Package stats holds the descriptive statistics behind record summaries.
package stats

import (
	"math"
	"sort"
)

// Summary describes a sample of distances or durations
type Summary struct {
	Count  int     `json:"count"`
	Sum    float64 `json:"sum"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Max    float64 `json:"max"`
}

// Summarize computes a Summary. An empty sample yields the zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return Summary{
		Count:  len(sorted),
		Sum:    sum,
		Mean:   sum / float64(len(sorted)),
		Median: quantile(sorted, 0.5),
		P90:    quantile(sorted, 0.9),
		Max:    sorted[len(sorted)-1],
	}
}

// Percentile returns the p-th percentile (0-100) with linear interpolation between ranks
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return quantile(sorted, math.Max(0, math.Min(100, p))/100)
}

// quantile expects sorted input and q in [0, 1]
func quantile(sorted []float64, q float64) float64 {
	index := q * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// ShannonEntropy returns the entropy in bits of a distribution given as non-negative weights.
// Zero weights are ignored; an all-zero distribution has zero entropy.
func ShannonEntropy(weights []float64) float64 {
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		return 0
	}

	var entropy float64
	for _, w := range weights {
		if w > 0 {
			p := w / total
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}
