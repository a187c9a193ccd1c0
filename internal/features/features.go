// Package features summarises a window of measurements for thresholding
// and classification.
package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/chodetect/internal/models"
)

// Summary describes the distribution of a window.
type Summary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	// QuantileSpread is the interquartile range Q(0.75) - Q(0.25).
	QuantileSpread float64 `json:"quantile_spread"`
}

// Extract summarises values. An empty window yields the zero Summary.
func Extract(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	q := Quantiles(sorted, 0.25, 0.5, 0.75)
	s := Summary{
		Mean:           stat.Mean(values, nil),
		Median:         q[1],
		QuantileSpread: q[2] - q[0],
	}
	if len(values) > 1 {
		s.Std = stat.StdDev(values, nil)
	}
	return s
}

// Vector returns the classifier feature layout of one summary.
func (s Summary) Vector() []float64 {
	return []float64{s.Mean, s.Median, s.Std, s.QuantileSpread}
}

// Vector concatenates the summaries of several signals, ordered by signal.
func Vector(summaries map[models.SignalID]Summary) []float64 {
	signals := make([]string, 0, len(summaries))
	for id := range summaries {
		signals = append(signals, string(id))
	}
	sort.Strings(signals)

	vec := make([]float64, 0, 4*len(signals))
	for _, id := range signals {
		vec = append(vec, summaries[models.SignalID(id)].Vector()...)
	}
	return vec
}

func lerp(v0, v1, t float64) float64 {
	return (1-t)*v0 + t*v1
}

// Quantiles computes quantiles of ascending-sorted data using the midpoint
// rule: position p*n - 0.5 interpolated between neighbouring order statistics.
func Quantiles(sorted []float64, probs ...float64) []float64 {
	n := len(sorted)
	out := make([]float64, len(probs))
	if n == 0 {
		return out
	}
	if n == 1 {
		for i := range out {
			out[i] = sorted[0]
		}
		return out
	}

	for i, p := range probs {
		poi := lerp(-0.5, float64(n)-0.5, p)
		left := int(math.Max(math.Floor(poi), 0))
		right := int(math.Min(math.Ceil(poi), float64(n-1)))
		out[i] = lerp(sorted[left], sorted[right], poi-float64(left))
	}
	return out
}
