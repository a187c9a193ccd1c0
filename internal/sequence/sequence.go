// Package sequence feeds rolling sample windows to a learned sequence model
// and reports its confirmation score.
package sequence

import (
	"math"

	"github.com/rewired-gh/chodetect/internal/models"
	"github.com/rewired-gh/chodetect/internal/window"
)

// SamplingMinutes is the nominal CGM sampling period used to scale the
// derivative feature.
const SamplingMinutes = 5.0

// DefaultWindow is the number of samples the model consumes.
const DefaultWindow = 24

// Sample is one row of the model input.
type Sample struct {
	Value       float64 `json:"value"`
	Derivative  float64 `json:"derivative"`
	DayFraction float64 `json:"day_fraction"`
}

// Predictor scores a full window of samples, oldest first.
// Implementations are shared across segments and must not mutate state.
type Predictor interface {
	Predict(window []Sample) float64
}

// NewSample builds the feature triple for a measurement at time t.
func NewSample(t, value, prev float64, hasPrev bool) Sample {
	s := Sample{Value: value}
	if hasPrev {
		s.Derivative = (value - prev) / SamplingMinutes
	}
	_, frac := math.Modf(t)
	hour := math.Floor(frac / models.OneHour)
	s.DayFraction = hour / 24
	return s
}

type segmentWindow struct {
	samples *window.Bounded[Sample]
	prev    float64
	hasPrev bool
}

// Confirmer keeps one rolling window per segment.
type Confirmer struct {
	predictor Predictor
	size      int
	segments  map[models.SegmentID]*segmentWindow
}

// NewConfirmer creates a confirmer over the shared predictor.
func NewConfirmer(p Predictor, size int) *Confirmer {
	if size < 1 {
		size = DefaultWindow
	}
	return &Confirmer{
		predictor: p,
		size:      size,
		segments:  make(map[models.SegmentID]*segmentWindow),
	}
}

// Score records the measurement and returns the model score, or 0 while
// the segment's window is still filling.
func (c *Confirmer) Score(segment models.SegmentID, t, value float64) float64 {
	w, ok := c.segments[segment]
	if !ok {
		w = &segmentWindow{samples: window.New[Sample](c.size)}
		c.segments[segment] = w
	}

	w.samples.PushBack(NewSample(t, value, w.prev, w.hasPrev))
	w.prev = value
	w.hasPrev = true

	if !w.samples.Full() {
		return 0
	}
	return c.predictor.Predict(w.samples.Slice())
}

// Remove discards the segment's window.
func (c *Confirmer) Remove(segment models.SegmentID) {
	delete(c.segments, segment)
}

// Len returns the number of tracked segments.
func (c *Confirmer) Len() int {
	return len(c.segments)
}
