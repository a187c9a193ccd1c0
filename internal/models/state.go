package models

import (
	"fmt"
)

// SegmentSnapshot is the persisted form of a segment's detector state.
type SegmentSnapshot struct {
	SegmentID SegmentID

	Initialized bool
	PrevValue   float64
	PrevTime    float64

	Activation []float64
	Descending []float64
}

// StatisticsData accumulates confusion-matrix counts. Delays are in days.
type StatisticsData struct {
	Count int `json:"count"`

	TruePositiveDetected  int `json:"tp_detected"`
	TruePositiveConfirmed int `json:"tp_confirmed"`
	FalseNegative         int `json:"fn"`

	FalsePositiveDetected  int `json:"fp_detected"`
	FalsePositiveConfirmed int `json:"fp_confirmed"`

	CumulativeDelay        float64 `json:"delay"`
	CumulativeConfirmDelay float64 `json:"confirm_delay"`
}

// Add folds other into s component-wise.
func (s *StatisticsData) Add(other StatisticsData) {
	s.Count += other.Count
	s.TruePositiveDetected += other.TruePositiveDetected
	s.TruePositiveConfirmed += other.TruePositiveConfirmed
	s.FalseNegative += other.FalseNegative
	s.FalsePositiveDetected += other.FalsePositiveDetected
	s.FalsePositiveConfirmed += other.FalsePositiveConfirmed
	s.CumulativeDelay += other.CumulativeDelay
	s.CumulativeConfirmDelay += other.CumulativeConfirmDelay
}

// Report is the per-segment accuracy summary emitted at segment stop.
// Ratios and delays are only meaningful when HasData is set; the
// confirmation delay additionally requires HasConfirmations.
type Report struct {
	ID        string    `json:"id,omitempty"`
	Segment   SegmentID `json:"segment"`
	StoppedAt float64   `json:"stopped_at"`

	Stats StatisticsData `json:"stats"`

	HasData          bool `json:"has_data"`
	HasConfirmations bool `json:"has_confirmations"`

	DetectionAccuracy    float64 `json:"detection_accuracy"`
	ConfirmationAccuracy float64 `json:"confirmation_accuracy"`
	MeanDelay            float64 `json:"mean_delay_min"`
	MeanConfirmDelay     float64 `json:"mean_confirm_delay_min"`
}

// NewReport derives the report metrics from the segment totals.
func NewReport(segment SegmentID, stoppedAt float64, stats StatisticsData) Report {
	r := Report{
		Segment:   segment,
		StoppedAt: stoppedAt,
		Stats:     stats,
	}
	if stats.Count > 0 {
		n := float64(stats.Count)
		r.HasData = true
		r.DetectionAccuracy = float64(stats.TruePositiveDetected) / n
		r.ConfirmationAccuracy = float64(stats.TruePositiveConfirmed) / n
		r.MeanDelay = Minutes(stats.CumulativeDelay) / n
	}
	if stats.TruePositiveConfirmed > 0 {
		r.HasConfirmations = true
		r.MeanConfirmDelay = Minutes(stats.CumulativeConfirmDelay) / float64(stats.TruePositiveConfirmed)
	}
	return r
}

// String renders the report on one line.
func (r Report) String() string {
	if !r.HasData {
		return fmt.Sprintf("segment %d: no data (TP detected: %d, TP confirmed: %d, FN: %d, FP: %d)",
			r.Segment, r.Stats.TruePositiveDetected, r.Stats.TruePositiveConfirmed,
			r.Stats.FalseNegative, r.Stats.FalsePositiveConfirmed)
	}
	confirmDelay := "n/a"
	if r.HasConfirmations {
		confirmDelay = fmt.Sprintf("%.2f", r.MeanConfirmDelay)
	}
	return fmt.Sprintf("segment %d: CHO count: %d, accuracy detection: %.3f, delay: %.2f, TP detected: %d, "+
		"accuracy confirmed: %.3f, confirmation delay: %s, TP confirmed: %d, FN: %d, FP: %d",
		r.Segment, r.Stats.Count, r.DetectionAccuracy, r.MeanDelay, r.Stats.TruePositiveDetected,
		r.ConfirmationAccuracy, confirmDelay, r.Stats.TruePositiveConfirmed,
		r.Stats.FalseNegative, r.Stats.FalsePositiveConfirmed)
}
