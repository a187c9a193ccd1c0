// Package evaluation scores detection levels against reference events and
// reports per-segment confusion-matrix statistics with detection delays.
package evaluation

import (
	"errors"

	"github.com/rewired-gh/chodetect/internal/models"
)

// Config holds the scoring windows (minutes) and level thresholds.
type Config struct {
	ReferenceSignal models.SignalID
	DetectionSignal models.SignalID

	MaxDelay  float64
	FPDelay   float64
	LateDelay float64

	// MinRef is the minimum number of references a day needs to count.
	MinRef int
	// DropCount detection events are ignored at the start of a segment.
	DropCount int

	DetectionThreshold    float64
	ConfirmationThreshold float64
}

// DefaultConfig scores cho detections against reference events within three hours.
func DefaultConfig() Config {
	return Config{
		ReferenceSignal:       models.SignalReference,
		DetectionSignal:       models.SignalCHO,
		MaxDelay:              180,
		FPDelay:               180,
		LateDelay:             0,
		MinRef:                0,
		DropCount:             36,
		DetectionThreshold:    1,
		ConfirmationThreshold: 2,
	}
}

// Validate rejects windows and thresholds the engine cannot score with.
func (c Config) Validate() error {
	if c.ReferenceSignal == "" || c.DetectionSignal == "" {
		return errors.New("reference and detection signals are required")
	}
	if c.ReferenceSignal == c.DetectionSignal {
		return errors.New("reference and detection signals must differ")
	}
	if c.MaxDelay < 0 || c.FPDelay < 0 || c.LateDelay < 0 {
		return errors.New("delays must not be negative")
	}
	if c.MinRef < 0 || c.DropCount < 0 {
		return errors.New("min_ref and drop_count must not be negative")
	}
	if c.DetectionThreshold < 0 {
		return errors.New("detection threshold must not be negative")
	}
	if c.ConfirmationThreshold < c.DetectionThreshold {
		return errors.New("confirmation threshold must not be below the detection threshold")
	}
	return nil
}

// Evaluator is the scoring state machine of one segment. At most one
// reference is pending at a time; the false-positive timer runs
// independently of it.
type Evaluator struct {
	config Config

	dropped int
	started bool
	date    float64

	refPending bool
	refTime    float64
	detectTime float64

	fpActive  bool
	fpTime    float64
	fpFlagged bool

	detected  bool
	confirmed bool

	global models.StatisticsData
	day    models.StatisticsData
}

// NewEvaluator creates the state of a fresh segment.
func NewEvaluator(config Config) *Evaluator {
	return &Evaluator{config: config}
}

// Observe feeds one event of the segment.
func (e *Evaluator) Observe(ev models.Event) {
	if ev.Kind != models.KindLevel {
		return
	}
	if !e.started {
		e.started = true
		e.date = models.Day(ev.Time)
	}

	e.processSignal(ev.Time)

	switch {
	case ev.Signal == e.config.ReferenceSignal && ev.Level > 0:
		e.processReference(ev.Time)
	case ev.Signal == e.config.DetectionSignal:
		if e.dropped < e.config.DropCount {
			e.dropped++
			return
		}
		if d := models.Day(ev.Time); d > e.date {
			e.date = d
			e.foldDay()
		}
		e.processDetection(ev.Time, ev.Level)
	}
}

// processSignal expires the pending reference and runs the false-positive timer.
func (e *Evaluator) processSignal(now float64) {
	if e.refPending && models.Minutes(now-e.refTime) > e.config.MaxDelay {
		if !e.detected {
			e.day.FalseNegative++
		}
		e.refPending = false
		e.detected = false
		e.confirmed = false
		e.detectTime = 0
	}

	if !e.fpActive {
		return
	}
	elapsed := models.Minutes(now - e.fpTime)
	if !e.refPending && !e.fpFlagged && elapsed > e.config.LateDelay {
		e.day.FalsePositiveConfirmed++
		e.fpFlagged = true
	}
	if elapsed > e.config.FPDelay {
		e.fpActive = false
		e.fpFlagged = false
	}
}

// processReference opens a new pending reference, closing an undetected one
// as a false negative. A detection that fired shortly before the reference
// is credited as an early true positive.
func (e *Evaluator) processReference(now float64) {
	if e.refPending && !e.detected {
		e.day.FalseNegative++
	}

	e.day.Count++
	e.refPending = true
	e.refTime = now
	e.detected = false
	e.confirmed = false

	if e.fpActive && !e.fpFlagged && models.Minutes(now-e.fpTime) <= e.config.LateDelay {
		e.detected = true
		e.day.TruePositiveDetected++
		e.detectTime = e.fpTime
	}
}

func (e *Evaluator) processDetection(now, level float64) {
	if level >= e.config.DetectionThreshold && e.refPending && !e.detected {
		e.detected = true
		e.day.TruePositiveDetected++
		e.day.CumulativeDelay += now - e.refTime
		e.detectTime = now
	}

	if level < e.config.ConfirmationThreshold {
		return
	}
	if e.refPending && !e.confirmed {
		e.confirmed = true
		e.day.TruePositiveConfirmed++
		e.day.CumulativeConfirmDelay += now - e.detectTime
	}
	if !e.refPending && !e.fpActive {
		e.fpActive = true
		e.fpTime = now
		e.day.FalsePositiveDetected++
	}
}

// foldDay moves the day accumulator into the segment totals when the day
// saw enough references, and starts a fresh day.
func (e *Evaluator) foldDay() {
	if e.day.Count >= e.config.MinRef {
		e.global.Add(e.day)
	}
	e.day = models.StatisticsData{}
}

// Day returns the running statistics of the current day.
func (e *Evaluator) Day() models.StatisticsData { return e.day }

// Global returns the statistics of all folded days.
func (e *Evaluator) Global() models.StatisticsData { return e.global }

// Stop folds the outstanding day and reports the segment totals.
func (e *Evaluator) Stop(segment models.SegmentID, now float64) models.Report {
	e.foldDay()
	return models.NewReport(segment, now, e.global)
}
