// Package detector turns a smoothed glucose signal into an activation value
// and an ordinal detection level.
package detector

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/rewired-gh/chodetect/internal/logger"
	"github.com/rewired-gh/chodetect/internal/models"
	"github.com/rewired-gh/chodetect/internal/window"
)

const (
	bonusStep     = 0.1
	thresholdStep = 0.2
)

// Tier pairs a slope threshold (per minute) with the weight it assigns.
type Tier struct {
	Threshold float64
	Weight    float64
}

// Params configures the activation state machine.
type Params struct {
	WindowSize          int
	GapSize             int
	Tiers               [2]Tier
	ActivationThreshold float64
	DetectDescending    bool
}

// DefaultParams returns the tuned tiers and window of the CHO detector.
func DefaultParams() Params {
	return Params{
		WindowSize: 12,
		GapSize:    6,
		Tiers: [2]Tier{
			{Threshold: 0.0125, Weight: 2.25},
			{Threshold: 0.018, Weight: 3.0},
		},
		ActivationThreshold: 2,
	}
}

// Validate rejects parameter sets the state machine cannot run with.
func (p Params) Validate() error {
	if p.WindowSize < 1 {
		return errors.New("window size must be at least 1")
	}
	if p.GapSize < 1 {
		return errors.New("gap size must be at least 1")
	}
	for i, t := range p.Tiers {
		if t.Threshold < 0 {
			return fmt.Errorf("tier %d threshold must not be negative", i)
		}
		if t.Weight <= 0 {
			return fmt.Errorf("tier %d weight must be positive", i)
		}
	}
	if p.Tiers[0].Threshold > p.Tiers[1].Threshold {
		return errors.New("tier thresholds must be ordered low to high")
	}
	if p.Tiers[0].Weight > p.Tiers[1].Weight {
		return errors.New("tier weights must be ordered low to high")
	}
	if p.ActivationThreshold < 0 {
		return errors.New("activation threshold must not be negative")
	}
	return nil
}

// SegmentState is the per-segment memory of the state machine.
type SegmentState struct {
	initialized bool
	prevValue   float64
	prevTime    float64

	// newest first
	activation *window.Bounded[float64]
	descending *window.Bounded[float64]
}

func newSegmentState(size int) *SegmentState {
	return &SegmentState{
		activation: window.New[float64](size),
		descending: window.New[float64](size),
	}
}

// Tick is the outcome of one sample.
type Tick struct {
	Activation float64
	Falling    float64
	// Skipped is set when the sample did not advance time.
	Skipped bool
}

// Detector owns the state of every active segment.
type Detector struct {
	params   Params
	segments map[models.SegmentID]*SegmentState
}

// New creates a detector. params must have passed Validate.
func New(params Params) *Detector {
	return &Detector{
		params:   params,
		segments: make(map[models.SegmentID]*SegmentState),
	}
}

func (d *Detector) getOrCreateState(segment models.SegmentID) *SegmentState {
	if state, exists := d.segments[segment]; exists {
		return state
	}
	state := newSegmentState(d.params.WindowSize)
	d.segments[segment] = state
	return state
}

// Step feeds one sample of the segment and returns the activation for it.
func (d *Detector) Step(segment models.SegmentID, t, value float64) Tick {
	state := d.getOrCreateState(segment)

	if !state.initialized {
		state.initialized = true
		state.prevValue = value
		state.prevTime = t
		return Tick{}
	}

	elapsed := models.Minutes(t - state.prevTime)
	if elapsed <= 0 {
		logger.Debug("Skipping sample of segment %d: %.3f min since previous sample", segment, elapsed)
		return Tick{Skipped: true}
	}

	tick := d.activate((value-state.prevValue)/elapsed, state)

	state.activation.PushFront(tick.Activation)
	state.descending.PushFront(tick.Falling)
	state.prevValue = value
	state.prevTime = t

	return tick
}

func (d *Detector) activate(derivative float64, state *SegmentState) Tick {
	var rising, falling float64
	for _, tier := range d.params.Tiers {
		if derivative > tier.Threshold {
			rising = tier.Weight
		}
		if derivative < -tier.Threshold {
			falling = -tier.Weight
		}
	}

	act := rising
	lowWeight := d.params.Tiers[0].Weight

	switch {
	case rising >= lowWeight:
		for i := 0; i < state.activation.Len(); i++ {
			step := float64(i)
			if state.activation.At(i) >= d.params.ActivationThreshold+thresholdStep*step {
				act += bonusStep * step
			}
		}
	case d.params.DetectDescending && falling <= -lowWeight:
		act = lookbackMax(state.activation, d.params.GapSize)
		for i := 0; i < state.descending.Len(); i++ {
			step := float64(i)
			if state.descending.At(i) <= -(d.params.ActivationThreshold + thresholdStep*step) {
				act -= bonusStep * step
				falling -= bonusStep * step
			}
		}
	}

	return Tick{Activation: act, Falling: falling}
}

// lookbackMax returns the peak among the newest gap entries, 0 when empty.
func lookbackMax(history *window.Bounded[float64], gap int) float64 {
	values := history.Slice()
	if len(values) > gap {
		values = values[:gap]
	}
	if len(values) == 0 {
		return 0
	}
	return floats.Max(values)
}

// Falling returns the newest falling weight of the segment.
func (d *Detector) Falling(segment models.SegmentID) (float64, bool) {
	state, ok := d.segments[segment]
	if !ok {
		return 0, false
	}
	return state.descending.Front()
}

// Remove discards the segment. Unknown segments are ignored.
func (d *Detector) Remove(segment models.SegmentID) {
	delete(d.segments, segment)
}

// Len returns the number of tracked segments.
func (d *Detector) Len() int {
	return len(d.segments)
}

// Snapshot exports the state of every segment.
func (d *Detector) Snapshot() []models.SegmentSnapshot {
	snaps := make([]models.SegmentSnapshot, 0, len(d.segments))
	for id, state := range d.segments {
		snaps = append(snaps, models.SegmentSnapshot{
			SegmentID:   id,
			Initialized: state.initialized,
			PrevValue:   state.prevValue,
			PrevTime:    state.prevTime,
			Activation:  state.activation.Slice(),
			Descending:  state.descending.Slice(),
		})
	}
	return snaps
}

// Restore replaces the state of the snapshotted segments.
func (d *Detector) Restore(snaps []models.SegmentSnapshot) {
	for _, snap := range snaps {
		d.segments[snap.SegmentID] = &SegmentState{
			initialized: snap.Initialized,
			prevValue:   snap.PrevValue,
			prevTime:    snap.PrevTime,
			activation:  window.FromSlice(d.params.WindowSize, snap.Activation),
			descending:  window.FromSlice(d.params.WindowSize, snap.Descending),
		}
	}
}
