// Package models defines the core domain entities: events, detector state, and evaluation reports.
package models

import (
	"errors"
	"fmt"
	"math"
)

// Timestamps are expressed in days: 1.0 is one calendar day and the
// fractional part is the time of day.
const (
	OneMinute = 1.0 / 1440.0
	OneHour   = 1.0 / 24.0
)

// SignalID names a signal flowing through the pipeline.
type SignalID string

const (
	SignalSavgol        SignalID = "savgol"
	SignalActivation    SignalID = "activation"
	SignalCHO           SignalID = "cho"
	SignalPA            SignalID = "pa"
	SignalReference     SignalID = "reference"
	SignalHeartbeat     SignalID = "heartbeat"
	SignalSteps         SignalID = "steps"
	SignalAcceleration  SignalID = "acceleration"
	SignalElectrodermal SignalID = "electrodermal"
)

// SegmentID identifies one continuous recording session.
type SegmentID uint64

// Kind distinguishes measurements from lifecycle and informational events.
type Kind string

const (
	KindLevel       Kind = "level"
	KindSegmentStop Kind = "segment_stop"
	KindInfo        Kind = "info"
)

// Event is an immutable record flowing through the pipeline.
type Event struct {
	Signal  SignalID  `json:"signal,omitempty"`
	Segment SegmentID `json:"segment"`
	Time    float64   `json:"time"`
	Level   float64   `json:"level"`
	Kind    Kind      `json:"kind"`
	Info    string    `json:"info,omitempty"`
	Report  *Report   `json:"report,omitempty"`
}

// IsLevel reports whether e is a measurement of the given signal.
func (e Event) IsLevel(signal SignalID) bool {
	return e.Kind == KindLevel && e.Signal == signal
}

// Derive creates a level event of another signal at the same segment and time.
func (e Event) Derive(signal SignalID, level float64) Event {
	return Event{
		Signal:  signal,
		Segment: e.Segment,
		Time:    e.Time,
		Level:   level,
		Kind:    KindLevel,
	}
}

// Day returns the date component of a timestamp.
func Day(t float64) float64 {
	return math.Floor(t)
}

// Minutes converts a duration in days to minutes.
func Minutes(d float64) float64 {
	return d / OneMinute
}

// Validate checks event field constraints.
func (e *Event) Validate() error {
	switch e.Kind {
	case KindLevel:
		if e.Signal == "" {
			return errors.New("level event must name a signal")
		}
		if math.IsNaN(e.Level) || math.IsInf(e.Level, 0) {
			return errors.New("level must be finite")
		}
	case KindSegmentStop, KindInfo:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if math.IsNaN(e.Time) || math.IsInf(e.Time, 0) {
		return errors.New("time must be finite")
	}
	return nil
}
