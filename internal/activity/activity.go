// Package activity detects physical activity from wearable signals and
// optionally confirms it with falling edges of the glucose signal.
package activity

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rewired-gh/chodetect/internal/detector"
	"github.com/rewired-gh/chodetect/internal/features"
	"github.com/rewired-gh/chodetect/internal/models"
	"github.com/rewired-gh/chodetect/internal/window"
)

// Classifier maps a feature vector to an activity class (0 or 1).
type Classifier interface {
	Classify(vector []float64) int
}

// Config configures the activity stage.
type Config struct {
	// Thresholds holds the enabled signals and the mean each must exceed.
	Thresholds map[models.SignalID]float64
	MeanWindow int

	Edges         bool
	EdgeSignal    models.SignalID
	EdgeThreshold float64
	Params        detector.Params
}

// DefaultThresholds returns the rolling-mean threshold of every wearable signal.
func DefaultThresholds() map[models.SignalID]float64 {
	return map[models.SignalID]float64{
		models.SignalHeartbeat:     80,
		models.SignalSteps:         20,
		models.SignalAcceleration:  1.1,
		models.SignalElectrodermal: 10,
	}
}

// DefaultConfig enables the falling-edge check on the smoothed glucose signal.
func DefaultConfig() Config {
	params := detector.DefaultParams()
	params.DetectDescending = true
	return Config{
		Thresholds:    DefaultThresholds(),
		MeanWindow:    1,
		Edges:         true,
		EdgeSignal:    models.SignalSavgol,
		EdgeThreshold: -2,
		Params:        params,
	}
}

// Validate rejects configurations the stage cannot run with.
func (c Config) Validate() error {
	if len(c.Thresholds) == 0 {
		return errors.New("at least one activity signal must be enabled")
	}
	if c.MeanWindow < 1 {
		return errors.New("mean window must be at least 1")
	}
	if c.Edges {
		if c.EdgeSignal == "" {
			return errors.New("edge signal is required when edges are enabled")
		}
		if _, ok := c.Thresholds[c.EdgeSignal]; ok {
			return fmt.Errorf("edge signal %s cannot also be an activity signal", c.EdgeSignal)
		}
		if err := c.Params.Validate(); err != nil {
			return fmt.Errorf("edge params: %w", err)
		}
	}
	return nil
}

type segmentData struct {
	values   map[models.SignalID]*window.Bounded[float64]
	features map[models.SignalID]features.Summary
}

// Filter is the pipeline stage emitting a pa level event for every sample
// of an enabled signal.
type Filter struct {
	config     Config
	signals    []models.SignalID
	edges      *detector.Detector
	classifier Classifier
	segments   map[models.SegmentID]*segmentData
}

// NewFilter creates the stage. classifier may be nil.
func NewFilter(config Config, classifier Classifier) *Filter {
	if config.EdgeSignal == "" {
		config.EdgeSignal = models.SignalSavgol
	}
	config.Params.DetectDescending = true

	signals := make([]models.SignalID, 0, len(config.Thresholds))
	for id := range config.Thresholds {
		signals = append(signals, id)
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i] < signals[j] })

	f := &Filter{
		config:     config,
		signals:    signals,
		classifier: classifier,
		segments:   make(map[models.SegmentID]*segmentData),
	}
	if config.Edges {
		f.edges = detector.New(config.Params)
	}
	return f
}

func (f *Filter) getOrCreate(segment models.SegmentID) *segmentData {
	if data, ok := f.segments[segment]; ok {
		return data
	}
	data := &segmentData{
		values:   make(map[models.SignalID]*window.Bounded[float64], len(f.signals)),
		features: make(map[models.SignalID]features.Summary, len(f.signals)),
	}
	for _, id := range f.signals {
		data.values[id] = window.New[float64](f.config.MeanWindow)
		data.features[id] = features.Summary{}
	}
	f.segments[segment] = data

	if f.edges != nil {
		f.edges.Restore([]models.SegmentSnapshot{{SegmentID: segment, Descending: []float64{0}}})
	}
	return data
}

func (f *Filter) enabled(signal models.SignalID) bool {
	_, ok := f.config.Thresholds[signal]
	return ok
}

// Process handles one event and returns the events to forward downstream.
func (f *Filter) Process(ev models.Event) []models.Event {
	if ev.Kind == models.KindSegmentStop {
		delete(f.segments, ev.Segment)
		if f.edges != nil {
			f.edges.Remove(ev.Segment)
		}
		return []models.Event{ev}
	}
	if ev.Kind != models.KindLevel || ev.Level <= 0 {
		return []models.Event{ev}
	}

	switch {
	case f.edges != nil && ev.Signal == f.config.EdgeSignal:
		f.getOrCreate(ev.Segment)
		tick := f.edges.Step(ev.Segment, ev.Time, ev.Level)
		return []models.Event{ev.Derive(models.SignalActivation, tick.Falling), ev}

	case f.enabled(ev.Signal):
		data := f.getOrCreate(ev.Segment)
		values := data.values[ev.Signal]
		values.PushBack(ev.Level)
		data.features[ev.Signal] = features.Extract(values.Slice())
		return []models.Event{ev.Derive(models.SignalPA, f.level(ev.Segment, data)), ev}
	}
	return []models.Event{ev}
}

func (f *Filter) level(segment models.SegmentID, data *segmentData) float64 {
	var level float64
	active := true
	for _, id := range f.signals {
		active = active && data.features[id].Mean > f.config.Thresholds[id]
	}
	if active {
		level = 1
	}

	if f.edges != nil {
		if falling, _ := f.edges.Falling(segment); falling < f.config.EdgeThreshold {
			level++
		}
	} else {
		level *= 2
	}

	if f.classifier != nil {
		level = float64(f.classifier.Classify(features.Vector(data.features)) * 2)
	}
	return level
}

// Len returns the number of tracked segments.
func (f *Filter) Len() int {
	return len(f.segments)
}
