package detector

import (
	"github.com/rewired-gh/chodetect/internal/models"
	"github.com/rewired-gh/chodetect/internal/sequence"
)

// FilterConfig configures the CHO detection stage.
type FilterConfig struct {
	Input      models.SignalID
	Params     Params
	Classifier ClassifierParams
}

// Filter is the pipeline stage emitting activation and CHO level events
// for every sample of the input signal.
type Filter struct {
	config    FilterConfig
	detector  *Detector
	confirmer *sequence.Confirmer
}

// NewFilter creates the stage. confirmer may be nil when confirmation is
// disabled.
func NewFilter(config FilterConfig, confirmer *sequence.Confirmer) *Filter {
	if config.Input == "" {
		config.Input = models.SignalSavgol
	}
	config.Classifier.ConfirmerEnabled = confirmer != nil
	return &Filter{
		config:    config,
		detector:  New(config.Params),
		confirmer: confirmer,
	}
}

// Detector exposes the underlying state machine for checkpointing.
func (f *Filter) Detector() *Detector {
	return f.detector
}

// Process handles one event and returns the events to forward downstream.
func (f *Filter) Process(ev models.Event) []models.Event {
	switch {
	case ev.IsLevel(f.config.Input):
		out := make([]models.Event, 0, 3)

		var activation float64
		if f.config.Classifier.EdgesEnabled {
			activation = f.detector.Step(ev.Segment, ev.Time, ev.Level).Activation
			out = append(out, ev.Derive(models.SignalActivation, activation))
		}

		var score float64
		if f.confirmer != nil {
			score = f.confirmer.Score(ev.Segment, ev.Time, ev.Level)
		}

		level := Classify(activation, score, f.config.Classifier)
		out = append(out, ev.Derive(models.SignalCHO, float64(level)), ev)
		return out

	case ev.Kind == models.KindSegmentStop:
		f.detector.Remove(ev.Segment)
		if f.confirmer != nil {
			f.confirmer.Remove(ev.Segment)
		}
	}
	return []models.Event{ev}
}

// Snapshot exports the detector state of every active segment.
func (f *Filter) Snapshot() []models.SegmentSnapshot {
	return f.detector.Snapshot()
}

// Restore loads checkpointed detector state.
func (f *Filter) Restore(snaps []models.SegmentSnapshot) {
	f.detector.Restore(snaps)
}
