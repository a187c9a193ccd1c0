package evaluation

import (
	"github.com/rewired-gh/chodetect/internal/models"
)

// Engine is the pipeline stage keeping one Evaluator per segment and
// emitting an info event with the report when a segment stops.
type Engine struct {
	config   Config
	segments map[models.SegmentID]*Evaluator
}

// NewEngine creates the stage. config must have passed Validate.
func NewEngine(config Config) *Engine {
	return &Engine{
		config:   config,
		segments: make(map[models.SegmentID]*Evaluator),
	}
}

func (e *Engine) getOrCreate(segment models.SegmentID) *Evaluator {
	if ev, ok := e.segments[segment]; ok {
		return ev
	}
	ev := NewEvaluator(e.config)
	e.segments[segment] = ev
	return ev
}

// Evaluator returns the state of an active segment.
func (e *Engine) Evaluator(segment models.SegmentID) (*Evaluator, bool) {
	ev, ok := e.segments[segment]
	return ev, ok
}

// Len returns the number of active segments.
func (e *Engine) Len() int {
	return len(e.segments)
}

// Process handles one event and returns the events to forward downstream.
func (e *Engine) Process(ev models.Event) []models.Event {
	switch ev.Kind {
	case models.KindLevel:
		e.getOrCreate(ev.Segment).Observe(ev)

	case models.KindSegmentStop:
		state, ok := e.segments[ev.Segment]
		if !ok {
			break
		}
		delete(e.segments, ev.Segment)

		report := state.Stop(ev.Segment, ev.Time)
		info := models.Event{
			Segment: ev.Segment,
			Time:    ev.Time,
			Kind:    models.KindInfo,
			Info:    report.String(),
			Report:  &report,
		}
		return []models.Event{info, ev}
	}
	return []models.Event{ev}
}
