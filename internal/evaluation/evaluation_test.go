package evaluation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/chodetect/internal/models"
)

const noon = 45000.5

func at(min float64) float64 {
	return noon + min*models.OneMinute
}

func testConfig() Config {
	c := DefaultConfig()
	c.DropCount = 0
	c.LateDelay = 10
	return c
}

func reference(t float64) models.Event {
	return models.Event{Signal: models.SignalReference, Segment: 1, Time: t, Level: 1, Kind: models.KindLevel}
}

func detection(t, level float64) models.Event {
	return models.Event{Signal: models.SignalCHO, Segment: 1, Time: t, Level: level, Kind: models.KindLevel}
}

func feed(e *Evaluator, events ...models.Event) {
	for _, ev := range events {
		e.Observe(ev)
	}
}

func TestDetectionThenConfirmation(t *testing.T) {
	e := NewEvaluator(testConfig())
	feed(e, reference(at(0)), detection(at(5), 1))

	day := e.Day()
	assert.Equal(t, 1, day.Count)
	assert.Equal(t, 1, day.TruePositiveDetected)
	assert.Zero(t, day.TruePositiveConfirmed)
	assert.InDelta(t, 5, models.Minutes(day.CumulativeDelay), 1e-6)

	feed(e, detection(at(6), 3))
	day = e.Day()
	assert.Equal(t, 1, day.TruePositiveDetected)
	assert.Equal(t, 1, day.TruePositiveConfirmed)
	assert.InDelta(t, 1, models.Minutes(day.CumulativeConfirmDelay), 1e-6)
	assert.Zero(t, day.FalseNegative)

	r := e.Stop(1, at(300))
	assert.True(t, r.HasData)
	assert.InDelta(t, 1.0, r.DetectionAccuracy, 1e-9)
	assert.InDelta(t, 1.0, r.ConfirmationAccuracy, 1e-9)
	assert.InDelta(t, 5.0, r.MeanDelay, 1e-6)
	assert.InDelta(t, 1.0, r.MeanConfirmDelay, 1e-6)
}

func TestConfirmationRightAfterReference(t *testing.T) {
	for _, lag := range []float64{0.5, 5, 60, 179} {
		e := NewEvaluator(testConfig())
		feed(e, reference(at(0)), detection(at(lag), 2), detection(at(lag+1), 3))

		day := e.Day()
		assert.Equal(t, 1, day.TruePositiveConfirmed, "lag %v", lag)
		assert.Equal(t, 1, day.TruePositiveDetected, "lag %v", lag)
		assert.Zero(t, day.FalseNegative, "lag %v", lag)
		assert.InDelta(t, 0, day.CumulativeConfirmDelay, 1e-12, "lag %v", lag)

		// expiry of the reference must not add a false negative afterwards
		feed(e, detection(at(lag+500), 0))
		assert.Zero(t, e.Day().FalseNegative, "lag %v", lag)
	}
}

func TestReferenceAtTimeZero(t *testing.T) {
	e := NewEvaluator(testConfig())
	feed(e, reference(0), detection(5*models.OneMinute, 2))

	assert.Equal(t, 1, e.Day().TruePositiveDetected)
	assert.Equal(t, 1, e.Day().TruePositiveConfirmed)
}

func TestFalseNegativeOnExpiry(t *testing.T) {
	e := NewEvaluator(testConfig())
	feed(e, reference(at(0)), detection(at(100), 0))
	assert.Zero(t, e.Day().FalseNegative)

	feed(e, detection(at(181), 0))
	assert.Equal(t, 1, e.Day().FalseNegative)

	// late detection after expiry is not a true positive
	feed(e, detection(at(185), 1))
	assert.Zero(t, e.Day().TruePositiveDetected)
}

func TestFalseNegativeOnNextReference(t *testing.T) {
	e := NewEvaluator(testConfig())
	feed(e, reference(at(0)), reference(at(60)))

	day := e.Day()
	assert.Equal(t, 2, day.Count)
	assert.Equal(t, 1, day.FalseNegative)

	feed(e, detection(at(70), 1))
	assert.Equal(t, 1, e.Day().TruePositiveDetected)
	assert.InDelta(t, 10, models.Minutes(e.Day().CumulativeDelay), 1e-6)
}

func TestFalsePositiveTimer(t *testing.T) {
	e := NewEvaluator(testConfig())

	feed(e, detection(at(0), 2))
	assert.Equal(t, 1, e.Day().FalsePositiveDetected)
	assert.Zero(t, e.Day().FalsePositiveConfirmed)

	feed(e, detection(at(5), 2))
	assert.Zero(t, e.Day().FalsePositiveConfirmed)

	feed(e, detection(at(11), 2), detection(at(12), 2), detection(at(100), 2))
	assert.Equal(t, 1, e.Day().FalsePositiveConfirmed)
	assert.Equal(t, 1, e.Day().FalsePositiveDetected)

	// cooldown expires after 180 minutes, the next detection starts a new timer
	feed(e, detection(at(181), 0), detection(at(182), 2), detection(at(200), 0))
	assert.Equal(t, 2, e.Day().FalsePositiveDetected)
	assert.Equal(t, 2, e.Day().FalsePositiveConfirmed)
}

func TestEarlyDetectionCredit(t *testing.T) {
	e := NewEvaluator(testConfig())
	feed(e, detection(at(0), 2), reference(at(5)))

	day := e.Day()
	assert.Equal(t, 1, day.TruePositiveDetected)
	assert.Zero(t, day.FalsePositiveConfirmed)

	feed(e, detection(at(20), 2), detection(at(170), 0))
	day = e.Day()
	assert.Zero(t, day.FalseNegative)
	assert.Zero(t, day.FalsePositiveConfirmed)
	assert.Equal(t, 1, day.TruePositiveConfirmed)
	assert.InDelta(t, 20, models.Minutes(day.CumulativeConfirmDelay), 1e-6)
}

func TestLateReferenceGetsNoCredit(t *testing.T) {
	e := NewEvaluator(testConfig())
	feed(e, detection(at(0), 2), reference(at(15)))

	day := e.Day()
	assert.Equal(t, 1, day.FalsePositiveConfirmed)
	assert.Zero(t, day.TruePositiveDetected)
	assert.Equal(t, 1, day.Count)
}

func TestWarmUpDropsDetections(t *testing.T) {
	c := testConfig()
	c.DropCount = 3
	e := NewEvaluator(c)

	feed(e, reference(at(0)), detection(at(1), 2), detection(at(2), 2), detection(at(3), 2))
	assert.Zero(t, e.Day().TruePositiveDetected)

	feed(e, detection(at(4), 2))
	assert.Equal(t, 1, e.Day().TruePositiveDetected)
	assert.InDelta(t, 4, models.Minutes(e.Day().CumulativeDelay), 1e-6)
}

func TestDayRollover(t *testing.T) {
	e := NewEvaluator(testConfig())
	feed(e, reference(at(0)), detection(at(10), 2))
	assert.Zero(t, e.Global().Count)

	// next calendar day
	feed(e, detection(at(13*60), 0))
	assert.Equal(t, 1, e.Global().Count)
	assert.Equal(t, 1, e.Global().TruePositiveConfirmed)
	assert.Equal(t, models.StatisticsData{}, e.Day())

	feed(e, reference(at(14*60)), detection(at(14*60+3), 1))
	r := e.Stop(1, at(20*60))
	assert.Equal(t, 2, r.Stats.Count)
	assert.Equal(t, 2, r.Stats.TruePositiveDetected)
	assert.InDelta(t, 6.5, r.MeanDelay, 1e-5)
}

func TestMinRefDiscardsSparseDays(t *testing.T) {
	c := testConfig()
	c.MinRef = 2
	e := NewEvaluator(c)

	feed(e, reference(at(0)), detection(at(5), 2))
	feed(e, detection(at(13*60), 0))
	assert.Zero(t, e.Global().Count)

	feed(e, reference(at(14*60)), detection(at(14*60+5), 2), reference(at(16*60)), detection(at(16*60+5), 2))
	r := e.Stop(1, at(20*60))
	assert.Equal(t, 2, r.Stats.Count)
	assert.Equal(t, 2, r.Stats.TruePositiveConfirmed)
}

func TestQuietDay(t *testing.T) {
	e := NewEvaluator(testConfig())
	for i := 0; i < 10; i++ {
		feed(e, detection(at(float64(i*5)), 0))
	}

	assert.Equal(t, models.StatisticsData{}, e.Day())
	assert.Equal(t, models.StatisticsData{}, e.Global())

	r := e.Stop(1, at(60))
	assert.False(t, r.HasData)
	assert.False(t, math.IsNaN(r.DetectionAccuracy))
	assert.False(t, math.IsNaN(r.MeanConfirmDelay))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "same signals", mutate: func(c *Config) { c.DetectionSignal = c.ReferenceSignal }, wantErr: true},
		{name: "missing signal", mutate: func(c *Config) { c.ReferenceSignal = "" }, wantErr: true},
		{name: "negative delay", mutate: func(c *Config) { c.FPDelay = -1 }, wantErr: true},
		{name: "negative drop", mutate: func(c *Config) { c.DropCount = -1 }, wantErr: true},
		{name: "confirmation below detection", mutate: func(c *Config) { c.ConfirmationThreshold = 0.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEngine_ReportsOnSegmentStop(t *testing.T) {
	e := NewEngine(testConfig())

	for _, ev := range []models.Event{reference(at(0)), detection(at(5), 2)} {
		assert.Equal(t, []models.Event{ev}, e.Process(ev))
	}
	other := detection(at(5), 2)
	other.Segment = 2
	e.Process(other)
	require.Equal(t, 2, e.Len())

	stop := models.Event{Segment: 1, Time: at(60), Kind: models.KindSegmentStop}
	out := e.Process(stop)
	require.Len(t, out, 2)
	assert.Equal(t, models.KindInfo, out[0].Kind)
	require.NotNil(t, out[0].Report)
	assert.Equal(t, 1, out[0].Report.Stats.TruePositiveConfirmed)
	assert.Equal(t, models.SegmentID(1), out[0].Report.Segment)
	assert.Contains(t, out[0].Info, "CHO count: 1")
	assert.Equal(t, stop, out[1])

	assert.Equal(t, 1, e.Len())
	_, ok := e.Evaluator(1)
	assert.False(t, ok)
}

func TestEngine_NoDataReport(t *testing.T) {
	e := NewEngine(testConfig())
	e.Process(detection(at(0), 0))

	out := e.Process(models.Event{Segment: 1, Time: at(5), Kind: models.KindSegmentStop})
	require.Len(t, out, 2)
	assert.False(t, out[0].Report.HasData)
	assert.Contains(t, out[0].Info, "no data")
}

func TestEngine_UnknownSegmentStop(t *testing.T) {
	e := NewEngine(testConfig())
	stop := models.Event{Segment: 9, Time: at(5), Kind: models.KindSegmentStop}
	assert.Equal(t, []models.Event{stop}, e.Process(stop))
}
