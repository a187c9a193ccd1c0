package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/chodetect/internal/models"
)

func minutes(m float64) float64 {
	return 45000 + m*models.OneMinute
}

func scenarioParams() Params {
	p := DefaultParams()
	p.WindowSize = 3
	return p
}

func TestStep_FirstSampleSeedsOnly(t *testing.T) {
	d := New(DefaultParams())

	tick := d.Step(1, minutes(0), 120)
	assert.Equal(t, Tick{}, tick)

	snaps := d.Snapshot()
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Initialized)
	assert.Equal(t, 120.0, snaps[0].PrevValue)
	assert.Empty(t, snaps[0].Activation)
	assert.Empty(t, snaps[0].Descending)
}

func TestStep_AscendingLadder(t *testing.T) {
	d := New(scenarioParams())
	values := []float64{0, 1, 3, 6}
	want := []float64{0, 3.0, 3.0, 3.1}

	for i, v := range values {
		tick := d.Step(1, minutes(float64(i)), v)
		assert.InDelta(t, want[i], tick.Activation, 1e-9, "sample %d", i)
		assert.False(t, tick.Skipped)
	}
}

func TestStep_LowTierOnly(t *testing.T) {
	d := New(DefaultParams())
	d.Step(1, minutes(0), 5.0)

	// 0.075 over 5 minutes is 0.015/min, above the low tier only
	tick := d.Step(1, minutes(5), 5.075)
	assert.InDelta(t, 2.25, tick.Activation, 1e-9)
	assert.Zero(t, tick.Falling)
}

func TestStep_HigherTierWins(t *testing.T) {
	d := New(DefaultParams())
	d.Step(1, minutes(0), 5.0)

	tick := d.Step(1, minutes(5), 5.5)
	assert.InDelta(t, 3.0, tick.Activation, 1e-9)
}

func TestStep_FlatSignalIsQuiet(t *testing.T) {
	d := New(DefaultParams())
	d.Step(1, minutes(0), 5.0)
	tick := d.Step(1, minutes(5), 5.01)

	assert.Zero(t, tick.Activation)
	assert.Zero(t, tick.Falling)
}

func TestStep_NonPositiveElapsedIsSkipped(t *testing.T) {
	d := New(DefaultParams())
	d.Step(1, minutes(0), 5.0)
	d.Step(1, minutes(5), 6.0)
	before := d.Snapshot()

	tick := d.Step(1, minutes(5), 9.0)
	assert.True(t, tick.Skipped)
	assert.Zero(t, tick.Activation)

	tick = d.Step(1, minutes(4), 9.0)
	assert.True(t, tick.Skipped)
	assert.Equal(t, before, d.Snapshot())
}

func TestStep_AscendingBonusMonotoneInHistory(t *testing.T) {
	histories := [][]float64{
		{0, 0, 0, 0},
		{0, 5, 0, 0},
		{0, 5, 5, 0},
		{0, 5, 5, 5},
		{5, 5, 5, 5},
	}

	prev := -1.0
	for _, h := range histories {
		d := New(DefaultParams())
		d.Restore([]models.SegmentSnapshot{{
			SegmentID:   1,
			Initialized: true,
			PrevValue:   5,
			PrevTime:    minutes(0),
			Activation:  h,
		}})
		tick := d.Step(1, minutes(5), 6)
		assert.GreaterOrEqual(t, tick.Activation, prev, "history %v", h)
		prev = tick.Activation
	}
	assert.InDelta(t, 3.6, prev, 1e-9)
}

func TestStep_DescendingDisabled(t *testing.T) {
	d := New(DefaultParams())
	d.Step(1, minutes(0), 10)
	tick := d.Step(1, minutes(5), 9)

	assert.Zero(t, tick.Activation)
	assert.InDelta(t, -3.0, tick.Falling, 1e-9)

	falling, ok := d.Falling(1)
	require.True(t, ok)
	assert.InDelta(t, -3.0, falling, 1e-9)
}

func TestStep_DescendingRemembersPeak(t *testing.T) {
	p := DefaultParams()
	p.DetectDescending = true
	p.GapSize = 2
	d := New(p)
	d.Restore([]models.SegmentSnapshot{{
		SegmentID:   1,
		Initialized: true,
		PrevValue:   10,
		PrevTime:    minutes(0),
		Activation:  []float64{1, 4, 2, 9},
	}})

	tick := d.Step(1, minutes(5), 9)
	assert.InDelta(t, 4.0, tick.Activation, 1e-9)
	assert.InDelta(t, -3.0, tick.Falling, 1e-9)
}

func TestStep_DescendingPenalty(t *testing.T) {
	p := DefaultParams()
	p.DetectDescending = true
	p.GapSize = 2
	d := New(p)
	d.Restore([]models.SegmentSnapshot{{
		SegmentID:   1,
		Initialized: true,
		PrevValue:   10,
		PrevTime:    minutes(0),
		Activation:  []float64{1, 4, 2, 9},
		Descending:  []float64{-5, -5, -5},
	}})

	tick := d.Step(1, minutes(5), 9)
	assert.InDelta(t, 3.7, tick.Activation, 1e-9)
	assert.InDelta(t, -3.3, tick.Falling, 1e-9)
}

func TestStep_DescendingNeverExceedsLookbackPeak(t *testing.T) {
	p := DefaultParams()
	p.DetectDescending = true
	p.GapSize = 3

	histories := [][]float64{
		{},
		{2},
		{7, 1},
		{1, 2, 3, 100},
		{3.5, 3.2, 3.1, 0, 0},
	}
	for _, h := range histories {
		d := New(p)
		d.Restore([]models.SegmentSnapshot{{
			SegmentID:   1,
			Initialized: true,
			PrevValue:   10,
			PrevTime:    minutes(0),
			Activation:  h,
			Descending:  []float64{-3, -4, -5},
		}})
		tick := d.Step(1, minutes(5), 8)

		peak := 0.0
		for i, v := range h {
			if i < p.GapSize && (i == 0 || v > peak) {
				peak = v
			}
		}
		assert.LessOrEqual(t, tick.Activation, peak, "history %v", h)
	}
}

func TestRemoveAndRestore(t *testing.T) {
	d := New(DefaultParams())
	d.Step(1, minutes(0), 5)
	d.Step(1, minutes(5), 6)
	d.Step(2, minutes(0), 5)
	assert.Equal(t, 2, d.Len())

	snaps := d.Snapshot()
	restored := New(DefaultParams())
	restored.Restore(snaps)
	assert.ElementsMatch(t, snaps, restored.Snapshot())

	d.Remove(1)
	d.Remove(99)
	assert.Equal(t, 1, d.Len())
	_, ok := d.Falling(1)
	assert.False(t, ok)
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Params)
		wantErr bool
	}{
		{name: "defaults", mutate: func(p *Params) {}},
		{name: "zero window", mutate: func(p *Params) { p.WindowSize = 0 }, wantErr: true},
		{name: "zero gap", mutate: func(p *Params) { p.GapSize = 0 }, wantErr: true},
		{name: "negative threshold", mutate: func(p *Params) { p.Tiers[0].Threshold = -1 }, wantErr: true},
		{name: "unordered thresholds", mutate: func(p *Params) { p.Tiers[0].Threshold = 0.5 }, wantErr: true},
		{name: "unordered weights", mutate: func(p *Params) { p.Tiers[0].Weight = 4 }, wantErr: true},
		{name: "zero weight", mutate: func(p *Params) { p.Tiers[0].Weight = 0 }, wantErr: true},
		{name: "negative activation threshold", mutate: func(p *Params) { p.ActivationThreshold = -0.1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Params.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
