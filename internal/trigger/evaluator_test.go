package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		DrawdownLimit:    0.03,
		ATRRatio:         2.0,
		VolumeRatio:      5.0,
		NewsMinor:        0.3,
		NewsCatastrophic: 0.8,
		RecentWindow:     5 * time.Minute,
	}
}

func TestDrawdownOverLimitIsHard(t *testing.T) {
	ev := NewEvaluator(testConfig())
	now := time.Now()

	store := NewStore(5*time.Minute, time.Hour)
	store.AddEquity("a1", now.Add(-4*time.Minute), 100000)
	store.AddEquity("a1", now.Add(-2*time.Minute), 99000)
	store.AddEquity("a1", now, 96500) // 3.5% below peak

	c := ev.Evaluate(store.WindowFor("a1"), now, 0)
	require.Equal(t, KindHard, c.Kind)
	assert.InDelta(t, 0.035, c.Details["drawdown"], 1e-9)
}

func TestDrawdownAtLimitIsNotHard(t *testing.T) {
	ev := NewEvaluator(testConfig())
	now := time.Now()

	w := Window{Equity: []Sample{
		{T: now.Add(-time.Minute).UnixMilli(), V: 100000},
		{T: now.UnixMilli(), V: 97000}, // exactly 3.0%
	}}
	c := ev.Evaluate(w, now, 0)
	assert.Equal(t, KindNone, c.Kind)
}

func TestATRDoubleOfBaselineIsHard(t *testing.T) {
	ev := NewEvaluator(testConfig())
	now := time.Now()

	store := NewStore(5*time.Minute, time.Hour)
	// Baseline sample outside the recent slice, spike inside it.
	store.AddMarket(now.Add(-30*time.Minute), 50010, 50000, 100)
	store.AddMarket(now, 50020, 50000, 100)

	c := ev.Evaluate(store.WindowFor("a1"), now, 0)
	require.Equal(t, KindHard, c.Kind)
	assert.Contains(t, c.Reason, "ATR")
}

func TestATRBelowDoubleIsNotHard(t *testing.T) {
	ev := NewEvaluator(testConfig())
	now := time.Now()

	store := NewStore(5*time.Minute, time.Hour)
	store.AddMarket(now.Add(-30*time.Minute), 50010, 50000, 100)
	store.AddMarket(now, 50019, 50000, 100) // 1.9x

	c := ev.Evaluate(store.WindowFor("a1"), now, 0)
	assert.Equal(t, KindNone, c.Kind)
}

func TestVolumeSpikeIsHard(t *testing.T) {
	ev := NewEvaluator(testConfig())
	now := time.Now()

	w := Window{Volume: []Sample{
		{T: now.Add(-30 * time.Minute).UnixMilli(), V: 100},
		{T: now.UnixMilli(), V: 500},
	}}
	c := ev.Evaluate(w, now, 0)
	require.Equal(t, KindHard, c.Kind)
	assert.Contains(t, c.Reason, "volume")
}

func TestDrawdownWinsOverATR(t *testing.T) {
	ev := NewEvaluator(testConfig())
	now := time.Now()

	w := Window{
		Equity: []Sample{
			{T: now.Add(-time.Minute).UnixMilli(), V: 100000},
			{T: now.UnixMilli(), V: 96000},
		},
		TrueRange: []Sample{
			{T: now.Add(-30 * time.Minute).UnixMilli(), V: 10},
			{T: now.UnixMilli(), V: 30},
		},
	}
	c := ev.Evaluate(w, now, 0)
	require.Equal(t, KindHard, c.Kind)
	assert.Contains(t, c.Reason, "drawdown")
}

func TestNewsInsideBandIsSoft(t *testing.T) {
	ev := NewEvaluator(testConfig())
	now := time.Now()

	c := ev.Evaluate(Window{}, now, 0.5)
	require.Equal(t, KindSoft, c.Kind)
	assert.InDelta(t, 0.5, c.Details["news_significance"], 1e-9)
}

func TestNewsBandBoundsAreExclusive(t *testing.T) {
	ev := NewEvaluator(testConfig())
	now := time.Now()

	assert.Equal(t, KindNone, ev.Evaluate(Window{}, now, 0.3).Kind)
	assert.Equal(t, KindNone, ev.Evaluate(Window{}, now, 0.8).Kind)
	assert.Equal(t, KindNone, ev.Evaluate(Window{}, now, 0.1).Kind)
}

func TestEmptyWindowIsNone(t *testing.T) {
	ev := NewEvaluator(testConfig())
	assert.Equal(t, KindNone, ev.Evaluate(Window{}, time.Now(), 0).Kind)
}

func TestStorePrunesOldSamples(t *testing.T) {
	now := time.Now()
	store := NewStore(5*time.Minute, time.Hour)

	store.AddEquity("a1", now.Add(-10*time.Minute), 100000)
	store.AddEquity("a1", now, 99000)

	w := store.WindowFor("a1")
	require.Len(t, w.Equity, 1)
	assert.InDelta(t, 99000, w.Equity[0].V, 1e-9)
}

func TestStoreDropsOutOfOrderSamples(t *testing.T) {
	now := time.Now()
	store := NewStore(5*time.Minute, time.Hour)

	store.AddEquity("a1", now, 100000)
	store.AddEquity("a1", now.Add(-time.Minute), 50000)

	w := store.WindowFor("a1")
	require.Len(t, w.Equity, 1)
	assert.InDelta(t, 100000, w.Equity[0].V, 1e-9)
}

func TestStoreSnapshotRoundTrip(t *testing.T) {
	now := time.Now()
	store := NewStore(5*time.Minute, time.Hour)
	store.AddEquity("a1", now, 100000)
	store.AddMarket(now, 50010, 50000, 42)

	blob, err := store.Marshal()
	require.NoError(t, err)

	restored := NewStore(5*time.Minute, time.Hour)
	require.NoError(t, restored.Restore(blob))

	w := restored.WindowFor("a1")
	require.Len(t, w.Equity, 1)
	require.Len(t, w.TrueRange, 1)
	assert.InDelta(t, 10, w.TrueRange[0].V, 1e-9)
	require.Len(t, w.Volume, 1)
	assert.InDelta(t, 42, w.Volume[0].V, 1e-9)
}
