package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlgoArena/internal/domain/models"
	drepo "AlgoArena/internal/domain/repository"
	"AlgoArena/internal/registry"
	"AlgoArena/internal/sandbox"
	"AlgoArena/internal/trigger"
	"AlgoArena/pkg/logger"
)

type supervisorFixture struct {
	sup     *RiskSupervisor
	reg     *registry.Registry
	windows *trigger.Store
	queue   *captureQueue
	events  *capturePublisher
	news    *stubNews
}

func newSupervisorFixture() *supervisorFixture {
	reg := registry.New()
	windows := trigger.NewStore(5*time.Minute, time.Hour)
	eval := trigger.NewEvaluator(trigger.Config{
		DrawdownLimit:    0.03,
		ATRRatio:         2.0,
		VolumeRatio:      5.0,
		NewsMinor:        0.3,
		NewsCatastrophic: 0.8,
		RecentWindow:     5 * time.Minute,
	})
	box := sandbox.New(sandbox.Config{}, logger.Nop())
	news := &stubNews{}
	q := &captureQueue{}
	events := &capturePublisher{}

	sup := NewRiskSupervisor(5*time.Minute, 0.00075, eval, windows, reg, box, news, q, events, drepo.NopMetrics{}, logger.Nop())
	return &supervisorFixture{sup: sup, reg: reg, windows: windows, queue: q, events: events, news: news}
}

func TestHardTriggerEscalatesOnce(t *testing.T) {
	fix := newSupervisorFixture()
	require.NoError(t, fix.reg.Register(testAgent("a1", &stubStrategy{}, 100000)))

	now := time.Now()
	// 3.5% drawdown inside the equity window.
	fix.windows.AddEquity("a1", now.Add(-4*time.Minute), 100000)
	fix.windows.AddEquity("a1", now, 96500)

	escalated := fix.sup.pass(context.Background())
	assert.Equal(t, 1, escalated)

	a, _ := fix.reg.Snapshot("a1")
	assert.Equal(t, models.StateRegenerating, a.State)
	require.Len(t, fix.queue.requests(), 1)
	assert.Contains(t, fix.queue.requests()[0].Reason, "drawdown")

	// Second pass sees the agent regenerating and leaves it alone.
	assert.Equal(t, 0, fix.sup.pass(context.Background()))
	assert.Len(t, fix.queue.requests(), 1)
}

func TestHardTriggerLiquidatesPositions(t *testing.T) {
	fix := newSupervisorFixture()
	a := testAgent("a1", &stubStrategy{}, 50000)
	a.Holdings["BTC"] = 1
	a.EntryPrices["BTC"] = 50000
	require.NoError(t, fix.reg.Register(a))

	now := time.Now()
	fix.windows.AddEquity("a1", now.Add(-time.Minute), 100000)
	fix.windows.AddEquity("a1", now, 96000)

	require.Equal(t, 1, fix.sup.pass(context.Background()))

	got, _ := fix.reg.Snapshot("a1")
	assert.Empty(t, got.Holdings)
	// Cash absorbed the position at its entry mark, minus the fee.
	assert.InDelta(t, 50000+50000-50000*0.00075, got.Cash, 1e-6)
}

func TestSoftTriggerOnlyTouchesCustomState(t *testing.T) {
	fix := newSupervisorFixture()
	a := testAgent("a1", &stubStrategy{}, 90000)
	a.Holdings["BTC"] = 0.2
	a.EntryPrices["BTC"] = 50000
	require.NoError(t, fix.reg.Register(a))

	fix.news.score = 0.5
	fix.news.items = []models.NewsItem{{Title: "Exchange outage rumors", Significance: 0.5}}

	before, _ := fix.reg.Snapshot("a1")
	assert.Equal(t, 0, fix.sup.pass(context.Background()))
	after, _ := fix.reg.Snapshot("a1")

	assert.Equal(t, models.StateActive, after.State)
	assert.Equal(t, before.Cash, after.Cash)
	assert.Equal(t, before.Holdings, after.Holdings)
	assert.Equal(t, before.Source, after.Source)

	require.Contains(t, after.CustomState, "news_significance")
	assert.Contains(t, after.CustomState, "headlines")
	assert.Contains(t, after.CustomState, "context_updated_at")
	require.Len(t, fix.events.byType(models.EventContextUpdate), 1)
	assert.Empty(t, fix.queue.requests())
}

func TestNewsOutsideBandDoesNothing(t *testing.T) {
	fix := newSupervisorFixture()
	require.NoError(t, fix.reg.Register(testAgent("a1", &stubStrategy{}, 100000)))

	fix.news.score = 0.2
	assert.Equal(t, 0, fix.sup.pass(context.Background()))
	a, _ := fix.reg.Snapshot("a1")
	assert.Empty(t, a.CustomState)
}

func TestSuperviseRunsInlineWhenLoopStopped(t *testing.T) {
	fix := newSupervisorFixture()
	require.NoError(t, fix.reg.Register(testAgent("a1", &stubStrategy{}, 100000)))

	now := time.Now()
	fix.windows.AddEquity("a1", now.Add(-time.Minute), 100000)
	fix.windows.AddEquity("a1", now, 90000)

	assert.Equal(t, 1, fix.sup.Supervise(context.Background()))
}
