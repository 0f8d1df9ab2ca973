package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlgoArena/internal/domain/models"
)

func TestBuyOrderAccounting(t *testing.T) {
	fix := newEngineFixture(defaultEngineConfig())
	strat := &stubStrategy{plan: []models.Decision{
		{Action: models.ActionBuy, Symbol: "BTC", Quantity: 0.5},
	}}
	require.NoError(t, fix.reg.Register(testAgent("a1", strat, 100000)))

	fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 50000, "ETH": 3000}))
	fix.engine.runTick(context.Background())

	a, ok := fix.reg.Snapshot("a1")
	require.True(t, ok)

	fee := 0.5 * 50000 * 0.00075
	assert.InDelta(t, 100000-25000-fee, a.Cash, 1e-9)
	assert.InDelta(t, 0.5, a.Holdings["BTC"], 1e-9)
	assert.InDelta(t, 50000, a.EntryPrices["BTC"], 1e-9)
	assert.InDelta(t, 100000-fee, a.Equity, 1e-9)
	assert.InDelta(t, fee, a.TotalFees, 1e-9)
	require.Len(t, a.TradeHistory, 1)
	assert.Equal(t, 1, a.TradesCount)
}

func TestEquityEqualsCashPlusMarkedPositions(t *testing.T) {
	fix := newEngineFixture(defaultEngineConfig())
	strat := &stubStrategy{plan: []models.Decision{
		{Action: models.ActionBuy, Symbol: "BTC", Quantity: 0.4},
		{Action: models.ActionBuy, Symbol: "ETH", Quantity: 2},
		{Action: models.ActionSell, Symbol: "BTC", Quantity: 0.1},
	}}
	require.NoError(t, fix.reg.Register(testAgent("a1", strat, 100000)))

	prices := map[string]float64{"BTC": 50000, "ETH": 3000}
	for i := 0; i < 3; i++ {
		fix.feedTick(marketTick(time.Now(), prices))
		fix.engine.runTick(context.Background())
	}

	a, _ := fix.reg.Snapshot("a1")
	want := a.Cash
	for sym, qty := range a.Holdings {
		want += qty * prices[sym]
	}
	assert.InDelta(t, want, a.Equity, 1e-6)
}

func TestWeightedAverageEntryPrice(t *testing.T) {
	fix := newEngineFixture(defaultEngineConfig())
	strat := &stubStrategy{plan: []models.Decision{
		{Action: models.ActionBuy, Symbol: "BTC", Quantity: 0.2},
		{Action: models.ActionBuy, Symbol: "BTC", Quantity: 0.2},
	}}
	require.NoError(t, fix.reg.Register(testAgent("a1", strat, 100000)))

	fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 50000}))
	fix.engine.runTick(context.Background())
	fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 52000}))
	fix.engine.runTick(context.Background())

	a, _ := fix.reg.Snapshot("a1")
	assert.InDelta(t, 51000, a.EntryPrices["BTC"], 1e-9)
	assert.InDelta(t, 0.4, a.Holdings["BTC"], 1e-9)
}

func TestProfitableCloseCountsAsWin(t *testing.T) {
	fix := newEngineFixture(defaultEngineConfig())
	strat := &stubStrategy{plan: []models.Decision{
		{Action: models.ActionBuy, Symbol: "BTC", Quantity: 0.2},
		{Action: models.ActionSell, Symbol: "BTC", Quantity: 0.2},
	}}
	require.NoError(t, fix.reg.Register(testAgent("a1", strat, 100000)))

	fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 50000}))
	fix.engine.runTick(context.Background())
	fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 55000}))
	fix.engine.runTick(context.Background())

	a, _ := fix.reg.Snapshot("a1")
	assert.Equal(t, 1, a.Wins)
	assert.Empty(t, a.Holdings)
	assert.NotContains(t, a.EntryPrices, "BTC")
}

func TestLeverageCapRejectsOrder(t *testing.T) {
	fix := newEngineFixture(defaultEngineConfig())
	// 10 BTC at 50000 is 500k gross on 100k equity, past the 4x cap.
	strat := &stubStrategy{plan: []models.Decision{
		{Action: models.ActionBuy, Symbol: "BTC", Quantity: 10},
	}}
	require.NoError(t, fix.reg.Register(testAgent("a1", strat, 100000)))

	fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 50000}))
	fix.engine.runTick(context.Background())

	a, _ := fix.reg.Snapshot("a1")
	assert.Empty(t, a.Holdings)
	assert.Empty(t, a.TradeHistory)
	assert.InDelta(t, 100000, a.Cash, 1e-9)
}

func TestFaultBudgetEscalatesToRegeneration(t *testing.T) {
	fix := newEngineFixture(defaultEngineConfig())
	strat := &stubStrategy{err: errors.New("broken indicator")}
	require.NoError(t, fix.reg.Register(testAgent("a1", strat, 100000)))

	for i := 0; i < 3; i++ {
		fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 50000}))
		fix.engine.runTick(context.Background())
	}

	a, _ := fix.reg.Snapshot("a1")
	assert.Equal(t, models.StateRegenerating, a.State)
	assert.Equal(t, 3, a.FaultCount)
	reqs := fix.queue.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "a1", reqs[0].AgentID)
}

func TestRegeneratingAgentIsNotExecuted(t *testing.T) {
	fix := newEngineFixture(defaultEngineConfig())
	strat := &stubStrategy{}
	a := testAgent("a1", strat, 100000)
	a.State = models.StateRegenerating
	require.NoError(t, fix.reg.Register(a))

	fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 50000}))
	fix.engine.runTick(context.Background())

	assert.Equal(t, 0, strat.callCount())
	// Still marked to market.
	got, _ := fix.reg.Snapshot("a1")
	assert.InDelta(t, 100000, got.Equity, 1e-9)
}

func TestEmergencyStopLiquidates(t *testing.T) {
	fix := newEngineFixture(defaultEngineConfig())
	strat := &stubStrategy{plan: []models.Decision{
		{Action: models.ActionBuy, Symbol: "BTC", Quantity: 1},
	}}
	require.NoError(t, fix.reg.Register(testAgent("a1", strat, 100000)))

	fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 50000}))
	fix.engine.runTick(context.Background())

	// A 5% drop on a 1 BTC position is a 2.5% equity drawdown.
	fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 47500}))
	fix.engine.runTick(context.Background())

	a, _ := fix.reg.Snapshot("a1")
	assert.Equal(t, models.StateRegenerating, a.State)
	assert.Empty(t, a.Holdings)
	require.Len(t, fix.events.byType(models.EventEmergencyStop), 1)
	require.NotEmpty(t, fix.queue.requests())
}

func TestProfitSweepAboveROIThreshold(t *testing.T) {
	fix := newEngineFixture(defaultEngineConfig())
	strat := &stubStrategy{plan: []models.Decision{
		{Action: models.ActionBuy, Symbol: "BTC", Quantity: 1},
		{Action: models.ActionSell, Symbol: "BTC", Quantity: 1},
	}}
	require.NoError(t, fix.reg.Register(testAgent("a1", strat, 100000)))

	fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 50000}))
	fix.engine.runTick(context.Background())
	// 4% rally, well past the 0.5% cash-out ROI.
	fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 52000}))
	fix.engine.runTick(context.Background())

	a, _ := fix.reg.Snapshot("a1")
	assert.Greater(t, a.CashedOut, 0.0)
	assert.InDelta(t, 100000, a.Cash, 1e-6)
	require.Len(t, fix.events.byType(models.EventCashout), 1)
}

func TestStaleMarketSkipsTick(t *testing.T) {
	fix := newEngineFixture(defaultEngineConfig())
	strat := &stubStrategy{}
	require.NoError(t, fix.reg.Register(testAgent("a1", strat, 100000)))

	fix.feedTick(marketTick(time.Now().Add(-time.Minute), map[string]float64{"BTC": 50000}))
	fix.engine.runTick(context.Background())

	assert.Equal(t, 0, strat.callCount())
	assert.Equal(t, int64(0), fix.engine.Tick())
}

func TestTickEmitsSnapshotAndLeaderboard(t *testing.T) {
	fix := newEngineFixture(defaultEngineConfig())
	require.NoError(t, fix.reg.Register(testAgent("a1", &stubStrategy{}, 100000)))

	fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 50000}))
	fix.engine.runTick(context.Background())

	require.Len(t, fix.events.byType(models.EventTickSnapshot), 1)
	lb := fix.events.byType(models.EventLeaderboard)
	require.Len(t, lb, 1)
	entries, ok := lb[0].Payload.([]models.LeaderboardEntry)
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "a1", entries[0].AgentID)
}

func TestSoftResetRestoresBooksKeepsStrategies(t *testing.T) {
	fix := newEngineFixture(defaultEngineConfig())
	strat := &stubStrategy{plan: []models.Decision{
		{Action: models.ActionBuy, Symbol: "BTC", Quantity: 0.5},
	}}
	require.NoError(t, fix.reg.Register(testAgent("a1", strat, 100000)))

	fix.feedTick(marketTick(time.Now(), map[string]float64{"BTC": 50000}))
	fix.engine.runTick(context.Background())

	fix.engine.SoftReset(context.Background())

	a, _ := fix.reg.Snapshot("a1")
	assert.InDelta(t, 100000, a.Cash, 1e-9)
	assert.Empty(t, a.Holdings)
	assert.Empty(t, a.TradeHistory)
	assert.Equal(t, models.StateActive, a.State)
	assert.NotNil(t, a.Strategy)
}

func TestHardResetRemovesAgents(t *testing.T) {
	fix := newEngineFixture(defaultEngineConfig())
	require.NoError(t, fix.reg.Register(testAgent("a1", &stubStrategy{}, 100000)))

	fix.engine.HardReset(context.Background())
	assert.Equal(t, 0, fix.reg.Len())
}
