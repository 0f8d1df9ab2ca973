package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlgoArena/internal/domain/models"
	"AlgoArena/pkg/logger"
)

type fakeStrategy struct {
	name     string
	decision models.Decision
	err      error
	delay    time.Duration
	panics   bool
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Run(models.MarketView, models.AgentView) (models.Decision, error) {
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.decision, f.err
}

func view() models.MarketView {
	return models.MarketView{
		TimeMs: time.Now().UnixMilli(),
		Symbols: map[string]models.SymbolView{
			"BTC": {Price: 50000},
		},
	}
}

func newSandbox(budget time.Duration) *Sandbox {
	return New(Config{ExecBudget: budget, OrderLimit: 5, OrderWindow: time.Minute}, logger.Nop())
}

func TestExecuteHappyPath(t *testing.T) {
	sb := newSandbox(time.Second)
	strat := &fakeStrategy{decision: models.Decision{Action: models.ActionBuy, Symbol: "BTC", Quantity: 0.5}}

	res := sb.Execute(context.Background(), "a1", strat, view(), models.AgentView{})
	require.Nil(t, res.Fault)
	assert.Equal(t, models.ActionBuy, res.Decision.Action)
	assert.Equal(t, 0.5, res.Decision.Quantity)
}

func TestExecuteErrorMapsToHold(t *testing.T) {
	sb := newSandbox(time.Second)
	strat := &fakeStrategy{err: errors.New("division by zero")}

	res := sb.Execute(context.Background(), "a1", strat, view(), models.AgentView{})
	require.NotNil(t, res.Fault)
	assert.Equal(t, FaultError, res.Fault.Kind)
	assert.Equal(t, models.ActionHold, res.Decision.Action)
}

func TestExecutePanicIsTrapped(t *testing.T) {
	sb := newSandbox(time.Second)
	res := sb.Execute(context.Background(), "a1", &fakeStrategy{panics: true}, view(), models.AgentView{})
	require.NotNil(t, res.Fault)
	assert.Equal(t, FaultPanic, res.Fault.Kind)
	assert.Equal(t, models.ActionHold, res.Decision.Action)
}

func TestExecuteTimeoutIsFault(t *testing.T) {
	sb := newSandbox(20 * time.Millisecond)
	strat := &fakeStrategy{delay: 500 * time.Millisecond, decision: models.Hold()}

	res := sb.Execute(context.Background(), "a1", strat, view(), models.AgentView{})
	require.NotNil(t, res.Fault)
	assert.Equal(t, FaultTimeout, res.Fault.Kind)
	assert.Equal(t, models.ActionHold, res.Decision.Action)
}

func TestExecuteMalformedResult(t *testing.T) {
	sb := newSandbox(time.Second)
	for _, d := range []models.Decision{
		{Action: "YOLO", Symbol: "BTC", Quantity: 1},
		{Action: models.ActionBuy, Symbol: "BTC", Quantity: -1},
		{Action: models.ActionSell, Symbol: "DOGE", Quantity: 1},
	} {
		res := sb.Execute(context.Background(), "a1", &fakeStrategy{decision: d}, view(), models.AgentView{})
		require.NotNil(t, res.Fault, "decision %+v should fault", d)
		assert.Equal(t, FaultMalformed, res.Fault.Kind)
		assert.Equal(t, models.ActionHold, res.Decision.Action)
	}
}

func TestSixthOrderInWindowIsThrottled(t *testing.T) {
	sb := newSandbox(time.Second)
	strat := &fakeStrategy{decision: models.Decision{Action: models.ActionBuy, Symbol: "BTC", Quantity: 0.1}}

	for i := 0; i < 5; i++ {
		res := sb.Execute(context.Background(), "a1", strat, view(), models.AgentView{})
		require.Nil(t, res.Fault)
		require.False(t, res.Throttled, "order %d should pass", i+1)
	}

	res := sb.Execute(context.Background(), "a1", strat, view(), models.AgentView{})
	assert.Nil(t, res.Fault) // throttling is not a fault
	assert.True(t, res.Throttled)
	assert.Equal(t, models.ActionHold, res.Decision.Action)

	// A different agent still has a full budget.
	res = sb.Execute(context.Background(), "a2", strat, view(), models.AgentView{})
	assert.False(t, res.Throttled)
}

func TestConcurrentExecutionSameAgentForbidden(t *testing.T) {
	sb := newSandbox(time.Second)
	slow := &fakeStrategy{delay: 200 * time.Millisecond, decision: models.Hold()}

	started := make(chan struct{})
	go func() {
		close(started)
		sb.Execute(context.Background(), "a1", slow, view(), models.AgentView{})
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	res := sb.Execute(context.Background(), "a1", &fakeStrategy{decision: models.Hold()}, view(), models.AgentView{})
	require.NotNil(t, res.Fault)
	assert.Equal(t, FaultConcurrent, res.Fault.Kind)
}

func TestUpdateContextTouchesOnlyCustomState(t *testing.T) {
	sb := newSandbox(time.Second)
	a := &models.Agent{
		ID:          "a1",
		Cash:        100000,
		Holdings:    map[string]float64{"BTC": 0.5},
		Strategy:    &fakeStrategy{name: "orig"},
		CustomState: map[string]any{},
	}

	sb.UpdateContext(a, map[string]any{"news_significance": 0.5, "headline": "markets wobble"})

	assert.Equal(t, 0.5, a.CustomState["news_significance"])
	assert.Equal(t, "markets wobble", a.CustomState["headline"])
	assert.Equal(t, 100000.0, a.Cash)
	assert.Equal(t, 0.5, a.Holdings["BTC"])
	assert.Equal(t, "orig", a.Strategy.Name())
}
