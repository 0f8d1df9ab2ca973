package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlgoArena/internal/domain/models"
)

type stubStrategy struct{ name string }

func (s stubStrategy) Name() string { return s.name }
func (s stubStrategy) Run(models.MarketView, models.AgentView) (models.Decision, error) {
	return models.Hold(), nil
}

func newAgent(id string) *models.Agent {
	return &models.Agent{
		ID:          id,
		Name:        id,
		Cash:        100000,
		Holdings:    map[string]float64{},
		EntryPrices: map[string]float64{},
		CustomState: map[string]any{},
		State:       models.StateActive,
		Strategy:    stubStrategy{name: "initial"},
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newAgent("a1")))
	assert.Error(t, r.Register(newAgent("a1")))
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newAgent("a1")))

	snap, ok := r.Snapshot("a1")
	require.True(t, ok)
	snap.Holdings["BTC"] = 1.0
	snap.CustomState["k"] = "v"

	fresh, _ := r.Snapshot("a1")
	assert.Empty(t, fresh.Holdings)
	assert.Empty(t, fresh.CustomState)
}

func TestConcurrentSwapsAreLinearizable(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newAgent("a1")))

	a := stubStrategy{name: "alpha"}
	b := stubStrategy{name: "beta"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Swap("a1", a, "source-alpha", "model-a")
		}()
		go func() {
			defer wg.Done()
			_ = r.Swap("a1", b, "source-beta", "model-b")
		}()
	}
	wg.Wait()

	snap, ok := r.Snapshot("a1")
	require.True(t, ok)
	// Final state reflects exactly one of the two writes, never a hybrid.
	switch snap.Strategy.Name() {
	case "alpha":
		assert.Equal(t, "source-alpha", snap.Source)
		assert.Equal(t, "model-a", snap.Model)
	case "beta":
		assert.Equal(t, "source-beta", snap.Source)
		assert.Equal(t, "model-b", snap.Model)
	default:
		t.Fatalf("unexpected strategy %q", snap.Strategy.Name())
	}
}

func TestUpdatesSerializePerAgent(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newAgent("a1")))

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Update("a1", func(a *models.Agent) error {
				a.Cash += 1
				return nil
			})
		}()
	}
	wg.Wait()

	snap, _ := r.Snapshot("a1")
	assert.InDelta(t, 100200.0, snap.Cash, 1e-9)
}

func TestAppendTradeBoundsHistory(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newAgent("a1")))

	for i := 0; i < models.MaxTradeHistory+25; i++ {
		require.NoError(t, r.AppendTrade("a1", models.TradeRecord{Action: "BUY", Symbol: "BTC"}))
	}
	snap, _ := r.Snapshot("a1")
	assert.Len(t, snap.TradeHistory, models.MaxTradeHistory)
	assert.Equal(t, models.MaxTradeHistory+25, snap.TradesCount)
}

func TestRecordFault(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newAgent("a1")))

	n, err := r.RecordFault("a1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, _ = r.RecordFault("a1")
	assert.Equal(t, 2, n)
}
