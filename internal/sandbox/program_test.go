package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlgoArena/internal/domain/models"
)

const sampleSource = `{
  "name": "obi_momentum",
  "cooldown_sec": 60,
  "risk_fraction": 0.05,
  "stop_loss_pct": -5,
  "take_profit_pct": 3,
  "entry_threshold": 5,
  "rules": [
    {"signal": "obi_weighted", "op": "gt", "value": 0.1, "weight": 5},
    {"signal": "ofi", "op": "gt", "value": 30, "weight": 4},
    {"signal": "sma_gap", "window": 20, "op": "lt", "value": 0, "weight": 3}
  ]
}`

func testValidator() *Validator { return NewValidator(32, 200) }

func compile(t *testing.T, src string) *Program {
	t.Helper()
	p, err := Compile(src, testValidator())
	require.NoError(t, err)
	return p
}

func TestCompileValidSource(t *testing.T) {
	p := compile(t, sampleSource)
	assert.Equal(t, "obi_momentum", p.Name())
}

func TestValidatorRejections(t *testing.T) {
	cases := map[string]string{
		"empty":              ``,
		"bad json":           `{"name": "x",`,
		"unknown field":      `{"name":"x","risk_fraction":0.1,"rules":[{"signal":"price","op":"gt","value":1,"weight":1}],"callback_url":"x"}`,
		"disallowed signal":  `{"name":"x","risk_fraction":0.1,"rules":[{"signal":"shell","op":"gt","value":1,"weight":1}]}`,
		"disallowed op":      `{"name":"x","risk_fraction":0.1,"rules":[{"signal":"price","op":"matches","value":1,"weight":1}]}`,
		"capability token":   `{"name":"x","risk_fraction":0.1,"rules":[{"signal":"price","op":"gt","value":1,"weight":1}],"note":"exec"}`,
		"no rules":           `{"name":"x","risk_fraction":0.1,"rules":[]}`,
		"risk too high":      `{"name":"x","risk_fraction":0.9,"rules":[{"signal":"price","op":"gt","value":1,"weight":1}]}`,
		"positive stop loss": `{"name":"x","risk_fraction":0.1,"stop_loss_pct":5,"rules":[{"signal":"price","op":"gt","value":1,"weight":1}]}`,
	}
	for name, src := range cases {
		_, err := Compile(src, testValidator())
		require.Error(t, err, name)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, name)
	}
}

func TestProgramEntersOnScore(t *testing.T) {
	p := compile(t, sampleSource)

	market := models.MarketView{
		TimeMs: 1_000_000,
		Symbols: map[string]models.SymbolView{
			"BTC": {
				Price:   50000,
				History: []float64{50500, 50400, 50300},
				Signals: map[string]float64{"obi_weighted": 0.4, "ofi": 120},
			},
			"ETH": {
				Price:   3000,
				Signals: map[string]float64{"obi_weighted": 0.0, "ofi": -10},
			},
		},
	}
	agent := models.AgentView{Cash: 100000, Holdings: map[string]float64{}}

	d, err := p.Run(market, agent)
	require.NoError(t, err)
	assert.Equal(t, models.ActionBuy, d.Action)
	assert.Equal(t, "BTC", d.Symbol)
	// 5% of cash at 50000.
	assert.InDelta(t, 0.1, d.Quantity, 1e-9)
}

func TestProgramHoldsBelowThreshold(t *testing.T) {
	p := compile(t, sampleSource)

	market := models.MarketView{
		Symbols: map[string]models.SymbolView{
			"BTC": {Price: 50000, Signals: map[string]float64{"obi_weighted": 0.0, "ofi": 0}},
		},
	}
	d, err := p.Run(market, models.AgentView{Cash: 100000, Holdings: map[string]float64{}})
	require.NoError(t, err)
	assert.Equal(t, models.ActionHold, d.Action)
}

func TestProgramTakesProfit(t *testing.T) {
	p := compile(t, sampleSource)

	market := models.MarketView{
		Symbols: map[string]models.SymbolView{
			"BTC": {Price: 52000, Signals: map[string]float64{}},
		},
	}
	agent := models.AgentView{
		Cash:        50000,
		Holdings:    map[string]float64{"BTC": 0.5},
		EntryPrices: map[string]float64{"BTC": 50000}, // +4% > +3% target
	}
	d, err := p.Run(market, agent)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSell, d.Action)
	assert.Equal(t, "BTC", d.Symbol)
	assert.Equal(t, 0.5, d.Quantity)
}

func TestProgramStopsLoss(t *testing.T) {
	p := compile(t, sampleSource)

	market := models.MarketView{
		Symbols: map[string]models.SymbolView{
			"BTC": {Price: 47000, Signals: map[string]float64{}},
		},
	}
	agent := models.AgentView{
		Cash:        50000,
		Holdings:    map[string]float64{"BTC": 0.5},
		EntryPrices: map[string]float64{"BTC": 50000}, // -6% < -5% stop
	}
	d, err := p.Run(market, agent)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSell, d.Action)
}

func TestProgramCooldownHolds(t *testing.T) {
	p := compile(t, sampleSource)

	market := models.MarketView{
		TimeMs: 1_000_000,
		Symbols: map[string]models.SymbolView{
			"BTC": {Price: 50000, Signals: map[string]float64{"obi_weighted": 0.4, "ofi": 120}},
		},
	}
	agent := models.AgentView{
		Cash:     100000,
		Holdings: map[string]float64{},
		TradeHistory: []models.TradeRecord{
			{Action: "BUY", Symbol: "BTC", Timestamp: 990_000}, // 10s ago < 60s cooldown
		},
	}
	d, err := p.Run(market, agent)
	require.NoError(t, err)
	assert.Equal(t, models.ActionHold, d.Action)
}
