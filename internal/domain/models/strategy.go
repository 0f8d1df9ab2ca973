package models

// Action is a trading decision verb.
type Action string

const (
	ActionHold Action = "HOLD"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Decision is the result of one strategy execution.
type Decision struct {
	Action   Action
	Symbol   string
	Quantity float64
}

// Hold is the neutral decision every fault maps to.
func Hold() Decision { return Decision{Action: ActionHold} }

// SymbolView is the read-only per-symbol market data handed to a strategy.
type SymbolView struct {
	Price   float64
	Volume  float64
	High    float64
	Low     float64
	History []float64 // recent close prices, oldest first
	Signals map[string]float64
}

// MarketView is the read-only market snapshot handed to a strategy. The
// sandbox builds it fresh per execution; strategies must treat it as
// immutable and get no other ambient capability.
type MarketView struct {
	Tick    int64 // monotonically increasing tick counter
	TimeMs  int64 // snapshot timestamp, unix ms
	Symbols map[string]SymbolView
}

// PositionPnL describes the unrealized result of one open position.
type PositionPnL struct {
	PnLPercent   float64
	PnLValue     float64
	EntryPrice   float64
	CurrentPrice float64
}

// AgentView is the read-only slice of agent state visible to a strategy.
type AgentView struct {
	Cash         float64
	Holdings     map[string]float64
	EntryPrices  map[string]float64
	PnL          map[string]PositionPnL
	Custom       map[string]any
	TradeHistory []TradeRecord
}

// Strategy is the opaque, capability-restricted callable produced by
// compiling externally generated strategy source. Implementations must be
// pure with respect to the views: they may only read them and return a
// decision.
type Strategy interface {
	Name() string
	Run(market MarketView, agent AgentView) (Decision, error)
}
