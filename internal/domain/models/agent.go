package models

import "time"

// AgentState is the lifecycle state of a trading agent.
type AgentState string

const (
	StatePendingDeploy AgentState = "PENDING_DEPLOY"
	StateActive        AgentState = "ACTIVE"
	StateRegenerating  AgentState = "REGENERATING"
	StateHalted        AgentState = "HALTED"
)

// TradeRecord is one executed order kept in the agent's bounded history.
type TradeRecord struct {
	Action    string  `json:"action"`
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	Fee       float64 `json:"fee"`
	Timestamp int64   `json:"timestamp"` // unix ms
}

// MaxTradeHistory bounds the per-agent trade log.
const MaxTradeHistory = 100

// Agent is the full mutable record of one trading agent. All mutation goes
// through the registry, which serializes writers per agent id.
type Agent struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"` // model id that generated the current strategy

	Strategy    Strategy  `json:"-"`
	Source      string    `json:"source"` // raw strategy source behind Strategy
	GeneratedAt time.Time `json:"generated_at"`

	Cash        float64            `json:"cash"`
	Holdings    map[string]float64 `json:"holdings"`
	EntryPrices map[string]float64 `json:"entry_prices"`

	TradeHistory []TradeRecord `json:"trade_history"`

	Equity     float64 `json:"equity"`
	EquityPeak float64 `json:"equity_peak"`
	ROI        float64 `json:"roi"` // percent against starting cash
	TotalFees  float64 `json:"total_fees"`
	CashedOut  float64 `json:"cashed_out"`

	TradesCount int `json:"trades_count"`
	Wins        int `json:"wins"`

	CustomState map[string]any `json:"custom_state"`

	State      AgentState `json:"state"`
	FaultCount int        `json:"fault_count"`
}

// ComputeEquity returns cash plus the marked-to-market value of holdings.
func (a *Agent) ComputeEquity(prices map[string]float64) float64 {
	equity := a.Cash
	for sym, qty := range a.Holdings {
		equity += qty * prices[sym]
	}
	return equity
}

// WinRate returns the win percentage over all counted trades.
func (a *Agent) WinRate() float64 {
	if a.TradesCount == 0 {
		return 0
	}
	return float64(a.Wins) / float64(a.TradesCount) * 100
}

// Clone returns a deep copy safe for readers while writers keep mutating the
// original under the registry lock. The strategy handle is shared by design:
// it is immutable once compiled and only replaced wholesale via Swap.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Holdings = copyFloats(a.Holdings)
	cp.EntryPrices = copyFloats(a.EntryPrices)
	cp.TradeHistory = append([]TradeRecord(nil), a.TradeHistory...)
	cp.CustomState = copyAny(a.CustomState)
	return &cp
}

func copyFloats(m map[string]float64) map[string]float64 {
	cp := make(map[string]float64, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func copyAny(m map[string]any) map[string]any {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
