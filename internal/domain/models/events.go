package models

import "time"

// EventType names one kind of record on the observer event stream.
type EventType string

const (
	EventTickSnapshot  EventType = "tick_snapshot"
	EventTrade         EventType = "trade_executed"
	EventLeaderboard   EventType = "leaderboard"
	EventEmergencyStop EventType = "emergency_stop"
	EventCashout       EventType = "agent_cashout"
	EventContextUpdate EventType = "context_update"
	EventRegenStarted  EventType = "regen_started"
	EventRegenSuccess  EventType = "regen_success"
	EventRegenFailure  EventType = "regen_failure"
	EventAgentHalted   EventType = "agent_halted"
	EventAgentDeployed EventType = "agent_deployed"
)

// Event is one record on the stream exposed to observer collaborators.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// LeaderboardEntry is one row of the per-tick leaderboard delta.
type LeaderboardEntry struct {
	AgentID      string  `json:"agent_id"`
	Name         string  `json:"name"`
	Equity       float64 `json:"equity"`
	ROI          float64 `json:"roi"`
	Cash         float64 `json:"cash"`
	TotalFees    float64 `json:"total_fees"`
	CashedOut    float64 `json:"cashed_out"`
	Trades       int     `json:"trades"`
	WinRate      float64 `json:"win_rate"`
	State        string  `json:"state"`
	LastDecision string  `json:"last_decision"`
}

// TradePayload is the payload of an EventTrade record.
type TradePayload struct {
	AgentID  string  `json:"agent_id"`
	Action   string  `json:"action"`
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Fee      float64 `json:"fee"`
}

// TickPayload is the payload of an EventTickSnapshot record.
type TickPayload struct {
	Timestamp int64              `json:"timestamp"`
	Prices    map[string]float64 `json:"prices"`
}
