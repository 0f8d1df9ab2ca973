package models

import "time"

// OrderSide distinguishes buys from sells.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Order is an order request produced by a strategy decision, prior to the
// fee/slippage model being applied.
type Order struct {
	ID       string    `json:"id"`
	AgentID  string    `json:"agent_id"`
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Quantity float64   `json:"quantity"`
	TickTime time.Time `json:"tick_time"`
}

// Reset modes accepted by the admin API.
const (
	ResetSoft = "soft"
	ResetHard = "hard"
)

// ResetRequest selects which reset the operator wants. Soft restores
// books and keeps strategies; hard wipes everything.
type ResetRequest struct {
	Mode string `json:"mode" validate:"required,oneof=soft hard"`
}

// RegenRequest is one queued regeneration job for an agent whose strategy
// tripped a hard trigger.
type RegenRequest struct {
	JobID       string    `json:"job_id"`
	AgentID     string    `json:"agent_id"`
	Reason      string    `json:"reason"`
	Critique    string    `json:"critique,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
