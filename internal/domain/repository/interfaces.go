package repository

import (
	"context"
	"time"

	"AlgoArena/internal/domain/models"
)

// MarketStream delivers normalized market ticks from the data collaborator.
type MarketStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.MarketTick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// EventPublisher fans engine events out to observer collaborators.
type EventPublisher interface {
	Publish(ctx context.Context, e *models.Event) error
	Close() error
}

// HistoryStorage appends trade and equity history for offline analysis.
type HistoryStorage interface {
	Init(ctx context.Context) error
	StoreTrade(ctx context.Context, agentID string, t models.TradeRecord) error
	StoreEquity(ctx context.Context, agentID string, ts time.Time, equity float64) error
	Health(ctx context.Context) error
	Close() error
}

// SnapshotStore persists resumable engine state: agent records and trigger
// windows. Loss of window history degrades trigger accuracy but must never
// prevent a restart.
type SnapshotStore interface {
	SaveAgents(ctx context.Context, agents []*models.Agent) error
	LoadAgents(ctx context.Context) ([]*models.Agent, error)
	SaveWindows(ctx context.Context, blob []byte) error
	LoadWindows(ctx context.Context) ([]byte, error)
	Clear(ctx context.Context) error
}

// Metrics records operational metrics.
type Metrics interface {
	RecordTick()
	RecordOrder(side, symbol string)
	RecordSandboxFault(kind string)
	RecordTrigger(kind string)
	RecordRegeneration(outcome string)
	RecordError(kind string)
	RecordEventPublished(topic string)
	RecordAgentEquity(agent string, equity float64)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}

// NopMetrics discards all measurements. Used in tests.
type NopMetrics struct{}

func (NopMetrics) RecordTick()                       {}
func (NopMetrics) RecordOrder(string, string)        {}
func (NopMetrics) RecordSandboxFault(string)         {}
func (NopMetrics) RecordTrigger(string)              {}
func (NopMetrics) RecordRegeneration(string)         {}
func (NopMetrics) RecordError(string)                {}
func (NopMetrics) RecordEventPublished(string)       {}
func (NopMetrics) RecordAgentEquity(string, float64) {}
func (NopMetrics) RecordLastPrice(string, float64)   {}
func (NopMetrics) RecordLatency(string, float64)     {}
