package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"AlgoArena/internal/domain/models"
	"AlgoArena/pkg/logger"
)

// LogEventPublisher writes events to the structured log. It is the default
// publisher when Kafka is disabled so single-node runs still have a visible
// event stream.
type LogEventPublisher struct {
	log *logger.Logger
}

func NewLogEventPublisher(log *logger.Logger) *LogEventPublisher {
	return &LogEventPublisher{log: log}
}

func (p *LogEventPublisher) Publish(_ context.Context, e *models.Event) error {
	p.log.Debug("event",
		logger.String("type", string(e.Type)),
		logger.String("agent", e.AgentID))
	return nil
}

func (p *LogEventPublisher) Close() error { return nil }

// NopHistoryStorage discards history. Used when ClickHouse is disabled.
type NopHistoryStorage struct{}

func (NopHistoryStorage) Init(context.Context) error                                   { return nil }
func (NopHistoryStorage) StoreTrade(context.Context, string, models.TradeRecord) error { return nil }
func (NopHistoryStorage) StoreEquity(context.Context, string, time.Time, float64) error {
	return nil
}
func (NopHistoryStorage) Health(context.Context) error { return nil }
func (NopHistoryStorage) Close() error                 { return nil }

// MemorySnapshotStore keeps snapshots in process memory. State does not
// survive a restart; it exists so the snapshot loop has a real store when
// Redis is disabled.
type MemorySnapshotStore struct {
	mu      sync.Mutex
	agents  []byte
	windows []byte
}

func NewMemorySnapshotStore() *MemorySnapshotStore { return &MemorySnapshotStore{} }

func (m *MemorySnapshotStore) SaveAgents(_ context.Context, agents []*models.Agent) error {
	raw, err := json.Marshal(agents)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.agents = raw
	m.mu.Unlock()
	return nil
}

func (m *MemorySnapshotStore) LoadAgents(context.Context) ([]*models.Agent, error) {
	m.mu.Lock()
	raw := m.agents
	m.mu.Unlock()
	if raw == nil {
		return nil, nil
	}
	var agents []*models.Agent
	if err := json.Unmarshal(raw, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

func (m *MemorySnapshotStore) SaveWindows(_ context.Context, blob []byte) error {
	m.mu.Lock()
	m.windows = append([]byte(nil), blob...)
	m.mu.Unlock()
	return nil
}

func (m *MemorySnapshotStore) LoadWindows(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windows, nil
}

func (m *MemorySnapshotStore) Clear(context.Context) error {
	m.mu.Lock()
	m.agents, m.windows = nil, nil
	m.mu.Unlock()
	return nil
}
