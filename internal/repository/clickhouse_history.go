package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"AlgoArena/internal/domain/models"
	pkgch "AlgoArena/pkg/clickhouse"
	"AlgoArena/pkg/logger"
)

// CHHistoryStorage appends per-agent trade and equity history to ClickHouse
// for offline analysis. Writes are best effort; the engine treats failures
// as metrics, not faults.
type CHHistoryStorage struct {
	db  *sql.DB
	ch  *pkgch.Client
	log *logger.Logger
}

func NewCHHistoryStorage(ch *pkgch.Client, log *logger.Logger) *CHHistoryStorage {
	return &CHHistoryStorage{db: ch.DB(), ch: ch, log: log}
}

var historySchema = []string{
	`CREATE TABLE IF NOT EXISTS agent_trades (
		ts        DateTime64(3),
		agent_id  String,
		action    LowCardinality(String),
		symbol    LowCardinality(String),
		quantity  Float64,
		price     Float64,
		fee       Float64
	) ENGINE = MergeTree()
	ORDER BY (agent_id, ts)`,

	`CREATE TABLE IF NOT EXISTS agent_equity (
		ts       DateTime64(3),
		agent_id String,
		equity   Float64
	) ENGINE = MergeTree()
	ORDER BY (agent_id, ts)`,
}

// Init creates the history tables.
func (s *CHHistoryStorage) Init(ctx context.Context) error {
	if err := s.ch.InitSchema(ctx, historySchema); err != nil {
		return fmt.Errorf("history schema: %w", err)
	}
	s.log.Info("history storage ready")
	return nil
}

// StoreTrade appends one executed trade.
func (s *CHHistoryStorage) StoreTrade(ctx context.Context, agentID string, t models.TradeRecord) error {
	const q = `INSERT INTO agent_trades (ts, agent_id, action, symbol, quantity, price, fee) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		time.UnixMilli(t.Timestamp), agentID, t.Action, t.Symbol, t.Quantity, t.Price, t.Fee)
	if err != nil {
		return fmt.Errorf("store trade: %w", err)
	}
	return nil
}

// StoreEquity appends one equity sample.
func (s *CHHistoryStorage) StoreEquity(ctx context.Context, agentID string, ts time.Time, equity float64) error {
	const q = `INSERT INTO agent_equity (ts, agent_id, equity) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, ts, agentID, equity); err != nil {
		return fmt.Errorf("store equity: %w", err)
	}
	return nil
}

// Health pings the pool.
func (s *CHHistoryStorage) Health(ctx context.Context) error { return s.ch.Health(ctx) }

// Close closes the pool.
func (s *CHHistoryStorage) Close() error { return s.ch.Close() }
