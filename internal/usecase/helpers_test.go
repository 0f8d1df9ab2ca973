package usecase

import (
	"context"
	"sync"
	"time"

	"AlgoArena/internal/domain/models"
	drepo "AlgoArena/internal/domain/repository"
	"AlgoArena/internal/registry"
	"AlgoArena/internal/sandbox"
	"AlgoArena/internal/trigger"
	"AlgoArena/pkg/logger"
)

// stubStrategy returns a scripted sequence of decisions, then holds.
type stubStrategy struct {
	mu    sync.Mutex
	plan  []models.Decision
	calls int
	err   error
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) Run(models.MarketView, models.AgentView) (models.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return models.Decision{}, s.err
	}
	if len(s.plan) == 0 {
		return models.Hold(), nil
	}
	d := s.plan[0]
	s.plan = s.plan[1:]
	return d, nil
}

func (s *stubStrategy) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeStream satisfies the market stream interface without any transport.
type fakeStream struct {
	ticks chan *models.MarketTick
	errs  chan error
}

func newFakeStream() *fakeStream {
	return &fakeStream{ticks: make(chan *models.MarketTick, 8), errs: make(chan error, 1)}
}

func (f *fakeStream) Connect(context.Context) error { return nil }
func (f *fakeStream) Read(context.Context) (<-chan *models.MarketTick, <-chan error) {
	return f.ticks, f.errs
}
func (f *fakeStream) Reconnect(context.Context) error { return nil }
func (f *fakeStream) Close() error                    { return nil }
func (f *fakeStream) IsConnected() bool               { return true }

// capturePublisher records published events.
type capturePublisher struct {
	mu     sync.Mutex
	events []*models.Event
}

func (p *capturePublisher) Publish(_ context.Context, e *models.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) byType(t models.EventType) []*models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// nopHistory discards trade and equity history.
type nopHistory struct{}

func (nopHistory) Init(context.Context) error { return nil }
func (nopHistory) StoreTrade(context.Context, string, models.TradeRecord) error {
	return nil
}
func (nopHistory) StoreEquity(context.Context, string, time.Time, float64) error {
	return nil
}
func (nopHistory) Health(context.Context) error { return nil }
func (nopHistory) Close() error                 { return nil }

// captureQueue records enqueued regeneration requests.
type captureQueue struct {
	mu   sync.Mutex
	reqs []models.RegenRequest
}

func (q *captureQueue) Enqueue(_ context.Context, req models.RegenRequest) error {
	q.mu.Lock()
	q.reqs = append(q.reqs, req)
	q.mu.Unlock()
	return nil
}

func (q *captureQueue) requests() []models.RegenRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.RegenRequest(nil), q.reqs...)
}

// stubNews serves a fixed significance score.
type stubNews struct {
	score float64
	items []models.NewsItem
}

func (n *stubNews) Latest() []models.NewsItem { return n.items }
func (n *stubNews) LatestScore() float64      { return n.score }

type engineFixture struct {
	engine  *TickEngine
	reg     *registry.Registry
	box     *sandbox.Sandbox
	stream  *fakeStream
	events  *capturePublisher
	queue   *captureQueue
	windows *trigger.Store
}

func defaultEngineConfig() TickEngineConfig {
	return TickEngineConfig{
		Symbols:        []string{"BTC", "ETH"},
		Benchmark:      "BTC",
		TickInterval:   3 * time.Second,
		StartingCash:   100000,
		FeeRate:        0.00075,
		SlippageMinBps: 0,
		SlippageMaxBps: 0,
		MaxLeverage:    4,
		CashoutROI:     0.5,
		EmergencyStop:  0.02,
		MaxHistoryView: 200,
		FaultBudget:    3,
	}
}

func newEngineFixture(cfg TickEngineConfig) *engineFixture {
	reg := registry.New()
	box := sandbox.New(sandbox.Config{
		ExecBudget:  250 * time.Millisecond,
		OrderLimit:  100,
		OrderWindow: time.Minute,
	}, logger.Nop())
	stream := newFakeStream()
	events := &capturePublisher{}
	q := &captureQueue{}
	windows := trigger.NewStore(5*time.Minute, time.Hour)

	eng := NewTickEngine(cfg, reg, box, stream, events, nopHistory{}, windows, q, drepo.NopMetrics{}, logger.Nop())
	return &engineFixture{engine: eng, reg: reg, box: box, stream: stream, events: events, queue: q, windows: windows}
}

func testAgent(id string, strat models.Strategy, cash float64) *models.Agent {
	return &models.Agent{
		ID:          id,
		Name:        "Agent " + id,
		Model:       "test/model",
		Strategy:    strat,
		Source:      "{}",
		Cash:        cash,
		Holdings:    map[string]float64{},
		EntryPrices: map[string]float64{},
		Equity:      cash,
		EquityPeak:  cash,
		State:       models.StateActive,
	}
}

func marketTick(ts time.Time, prices map[string]float64) *models.MarketTick {
	symbols := make(map[string]models.SymbolTick, len(prices))
	for sym, p := range prices {
		symbols[sym] = models.SymbolTick{
			Symbol: sym,
			Price:  p,
			Volume: 100,
			High:   p * 1.001,
			Low:    p * 0.999,
		}
	}
	return &models.MarketTick{Timestamp: ts, Symbols: symbols}
}

// feedTick injects a snapshot as the engine's latest market state.
func (f *engineFixture) feedTick(mt *models.MarketTick) {
	f.engine.latestMu.Lock()
	f.engine.latest = mt
	f.engine.latestMu.Unlock()
}
