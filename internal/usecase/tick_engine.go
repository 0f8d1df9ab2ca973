package usecase

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"AlgoArena/internal/domain/models"
	drepo "AlgoArena/internal/domain/repository"
	dservice "AlgoArena/internal/domain/service"
	"AlgoArena/internal/registry"
	"AlgoArena/internal/sandbox"
	"AlgoArena/internal/trigger"
	"AlgoArena/pkg/logger"
)

// TickEngineConfig bounds the simulated market the engine runs.
type TickEngineConfig struct {
	Symbols        []string
	Benchmark      string
	TickInterval   time.Duration
	StartingCash   float64
	FeeRate        float64
	SlippageMinBps float64
	SlippageMaxBps float64
	MaxLeverage    float64
	CashoutROI     float64 // percent of starting cash
	EmergencyStop  float64 // fractional fall from equity peak
	MaxHistoryView int
	FaultBudget    int
}

// TickEngine drives the trading loop: on each tick it snapshots the market,
// executes every active agent's strategy in the sandbox, applies the
// resulting orders under the fee and slippage model, and emits observer
// events. Faults never stop the loop; a faulting agent holds.
type TickEngine struct {
	cfg     TickEngineConfig
	reg     *registry.Registry
	box     *sandbox.Sandbox
	stream  drepo.MarketStream
	events  drepo.EventPublisher
	history drepo.HistoryStorage
	windows *trigger.Store
	queue   dservice.RegenQueue
	metrics drepo.Metrics
	log     *logger.Logger

	rng  *rand.Rand
	tick atomic.Int64

	paused atomic.Bool

	// latest market snapshot from the stream goroutine.
	latestMu sync.RWMutex
	latest   *models.MarketTick

	// close-price history per symbol, owned by the loop goroutine.
	closes map[string][]float64

	decMu         sync.RWMutex
	lastDecisions map[string]string

	cancel context.CancelFunc
	done   chan struct{}
}

func NewTickEngine(
	cfg TickEngineConfig,
	reg *registry.Registry,
	box *sandbox.Sandbox,
	stream drepo.MarketStream,
	events drepo.EventPublisher,
	history drepo.HistoryStorage,
	windows *trigger.Store,
	queue dservice.RegenQueue,
	metrics drepo.Metrics,
	log *logger.Logger,
) *TickEngine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 3 * time.Second
	}
	if cfg.MaxHistoryView <= 0 {
		cfg.MaxHistoryView = 200
	}
	if cfg.FaultBudget <= 0 {
		cfg.FaultBudget = 3
	}
	return &TickEngine{
		cfg:           cfg,
		reg:           reg,
		box:           box,
		stream:        stream,
		events:        events,
		history:       history,
		windows:       windows,
		queue:         queue,
		metrics:       metrics,
		log:           log,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		closes:        make(map[string][]float64),
		lastDecisions: make(map[string]string),
	}
}

// Start connects the market stream and launches the tick loop.
func (e *TickEngine) Start(ctx context.Context) error {
	if err := e.stream.Connect(ctx); err != nil {
		return fmt.Errorf("connect market stream: %w", err)
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	tickCh, errCh := e.stream.Read(ctx)
	go e.consume(ctx, tickCh, errCh)
	go e.loop(ctx)
	return nil
}

// Stop halts the loop and closes the stream.
func (e *TickEngine) Stop() error {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
	return e.stream.Close()
}

// Pause suspends trading without tearing down the stream.
func (e *TickEngine) Pause() { e.paused.Store(true) }

// Resume re-enables trading.
func (e *TickEngine) Resume() { e.paused.Store(false) }

// Running reports whether the loop is trading.
func (e *TickEngine) Running() bool { return !e.paused.Load() }

// Tick returns the current tick counter.
func (e *TickEngine) Tick() int64 { return e.tick.Load() }

func (e *TickEngine) consume(ctx context.Context, tickCh <-chan *models.MarketTick, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				e.metrics.RecordError("stream")
				e.log.Warn("market stream error, reconnecting", logger.Error(err))
				_ = e.stream.Reconnect(ctx)
			}
		case mt := <-tickCh:
			if mt == nil {
				continue
			}
			e.latestMu.Lock()
			e.latest = mt
			e.latestMu.Unlock()
		}
	}
}

func (e *TickEngine) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.paused.Load() {
				continue
			}
			e.runTick(ctx)
		}
	}
}

// runTick executes one full engine tick against the latest market snapshot.
func (e *TickEngine) runTick(ctx context.Context) {
	start := time.Now()

	mt := e.snapshotMarket()
	if mt == nil {
		e.metrics.RecordError("data_stale")
		e.log.Warn("no usable market snapshot, skipping tick")
		return
	}

	n := e.tick.Add(1)
	e.metrics.RecordTick()

	e.recordMarket(mt)
	market := e.buildMarketView(n, mt)

	agents := e.reg.SnapshotAll()
	results := e.executeAll(ctx, agents, market)

	for _, a := range agents {
		switch a.State {
		case models.StateActive:
			e.applyResult(ctx, a.ID, results[a.ID], mt)
		case models.StateRegenerating:
			// Forced HOLD while a new strategy is being generated; the
			// portfolio stays marked to market below.
		default:
			continue
		}
		e.settle(ctx, a.ID, mt)
	}

	e.publishTickEvents(ctx, mt)
	e.metrics.RecordLatency("tick", time.Since(start).Seconds())
}

// snapshotMarket returns the latest stream snapshot, or nil when it is
// missing or too stale to trade on.
func (e *TickEngine) snapshotMarket() *models.MarketTick {
	e.latestMu.RLock()
	mt := e.latest
	e.latestMu.RUnlock()
	if mt == nil {
		return nil
	}
	if time.Since(mt.Timestamp) > 3*e.cfg.TickInterval {
		return nil
	}
	return mt
}

func (e *TickEngine) recordMarket(mt *models.MarketTick) {
	for sym, st := range mt.Symbols {
		if st.Price <= 0 {
			continue
		}
		h := append(e.closes[sym], st.Price)
		if len(h) > e.cfg.MaxHistoryView {
			h = h[len(h)-e.cfg.MaxHistoryView:]
		}
		e.closes[sym] = h
		e.metrics.RecordLastPrice(sym, st.Price)
	}
	if st, ok := mt.Symbols[e.cfg.Benchmark]; ok {
		e.windows.AddMarket(mt.Timestamp, st.High, st.Low, st.Volume)
	}
}

func (e *TickEngine) buildMarketView(tick int64, mt *models.MarketTick) models.MarketView {
	symbols := make(map[string]models.SymbolView, len(mt.Symbols))
	for sym, st := range mt.Symbols {
		if st.Price <= 0 {
			continue
		}
		symbols[sym] = models.SymbolView{
			Price:   st.Price,
			Volume:  st.Volume,
			High:    st.High,
			Low:     st.Low,
			History: append([]float64(nil), e.closes[sym]...),
			Signals: st.Signals,
		}
	}
	return models.MarketView{
		Tick:    tick,
		TimeMs:  mt.Timestamp.UnixMilli(),
		Symbols: symbols,
	}
}

// executeAll runs every active agent's strategy in parallel and collects the
// sandbox results by agent id.
func (e *TickEngine) executeAll(ctx context.Context, agents []*models.Agent, market models.MarketView) map[string]sandbox.Result {
	results := make(map[string]sandbox.Result, len(agents))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, a := range agents {
		if a.State != models.StateActive {
			continue
		}
		wg.Add(1)
		go func(a *models.Agent) {
			defer wg.Done()
			res := e.box.Execute(ctx, a.ID, a.Strategy, market, agentView(a, market))
			mu.Lock()
			results[a.ID] = res
			mu.Unlock()
		}(a)
	}
	wg.Wait()
	return results
}

// agentView builds the read-only slice of agent state a strategy may see.
func agentView(a *models.Agent, market models.MarketView) models.AgentView {
	pnl := make(map[string]models.PositionPnL, len(a.Holdings))
	for sym, qty := range a.Holdings {
		if qty == 0 {
			continue
		}
		sv, ok := market.Symbols[sym]
		entry := a.EntryPrices[sym]
		if !ok || entry <= 0 {
			continue
		}
		value := (sv.Price - entry) * qty
		pnl[sym] = models.PositionPnL{
			PnLPercent:   value / (entry * math.Abs(qty)) * 100,
			PnLValue:     value,
			EntryPrice:   entry,
			CurrentPrice: sv.Price,
		}
	}
	return models.AgentView{
		Cash:         a.Cash,
		Holdings:     a.Holdings,
		EntryPrices:  a.EntryPrices,
		PnL:          pnl,
		Custom:       a.CustomState,
		TradeHistory: a.TradeHistory,
	}
}

// applyResult applies one sandbox result to the agent record: faults are
// counted against the fault budget, valid orders go through the execution
// model.
func (e *TickEngine) applyResult(ctx context.Context, agentID string, res sandbox.Result, mt *models.MarketTick) {
	if res.Fault != nil {
		e.metrics.RecordSandboxFault(string(res.Fault.Kind))
		e.log.Warn("sandbox fault",
			logger.String("agent", agentID),
			logger.String("kind", string(res.Fault.Kind)),
			logger.Error(res.Fault.Err))
		count, err := e.reg.RecordFault(agentID)
		if err == nil && count >= e.cfg.FaultBudget {
			e.escalateFaults(ctx, agentID, count)
		}
		e.setLastDecision(agentID, "HOLD (fault: "+string(res.Fault.Kind)+")")
		return
	}

	d := res.Decision
	switch {
	case res.Throttled:
		e.setLastDecision(agentID, "HOLD (throttled)")
	case d.Action == models.ActionHold:
		e.setLastDecision(agentID, "HOLD")
	default:
		e.executeOrder(ctx, agentID, d, mt)
	}
}

// escalateFaults sends a persistently faulting agent to regeneration.
func (e *TickEngine) escalateFaults(ctx context.Context, agentID string, count int) {
	reason := fmt.Sprintf("fault budget exhausted (%d faults)", count)
	if err := e.reg.SetState(agentID, models.StateRegenerating); err != nil {
		return
	}
	e.log.Warn("agent escalated to regeneration", logger.String("agent", agentID), logger.Int("faults", count))
	req := models.RegenRequest{
		JobID:       uuid.NewString(),
		AgentID:     agentID,
		Reason:      reason,
		RequestedAt: time.Now(),
	}
	if err := e.queue.Enqueue(ctx, req); err != nil {
		e.metrics.RecordError("regen_enqueue")
		e.log.Error("enqueue regeneration", logger.String("agent", agentID), logger.Error(err))
	}
}

// executeOrder runs one vetted decision through the fee, slippage and
// leverage model and mutates the agent under its registry lock.
func (e *TickEngine) executeOrder(ctx context.Context, agentID string, d models.Decision, mt *models.MarketTick) {
	price, ok := mt.Price(d.Symbol)
	if !ok {
		e.metrics.RecordError("order_no_price")
		return
	}
	execPrice := e.slip(price, d.Action)

	var trade *models.TradeRecord
	err := e.reg.Update(agentID, func(a *models.Agent) error {
		t, err := applyOrder(a, d, execPrice, mt, e.cfg)
		if err != nil {
			return err
		}
		trade = t
		return nil
	})
	if err != nil {
		e.metrics.RecordError("order_rejected")
		e.log.Debug("order rejected",
			logger.String("agent", agentID),
			logger.String("symbol", d.Symbol),
			logger.Error(err))
		e.setLastDecision(agentID, "HOLD (rejected)")
		return
	}

	e.metrics.RecordOrder(string(d.Action), d.Symbol)
	e.setLastDecision(agentID, fmt.Sprintf("%s %.4f %s @ %.2f", d.Action, d.Quantity, d.Symbol, execPrice))

	if err := e.history.StoreTrade(ctx, agentID, *trade); err != nil {
		e.metrics.RecordError("store_trade")
	}
	e.publish(ctx, &models.Event{
		Type:    models.EventTrade,
		AgentID: agentID,
		Payload: models.TradePayload{
			AgentID:  agentID,
			Action:   trade.Action,
			Symbol:   trade.Symbol,
			Quantity: trade.Quantity,
			Price:    trade.Price,
			Fee:      trade.Fee,
		},
	})
}

// applyOrder mutates the agent record for one fill. Called under the
// registry's per-agent lock.
func applyOrder(a *models.Agent, d models.Decision, execPrice float64, mt *models.MarketTick, cfg TickEngineConfig) (*models.TradeRecord, error) {
	qty := d.Quantity
	if d.Action == models.ActionSell {
		qty = -qty
	}

	held := a.Holdings[d.Symbol]
	newQty := held + qty

	// Leverage check on the post-fill gross exposure.
	prices := mt.Prices()
	gross := 0.0
	for sym, q := range a.Holdings {
		if sym == d.Symbol {
			continue
		}
		gross += math.Abs(q) * prices[sym]
	}
	gross += math.Abs(newQty) * execPrice
	equity := a.ComputeEquity(prices)
	if equity <= 0 {
		return nil, fmt.Errorf("no equity")
	}
	if gross > equity*cfg.MaxLeverage {
		return nil, fmt.Errorf("exposure %.2f exceeds %gx leverage on equity %.2f", gross, cfg.MaxLeverage, equity)
	}

	notional := math.Abs(qty) * execPrice
	fee := notional * cfg.FeeRate

	// Cash moves by the signed notional; fees always debit.
	a.Cash -= qty*execPrice + fee
	a.TotalFees += fee

	entry := a.EntryPrices[d.Symbol]
	switch {
	case held == 0 || sameSign(held, qty):
		// Opening or adding: weighted average entry.
		a.EntryPrices[d.Symbol] = (entry*math.Abs(held) + execPrice*math.Abs(qty)) / math.Abs(newQty)
	case sameSign(held, newQty):
		// Partial close: entry unchanged, realized result counts.
		if realized(held, entry, execPrice) > 0 {
			a.Wins++
		}
	default:
		// Flat or flipped through zero.
		if entry > 0 && realized(held, entry, execPrice) > 0 {
			a.Wins++
		}
		if newQty == 0 {
			delete(a.EntryPrices, d.Symbol)
		} else {
			a.EntryPrices[d.Symbol] = execPrice
		}
	}

	if newQty == 0 {
		delete(a.Holdings, d.Symbol)
	} else {
		a.Holdings[d.Symbol] = newQty
	}

	t := models.TradeRecord{
		Action:    string(d.Action),
		Symbol:    d.Symbol,
		Quantity:  d.Quantity,
		Price:     execPrice,
		Fee:       fee,
		Timestamp: mt.Timestamp.UnixMilli(),
	}
	a.TradeHistory = append(a.TradeHistory, t)
	if n := len(a.TradeHistory); n > models.MaxTradeHistory {
		a.TradeHistory = a.TradeHistory[n-models.MaxTradeHistory:]
	}
	a.TradesCount++
	return &t, nil
}

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }

// realized returns the per-unit result of closing against the entry. held's
// sign decides the direction.
func realized(held, entry, exit float64) float64 {
	if held > 0 {
		return exit - entry
	}
	return entry - exit
}

// settle marks the agent to market after orders applied: equity, peak, ROI,
// cash-out and the emergency stop.
func (e *TickEngine) settle(ctx context.Context, agentID string, mt *models.MarketTick) {
	prices := mt.Prices()
	var (
		equity    float64
		cashout   float64
		emergency bool
		reason    string
	)

	err := e.reg.Update(agentID, func(a *models.Agent) error {
		equity = a.ComputeEquity(prices)
		a.Equity = equity
		if equity > a.EquityPeak {
			a.EquityPeak = equity
		}
		a.ROI = (equity + a.CashedOut - e.cfg.StartingCash) / e.cfg.StartingCash * 100

		// Profit sweep: once ROI clears the threshold, excess free cash is
		// locked away so a later blowup cannot touch it.
		if a.State == models.StateActive && a.ROI >= e.cfg.CashoutROI {
			if excess := a.Cash - e.cfg.StartingCash; excess > 0 {
				a.Cash -= excess
				a.CashedOut += excess
				cashout = excess
				equity = a.ComputeEquity(prices)
				a.Equity = equity
				a.EquityPeak = equity
			}
		}

		if a.State == models.StateActive && a.EquityPeak > 0 {
			dd := (a.EquityPeak - a.Equity) / a.EquityPeak
			if dd >= e.cfg.EmergencyStop {
				emergency = true
				reason = fmt.Sprintf("emergency stop: %.2f%% below equity peak", dd*100)
				liquidate(a, prices, e.cfg.FeeRate, mt.Timestamp)
				a.Equity = a.ComputeEquity(prices)
				a.EquityPeak = a.Equity
				a.State = models.StateRegenerating
			}
		}
		return nil
	})
	if err != nil {
		return
	}

	e.metrics.RecordAgentEquity(agentID, equity)
	e.windows.AddEquity(agentID, mt.Timestamp, equity)
	if err := e.history.StoreEquity(ctx, agentID, mt.Timestamp, equity); err != nil {
		e.metrics.RecordError("store_equity")
	}

	if cashout > 0 {
		e.log.Info("profit swept", logger.String("agent", agentID), logger.Float64("amount", cashout))
		e.publish(ctx, &models.Event{
			Type:    models.EventCashout,
			AgentID: agentID,
			Payload: map[string]float64{"amount": cashout},
		})
	}
	if emergency {
		e.log.Warn("emergency stop", logger.String("agent", agentID), logger.String("reason", reason))
		e.publish(ctx, &models.Event{
			Type:    models.EventEmergencyStop,
			AgentID: agentID,
			Payload: map[string]string{"reason": reason},
		})
		req := models.RegenRequest{
			JobID:       uuid.NewString(),
			AgentID:     agentID,
			Reason:      reason,
			RequestedAt: time.Now(),
		}
		if err := e.queue.Enqueue(ctx, req); err != nil {
			e.metrics.RecordError("regen_enqueue")
		}
	}
}

// liquidate closes every position at current prices, fees included. Called
// under the registry's per-agent lock.
func liquidate(a *models.Agent, prices map[string]float64, feeRate float64, ts time.Time) {
	for sym, qty := range a.Holdings {
		price, ok := prices[sym]
		if !ok {
			continue
		}
		notional := math.Abs(qty) * price
		fee := notional * feeRate
		a.Cash += qty*price - fee
		a.TotalFees += fee
		action := models.ActionSell
		if qty < 0 {
			action = models.ActionBuy
		}
		a.TradeHistory = append(a.TradeHistory, models.TradeRecord{
			Action:    string(action),
			Symbol:    sym,
			Quantity:  math.Abs(qty),
			Price:     price,
			Fee:       fee,
			Timestamp: ts.UnixMilli(),
		})
		a.TradesCount++
		delete(a.Holdings, sym)
		delete(a.EntryPrices, sym)
	}
	if n := len(a.TradeHistory); n > models.MaxTradeHistory {
		a.TradeHistory = a.TradeHistory[n-models.MaxTradeHistory:]
	}
}

// slip applies a random adverse slippage inside the configured bps band.
func (e *TickEngine) slip(price float64, action models.Action) float64 {
	span := e.cfg.SlippageMaxBps - e.cfg.SlippageMinBps
	bps := e.cfg.SlippageMinBps
	if span > 0 {
		bps += e.rng.Float64() * span
	}
	if action == models.ActionBuy {
		return price * (1 + bps/10000)
	}
	return price * (1 - bps/10000)
}

func (e *TickEngine) publishTickEvents(ctx context.Context, mt *models.MarketTick) {
	e.publish(ctx, &models.Event{
		Type: models.EventTickSnapshot,
		Payload: models.TickPayload{
			Timestamp: mt.Timestamp.UnixMilli(),
			Prices:    mt.Prices(),
		},
	})
	e.publish(ctx, &models.Event{
		Type:    models.EventLeaderboard,
		Payload: e.Leaderboard(),
	})
}

// Leaderboard returns the ranking of all agents by equity plus swept profit.
func (e *TickEngine) Leaderboard() []models.LeaderboardEntry {
	agents := e.reg.SnapshotAll()
	out := make([]models.LeaderboardEntry, 0, len(agents))
	for _, a := range agents {
		out = append(out, models.LeaderboardEntry{
			AgentID:      a.ID,
			Name:         a.Name,
			Equity:       a.Equity,
			ROI:          a.ROI,
			Cash:         a.Cash,
			TotalFees:    a.TotalFees,
			CashedOut:    a.CashedOut,
			Trades:       a.TradesCount,
			WinRate:      a.WinRate(),
			State:        string(a.State),
			LastDecision: e.lastDecision(a.ID),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Equity+out[i].CashedOut > out[j].Equity+out[j].CashedOut
	})
	return out
}

// SoftReset restores every agent's finances to the starting book while
// keeping its strategy deployed.
func (e *TickEngine) SoftReset(ctx context.Context) {
	for _, id := range e.reg.IDs() {
		_ = e.reg.Update(id, func(a *models.Agent) error {
			a.Cash = e.cfg.StartingCash
			a.Holdings = make(map[string]float64)
			a.EntryPrices = make(map[string]float64)
			a.TradeHistory = nil
			a.Equity = e.cfg.StartingCash
			a.EquityPeak = e.cfg.StartingCash
			a.ROI = 0
			a.TotalFees = 0
			a.CashedOut = 0
			a.TradesCount = 0
			a.Wins = 0
			a.FaultCount = 0
			if a.State != models.StateHalted && a.Strategy != nil {
				a.State = models.StateActive
			}
			return nil
		})
		e.box.ResetBudget(id)
	}
	e.windows.Clear()
	e.decMu.Lock()
	e.lastDecisions = make(map[string]string)
	e.decMu.Unlock()
	e.log.Info("soft reset complete", logger.Int("agents", e.reg.Len()))
}

// HardReset removes every agent and all rolling state. Pending regeneration
// jobs for removed agents are discarded by the consumer when it finds no
// such agent.
func (e *TickEngine) HardReset(ctx context.Context) {
	e.reg.Clear()
	e.windows.Clear()
	e.decMu.Lock()
	e.lastDecisions = make(map[string]string)
	e.decMu.Unlock()
	e.log.Info("hard reset complete")
}

func (e *TickEngine) publish(ctx context.Context, ev *models.Event) {
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now()
	if err := e.events.Publish(ctx, ev); err != nil {
		e.metrics.RecordError("publish")
		return
	}
	e.metrics.RecordEventPublished(string(ev.Type))
}

func (e *TickEngine) setLastDecision(agentID, d string) {
	e.decMu.Lock()
	e.lastDecisions[agentID] = d
	e.decMu.Unlock()
}

func (e *TickEngine) lastDecision(agentID string) string {
	e.decMu.RLock()
	defer e.decMu.RUnlock()
	return e.lastDecisions[agentID]
}
