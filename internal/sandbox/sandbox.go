// Package sandbox executes untrusted, externally generated strategy code
// under a hard time budget with no ambient capability. Any fault (panic,
// error, timeout, malformed result) is trapped here and reported as a value;
// nothing a strategy does can crash a caller.
package sandbox

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"AlgoArena/internal/domain/models"
	"AlgoArena/pkg/logger"
)

// FaultKind classifies a trapped sandbox fault.
type FaultKind string

const (
	FaultError      FaultKind = "error"
	FaultTimeout    FaultKind = "timeout"
	FaultMalformed  FaultKind = "malformed"
	FaultPanic      FaultKind = "panic"
	FaultConcurrent FaultKind = "concurrent"
)

// Fault is the error variant of a sandbox result.
type Fault struct {
	Kind FaultKind
	Err  error
}

func (f *Fault) Error() string { return fmt.Sprintf("sandbox fault (%s): %v", f.Kind, f.Err) }

// Result is the outcome of one sandboxed execution: either a decision or a
// fault, never both. A fault always carries the HOLD decision so callers can
// apply it blindly.
type Result struct {
	Decision  models.Decision
	Fault     *Fault
	Throttled bool // order rejected by the rolling rate limit, mapped to HOLD
}

// Config bounds sandbox executions.
type Config struct {
	ExecBudget  time.Duration
	OrderLimit  int
	OrderWindow time.Duration
}

// Sandbox is the restricted execution environment for strategy handles.
type Sandbox struct {
	cfg     Config
	log     *logger.Logger
	limiter *orderLimiter

	mu       sync.Mutex
	inflight map[string]bool
}

func New(cfg Config, log *logger.Logger) *Sandbox {
	if cfg.ExecBudget <= 0 {
		cfg.ExecBudget = 250 * time.Millisecond
	}
	if cfg.OrderLimit <= 0 {
		cfg.OrderLimit = 5
	}
	if cfg.OrderWindow <= 0 {
		cfg.OrderWindow = time.Minute
	}
	return &Sandbox{
		cfg:      cfg,
		log:      log,
		limiter:  newOrderLimiter(cfg.OrderLimit, cfg.OrderWindow),
		inflight: make(map[string]bool),
	}
}

type runOutcome struct {
	decision models.Decision
	err      error
	panicked any
}

// Execute runs the strategy under the wall-clock budget. Two concurrent
// executions for the same agent are forbidden; the second returns a
// concurrency fault without running. Executions for different agents run in
// parallel freely.
func (s *Sandbox) Execute(ctx context.Context, agentID string, strat models.Strategy, market models.MarketView, agent models.AgentView) Result {
	if strat == nil {
		return faultResult(FaultError, fmt.Errorf("no strategy handle"))
	}

	if !s.acquire(agentID) {
		return faultResult(FaultConcurrent, fmt.Errorf("agent %s already executing", agentID))
	}
	defer s.release(agentID)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExecBudget)
	defer cancel()

	outCh := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outCh <- runOutcome{panicked: r}
			}
		}()
		d, err := strat.Run(market, agent)
		outCh <- runOutcome{decision: d, err: err}
	}()

	select {
	case <-ctx.Done():
		// The goroutine is left to finish on its own; its result is
		// discarded via the buffered channel.
		return faultResult(FaultTimeout, fmt.Errorf("exceeded budget %s", s.cfg.ExecBudget))
	case out := <-outCh:
		if out.panicked != nil {
			return faultResult(FaultPanic, fmt.Errorf("strategy panic: %v", out.panicked))
		}
		if out.err != nil {
			return faultResult(FaultError, out.err)
		}
		return s.vet(agentID, out.decision, market)
	}
}

// vet checks the decision shape and applies the order throttle.
func (s *Sandbox) vet(agentID string, d models.Decision, market models.MarketView) Result {
	switch d.Action {
	case models.ActionHold:
		return Result{Decision: models.Hold()}
	case models.ActionBuy, models.ActionSell:
	default:
		return faultResult(FaultMalformed, fmt.Errorf("unknown action %q", d.Action))
	}

	if d.Quantity <= 0 || math.IsNaN(d.Quantity) || math.IsInf(d.Quantity, 0) {
		return faultResult(FaultMalformed, fmt.Errorf("invalid quantity %v", d.Quantity))
	}
	if _, ok := market.Symbols[d.Symbol]; !ok {
		return faultResult(FaultMalformed, fmt.Errorf("unknown symbol %q", d.Symbol))
	}

	if !s.limiter.allow(agentID, time.Now()) {
		s.log.Debug("order throttled", logger.String("agent", agentID), logger.String("symbol", d.Symbol))
		return Result{Decision: models.Hold(), Throttled: true}
	}
	return Result{Decision: d}
}

// UpdateContext is the soft-trigger entry point. It mutates only the agent's
// custom state; strategy handle, cash and holdings are untouched. Callers
// invoke it under the registry's per-agent lock.
func (s *Sandbox) UpdateContext(a *models.Agent, payload map[string]any) {
	if a.CustomState == nil {
		a.CustomState = make(map[string]any)
	}
	for k, v := range payload {
		a.CustomState[k] = v
	}
	a.CustomState["context_updated_at"] = time.Now().UnixMilli()
}

// ResetBudget clears the agent's rolling order window.
func (s *Sandbox) ResetBudget(agentID string) { s.limiter.reset(agentID) }

func (s *Sandbox) acquire(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[agentID] {
		return false
	}
	s.inflight[agentID] = true
	return true
}

func (s *Sandbox) release(agentID string) {
	s.mu.Lock()
	delete(s.inflight, agentID)
	s.mu.Unlock()
}

func faultResult(kind FaultKind, err error) Result {
	return Result{Decision: models.Hold(), Fault: &Fault{Kind: kind, Err: err}}
}
