package usecase

import (
	"context"
	"fmt"
	"math"
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

// RiskSupervisor runs the slow oversight loop: on its own cadence it
// classifies every active agent's trigger window and either escalates the
// agent to regeneration (hard trigger) or refreshes its strategy context
// (soft trigger). One agent per pass can be mid-escalation without blocking
// the others.
type RiskSupervisor struct {
	interval time.Duration
	feeRate  float64
	eval     *trigger.Evaluator
	windows  *trigger.Store
	reg      *registry.Registry
	box      *sandbox.Sandbox
	news     dservice.NewsSource
	queue    dservice.RegenQueue
	events   drepo.EventPublisher
	metrics  drepo.Metrics
	log      *logger.Logger

	kick   chan chan int
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRiskSupervisor(
	interval time.Duration,
	feeRate float64,
	eval *trigger.Evaluator,
	windows *trigger.Store,
	reg *registry.Registry,
	box *sandbox.Sandbox,
	news dservice.NewsSource,
	queue dservice.RegenQueue,
	events drepo.EventPublisher,
	metrics drepo.Metrics,
	log *logger.Logger,
) *RiskSupervisor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RiskSupervisor{
		interval: interval,
		feeRate:  feeRate,
		eval:     eval,
		windows:  windows,
		reg:      reg,
		box:      box,
		news:     news,
		queue:    queue,
		events:   events,
		metrics:  metrics,
		log:      log,
		kick:     make(chan chan int),
	}
}

// Start launches the supervision loop.
func (s *RiskSupervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop halts the loop.
func (s *RiskSupervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Supervise runs one pass immediately and returns how many agents were
// escalated. Admin endpoints use it to force a check between cadences.
func (s *RiskSupervisor) Supervise(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case s.kick <- reply:
		select {
		case n := <-reply:
			return n
		case <-ctx.Done():
			return 0
		}
	case <-ctx.Done():
		return 0
	default:
		// Loop not running, evaluate inline.
		return s.pass(ctx)
	}
}

func (s *RiskSupervisor) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		case reply := <-s.kick:
			reply <- s.pass(ctx)
		}
	}
}

// pass classifies every active agent once. Returns the number of hard
// escalations.
func (s *RiskSupervisor) pass(ctx context.Context) int {
	now := time.Now()
	newsScore := s.news.LatestScore()
	escalated := 0

	for _, a := range s.reg.SnapshotAll() {
		if a.State != models.StateActive {
			continue
		}
		c := s.eval.Evaluate(s.windows.WindowFor(a.ID), now, newsScore)
		switch c.Kind {
		case trigger.KindHard:
			s.metrics.RecordTrigger("hard")
			s.escalate(ctx, a, c)
			escalated++
		case trigger.KindSoft:
			s.metrics.RecordTrigger("soft")
			s.refreshContext(ctx, a.ID, c)
		}
	}
	return escalated
}

// escalate handles one hard trigger: the agent stops trading, its positions
// are liquidated at last known prices, and a regeneration job is queued with
// the trigger reason attached.
func (s *RiskSupervisor) escalate(ctx context.Context, a *models.Agent, c trigger.Classification) {
	s.log.Warn("hard trigger",
		logger.String("agent", a.ID),
		logger.String("reason", c.Reason))

	prices := lastPrices(a)
	err := s.reg.Update(a.ID, func(live *models.Agent) error {
		if live.State != models.StateActive {
			return fmt.Errorf("agent %s no longer active", live.ID)
		}
		live.State = models.StateRegenerating
		liquidate(live, prices, s.feeRate, time.Now())
		live.Equity = live.ComputeEquity(prices)
		return nil
	})
	if err != nil {
		// Lost the race with another escalation path; the agent is already
		// being handled.
		return
	}

	req := models.RegenRequest{
		JobID:       uuid.NewString(),
		AgentID:     a.ID,
		Reason:      c.Reason,
		RequestedAt: time.Now(),
	}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		s.metrics.RecordError("regen_enqueue")
		s.log.Error("enqueue regeneration", logger.String("agent", a.ID), logger.Error(err))
		return
	}
	s.publish(ctx, &models.Event{
		Type:    models.EventRegenStarted,
		AgentID: a.ID,
		Payload: map[string]string{"reason": c.Reason},
	})
}

// refreshContext handles one soft trigger: the latest headlines are folded
// into the agent's custom state. Strategy, cash and holdings are untouched.
func (s *RiskSupervisor) refreshContext(ctx context.Context, agentID string, c trigger.Classification) {
	headlines := s.news.Latest()
	payload := map[string]any{
		"news_significance": c.Details["news_significance"],
	}
	titles := make([]string, 0, len(headlines))
	for _, h := range headlines {
		titles = append(titles, h.Title)
	}
	if len(titles) > 0 {
		payload["headlines"] = titles
	}

	err := s.reg.Update(agentID, func(a *models.Agent) error {
		s.box.UpdateContext(a, payload)
		return nil
	})
	if err != nil {
		return
	}

	s.log.Info("context refreshed", logger.String("agent", agentID), logger.String("reason", c.Reason))
	s.publish(ctx, &models.Event{
		Type:    models.EventContextUpdate,
		AgentID: agentID,
		Payload: payload,
	})
}

// lastPrices recovers per-symbol marks from the agent's entry prices so a
// liquidation has something to settle against even without a live tick.
func lastPrices(a *models.Agent) map[string]float64 {
	prices := make(map[string]float64, len(a.Holdings))
	for sym := range a.Holdings {
		if p := a.EntryPrices[sym]; p > 0 && !math.IsNaN(p) {
			prices[sym] = p
		}
	}
	return prices
}

func (s *RiskSupervisor) publish(ctx context.Context, ev *models.Event) {
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.metrics.RecordError("publish")
		return
	}
	s.metrics.RecordEventPublished(string(ev.Type))
}
