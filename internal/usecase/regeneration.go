package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"AlgoArena/internal/domain/models"
	drepo "AlgoArena/internal/domain/repository"
	dservice "AlgoArena/internal/domain/service"
	"AlgoArena/internal/registry"
	"AlgoArena/internal/sandbox"
	"AlgoArena/pkg/logger"
	"AlgoArena/pkg/queue"
)

// RegenMessageType routes regeneration requests through the job queue.
const RegenMessageType = "regeneration"

// RegenerationConfig bounds strategy regeneration.
type RegenerationConfig struct {
	Symbols     []string
	MaxAttempts int           // attempts per model before falling through
	Timeout     time.Duration // per-generation wall clock
	Models      []string      // fallback order; index 0 is the default
}

// RegenPublisher adapts a queue backend to the supervisor-facing enqueue
// interface.
type RegenPublisher struct {
	q queue.Service
}

func NewRegenPublisher(q queue.Service) *RegenPublisher { return &RegenPublisher{q: q} }

// Enqueue implements the regeneration queue producer.
func (p *RegenPublisher) Enqueue(ctx context.Context, req models.RegenRequest) error {
	return p.q.PublishMessage(ctx, RegenMessageType, req)
}

// RegenerationManager consumes regeneration jobs: it asks the
// code-generation collaborator for a new strategy, validates and compiles it,
// and swaps it in atomically. A request that exhausts every model halts the
// agent. It implements queue.Job.
type RegenerationManager struct {
	cfg       RegenerationConfig
	reg       *registry.Registry
	validator *sandbox.Validator
	gen       dservice.CodeGenerator
	events    drepo.EventPublisher
	metrics   drepo.Metrics
	log       *logger.Logger
}

func NewRegenerationManager(
	cfg RegenerationConfig,
	reg *registry.Registry,
	validator *sandbox.Validator,
	gen dservice.CodeGenerator,
	events drepo.EventPublisher,
	metrics drepo.Metrics,
	log *logger.Logger,
) *RegenerationManager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &RegenerationManager{
		cfg:       cfg,
		reg:       reg,
		validator: validator,
		gen:       gen,
		events:    events,
		metrics:   metrics,
		log:       log,
	}
}

// Name implements queue.Job.
func (m *RegenerationManager) Name() string { return "regeneration-manager" }

// Type implements queue.Job.
func (m *RegenerationManager) Type() string { return RegenMessageType }

// Handle processes one regeneration request. A stale request, one whose
// agent was removed or is no longer awaiting a strategy, is discarded
// without error so the queue never retries it. Freshly seeded agents sit
// in PENDING_DEPLOY until their first strategy lands, so both states are
// accepted here.
func (m *RegenerationManager) Handle(ctx context.Context, payload interface{}) error {
	req, err := queue.ParsePayload[models.RegenRequest](payload)
	if err != nil {
		return fmt.Errorf("parse regeneration request: %w", err)
	}

	a, ok := m.reg.Snapshot(req.AgentID)
	if !ok {
		m.log.Info("dropping regeneration for removed agent", logger.String("agent", req.AgentID))
		return nil
	}
	if a.State != models.StateRegenerating && a.State != models.StatePendingDeploy {
		m.log.Info("dropping stale regeneration",
			logger.String("agent", req.AgentID),
			logger.String("state", string(a.State)))
		return nil
	}

	return m.Regenerate(ctx, a, *req)
}

// Regenerate runs the generate / validate / deploy pipeline for one agent.
func (m *RegenerationManager) Regenerate(ctx context.Context, a *models.Agent, req models.RegenRequest) error {
	gc := dservice.GenerationContext{
		AgentName: a.Name,
		Symbols:   m.cfg.Symbols,
		Critique:  req.Critique,
		OldSource: a.Source,
	}
	if gc.Critique == "" {
		gc.Critique = req.Reason
	}

	for _, modelID := range m.modelOrder(a.Model) {
		for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
			prog, source, err := m.generateOnce(ctx, modelID, gc)
			if err != nil {
				m.log.Warn("generation attempt failed",
					logger.String("agent", a.ID),
					logger.String("model", modelID),
					logger.Int("attempt", attempt),
					logger.Error(err))
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			return m.deploy(ctx, a.ID, prog, source, modelID)
		}
	}

	return m.halt(ctx, a.ID, req.Reason)
}

// generateOnce asks one model for a strategy and compiles it.
func (m *RegenerationManager) generateOnce(ctx context.Context, modelID string, gc dservice.GenerationContext) (models.Strategy, string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	source, err := m.gen.Generate(ctx, modelID, gc)
	if err != nil {
		m.metrics.RecordError("generate")
		return nil, "", fmt.Errorf("generate: %w", err)
	}
	prog, err := sandbox.Compile(source, m.validator)
	if err != nil {
		m.metrics.RecordError("validate")
		return nil, "", fmt.Errorf("compile generated strategy: %w", err)
	}
	return prog, source, nil
}

// deploy swaps the new strategy in and reactivates the agent.
func (m *RegenerationManager) deploy(ctx context.Context, agentID string, prog models.Strategy, source, modelID string) error {
	err := m.reg.Update(agentID, func(a *models.Agent) error {
		if a.State != models.StateRegenerating && a.State != models.StatePendingDeploy {
			return fmt.Errorf("agent %s not awaiting deploy (state %s)", agentID, a.State)
		}
		a.Strategy = prog
		a.Source = source
		a.Model = modelID
		a.GeneratedAt = time.Now()
		a.State = models.StateActive
		a.FaultCount = 0
		return nil
	})
	if err != nil {
		// The agent was reset or removed while we generated; nothing to do.
		m.log.Info("discarding generated strategy", logger.String("agent", agentID), logger.Error(err))
		return nil
	}

	m.metrics.RecordRegeneration("success")
	m.log.Info("strategy deployed",
		logger.String("agent", agentID),
		logger.String("model", modelID))
	m.publish(ctx, &models.Event{
		Type:    models.EventRegenSuccess,
		AgentID: agentID,
		Payload: map[string]string{"model": modelID},
	})
	m.publish(ctx, &models.Event{
		Type:    models.EventAgentDeployed,
		AgentID: agentID,
	})
	return nil
}

// halt marks the agent HALTED after every model failed and raises the alert
// event for operators.
func (m *RegenerationManager) halt(ctx context.Context, agentID, reason string) error {
	m.metrics.RecordRegeneration("failure")
	if err := m.reg.SetState(agentID, models.StateHalted); err != nil {
		return nil
	}
	m.log.Error("regeneration exhausted, agent halted",
		logger.String("agent", agentID),
		logger.String("reason", reason))
	m.publish(ctx, &models.Event{
		Type:    models.EventRegenFailure,
		AgentID: agentID,
		Payload: map[string]string{"reason": reason},
	})
	m.publish(ctx, &models.Event{
		Type:    models.EventAgentHalted,
		AgentID: agentID,
		Payload: map[string]string{"reason": reason},
	})
	return nil
}

// modelOrder puts the agent's current model first, then the configured
// fallbacks, deduplicated.
func (m *RegenerationManager) modelOrder(current string) []string {
	order := make([]string, 0, len(m.cfg.Models)+1)
	seen := make(map[string]bool)
	if current != "" {
		order = append(order, current)
		seen[current] = true
	}
	for _, id := range m.cfg.Models {
		if !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	if len(order) == 0 {
		order = append(order, "")
	}
	return order
}

// ForceEvolve runs the evaluate / refine cycle for one active agent: the
// collaborator critiques the deployed strategy and, when it recommends a
// refinement, the agent goes through regeneration with the critique
// attached. Returns whether an evolution was started.
func (m *RegenerationManager) ForceEvolve(ctx context.Context, agentID string) (bool, error) {
	a, ok := m.reg.Snapshot(agentID)
	if !ok {
		return false, fmt.Errorf("agent %s not found", agentID)
	}
	if a.State != models.StateActive {
		return false, fmt.Errorf("agent %s not active", agentID)
	}

	critique, err := m.gen.Evaluate(ctx, dservice.EvaluationRequest{
		Source: a.Source,
		ROI:    a.ROI,
		Trades: a.TradesCount,
	})
	if err != nil {
		m.metrics.RecordError("evaluate")
		return false, fmt.Errorf("evaluate strategy: %w", err)
	}
	if !critique.Refine {
		m.log.Info("evaluation kept current strategy", logger.String("agent", agentID))
		return false, nil
	}

	if err := m.reg.SetState(agentID, models.StateRegenerating); err != nil {
		return false, err
	}
	req := models.RegenRequest{
		JobID:       uuid.NewString(),
		AgentID:     agentID,
		Reason:      "forced evolution",
		Critique:    critique.Comment,
		RequestedAt: time.Now(),
	}
	m.publish(ctx, &models.Event{
		Type:    models.EventRegenStarted,
		AgentID: agentID,
		Payload: map[string]string{"reason": req.Reason, "critique": req.Critique},
	})
	// Evolution runs inline rather than through the queue: the admin caller
	// wants the outcome.
	return true, m.Regenerate(ctx, a, req)
}

func (m *RegenerationManager) publish(ctx context.Context, ev *models.Event) {
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now()
	if err := m.events.Publish(ctx, ev); err != nil {
		m.metrics.RecordError("publish")
		return
	}
	m.metrics.RecordEventPublished(string(ev.Type))
}
