package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlgoArena/internal/domain/models"
	drepo "AlgoArena/internal/domain/repository"
	dservice "AlgoArena/internal/domain/service"
	"AlgoArena/internal/registry"
	"AlgoArena/internal/repository"
	"AlgoArena/internal/sandbox"
	"AlgoArena/internal/trigger"
	"AlgoArena/pkg/logger"
)

const validSource = `{
  "name": "mean_reversion",
  "cooldown_sec": 30,
  "risk_fraction": 0.05,
  "stop_loss_pct": -4,
  "take_profit_pct": 2,
  "entry_threshold": 3,
  "rules": [
    {"signal": "sma_gap", "window": 20, "op": "lt", "value": -0.5, "weight": 3}
  ]
}`

// stubGenerator serves a scripted sequence of sources or errors, recording
// which models were asked.
type stubGenerator struct {
	mu       sync.Mutex
	outputs  []string // "" means error for that call
	models   []string
	critique dservice.Critique
	evalErr  error
}

func (g *stubGenerator) Generate(_ context.Context, modelID string, _ dservice.GenerationContext) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.models = append(g.models, modelID)
	if len(g.outputs) == 0 {
		return "", errors.New("generator exhausted")
	}
	out := g.outputs[0]
	g.outputs = g.outputs[1:]
	if out == "" {
		return "", errors.New("model unavailable")
	}
	return out, nil
}

func (g *stubGenerator) Evaluate(context.Context, dservice.EvaluationRequest) (dservice.Critique, error) {
	return g.critique, g.evalErr
}

func (g *stubGenerator) asked() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.models...)
}

type regenFixture struct {
	mgr    *RegenerationManager
	reg    *registry.Registry
	gen    *stubGenerator
	events *capturePublisher
}

func newRegenFixture(gen *stubGenerator) *regenFixture {
	reg := registry.New()
	events := &capturePublisher{}
	mgr := NewRegenerationManager(
		RegenerationConfig{
			Symbols:     []string{"BTC", "ETH"},
			MaxAttempts: 1,
			Timeout:     5 * time.Second,
			Models:      []string{"primary/model", "fallback/model"},
		},
		reg,
		sandbox.NewValidator(32, 200),
		gen,
		events,
		drepo.NopMetrics{},
		logger.Nop(),
	)
	return &regenFixture{mgr: mgr, reg: reg, gen: gen, events: events}
}

func regenRequest(agentID string) models.RegenRequest {
	return models.RegenRequest{
		JobID:       "job-1",
		AgentID:     agentID,
		Reason:      "drawdown 3.50% exceeds 3.00% limit",
		RequestedAt: time.Now(),
	}
}

func TestRegenerationDeploysValidStrategy(t *testing.T) {
	gen := &stubGenerator{outputs: []string{validSource}}
	fix := newRegenFixture(gen)

	a := testAgent("a1", &stubStrategy{}, 100000)
	a.State = models.StateRegenerating
	a.FaultCount = 3
	require.NoError(t, fix.reg.Register(a))

	require.NoError(t, fix.mgr.Handle(context.Background(), regenRequest("a1")))

	got, _ := fix.reg.Snapshot("a1")
	assert.Equal(t, models.StateActive, got.State)
	assert.Equal(t, 0, got.FaultCount)
	assert.Equal(t, validSource, got.Source)
	require.NotNil(t, got.Strategy)
	assert.Equal(t, "mean_reversion", got.Strategy.Name())
	require.Len(t, fix.events.byType(models.EventRegenSuccess), 1)
	require.Len(t, fix.events.byType(models.EventAgentDeployed), 1)
}

func TestSeededAgentDeploysFirstStrategy(t *testing.T) {
	gen := &stubGenerator{outputs: []string{validSource}}
	fix := newRegenFixture(gen)

	// A fresh start seeds the roster in PENDING_DEPLOY and queues the
	// first generation; handling that request must activate the agent.
	q := &captureQueue{}
	boot := NewBootstrapper(
		BootstrapConfig{Models: []string{"primary/model"}, StartingCash: 100000},
		fix.reg,
		sandbox.NewValidator(32, 200),
		trigger.NewStore(5*time.Minute, time.Hour),
		repository.NewMemorySnapshotStore(),
		q,
		logger.Nop(),
	)
	_, err := boot.Restore(context.Background())
	require.NoError(t, err)
	require.Len(t, q.requests(), 1)
	req := q.requests()[0]

	require.NoError(t, fix.mgr.Handle(context.Background(), req))

	got, ok := fix.reg.Snapshot(req.AgentID)
	require.True(t, ok)
	assert.Equal(t, models.StateActive, got.State)
	require.NotNil(t, got.Strategy)
	assert.Equal(t, []string{"primary/model"}, gen.asked())
}

func TestRegenerationFallsBackAcrossModels(t *testing.T) {
	// First model errors, second returns garbage, third succeeds.
	gen := &stubGenerator{outputs: []string{"", "not json", validSource}}
	fix := newRegenFixture(gen)

	a := testAgent("a1", &stubStrategy{}, 100000)
	a.Model = "test/model"
	a.State = models.StateRegenerating
	require.NoError(t, fix.reg.Register(a))

	require.NoError(t, fix.mgr.Handle(context.Background(), regenRequest("a1")))

	assert.Equal(t, []string{"test/model", "primary/model", "fallback/model"}, gen.asked())
	got, _ := fix.reg.Snapshot("a1")
	assert.Equal(t, models.StateActive, got.State)
	assert.Equal(t, "fallback/model", got.Model)
}

func TestRegenerationExhaustionHaltsAgent(t *testing.T) {
	gen := &stubGenerator{} // every call fails
	fix := newRegenFixture(gen)

	a := testAgent("a1", &stubStrategy{}, 100000)
	a.State = models.StateRegenerating
	require.NoError(t, fix.reg.Register(a))

	require.NoError(t, fix.mgr.Handle(context.Background(), regenRequest("a1")))

	got, _ := fix.reg.Snapshot("a1")
	assert.Equal(t, models.StateHalted, got.State)
	require.Len(t, fix.events.byType(models.EventRegenFailure), 1)
	require.Len(t, fix.events.byType(models.EventAgentHalted), 1)
}

func TestStaleRequestIsDiscarded(t *testing.T) {
	gen := &stubGenerator{outputs: []string{validSource}}
	fix := newRegenFixture(gen)

	// Agent is active again (e.g. reset), so the queued job is stale.
	require.NoError(t, fix.reg.Register(testAgent("a1", &stubStrategy{}, 100000)))

	require.NoError(t, fix.mgr.Handle(context.Background(), regenRequest("a1")))
	assert.Empty(t, gen.asked())
}

func TestRequestForRemovedAgentIsDiscarded(t *testing.T) {
	gen := &stubGenerator{outputs: []string{validSource}}
	fix := newRegenFixture(gen)

	require.NoError(t, fix.mgr.Handle(context.Background(), regenRequest("ghost")))
	assert.Empty(t, gen.asked())
}

func TestForceEvolveRefinesOnCritique(t *testing.T) {
	gen := &stubGenerator{
		outputs:  []string{validSource},
		critique: dservice.Critique{Refine: true, Comment: "overtrades in chop"},
	}
	fix := newRegenFixture(gen)
	require.NoError(t, fix.reg.Register(testAgent("a1", &stubStrategy{}, 100000)))

	evolved, err := fix.mgr.ForceEvolve(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, evolved)

	got, _ := fix.reg.Snapshot("a1")
	assert.Equal(t, models.StateActive, got.State)
	assert.Equal(t, validSource, got.Source)
}

func TestForceEvolveKeepsGoodStrategy(t *testing.T) {
	gen := &stubGenerator{critique: dservice.Critique{Refine: false, Comment: "keep"}}
	fix := newRegenFixture(gen)
	require.NoError(t, fix.reg.Register(testAgent("a1", &stubStrategy{}, 100000)))

	evolved, err := fix.mgr.ForceEvolve(context.Background(), "a1")
	require.NoError(t, err)
	assert.False(t, evolved)
	assert.Empty(t, gen.asked())
}
