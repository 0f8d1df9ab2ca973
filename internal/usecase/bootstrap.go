package usecase

import (
	"context"
	"fmt"
	"strings"
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

// BootstrapConfig shapes the initial agent roster.
type BootstrapConfig struct {
	Models           []string // one seed agent per model
	StartingCash     float64
	SnapshotInterval time.Duration
}

// Bootstrapper restores the agent roster from the snapshot store on startup,
// seeds a fresh roster when no snapshot exists, and periodically persists
// resumable state. Window history that fails to restore is logged and
// dropped; it must never prevent a restart.
type Bootstrapper struct {
	cfg       BootstrapConfig
	reg       *registry.Registry
	validator *sandbox.Validator
	windows   *trigger.Store
	store     drepo.SnapshotStore
	regenQ    dservice.RegenQueue
	log       *logger.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewBootstrapper(
	cfg BootstrapConfig,
	reg *registry.Registry,
	validator *sandbox.Validator,
	windows *trigger.Store,
	store drepo.SnapshotStore,
	regenQ dservice.RegenQueue,
	log *logger.Logger,
) *Bootstrapper {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 30 * time.Second
	}
	return &Bootstrapper{
		cfg:       cfg,
		reg:       reg,
		validator: validator,
		windows:   windows,
		store:     store,
		regenQ:    regenQ,
		log:       log,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Restore loads the persisted roster, recompiling each strategy from its
// source. Agents whose source no longer compiles go back through
// regeneration instead of blocking startup. Returns the number of agents
// in the registry afterwards.
func (b *Bootstrapper) Restore(ctx context.Context) (int, error) {
	agents, err := b.store.LoadAgents(ctx)
	if err != nil {
		return 0, fmt.Errorf("load agent snapshot: %w", err)
	}
	if len(agents) == 0 {
		return b.seed(ctx)
	}

	for _, a := range agents {
		b.restoreOne(ctx, a)
		if err := b.reg.Register(a); err != nil {
			b.log.Warn("skipping duplicate snapshot agent", logger.String("agent", a.ID))
		}
	}

	if blob, err := b.store.LoadWindows(ctx); err != nil {
		b.log.Warn("window snapshot unreadable, starting cold", logger.Error(err))
	} else if len(blob) > 0 {
		if err := b.windows.Restore(blob); err != nil {
			b.log.Warn("window snapshot corrupt, starting cold", logger.Error(err))
		}
	}

	b.log.Info("roster restored", logger.Int("agents", b.reg.Len()))
	return b.reg.Len(), nil
}

// restoreOne recompiles one agent's strategy in place.
func (b *Bootstrapper) restoreOne(ctx context.Context, a *models.Agent) {
	if a.Source == "" {
		a.State = models.StatePendingDeploy
		b.enqueue(ctx, a.ID, "missing strategy source after restore")
		return
	}
	prog, err := sandbox.Compile(a.Source, b.validator)
	if err != nil {
		b.log.Warn("snapshot strategy no longer compiles",
			logger.String("agent", a.ID),
			logger.Error(err))
		a.Strategy = nil
		a.State = models.StateRegenerating
		b.enqueue(ctx, a.ID, "snapshot strategy failed validation")
		return
	}
	a.Strategy = prog
	// A restart interrupts in-flight regeneration; re-request it.
	if a.State == models.StateRegenerating {
		b.enqueue(ctx, a.ID, "regeneration interrupted by restart")
	}
}

// seed creates the initial roster, one pending agent per configured model,
// and queues their first strategy generation.
func (b *Bootstrapper) seed(ctx context.Context) (int, error) {
	for i, modelID := range b.cfg.Models {
		a := &models.Agent{
			ID:          uuid.NewString(),
			Name:        seedName(modelID, i),
			Model:       modelID,
			Cash:        b.cfg.StartingCash,
			Equity:      b.cfg.StartingCash,
			EquityPeak:  b.cfg.StartingCash,
			Holdings:    make(map[string]float64),
			EntryPrices: make(map[string]float64),
			CustomState: make(map[string]any),
			State:       models.StatePendingDeploy,
		}
		if err := b.reg.Register(a); err != nil {
			return b.reg.Len(), fmt.Errorf("register seed agent: %w", err)
		}
		b.enqueue(ctx, a.ID, "initial strategy generation")
	}
	b.log.Info("roster seeded", logger.Int("agents", b.reg.Len()))
	return b.reg.Len(), nil
}

func (b *Bootstrapper) enqueue(ctx context.Context, agentID, reason string) {
	req := models.RegenRequest{
		JobID:       uuid.NewString(),
		AgentID:     agentID,
		Reason:      reason,
		RequestedAt: time.Now(),
	}
	if err := b.regenQ.Enqueue(ctx, req); err != nil {
		b.log.Error("enqueue generation request",
			logger.String("agent", agentID),
			logger.Error(err))
	}
}

// Start launches the periodic snapshot loop.
func (b *Bootstrapper) Start(ctx context.Context) {
	go b.loop(ctx)
}

// Stop takes a final snapshot and stops the loop.
func (b *Bootstrapper) Stop(ctx context.Context) {
	close(b.stopCh)
	<-b.doneCh
	b.Snapshot(ctx)
}

func (b *Bootstrapper) loop(ctx context.Context) {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.Snapshot(ctx)
		}
	}
}

// Snapshot persists the roster and trigger windows.
func (b *Bootstrapper) Snapshot(ctx context.Context) {
	if err := b.store.SaveAgents(ctx, b.reg.SnapshotAll()); err != nil {
		b.log.Error("persist agent snapshot", logger.Error(err))
	}
	blob, err := b.windows.Marshal()
	if err != nil {
		b.log.Error("marshal window snapshot", logger.Error(err))
		return
	}
	if err := b.store.SaveWindows(ctx, blob); err != nil {
		b.log.Error("persist window snapshot", logger.Error(err))
	}
}

// Wipe removes the persisted snapshot. A hard reset must call this so a
// crash before the next snapshot pass cannot resurrect the old roster.
func (b *Bootstrapper) Wipe(ctx context.Context) {
	if err := b.store.Clear(ctx); err != nil {
		b.log.Error("clear snapshot", logger.Error(err))
	}
}

// seedName derives a readable agent name from a model id such as
// "openai/gpt-4o-mini".
func seedName(modelID string, i int) string {
	base := modelID
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if base == "" {
		base = fmt.Sprintf("agent-%d", i+1)
	}
	return base
}
