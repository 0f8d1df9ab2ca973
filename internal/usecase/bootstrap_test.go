package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlgoArena/internal/domain/models"
	"AlgoArena/internal/registry"
	"AlgoArena/internal/repository"
	"AlgoArena/internal/sandbox"
	"AlgoArena/internal/trigger"
	"AlgoArena/pkg/logger"
)

func newBootstrapFixture(t *testing.T, store *repository.MemorySnapshotStore) (*Bootstrapper, *registry.Registry, *captureQueue) {
	t.Helper()
	reg := registry.New()
	q := &captureQueue{}
	b := NewBootstrapper(
		BootstrapConfig{
			Models:       []string{"openai/gpt-4o-mini", "anthropic/claude-sonnet"},
			StartingCash: 100000,
		},
		reg,
		sandbox.NewValidator(32, 200),
		trigger.NewStore(5*time.Minute, time.Hour),
		store,
		q,
		logger.Nop(),
	)
	return b, reg, q
}

func TestSeedCreatesPendingAgentPerModel(t *testing.T) {
	b, reg, q := newBootstrapFixture(t, repository.NewMemorySnapshotStore())

	n, err := b.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, a := range reg.SnapshotAll() {
		assert.Equal(t, models.StatePendingDeploy, a.State)
		assert.Equal(t, 100000.0, a.Cash)
	}
	assert.Len(t, q.requests(), 2)
	assert.Equal(t, "initial strategy generation", q.requests()[0].Reason)
}

func TestRestoreRecompilesStrategies(t *testing.T) {
	store := repository.NewMemorySnapshotStore()
	saved := &models.Agent{
		ID:          "a1",
		Name:        "survivor",
		Cash:        90000,
		Equity:      90000,
		EquityPeak:  100000,
		Source:      validSource,
		Holdings:    map[string]float64{},
		EntryPrices: map[string]float64{},
		State:       models.StateActive,
	}
	require.NoError(t, store.SaveAgents(context.Background(), []*models.Agent{saved}))

	b, reg, q := newBootstrapFixture(t, store)
	n, err := b.Restore(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, ok := reg.Snapshot("a1")
	require.True(t, ok)
	assert.Equal(t, models.StateActive, got.State)
	assert.NotNil(t, got.Strategy)
	assert.Empty(t, q.requests())
}

func TestRestoreBrokenSourceGoesBackToRegeneration(t *testing.T) {
	store := repository.NewMemorySnapshotStore()
	saved := &models.Agent{
		ID:     "a1",
		Name:   "broken",
		Source: "{ not a strategy",
		State:  models.StateActive,
	}
	require.NoError(t, store.SaveAgents(context.Background(), []*models.Agent{saved}))

	b, reg, q := newBootstrapFixture(t, store)
	_, err := b.Restore(context.Background())
	require.NoError(t, err)

	got, ok := reg.Snapshot("a1")
	require.True(t, ok)
	assert.Equal(t, models.StateRegenerating, got.State)
	assert.Nil(t, got.Strategy)
	require.Len(t, q.requests(), 1)
	assert.Equal(t, "a1", q.requests()[0].AgentID)
}

func TestRestoreReenqueuesInterruptedRegeneration(t *testing.T) {
	store := repository.NewMemorySnapshotStore()
	saved := &models.Agent{
		ID:     "a1",
		Name:   "mid-regen",
		Source: validSource,
		State:  models.StateRegenerating,
	}
	require.NoError(t, store.SaveAgents(context.Background(), []*models.Agent{saved}))

	b, _, q := newBootstrapFixture(t, store)
	_, err := b.Restore(context.Background())
	require.NoError(t, err)
	require.Len(t, q.requests(), 1)
	assert.Equal(t, "regeneration interrupted by restart", q.requests()[0].Reason)
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := repository.NewMemorySnapshotStore()
	b, reg, _ := newBootstrapFixture(t, store)
	_, err := b.Restore(context.Background())
	require.NoError(t, err)

	b.Snapshot(context.Background())

	loaded, err := store.LoadAgents(context.Background())
	require.NoError(t, err)
	assert.Len(t, loaded, reg.Len())
}

func TestWipeClearsPersistedSnapshot(t *testing.T) {
	store := repository.NewMemorySnapshotStore()
	b, _, _ := newBootstrapFixture(t, store)
	_, err := b.Restore(context.Background())
	require.NoError(t, err)
	b.Snapshot(context.Background())

	loaded, err := store.LoadAgents(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, loaded)

	b.Wipe(context.Background())

	loaded, err = store.LoadAgents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
	blob, err := store.LoadWindows(context.Background())
	require.NoError(t, err)
	assert.Empty(t, blob)
}
