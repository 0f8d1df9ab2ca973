//go:build wireinject
// +build wireinject

package di

import (
	"AlgoArena/pkg/config"
	"AlgoArena/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Core state
		ProvideRegistry,
		ProvideWindows,
		ProvideEvaluator,
		ProvideValidator,
		ProvideSandbox,

		// Infrastructure
		ProvideRedisClient,
		ProvideCache,
		ProvideStream,
		ProvideQueue,
		ProvideRegenQueue,
		ProvideGenerator,
		ProvideEventSink,
		ProvideEventPipeline,
		ProvideHistory,
		ProvideSnapshotStore,
		ProvideNews,
		ProvideNewsSource,

		// Loops
		ProvideTickEngine,
		ProvideRiskSupervisor,
		ProvideRegenerationManager,
		ProvideBootstrapper,

		// Admin surface
		ProvideHandler,

		ProvideApp,
	)
	return &server.App{}, nil
}
