package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	drepo "AlgoArena/internal/domain/repository"
	"AlgoArena/internal/middleware"
	"AlgoArena/internal/service/news"
	"AlgoArena/internal/usecase"
	"AlgoArena/pkg/config"
	xhttp "AlgoArena/pkg/http"
	applogger "AlgoArena/pkg/logger"
	"AlgoArena/pkg/queue"
)

// App encapsulates the entire application lifecycle: infrastructure init,
// roster restore, the three loops, the job queue, the admin server, and
// graceful shutdown in reverse order.
type App struct {
	cfg     *config.Config
	log     *applogger.Logger
	history drepo.HistoryStorage
	events  *middleware.EventPipeline
	boot    *usecase.Bootstrapper
	engine  *usecase.TickEngine
	sup     *usecase.RiskSupervisor
	regen   *usecase.RegenerationManager
	jobs    queue.Queue
	news    *news.Service
	handler xhttp.Handler
	http    *xhttp.Server
}

// New assembles the application from its wired dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	history drepo.HistoryStorage,
	events *middleware.EventPipeline,
	boot *usecase.Bootstrapper,
	engine *usecase.TickEngine,
	sup *usecase.RiskSupervisor,
	regen *usecase.RegenerationManager,
	jobs queue.Queue,
	newsSvc *news.Service,
	handler xhttp.Handler,
) *App {
	return &App{
		cfg:     cfg,
		log:     log,
		history: history,
		events:  events,
		boot:    boot,
		engine:  engine,
		sup:     sup,
		regen:   regen,
		jobs:    jobs,
		news:    newsSvc,
		handler: handler,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.history.Init(ctx); err != nil {
		a.log.Error("history storage init failed", applogger.Error(err))
		return err
	}
	a.events.Start(ctx)

	if a.news != nil {
		a.news.Start(ctx)
	}

	n, err := a.boot.Restore(ctx)
	if err != nil {
		return err
	}
	a.log.Info("roster ready", applogger.Int("agents", n))

	a.jobs.RegisterJob(a.regen)
	if err := a.jobs.Start(); err != nil {
		return err
	}

	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	a.sup.Start(ctx)
	a.boot.Start(ctx)

	a.http = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.http.Start(); err != nil {
		return err
	}
	a.log.Info("arena running",
		applogger.Strings("symbols", a.cfg.Arena.Symbols),
		applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops everything in reverse startup order. The final snapshot
// runs before the queue goes away so an interrupted regeneration survives
// the restart.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.http.Stop(shutdownCtx); err != nil {
		a.log.Warn("http shutdown error", applogger.Error(err))
	}

	a.sup.Stop()
	if err := a.engine.Stop(); err != nil {
		a.log.Warn("engine stop error", applogger.Error(err))
	}
	a.boot.Stop(shutdownCtx)

	if err := a.jobs.Stop(shutdownCtx); err != nil {
		a.log.Warn("queue stop error", applogger.Error(err))
	}
	if a.news != nil {
		a.news.Stop()
	}
	if err := a.events.Close(); err != nil {
		a.log.Warn("event pipeline close error", applogger.Error(err))
	}
	if err := a.history.Close(); err != nil {
		a.log.Warn("history storage close error", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	return nil
}
