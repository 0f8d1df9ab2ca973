package di

import (
	"fmt"
	"net"
	"strconv"

	"github.com/redis/go-redis/v9"

	drepo "AlgoArena/internal/domain/repository"
	dservice "AlgoArena/internal/domain/service"
	"AlgoArena/internal/handler/api"
	mid "AlgoArena/internal/middleware"
	"AlgoArena/internal/registry"
	internalrepo "AlgoArena/internal/repository"
	"AlgoArena/internal/sandbox"
	"AlgoArena/internal/service/brain"
	"AlgoArena/internal/service/feed"
	"AlgoArena/internal/service/news"
	"AlgoArena/internal/service/ratelimit"
	"AlgoArena/internal/trigger"
	"AlgoArena/internal/usecase"
	"AlgoArena/pkg/cache"
	pkgch "AlgoArena/pkg/clickhouse"
	"AlgoArena/pkg/config"
	xhttp "AlgoArena/pkg/http"
	pkgkafka "AlgoArena/pkg/kafka"
	applogger "AlgoArena/pkg/logger"
	"AlgoArena/pkg/metrics"
	"AlgoArena/pkg/queue"
	"AlgoArena/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideRegistry creates the agent registry.
func ProvideRegistry() *registry.Registry {
	return registry.New()
}

// ProvideWindows creates the rolling trigger window store.
func ProvideWindows(cfg *config.Config) *trigger.Store {
	return trigger.NewStore(cfg.Supervisor.EquityWindow, cfg.Supervisor.BaselineWindow)
}

// ProvideEvaluator creates the trigger evaluator.
func ProvideEvaluator(cfg *config.Config) *trigger.Evaluator {
	return trigger.NewEvaluator(trigger.Config{
		DrawdownLimit:    cfg.Supervisor.DrawdownLimit,
		ATRRatio:         cfg.Supervisor.ATRRatio,
		VolumeRatio:      cfg.Supervisor.VolumeRatio,
		NewsMinor:        cfg.Supervisor.NewsMinorScore,
		NewsCatastrophic: cfg.Supervisor.NewsCatastrophic,
		RecentWindow:     cfg.Supervisor.RecentWindow,
	})
}

// ProvideValidator creates the strategy document validator.
func ProvideValidator(cfg *config.Config) *sandbox.Validator {
	return sandbox.NewValidator(cfg.Sandbox.MaxRules, cfg.Sandbox.MaxHistoryView)
}

// ProvideSandbox creates the strategy execution sandbox.
func ProvideSandbox(cfg *config.Config, log *applogger.Logger) *sandbox.Sandbox {
	return sandbox.New(sandbox.Config{
		ExecBudget:  cfg.Sandbox.ExecBudget,
		OrderLimit:  cfg.Sandbox.OrderLimit,
		OrderWindow: cfg.Sandbox.OrderWindow,
	}, log)
}

// ProvideStream selects the market data stream backend.
func ProvideStream(cfg *config.Config, log *applogger.Logger) drepo.MarketStream {
	if cfg.Feed.Mode == "websocket" {
		return feed.NewWSClient(
			cfg.Feed.WebSocketURL,
			cfg.Arena.Symbols,
			cfg.Feed.ReconnectDelay,
			cfg.Feed.PingInterval,
			log,
		)
	}
	return feed.NewSimulated(cfg.Arena.Symbols, cfg.Arena.TickInterval, log)
}

// ProvideRedisClient creates the shared Redis connection, or nil when Redis
// is disabled.
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideCache selects the cache backend for ambient caching concerns.
func ProvideCache(cfg *config.Config) cache.Service {
	if cfg.Redis.Enabled {
		host, portStr, err := net.SplitHostPort(cfg.Redis.Addr)
		if err == nil {
			port, _ := strconv.Atoi(portStr)
			if c, err := cache.NewRedisCache(
				cache.WithRedisHost(host),
				cache.WithRedisPort(port),
				cache.WithRedisPassword(cfg.Redis.Password),
				cache.WithRedisDB(cfg.Redis.DB),
				cache.WithRedisPrefix(cfg.Redis.Prefix),
			); err == nil {
				return cache.NewLayeredCache(c)
			}
		}
	}
	return cache.NewMemoryCache()
}

// ProvideNews creates the polling news source, or nil when disabled.
func ProvideNews(cfg *config.Config, c cache.Service, log *applogger.Logger) *news.Service {
	if !cfg.News.Enabled {
		return nil
	}
	return news.New(news.Config{
		URL:          cfg.News.URL,
		PollInterval: cfg.News.PollInterval,
		CacheTTL:     cfg.News.CacheTTL,
	}, c, log)
}

// ProvideNewsSource adapts the optional news service to the domain
// interface. A disabled service degrades to silent headlines.
func ProvideNewsSource(svc *news.Service) dservice.NewsSource {
	if svc == nil {
		return news.Silent{}
	}
	return svc
}

// ProvideQueue selects the job queue backend: Redis when configured,
// otherwise the in-memory channel queue.
func ProvideQueue(cfg *config.Config, client *redis.Client, log *applogger.Logger) queue.Queue {
	qcfg := queue.Config{Workers: cfg.Regeneration.Workers}
	if client != nil {
		return queue.NewRedisQueue(log, qcfg, client,
			queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	}
	return queue.NewMemoryQueue(log, qcfg)
}

// ProvideRegenQueue exposes the queue producer side to the loops.
func ProvideRegenQueue(q queue.Queue) dservice.RegenQueue {
	return usecase.NewRegenPublisher(q)
}

// ProvideGenerator creates the code-generation collaborator client.
func ProvideGenerator(cfg *config.Config, log *applogger.Logger) dservice.CodeGenerator {
	return brain.New(brain.Config{
		BaseURL:     cfg.Generator.BaseURL,
		APIKey:      cfg.Generator.APIKey,
		Model:       cfg.Generator.Model,
		Temperature: cfg.Generator.Temperature,
		MaxTokens:   cfg.Generator.MaxTokens,
		Timeout:     cfg.Generator.Timeout,
	}, log)
}

// ProvideEventSink creates the raw event publisher: Kafka when enabled,
// a log sink otherwise.
func ProvideEventSink(cfg *config.Config, log *applogger.Logger) (drepo.EventPublisher, error) {
	if !cfg.Kafka.Enabled {
		return internalrepo.NewLogEventPublisher(log), nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithBatching(100, 1048576, cfg.Kafka.BatchTimeout),
		pkgkafka.WithTimeouts(cfg.Kafka.WriteTimeout, cfg.Kafka.WriteTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.TopicPrefix), nil
}

// ProvideEventPipeline buffers event publishing off the hot loops.
func ProvideEventPipeline(sink drepo.EventPublisher, m drepo.Metrics) *mid.EventPipeline {
	return mid.NewEventPipeline(sink, m, mid.WithBufferSize(2000))
}

// ProvideHistory creates the trade history storage: ClickHouse when
// enabled, a no-op sink otherwise.
func ProvideHistory(cfg *config.Config, log *applogger.Logger) (drepo.HistoryStorage, error) {
	if !cfg.ClickHouse.Enabled {
		return internalrepo.NopHistoryStorage{}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return internalrepo.NewCHHistoryStorage(client, log), nil
}

// ProvideSnapshotStore creates the resumable state store.
func ProvideSnapshotStore(cfg *config.Config, client *redis.Client) drepo.SnapshotStore {
	if client == nil {
		return internalrepo.NewMemorySnapshotStore()
	}
	return internalrepo.NewRedisSnapshotStore(client, cfg.Redis.Prefix)
}

// ProvideTickEngine creates the tick loop.
func ProvideTickEngine(
	cfg *config.Config,
	reg *registry.Registry,
	box *sandbox.Sandbox,
	stream drepo.MarketStream,
	events *mid.EventPipeline,
	history drepo.HistoryStorage,
	windows *trigger.Store,
	regenQ dservice.RegenQueue,
	m drepo.Metrics,
	log *applogger.Logger,
) *usecase.TickEngine {
	return usecase.NewTickEngine(usecase.TickEngineConfig{
		Symbols:        cfg.Arena.Symbols,
		Benchmark:      cfg.Arena.Benchmark,
		TickInterval:   cfg.Arena.TickInterval,
		StartingCash:   cfg.Arena.StartingCash,
		FeeRate:        cfg.Arena.FeeRate,
		SlippageMinBps: cfg.Arena.SlippageMinBps,
		SlippageMaxBps: cfg.Arena.SlippageMaxBps,
		MaxLeverage:    cfg.Arena.MaxLeverage,
		CashoutROI:     cfg.Arena.CashoutROI,
		EmergencyStop:  cfg.Arena.EmergencyStop,
		MaxHistoryView: cfg.Sandbox.MaxHistoryView,
		FaultBudget:    cfg.Regeneration.FaultBudget,
	}, reg, box, stream, events, history, windows, regenQ, m, log)
}

// ProvideRiskSupervisor creates the supervision loop.
func ProvideRiskSupervisor(
	cfg *config.Config,
	eval *trigger.Evaluator,
	windows *trigger.Store,
	reg *registry.Registry,
	box *sandbox.Sandbox,
	src dservice.NewsSource,
	regenQ dservice.RegenQueue,
	events *mid.EventPipeline,
	m drepo.Metrics,
	log *applogger.Logger,
) *usecase.RiskSupervisor {
	return usecase.NewRiskSupervisor(
		cfg.Supervisor.Interval,
		cfg.Arena.FeeRate,
		eval, windows, reg, box, src, regenQ, events, m, log,
	)
}

// ProvideRegenerationManager creates the regeneration consumer.
func ProvideRegenerationManager(
	cfg *config.Config,
	reg *registry.Registry,
	validator *sandbox.Validator,
	gen dservice.CodeGenerator,
	events *mid.EventPipeline,
	m drepo.Metrics,
	log *applogger.Logger,
) *usecase.RegenerationManager {
	return usecase.NewRegenerationManager(usecase.RegenerationConfig{
		Symbols:     cfg.Arena.Symbols,
		MaxAttempts: cfg.Regeneration.MaxAttempts,
		Timeout:     cfg.Regeneration.Timeout,
		Models:      cfg.Regeneration.Models,
	}, reg, validator, gen, events, m, log)
}

// ProvideBootstrapper creates the restore / seed / snapshot component.
func ProvideBootstrapper(
	cfg *config.Config,
	reg *registry.Registry,
	validator *sandbox.Validator,
	windows *trigger.Store,
	store drepo.SnapshotStore,
	regenQ dservice.RegenQueue,
	log *applogger.Logger,
) *usecase.Bootstrapper {
	return usecase.NewBootstrapper(usecase.BootstrapConfig{
		Models:           cfg.Regeneration.Models,
		StartingCash:     cfg.Arena.StartingCash,
		SnapshotInterval: cfg.Snapshot.Interval,
	}, reg, validator, windows, store, regenQ, log)
}

// ProvideHandler creates the admin HTTP handler.
func ProvideHandler(
	log *applogger.Logger,
	engine *usecase.TickEngine,
	sup *usecase.RiskSupervisor,
	regen *usecase.RegenerationManager,
	boot *usecase.Bootstrapper,
	reg *registry.Registry,
	src dservice.NewsSource,
) xhttp.Handler {
	return api.NewAdminHandler(log, engine, sup, regen, boot, reg, src, ratelimit.New())
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	history drepo.HistoryStorage,
	events *mid.EventPipeline,
	boot *usecase.Bootstrapper,
	engine *usecase.TickEngine,
	sup *usecase.RiskSupervisor,
	regen *usecase.RegenerationManager,
	jobs queue.Queue,
	newsSvc *news.Service,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, log, history, events, boot, engine, sup, regen, jobs, newsSvc, handler)
}
