package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jessson/mev-dashboard/config"
	"github.com/jessson/mev-dashboard/internal/app/dto"
	"github.com/jessson/mev-dashboard/internal/domain/service"
	"github.com/jessson/mev-dashboard/internal/domain/useCases"
	httpserver "github.com/jessson/mev-dashboard/internal/handlers/http"
	ws "github.com/jessson/mev-dashboard/internal/handlers/websocket"
	redisrepo "github.com/jessson/mev-dashboard/internal/infrastructure/cache"
	"github.com/jessson/mev-dashboard/internal/infrastructure/metrics"
	"github.com/jessson/mev-dashboard/internal/infrastructure/queue"
	"github.com/jessson/mev-dashboard/internal/infrastructure/registry"
	"github.com/jessson/mev-dashboard/internal/infrastructure/storage"
	"github.com/jessson/mev-dashboard/internal/lib/auth"
	"github.com/jessson/mev-dashboard/internal/lib/logger/sl"
)

const hubQueueSize = 256

// Processor defines the common interface for both standard and Kafka event processors
type Processor interface {
	Run(ctx context.Context) error
}

// AppContext holds all app dependencies
type AppContext struct {
	Config     *config.Config
	Log        *slog.Logger
	Store      storage.Store
	Registry   *registry.MemoryRegistry
	Metrics    *metrics.Prometheus
	Redis      *redisrepo.RedisRepository
	Hub        *ws.Hub
	Dashboard  *service.Dashboard
	HTTPServer *httpserver.Server

	Processors    []Processor
	KafkaConsumer *queue.KafkaConsumer
	TradeCh       chan *dto.TradeDTO
}

// NewApp initializes the app context with all dependencies. Only an
// unusable store configuration is fatal; Redis and Kafka degrade to off.
func NewApp(ctx context.Context, log *slog.Logger, cfg *config.Config) (*AppContext, error) {
	app := &AppContext{Config: cfg, Log: log}

	store, err := storage.Open(ctx, storage.Config{
		Driver:      cfg.StoreDriver,
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
		ClickHouse: storage.ClickHouseConfig{
			Addr:     cfg.ClickhouseAddr,
			Username: cfg.ClickhouseUsername,
			Password: cfg.ClickhousePassword,
			Timeout:  cfg.ClickhouseTimeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	app.Store = store
	log.Info("trade store opened", slog.String("driver", cfg.StoreDriver))

	app.Registry = registry.NewMemoryRegistry(cfg.Chains)
	app.Metrics = metrics.NewPrometheus()

	// A nil verifier leaves every route open.
	var verifier useCases.TokenVerifier
	if cfg.AuthTokenHash != "" {
		verifier = auth.NewBcryptVerifier(cfg.AuthTokenHash)
	} else {
		log.Warn("AUTH_TOKEN_HASH not set, every route and subscriber is treated as authenticated")
	}

	deps := service.DashboardDeps{
		Log:      log,
		Location: cfg.Location(),
		Store:    store,
		Registry: app.Registry,
		Metrics:  app.Metrics,
		Cache: service.CacheConfig{
			TradeBufferSize:   cfg.TradeBufferSize,
			WarningBufferSize: cfg.WarningBufferSize,
			SeenHashCacheSize: cfg.SeenHashCacheSize,
			SeenHashTTL:       cfg.SeenHashTTL,
		},
		Scheduler: service.SchedulerConfig{
			RetentionDays:    cfg.RetentionDays,
			RetentionHour:    cfg.RetentionHour,
			RetentionTimeout: cfg.RebuildTimeout,
		},
		RebuildTimeout: cfg.RebuildTimeout,
	}

	if cfg.RedisEnabled {
		redis := redisrepo.NewRedisRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redis.Ping(ctx); err != nil {
			log.Warn("redis unreachable, pub/sub and summary mirror disabled", sl.Err(err))
			_ = redis.Close()
		} else {
			app.Redis = redis
			deps.Mirror = redis
			log.Info("redis connected", slog.String("addr", cfg.RedisAddr))
		}
	}

	app.Dashboard = service.NewDashboard(deps)
	app.Hub = ws.NewHub(log, verifier, hubQueueSize)
	app.Dashboard.Fanout.AddSink("websocket", app.Hub)
	if app.Redis != nil {
		app.Dashboard.Fanout.AddSink("redis", app.Redis)
	}

	app.HTTPServer = httpserver.NewServer(":"+cfg.HTTPPort, httpserver.Deps{
		Dashboard: app.Dashboard,
		Store:     store,
		Chains:    app.Registry,
		Hub:       app.Hub,
		Metrics:   app.Metrics.Handler(),
		Verifier:  verifier,
		Log:       log,
	})

	// The in-process channel always exists so demo generators and tests can feed it.
	app.TradeCh = make(chan *dto.TradeDTO, cfg.EventBufferSize)
	app.Processors = append(app.Processors, NewEventProcessor(log, app.TradeCh, app.Dashboard.Trades))

	if cfg.KafkaEnabled {
		app.KafkaConsumer = queue.NewKafkaConsumer(log, app.KafkaConfig())
		app.Processors = append(app.Processors, NewKafkaEventProcessor(log, app.KafkaConsumer, app.Dashboard.Trades))
		log.Info("kafka consumer configured", slog.String("topic", cfg.KafkaTopic), slog.Any("brokers", cfg.KafkaBrokers))
	}

	return app, nil
}

// KafkaConfig maps the app configuration onto the queue package.
func (a *AppContext) KafkaConfig() queue.KafkaConfig {
	return queue.KafkaConfig{
		Brokers:       a.Config.KafkaBrokers,
		Topic:         a.Config.KafkaTopic,
		ConsumerGroup: a.Config.KafkaConsumerGroup,
		BatchSize:     a.Config.KafkaBatchSize,
		BatchTimeout:  a.Config.KafkaBatchTimeout,
	}
}

// Init loads the aggregation state and starts the scheduler. It must finish
// before the HTTP listener accepts traffic.
func (a *AppContext) Init(ctx context.Context) error {
	return a.Dashboard.Init(ctx)
}

// Cleanup performs graceful shutdown of all components
func (a *AppContext) Cleanup(ctx context.Context) {
	if a.Dashboard != nil {
		a.Dashboard.Shutdown()
	}

	if a.KafkaConsumer != nil {
		a.Log.Info("closing kafka consumer")
		if err := a.KafkaConsumer.Close(); err != nil {
			a.Log.Error("error closing kafka consumer", sl.Err(err))
		}
	}

	if a.Hub != nil {
		a.Hub.Close()
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Error("error closing redis", sl.Err(err))
		}
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Log.Error("error closing store", sl.Err(err))
		}
	}

	if a.TradeCh != nil {
		close(a.TradeCh)
		a.TradeCh = nil
	}

	a.Log.Info("all resources cleaned up")
}
