// Rollout Orchestrator — раскатывает версии конфигурации по tenant'ам.
//
// Orchestrator:
//   - Принимает планы через HTTP API и очередь plans.submitted
//   - Блокирует tenant'ов и выполняет задачи с ограничением параллельности
//   - Сохраняет checkpoint'ы и откатывает задачи при неустранимых ошибках
//   - Публикует события жизненного цикла в RabbitMQ
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/shaiso/Rollout/internal/api"
	"github.com/shaiso/Rollout/internal/checkpoint"
	"github.com/shaiso/Rollout/internal/config"
	"github.com/shaiso/Rollout/internal/conflict"
	"github.com/shaiso/Rollout/internal/event"
	"github.com/shaiso/Rollout/internal/mq"
	"github.com/shaiso/Rollout/internal/orchestrator"
	"github.com/shaiso/Rollout/internal/repo"
	"github.com/shaiso/Rollout/internal/scheduler"
	"github.com/shaiso/Rollout/internal/steps"
	"github.com/shaiso/Rollout/internal/telemetry"
)

func main() {
	// Логгер из окружения нужен до загрузки конфигурации
	logger := telemetry.SetupLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = telemetry.NewLogger(os.Stdout, cfg.Log)
	logger.Info("starting rollout-orchestrator",
		"addr", cfg.HTTPAddr,
		"strategy", cfg.Conflict.Strategy,
		"store", cfg.Store.Backend,
		"checkpoints", cfg.Checkpoint.Backend,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("rollout-orchestrator failed", "error", err)
		os.Exit(1)
	}
	logger.Info("rollout-orchestrator stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// Redis
	var rdb redis.UniversalClient
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	// DB pool
	var pool *pgxpool.Pool
	if cfg.UsesPostgres() {
		p, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.DatabaseURL, Logger: logger})
		if err != nil {
			return err
		}
		defer p.Close()
		pool = p

		if err := repo.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("database connected")
	}

	// RabbitMQ
	var (
		mqConn    *mq.Connection
		publisher *mq.Publisher
	)
	if cfg.RabbitMQURL != "" {
		// Топология объявляется при каждом (пере)подключении
		conn, err := mq.Dial(mq.ConnectionConfig{
			URL:       cfg.RabbitMQURL,
			Confirm:   true,
			OnConnect: mq.SetupTopology,
			Logger:    logger,
		})
		if err != nil {
			logger.Warn("RabbitMQ not available, running without queues", "error", err)
		} else {
			mqConn = conn
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			publisher = mq.NewPublisher(mqConn, logger)
		}
	}

	// События жизненного цикла
	var sink event.Sink = event.Discard
	if publisher != nil {
		buffered := event.NewBuffered(mq.NewEventSink(publisher, 5*time.Second, logger), event.BufferedConfig{
			Size:    cfg.Events.BufferSize,
			Metrics: metrics,
			Logger:  logger,
		})
		buffered.Start(context.Background())
		defer buffered.Stop()
		sink = buffered
	}

	conflicts, err := newConflictScheduler(cfg, rdb, metrics, logger)
	if err != nil {
		return err
	}

	renewer, err := conflict.NewRenewer(conflict.RenewerConfig{
		Scheduler: conflicts,
		Schedule:  cfg.Conflict.RenewSchedule,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := renewer.Start(); err != nil {
		return err
	}
	defer renewer.Stop()

	checkpoints, err := checkpoint.NewManager(checkpoint.Config{
		Store:   newCheckpointStore(cfg, rdb, pool),
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	var store orchestrator.Store = orchestrator.NewMemoryStore()
	if cfg.Store.Backend == config.BackendPostgres {
		store = repo.NewSnapshotStore(pool)
	}

	deps := steps.Deps{
		HTTPClient: &http.Client{},
		Limiter:    newLimiter(cfg.Push),
		Timeout:    cfg.Push.Timeout,
		Fanout:     cfg.Pipeline.Fanout,
		Retry:      cfg.Retry,
		Health: steps.HealthCheckConfig{
			Attempts: cfg.Health.Attempts,
			Interval: cfg.Health.Interval,
			Backoff:  cfg.Health.Backoff,
		},
		Redis: rdb,
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	builder, err := steps.DefaultPipeline(deps, cfg.Pipeline.Stages...)
	if err != nil {
		return err
	}

	// Создаём orchestrator
	orch, err := orchestrator.New(orchestrator.Config{
		Conflicts:   conflicts,
		Pipeline:    builder,
		Checkpoints: checkpoints,
		Store:       store,
		Sink:        sink,
		Policy:      &orchestrator.OutcomePolicy{RollbackCompleteIsFailure: cfg.Policy.RollbackCompleteIsFailure},
		Tasks: scheduler.New(scheduler.Config{
			DefaultLimit: cfg.Scheduler.DefaultConcurrency,
			Metrics:      metrics,
			Logger:       logger,
		}),
		Conn:    mqConn,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	// Запускаем orchestrator
	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer orch.Stop()

	// HTTP mux: API + /metrics
	mux := http.NewServeMux()
	api.NewHandler(api.Config{
		Service: orch,
		Metrics: metrics,
		Logger:  logger,
	}).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}

func newConflictScheduler(cfg config.Config, rdb redis.UniversalClient, metrics *telemetry.Metrics, logger *slog.Logger) (*conflict.Scheduler, error) {
	strategy, err := conflict.ParseStrategy(cfg.Conflict.Strategy)
	if err != nil {
		return nil, err
	}

	var backend conflict.LockBackend = conflict.NewMemoryBackend()
	if cfg.Conflict.Backend == config.BackendRedis {
		backend = conflict.NewRedisBackend(rdb, conflict.DefaultRedisPrefix)
	}

	return conflict.New(conflict.Config{
		Strategy: strategy,
		Backend:  backend,
		TTL:      cfg.Conflict.TTL,
		Metrics:  metrics,
		Logger:   logger,
	})
}

func newCheckpointStore(cfg config.Config, rdb redis.UniversalClient, pool *pgxpool.Pool) checkpoint.Store {
	switch cfg.Checkpoint.Backend {
	case config.BackendRedis:
		return checkpoint.NewRedisStore(rdb, checkpoint.RedisStoreConfig{TTL: cfg.Checkpoint.TTL})
	case config.BackendPostgres:
		return repo.NewCheckpointRepo(pool)
	default:
		return checkpoint.NewMemoryStore()
	}
}

// newLimiter создаёт общий ограничитель запросов; 0 — без ограничения.
func newLimiter(cfg config.PushConfig) *rate.Limiter {
	if cfg.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
}
