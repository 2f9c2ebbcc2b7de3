package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Rollout/internal/conflict"
	"github.com/shaiso/Rollout/internal/pipeline"
	"github.com/shaiso/Rollout/internal/steps"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

// Backend'ы хранилищ.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config — конфигурация оркестратора.
//
// Источники по возрастанию приоритета: значения по умолчанию,
// YAML-файл из ROLLOUT_CONFIG, переменные окружения.
type Config struct {
	// HTTPAddr — адрес HTTP API, /healthz и /metrics.
	HTTPAddr string `yaml:"http_addr"`

	// DatabaseURL — DSN PostgreSQL; нужен для store/checkpoint backend'а postgres.
	DatabaseURL string `yaml:"database_url"`

	// RabbitMQURL — URL брокера; пустой — без очередей.
	RabbitMQURL string `yaml:"rabbitmq_url"`

	Log        telemetry.LogConfig  `yaml:"log"`
	Redis      RedisConfig          `yaml:"redis"`
	Conflict   ConflictConfig       `yaml:"conflict"`
	Checkpoint CheckpointConfig     `yaml:"checkpoint"`
	Store      StoreConfig          `yaml:"store"`
	Scheduler  SchedulerConfig      `yaml:"scheduler"`
	Policy     PolicyConfig         `yaml:"policy"`
	Retry      pipeline.RetryPolicy `yaml:"retry"`
	Push       PushConfig           `yaml:"push"`
	Health     HealthConfig         `yaml:"health"`
	Events     EventsConfig         `yaml:"events"`
	Pipeline   PipelineConfig       `yaml:"pipeline"`
}

// RedisConfig — подключение к Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
}

// ConflictConfig — блокировки tenant'ов.
type ConflictConfig struct {
	Strategy      string        `yaml:"strategy"` // fine | coarse
	Backend       string        `yaml:"backend"`  // memory | redis
	TTL           time.Duration `yaml:"ttl"`
	RenewSchedule string        `yaml:"renew_schedule"`
}

// CheckpointConfig — хранилище checkpoint'ов.
type CheckpointConfig struct {
	Backend string        `yaml:"backend"` // memory | redis | postgres
	TTL     time.Duration `yaml:"ttl"`     // только для redis
}

// StoreConfig — хранилище снимков планов.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory | postgres
}

// SchedulerConfig — параллельность задач.
type SchedulerConfig struct {
	DefaultConcurrency int `yaml:"default_concurrency"`
}

// PolicyConfig — политика итога плана.
type PolicyConfig struct {
	RollbackCompleteIsFailure bool `yaml:"rollback_complete_is_failure"`
}

// PushConfig — доставка конфигурации на endpoint'ы tenant'ов.
type PushConfig struct {
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Timeout       time.Duration `yaml:"timeout"`
}

// HealthConfig — проверка здоровья после раскатки.
type HealthConfig struct {
	Attempts int           `yaml:"attempts"`
	Interval time.Duration `yaml:"interval"`
	Backoff  string        `yaml:"backoff"` // fixed | exponential
}

// PipelineConfig — состав конвейера задачи.
type PipelineConfig struct {
	// Stages — имена стадий по порядку; пустой — стандартный набор.
	Stages []string `yaml:"stages"`

	// Fanout — параллельность по endpoint'ам одной задачи.
	Fanout int `yaml:"fanout"`
}

// EventsConfig — доставка событий жизненного цикла.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// Default возвращает конфигурацию по умолчанию для локального запуска.
func Default() Config {
	return Config{
		HTTPAddr: ":8082",
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Conflict: ConflictConfig{
			Strategy:      string(conflict.StrategyFine),
			Backend:       BackendMemory,
			TTL:           conflict.DefaultTTL,
			RenewSchedule: conflict.DefaultRenewSchedule,
		},
		Checkpoint: CheckpointConfig{Backend: BackendMemory},
		Store:      StoreConfig{Backend: BackendMemory},
		Scheduler:  SchedulerConfig{DefaultConcurrency: 4},
		Policy:     PolicyConfig{RollbackCompleteIsFailure: true},
		Retry:      pipeline.DefaultRetryPolicy(),
		Push:       PushConfig{RatePerSecond: 20, Burst: 5, Timeout: 10 * time.Second},
		Health: HealthConfig{
			Attempts: 5,
			Interval: 2 * time.Second,
			Backoff:  pipeline.BackoffFixed,
		},
		Events:   EventsConfig{BufferSize: 1024},
		Pipeline: PipelineConfig{Fanout: 4},
	}
}

// Load собирает конфигурацию: Default, затем файл из ROLLOUT_CONFIG
// (если задан), затем переменные окружения. Результат проверяется.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("ROLLOUT_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile накладывает YAML-файл поверх текущих значений.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	return c.Parse(data)
}

// Parse накладывает YAML-документ поверх текущих значений.
// Неизвестные ключи — ошибка.
func (c *Config) Parse(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: parse yaml: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ApplyEnv накладывает переменные окружения. lookup — обычно os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	if v, ok := lookup("ORCH_PORT"); ok && v != "" {
		c.HTTPAddr = ":" + v
	}
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("DB_URL", &c.DatabaseURL)
	str("RABBITMQ_URL", &c.RabbitMQURL)
	str("REDIS_ADDR", &c.Redis.Addr)
	num("REDIS_DB", &c.Redis.DB)
	str("ROLLOUT_STRATEGY", &c.Conflict.Strategy)
	str("ROLLOUT_LOCK_BACKEND", &c.Conflict.Backend)
	dur("ROLLOUT_LOCK_TTL", &c.Conflict.TTL)
	str("ROLLOUT_RENEW_SCHEDULE", &c.Conflict.RenewSchedule)
	str("ROLLOUT_CHECKPOINT_BACKEND", &c.Checkpoint.Backend)
	str("ROLLOUT_STORE_BACKEND", &c.Store.Backend)
	num("ROLLOUT_DEFAULT_CONCURRENCY", &c.Scheduler.DefaultConcurrency)

	if v, ok := lookup("ROLLOUT_ROLLBACK_COMPLETE_IS_FAILURE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ROLLOUT_ROLLBACK_COMPLETE_IS_FAILURE: %w", err))
		} else {
			c.Policy.RollbackCompleteIsFailure = b
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate проверяет перечислимые значения и зависимости между ключами.
func (c Config) Validate() error {
	var errs []error

	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if _, err := conflict.ParseStrategy(c.Conflict.Strategy); err != nil {
		errs = append(errs, err)
	}
	if !oneOf(c.Conflict.Backend, BackendMemory, BackendRedis) {
		errs = append(errs, fmt.Errorf("conflict.backend: unknown %q", c.Conflict.Backend))
	}
	if c.Conflict.TTL < 0 {
		errs = append(errs, errors.New("conflict.ttl: must be >= 0"))
	}
	if err := conflict.ValidateSchedule(c.Conflict.RenewSchedule); err != nil {
		errs = append(errs, fmt.Errorf("conflict.renew_schedule: %w", err))
	}
	if !oneOf(c.Checkpoint.Backend, BackendMemory, BackendRedis, BackendPostgres) {
		errs = append(errs, fmt.Errorf("checkpoint.backend: unknown %q", c.Checkpoint.Backend))
	}
	if !oneOf(c.Store.Backend, BackendMemory, BackendPostgres) {
		errs = append(errs, fmt.Errorf("store.backend: unknown %q", c.Store.Backend))
	}
	if c.Scheduler.DefaultConcurrency < 0 {
		errs = append(errs, errors.New("scheduler.default_concurrency: must be >= 0"))
	}
	if !oneOf(c.Retry.Backoff, pipeline.BackoffFixed, pipeline.BackoffExponential) {
		errs = append(errs, fmt.Errorf("retry.backoff: unknown %q", c.Retry.Backoff))
	}
	if !oneOf(c.Health.Backoff, pipeline.BackoffFixed, pipeline.BackoffExponential) {
		errs = append(errs, fmt.Errorf("health.backoff: unknown %q", c.Health.Backoff))
	}
	for _, name := range c.Pipeline.Stages {
		if !slices.Contains(steps.DefaultStages, name) {
			errs = append(errs, fmt.Errorf("pipeline.stages: unknown stage %q", name))
		}
	}
	if c.Pipeline.Fanout < 0 {
		errs = append(errs, errors.New("pipeline.fanout: must be >= 0"))
	}
	if c.Push.RatePerSecond < 0 {
		errs = append(errs, errors.New("push.rate_per_second: must be >= 0"))
	}

	if c.UsesRedis() && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr: required by redis backend"))
	}
	needsDB := c.Checkpoint.Backend == BackendPostgres || c.Store.Backend == BackendPostgres
	if needsDB && c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url: required by postgres backend"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// UsesRedis сообщает, нужен ли клиент Redis.
// Redis нужен backend'ам redis и стадии activate.
func (c Config) UsesRedis() bool {
	return c.Conflict.Backend == BackendRedis ||
		c.Checkpoint.Backend == BackendRedis ||
		slices.Contains(c.Pipeline.Stages, steps.StageActivate)
}

// UsesPostgres сообщает, нужен ли пул PostgreSQL.
func (c Config) UsesPostgres() bool {
	return c.Checkpoint.Backend == BackendPostgres || c.Store.Backend == BackendPostgres
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
