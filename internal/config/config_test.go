package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaiso/Rollout/internal/pipeline"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if !cfg.Policy.RollbackCompleteIsFailure {
		t.Error("RollbackCompleteIsFailure should default to true")
	}
	if cfg.UsesRedis() || cfg.UsesPostgres() {
		t.Error("default config should not need redis or postgres")
	}
}

func TestParse_OverlaysYAML(t *testing.T) {
	cfg := Default()
	doc := `
conflict:
  strategy: coarse
  backend: redis
  ttl: 90s
checkpoint:
  backend: postgres
database_url: postgres://u:p@db/rollout
retry:
  max_attempts: 5
  backoff: fixed
  initial_delay: 250ms
health:
  attempts: 2
pipeline:
  stages: [push, verify]
`
	if err := cfg.Parse([]byte(doc)); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Conflict.Strategy != "coarse" || cfg.Conflict.Backend != BackendRedis {
		t.Errorf("conflict = %+v", cfg.Conflict)
	}
	if cfg.Conflict.TTL != 90*time.Second {
		t.Errorf("TTL = %v, want 90s", cfg.Conflict.TTL)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.Backoff != pipeline.BackoffFixed {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("InitialDelay = %v", cfg.Retry.InitialDelay)
	}
	// Не указанные в файле ключи остаются по умолчанию.
	if cfg.Retry.MaxDelay != pipeline.DefaultRetryPolicy().MaxDelay {
		t.Errorf("MaxDelay = %v, want default", cfg.Retry.MaxDelay)
	}
	if cfg.Health.Interval != Default().Health.Interval {
		t.Errorf("Health.Interval = %v, want default", cfg.Health.Interval)
	}
	if len(cfg.Pipeline.Stages) != 2 || cfg.Pipeline.Stages[1] != "verify" {
		t.Errorf("Pipeline.Stages = %v", cfg.Pipeline.Stages)
	}
	if !cfg.UsesRedis() || !cfg.UsesPostgres() {
		t.Error("expected redis and postgres to be required")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParse_UnknownKey(t *testing.T) {
	cfg := Default()
	err := cfg.Parse([]byte("conflict:\n  stratgy: fine\n"))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Parse = %v, want ErrInvalidConfig", err)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg := Default()
	if err := cfg.Parse(nil); err != nil {
		t.Fatalf("Parse(nil) = %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envOf(map[string]string{
		"ORCH_PORT":                            "9000",
		"RABBITMQ_URL":                         "amqp://guest:guest@mq:5672/",
		"ROLLOUT_STRATEGY":                     "coarse",
		"ROLLOUT_LOCK_TTL":                     "1m",
		"ROLLOUT_DEFAULT_CONCURRENCY":          "8",
		"ROLLOUT_ROLLBACK_COMPLETE_IS_FAILURE": "false",
		"ROLLOUT_STORE_BACKEND":                "",
		"LOG_LEVEL":                            "debug",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.RabbitMQURL == "" {
		t.Error("RabbitMQURL not applied")
	}
	if cfg.Conflict.Strategy != "coarse" || cfg.Conflict.TTL != time.Minute {
		t.Errorf("conflict = %+v", cfg.Conflict)
	}
	if cfg.Scheduler.DefaultConcurrency != 8 {
		t.Errorf("DefaultConcurrency = %d", cfg.Scheduler.DefaultConcurrency)
	}
	if cfg.Policy.RollbackCompleteIsFailure {
		t.Error("RollbackCompleteIsFailure should be false")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	// Пустое значение не перетирает default.
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envOf(map[string]string{
		"ROLLOUT_LOCK_TTL":            "soon",
		"ROLLOUT_DEFAULT_CONCURRENCY": "many",
	}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("ApplyEnv = %v, want ErrInvalidConfig", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown strategy", func(c *Config) { c.Conflict.Strategy = "medium" }},
		{"unknown lock backend", func(c *Config) { c.Conflict.Backend = "etcd" }},
		{"bad schedule", func(c *Config) { c.Conflict.RenewSchedule = "whenever" }},
		{"unknown checkpoint backend", func(c *Config) { c.Checkpoint.Backend = "s3" }},
		{"unknown store backend", func(c *Config) { c.Store.Backend = "redis" }},
		{"negative concurrency", func(c *Config) { c.Scheduler.DefaultConcurrency = -1 }},
		{"unknown retry backoff", func(c *Config) { c.Retry.Backoff = "linear" }},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }},
		{"redis without addr", func(c *Config) {
			c.Checkpoint.Backend = BackendRedis
			c.Redis.Addr = ""
		}},
		{"activate without redis addr", func(c *Config) {
			c.Pipeline.Stages = []string{"push", "activate"}
			c.Redis.Addr = ""
		}},
		{"unknown stage", func(c *Config) { c.Pipeline.Stages = []string{"push", "canary"} }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "logfmt" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestUsesRedis(t *testing.T) {
	cfg := Default()
	if cfg.UsesRedis() {
		t.Error("default config should not need redis")
	}

	cfg.Pipeline.Stages = []string{"push", "verify", "activate"}
	if !cfg.UsesRedis() {
		t.Error("activate stage needs redis")
	}

	cfg = Default()
	cfg.Conflict.Backend = BackendRedis
	if !cfg.UsesRedis() {
		t.Error("redis lock backend needs redis")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollout.yaml")
	if err := os.WriteFile(path, []byte("scheduler:\n  default_concurrency: 2\nconflict:\n  strategy: coarse\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROLLOUT_CONFIG", path)
	t.Setenv("ROLLOUT_STRATEGY", "fine")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.DefaultConcurrency != 2 {
		t.Errorf("DefaultConcurrency = %d, want 2 from file", cfg.Scheduler.DefaultConcurrency)
	}
	if cfg.Conflict.Strategy != "fine" {
		t.Errorf("Strategy = %q, want env override", cfg.Conflict.Strategy)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("ROLLOUT_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing file")
	}
}
