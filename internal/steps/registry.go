package steps

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/pipeline"
)

// StageFactory создаёт новый экземпляр стадии.
type StageFactory func() *pipeline.Stage

// Registry — реестр стадий по имени.
//
// Конвейер задачи собирается из имён стадий (например, из конфигурации).
// Потокобезопасен.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]StageFactory
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		stages: make(map[string]StageFactory),
	}
}

// Register регистрирует стадию. Существующая стадия с тем же именем перезаписывается.
func (r *Registry) Register(name string, factory StageFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[name] = factory
}

// Get создаёт стадию по имени.
// Возвращает ErrStageNotFound, если стадия не зарегистрирована.
func (r *Registry) Get(name string) (*pipeline.Stage, error) {
	r.mu.RLock()
	factory, exists := r.stages[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStageNotFound, name)
	}
	return factory(), nil
}

// Has проверяет, зарегистрирована ли стадия.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.stages[name]
	return exists
}

// Names возвращает отсортированный список зарегистрированных стадий.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.stages))
	for n := range r.stages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count возвращает количество зарегистрированных стадий.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stages)
}

// Unregister удаляет стадию из реестра.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stages, name)
}

// Builder возвращает pipeline.Builder, собирающий стадии в заданном
// порядке. Неизвестное имя — ошибка сразу, а не при запуске задачи.
//
// Перед сборкой проверяются адреса endpoint'ов задачи: невалидный
// адрес даёт ошибку валидации.
func (r *Registry) Builder(names []string) (pipeline.Builder, error) {
	if len(names) == 0 {
		return nil, pipeline.ErrEmptyPipeline
	}
	for _, n := range names {
		if !r.Has(n) {
			return nil, fmt.Errorf("%w: %s", ErrStageNotFound, n)
		}
	}
	names = append([]string(nil), names...)

	return func(task *domain.Task) (*pipeline.Pipeline, error) {
		if err := validateEndpoints(task.Endpoints()); err != nil {
			return nil, err
		}
		if prev := task.PreviousConfig(); prev != nil {
			if err := validateEndpoints(prev.Endpoints); err != nil {
				return nil, err
			}
		}

		stages := make([]*pipeline.Stage, 0, len(names))
		for _, n := range names {
			s, err := r.Get(n)
			if err != nil {
				return nil, err
			}
			stages = append(stages, s)
		}
		return pipeline.NewPipeline(stages...)
	}, nil
}

// Deps — внешние зависимости стандартных стадий.
type Deps struct {
	// HTTPClient — клиент для push и verify (default: &http.Client{}).
	HTTPClient *http.Client

	// Limiter — общий ограничитель запросов к endpoint'ам.
	Limiter *rate.Limiter

	// Timeout — таймаут одного HTTP запроса.
	Timeout time.Duration

	// Fanout — параллельность по endpoint'ам одной задачи.
	Fanout int

	// Retry — политика повторов push, activate и broadcast.
	Retry pipeline.RetryPolicy

	// Health — параметры опроса verify.
	Health HealthCheckConfig

	// Redis — клиент для activate (nil — стадия не регистрируется).
	Redis redis.UniversalClient

	// RedisPrefix — префикс ключей активных версий.
	RedisPrefix string

	// Publisher — публикация config.changed (nil — broadcast не регистрируется).
	Publisher ConfigChangedPublisher
}

func noEndpoints(rc *pipeline.RuntimeContext) bool { return len(rc.Endpoints) == 0 }

// DefaultRegistry регистрирует стандартные стадии, для которых есть
// зависимости: push и verify всегда, activate при наличии Redis,
// broadcast при наличии Publisher.
func DefaultRegistry(deps Deps) *Registry {
	r := NewRegistry()

	r.Register(StagePush, func() *pipeline.Stage {
		step := NewConfigPushStep(ConfigPushConfig{
			Client:  deps.HTTPClient,
			Limiter: deps.Limiter,
			Timeout: deps.Timeout,
			Fanout:  deps.Fanout,
		})
		return pipeline.NewStage(StagePush, step).WithRetry(deps.Retry).WithSkip(noEndpoints)
	})

	r.Register(StageVerify, func() *pipeline.Stage {
		hc := deps.Health
		hc.Client = deps.HTTPClient
		hc.Limiter = deps.Limiter
		hc.Timeout = deps.Timeout
		hc.Fanout = deps.Fanout
		return pipeline.NewStage(StageVerify, NewHealthCheckStep(hc)).WithSkip(noEndpoints)
	})

	if deps.Redis != nil {
		r.Register(StageActivate, func() *pipeline.Stage {
			step := NewRedisWriteStep(deps.Redis, deps.RedisPrefix)
			return pipeline.NewStage(StageActivate, step).WithRetry(deps.Retry)
		})
	}

	if deps.Publisher != nil {
		r.Register(StageBroadcast, func() *pipeline.Stage {
			return pipeline.NewStage(StageBroadcast, NewBroadcastStep(deps.Publisher)).WithRetry(deps.Retry)
		})
	}

	return r
}

// DefaultPipeline возвращает Builder стандартного конвейера
// push → verify → activate → broadcast.
//
// Пустой names — все стандартные стадии, для которых есть зависимости.
// Явно названная стадия без зависимостей — ошибка.
func DefaultPipeline(deps Deps, names ...string) (pipeline.Builder, error) {
	r := DefaultRegistry(deps)

	if len(names) == 0 {
		for _, n := range DefaultStages {
			if r.Has(n) {
				names = append(names, n)
			}
		}
	}
	return r.Builder(names)
}
