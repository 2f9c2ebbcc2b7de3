package pipeline

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// RuntimeContext — рабочий контекст одной выполняемой задачи.
//
// Создаётся при запуске задачи и выбрасывается, когда задача достигает
// финального статуса. Хранилище значений потокобезопасно: шаги и
// обработчики API могут обращаться к нему одновременно.
type RuntimeContext struct {
	PlanID   uuid.UUID
	TaskID   uuid.UUID
	TenantID string

	// TraceID связывает логи и события одной попытки выполнения.
	TraceID string

	// Параметры развёртывания, скопированные из задачи.
	DeployUnit           domain.DeployUnit
	Endpoints            []string
	Previous             *domain.ConfigSnapshot
	LastKnownGoodVersion string

	mu     sync.RWMutex
	values map[string]any
	logger *slog.Logger
}

// NewRuntimeContext создаёт контекст для задачи.
// Если logger == nil, используется slog.Default().
func NewRuntimeContext(task *domain.Task, logger *slog.Logger) *RuntimeContext {
	if logger == nil {
		logger = slog.Default()
	}
	rc := &RuntimeContext{
		PlanID:               task.PlanID(),
		TaskID:               task.ID(),
		TenantID:             task.TenantID(),
		TraceID:              uuid.NewString(),
		DeployUnit:           task.DeployUnit(),
		Endpoints:            task.Endpoints(),
		Previous:             task.PreviousConfig(),
		LastKnownGoodVersion: task.LastKnownGoodVersion(),
		values:               make(map[string]any),
	}

	logger = telemetry.WithPlanID(logger, rc.PlanID.String())
	logger = telemetry.WithTaskID(logger, rc.TaskID.String())
	logger = telemetry.WithTenantID(logger, rc.TenantID)
	rc.logger = logger.With("trace_id", rc.TraceID)

	return rc
}

// Logger возвращает логгер с полями корреляции задачи.
func (rc *RuntimeContext) Logger() *slog.Logger {
	return rc.logger
}

// Set сохраняет значение.
func (rc *RuntimeContext) Set(key string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.values[key] = value
}

// Get возвращает значение и признак его наличия.
func (rc *RuntimeContext) Get(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.values[key]
	return v, ok
}

// GetString возвращает строковое значение или "".
func (rc *RuntimeContext) GetString(key string) string {
	v, ok := rc.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Delete удаляет значение.
func (rc *RuntimeContext) Delete(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.values, key)
}

// Len возвращает количество сохранённых значений.
func (rc *RuntimeContext) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.values)
}
