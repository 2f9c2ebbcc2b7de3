package checkpoint

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// Config — настройки Manager.
type Config struct {
	Store   Store
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Manager записывает, восстанавливает и очищает checkpoint'ы задач.
type Manager struct {
	store   Store
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewManager создаёт Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, ErrNilStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   cfg.Store,
		metrics: cfg.Metrics,
		logger:  telemetry.WithComponent(logger, "checkpoint"),
	}, nil
}

// Record сохраняет прогресс задачи.
//
// Checkpoint сначала проверяется, затем синхронно пишется в хранилище,
// и только после успешной записи заменяет checkpoint агрегата.
// Ошибка хранилища возвращается как *domain.CheckpointPersistenceError,
// агрегат при этом не меняется.
func (m *Manager) Record(ctx context.Context, task *domain.Task, names []string, lastIndex int) (domain.TaskCheckpoint, error) {
	cp, err := domain.NewCheckpoint(names, lastIndex)
	if err != nil {
		return domain.TaskCheckpoint{}, err
	}

	stage := ""
	if len(names) > 0 {
		stage = names[len(names)-1]
	}

	if err := m.store.Put(ctx, task.ID(), cp); err != nil {
		m.metrics.ObserveCheckpointWrite("error")
		m.logger.Error("checkpoint write failed",
			"task_id", task.ID(),
			"stage", stage,
			"error", err,
		)
		return domain.TaskCheckpoint{}, &domain.CheckpointPersistenceError{
			TaskID: task.ID(), Stage: stage, Op: "record", Err: err,
		}
	}
	m.metrics.ObserveCheckpointWrite("ok")

	if err := task.RecordCheckpoint(cp); err != nil {
		return domain.TaskCheckpoint{}, err
	}
	return cp, nil
}

// Restore загружает сохранённый checkpoint в агрегат.
// Возвращает nil, если checkpoint отсутствует.
func (m *Manager) Restore(ctx context.Context, task *domain.Task) (*domain.TaskCheckpoint, error) {
	cp, err := m.store.Get(ctx, task.ID())
	if err != nil {
		return nil, &domain.CheckpointPersistenceError{TaskID: task.ID(), Op: "restore", Err: err}
	}
	if cp == nil {
		return nil, nil
	}
	if err := task.RestoreCheckpoint(*cp); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, &domain.CheckpointPersistenceError{TaskID: task.ID(), Op: "restore", Err: errors.Join(ErrCorrupt, err)}
		}
		return nil, err
	}

	m.logger.Debug("checkpoint restored",
		"task_id", task.ID(),
		"completed", cp.CompletedStageNames,
	)
	return cp, nil
}

// Clear удаляет checkpoint из хранилища и агрегата.
func (m *Manager) Clear(ctx context.Context, task *domain.Task) error {
	if err := m.store.Remove(ctx, task.ID()); err != nil {
		return &domain.CheckpointPersistenceError{TaskID: task.ID(), Op: "clear", Err: err}
	}
	task.ClearCheckpoint()
	return nil
}

// LoadBatch читает checkpoint'ы набора задач без изменения агрегатов.
// Результат — только для чтения (отчёты, восстановление после рестарта).
func (m *Manager) LoadBatch(ctx context.Context, tasks []*domain.Task) (map[uuid.UUID]domain.TaskCheckpoint, error) {
	ids := make([]uuid.UUID, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID()
	}
	out, err := m.store.GetMany(ctx, ids)
	if err != nil {
		return nil, &domain.CheckpointPersistenceError{Op: "load_batch", Err: err}
	}
	return out, nil
}
