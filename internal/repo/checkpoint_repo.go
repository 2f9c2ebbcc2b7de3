package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Rollout/internal/domain"
)

// CheckpointRepo — checkpoint.Store поверх PostgreSQL.
type CheckpointRepo struct {
	pool *pgxpool.Pool
}

// NewCheckpointRepo создаёт новый CheckpointRepo.
func NewCheckpointRepo(pool *pgxpool.Pool) *CheckpointRepo {
	return &CheckpointRepo{pool: pool}
}

// Put заменяет checkpoint задачи целиком.
func (r *CheckpointRepo) Put(ctx context.Context, taskID uuid.UUID, cp domain.TaskCheckpoint) error {
	query := `
		INSERT INTO task_checkpoints (task_id, completed_stage_names, last_completed_stage_index, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id) DO UPDATE
		SET completed_stage_names = EXCLUDED.completed_stage_names,
		    last_completed_stage_index = EXCLUDED.last_completed_stage_index,
		    recorded_at = EXCLUDED.recorded_at
	`
	_, err := r.pool.Exec(ctx, query, taskID, cp.CompletedStageNames, cp.LastCompletedStageIndex, cp.Timestamp)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// Get возвращает checkpoint задачи или nil, если его нет.
func (r *CheckpointRepo) Get(ctx context.Context, taskID uuid.UUID) (*domain.TaskCheckpoint, error) {
	query := `
		SELECT completed_stage_names, last_completed_stage_index, recorded_at
		FROM task_checkpoints
		WHERE task_id = $1
	`
	var cp domain.TaskCheckpoint
	err := r.pool.QueryRow(ctx, query, taskID).Scan(&cp.CompletedStageNames, &cp.LastCompletedStageIndex, &cp.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("%w: checkpoint of task %s: %w", ErrInvalidState, taskID, err)
	}
	return &cp, nil
}

// Remove удаляет checkpoint. Отсутствующий checkpoint — no-op.
func (r *CheckpointRepo) Remove(ctx context.Context, taskID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM task_checkpoints WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// GetMany загружает checkpoint'ы набора задач одним запросом.
func (r *CheckpointRepo) GetMany(ctx context.Context, taskIDs []uuid.UUID) (map[uuid.UUID]domain.TaskCheckpoint, error) {
	out := make(map[uuid.UUID]domain.TaskCheckpoint, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT task_id, completed_stage_names, last_completed_stage_index, recorded_at
		FROM task_checkpoints
		WHERE task_id = ANY($1)
	`
	rows, err := r.pool.Query(ctx, query, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var cp domain.TaskCheckpoint
		if err := rows.Scan(&id, &cp.CompletedStageNames, &cp.LastCompletedStageIndex, &cp.Timestamp); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if err := cp.Validate(); err != nil {
			return nil, fmt.Errorf("%w: checkpoint of task %s: %w", ErrInvalidState, id, err)
		}
		out[id] = cp
	}
	return out, rows.Err()
}
