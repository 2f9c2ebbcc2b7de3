package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Rollout/internal/domain"
)

// TaskRepo — репозиторий снимков задач.
//
// Снимок хранится целиком в JSONB; status и tenant_id вынесены в
// колонки для выборок.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// SaveTasks вставляет или обновляет снимки задач одним батчем.
func (r *TaskRepo) SaveTasks(ctx context.Context, tasks []domain.TaskSnapshot) error {
	if len(tasks) == 0 {
		return nil
	}

	query := `
		INSERT INTO tasks (id, plan_id, tenant_id, status, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    snapshot = EXCLUDED.snapshot,
		    updated_at = now()
	`

	batch := &pgx.Batch{}
	for _, t := range tasks {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal task %s: %w", t.ID, err)
		}
		batch.Queue(query, t.ID, t.PlanID, t.TenantID, string(t.Status), data, t.CreatedAt)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert tasks: %w", err)
	}
	return nil
}

// ListTasks возвращает задачи плана в порядке создания.
func (r *TaskRepo) ListTasks(ctx context.Context, planID uuid.UUID) ([]domain.TaskSnapshot, error) {
	query := `
		SELECT snapshot
		FROM tasks
		WHERE plan_id = $1
		ORDER BY created_at ASC, tenant_id ASC
	`
	rows, err := r.pool.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.TaskSnapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		var t domain.TaskSnapshot
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("unmarshal task: %w", err)
		}
		if _, ok := domain.ParseTaskStatus(string(t.Status)); !ok {
			return nil, fmt.Errorf("%w: task %s has status %q", ErrInvalidState, t.ID, t.Status)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SnapshotStore объединяет PlanRepo и TaskRepo в orchestrator.Store.
type SnapshotStore struct {
	*PlanRepo
	*TaskRepo
}

// NewSnapshotStore создаёт SnapshotStore на общем пуле.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{PlanRepo: NewPlanRepo(pool), TaskRepo: NewTaskRepo(pool)}
}
