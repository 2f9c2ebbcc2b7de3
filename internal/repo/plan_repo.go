package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/orchestrator"
)

// PlanRepo — репозиторий снимков планов.
type PlanRepo struct {
	pool *pgxpool.Pool
}

// NewPlanRepo создаёт новый PlanRepo.
func NewPlanRepo(pool *pgxpool.Pool) *PlanRepo {
	return &PlanRepo{pool: pool}
}

// SavePlan вставляет или обновляет снимок плана.
func (r *PlanRepo) SavePlan(ctx context.Context, plan domain.PlanSnapshot) error {
	query := `
		INSERT INTO plans (id, status, max_concurrency, task_ids, reason, error_kind, sequence,
		                   created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    task_ids = EXCLUDED.task_ids,
		    reason = EXCLUDED.reason,
		    error_kind = EXCLUDED.error_kind,
		    sequence = EXCLUDED.sequence,
		    started_at = EXCLUDED.started_at,
		    finished_at = EXCLUDED.finished_at
	`
	_, err := r.pool.Exec(ctx, query,
		plan.ID,
		string(plan.Status),
		plan.MaxConcurrency,
		plan.TaskIDs,
		nullString(plan.Reason),
		nullString(string(plan.ErrorKind)),
		int64(plan.Sequence),
		plan.CreatedAt,
		plan.StartedAt,
		plan.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}

// GetPlan возвращает снимок плана по ID.
func (r *PlanRepo) GetPlan(ctx context.Context, id uuid.UUID) (domain.PlanSnapshot, error) {
	query := `
		SELECT id, status, max_concurrency, task_ids, reason, error_kind, sequence,
		       created_at, started_at, finished_at
		FROM plans
		WHERE id = $1
	`
	plan, err := scanPlan(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, ErrNotFound) {
		return domain.PlanSnapshot{}, fmt.Errorf("%w: plan %s", ErrNotFound, id)
	}
	return plan, err
}

// ListPlans возвращает планы, новые первыми.
func (r *PlanRepo) ListPlans(ctx context.Context, filter orchestrator.PlanFilter) ([]domain.PlanSnapshot, error) {
	statuses := make([]string, len(filter.Statuses))
	for i, s := range filter.Statuses {
		statuses[i] = string(s)
	}

	query := `
		SELECT id, status, max_concurrency, task_ids, reason, error_kind, sequence,
		       created_at, started_at, finished_at
		FROM plans
		WHERE (cardinality($1::text[]) = 0 OR status = ANY($1))
		ORDER BY created_at DESC
		LIMIT NULLIF($2, 0)
	`
	rows, err := r.pool.Query(ctx, query, statuses, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.PlanSnapshot
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// DeletePlan удаляет план; задачи удаляются каскадно.
func (r *PlanRepo) DeletePlan(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM plans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: plan %s", ErrNotFound, id)
	}
	return nil
}

// --- Helpers ---

// scanPlan читает план из pgx.Row (подходит и для pgx.Rows).
func scanPlan(row pgx.Row) (domain.PlanSnapshot, error) {
	var plan domain.PlanSnapshot
	var status string
	var reason, errorKind *string
	var sequence int64

	err := row.Scan(
		&plan.ID,
		&status,
		&plan.MaxConcurrency,
		&plan.TaskIDs,
		&reason,
		&errorKind,
		&sequence,
		&plan.CreatedAt,
		&plan.StartedAt,
		&plan.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return plan, ErrNotFound
	}
	if err != nil {
		return plan, fmt.Errorf("scan plan: %w", err)
	}

	ps, ok := domain.ParsePlanStatus(status)
	if !ok {
		return plan, fmt.Errorf("%w: plan %s has status %q", ErrInvalidState, plan.ID, status)
	}
	plan.Status = ps
	plan.Sequence = uint64(sequence)
	if reason != nil {
		plan.Reason = *reason
	}
	if errorKind != nil {
		plan.ErrorKind = domain.ErrorKind(*errorKind)
	}
	return plan, nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
