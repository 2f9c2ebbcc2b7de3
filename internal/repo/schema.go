package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema — таблицы снимков планов, задач и checkpoint'ов.
// Идемпотентна: применяется при каждом старте оркестратора.
const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id              UUID PRIMARY KEY,
	status          TEXT NOT NULL,
	max_concurrency INT NOT NULL DEFAULT 0,
	task_ids        UUID[] NOT NULL DEFAULT '{}',
	reason          TEXT,
	error_kind      TEXT,
	sequence        BIGINT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	started_at      TIMESTAMPTZ,
	finished_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);

CREATE TABLE IF NOT EXISTS tasks (
	id         UUID PRIMARY KEY,
	plan_id    UUID NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	tenant_id  TEXT NOT NULL,
	status     TEXT NOT NULL,
	snapshot   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tasks_plan ON tasks(plan_id);
CREATE INDEX IF NOT EXISTS idx_tasks_tenant ON tasks(tenant_id);

CREATE TABLE IF NOT EXISTS task_checkpoints (
	task_id                    UUID PRIMARY KEY,
	completed_stage_names      TEXT[] NOT NULL,
	last_completed_stage_index INT NOT NULL,
	recorded_at                TIMESTAMPTZ NOT NULL
);
`

// migrateLockID — ключ advisory lock'а миграции.
const migrateLockID int64 = 0x526f6c6c6f7574 // "Rollout"

// Migrate создаёт недостающие таблицы и индексы.
//
// Схема применяется в транзакции под advisory lock'ом: несколько
// оркестраторов могут стартовать одновременно.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("lock migration: %w", err)
	}
	if _, err := tx.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
