// Package repo хранит снимки планов, задач и checkpoint'ы в PostgreSQL.
//
// SnapshotStore реализует orchestrator.Store, CheckpointRepo —
// checkpoint.Store. Схема применяется функцией Migrate.
package repo
