// Package checkpoint сохраняет и восстанавливает прогресс задач.
//
// Manager — единственная точка записи checkpoint'ов: он проверяет
// инварианты, синхронно пишет в Store и только после успешной записи
// обновляет агрегат задачи. Ошибки хранилища всегда поднимаются
// наверх как *domain.CheckpointPersistenceError.
//
// Реализации Store:
//   - MemoryStore — в памяти процесса (тесты, одиночный инстанс)
//   - RedisStore — ключ на задачу в Redis
//   - repo.CheckpointRepo — таблица task_checkpoints в PostgreSQL
package checkpoint
