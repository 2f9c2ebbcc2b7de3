// Package conflict гарантирует, что для одного tenant'а одновременно
// выполняется не больше одной задачи развёртывания.
//
// Блокировки хранятся в LockBackend (в памяти процесса или в Redis).
// Scheduler поверх backend'а реализует две стратегии:
//
//   - fine — каждая задача захватывает свой tenant при запуске;
//     конфликт пропускает только эту задачу;
//   - coarse — план захватывает все свои tenant'ы атомарно при
//     допуске; конфликт отклоняет весь план.
//
// Renewer продлевает TTL удерживаемых блокировок по cron-расписанию.
package conflict
