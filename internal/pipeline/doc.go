// Package pipeline описывает упорядоченный конвейер стадий развёртывания.
//
// Конвейер состоит из стадий (Stage), стадия — из шагов (Step).
// Шаг умеет выполняться и откатываться. Ошибки шага классифицируются так:
//
//   - nil — успех;
//   - domain.Transient(err) — временная ошибка, шаг повторяется локально
//     по RetryPolicy стадии;
//   - *domain.ValidationError — ошибка формы данных, откат не выполняется;
//   - любая другая ошибка — фатальная, engine запускает откат.
//
// Пакет не знает про checkpoint'ы и блокировки tenant'ов: этим
// занимаются engine и orchestrator.
package pipeline
