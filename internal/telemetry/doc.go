// Package telemetry — логирование и метрики оркестратора.
//
// Логи пишутся через log/slog в JSON (или text для разработки); уровень
// и формат задаются LOG_LEVEL и LOG_FORMAT либо секцией log конфигурации.
// Записи о плане, задаче и tenant'е несут поля plan_id, task_id и
// tenant_id (WithPlanID, WithTaskID, WithTenantID).
//
// Metrics регистрирует Prometheus метрики с префиксом rollout_; все
// методы безопасны для nil-получателя. Экспорт на /metrics.
package telemetry
