// Package steps содержит стандартные стадии конвейера раскатки
// конфигурации tenant'а.
//
// # Стадии
//
// Конвейер по умолчанию:
//
//	push → verify → activate → broadcast
//
// Стадии:
//
//   - push (ConfigPushStep): PUT {endpoint}/config/{unit} с новой версией;
//     откат повторяет PUT с предыдущей версией.
//   - verify (HealthCheckStep): опрос GET {endpoint}/healthz до 2xx и
//     совпадения версии; после исчерпания попыток ошибка неустранимая.
//   - activate (RedisWriteStep): запись активной версии в Redis;
//     откат восстанавливает предыдущую или удаляет ключ.
//   - broadcast (BroadcastStep): config.changed в RabbitMQ;
//     откат публикует revert.
//
// push и verify пропускаются, если у задачи нет endpoint'ов.
//
// # Ошибки
//
// Сетевые ошибки, 5xx, 408 и 429 — временные (domain.Transient) и
// повторяются по RetryPolicy стадии. Остальные 4xx — неустранимые.
//
// # Registry
//
// Registry хранит фабрики стадий по имени и собирает из списка имён
// pipeline.Builder:
//
//	reg := steps.DefaultRegistry(deps)
//	build, err := reg.Builder([]string{"push", "verify"})
//
// DefaultPipeline — то же для стандартного порядка.
//
// Все запросы к endpoint'ам проходят через общий rate.Limiter из Deps.
package steps
