// Package mq связывает оркестратор с RabbitMQ.
//
// Connection держит одно AMQP соединение и переподключается с растущей
// задержкой; после каждого подключения вызывается OnConnect (обычно
// SetupTopology). Publisher публикует JSON сообщения (Message), Consumer
// обрабатывает очередь и решает судьбу сообщения: ack, возврат в очередь
// или DLQ. EventSink доставляет события жизненного цикла.
//
// Сообщения:
//   - plan.submitted   — план на создание (очередь plans.submitted, DLQ dlq.plans)
//   - lifecycle.event  — событие плана или задачи (events.lifecycle)
//   - config.changed   — tenant получил или откатил конфигурацию (config.changed)
package mq
