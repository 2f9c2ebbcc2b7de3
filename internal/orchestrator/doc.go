// Package orchestrator управляет планами развёртывания.
//
// Orchestrator отвечает за:
//   - Приём планов (HTTP API или очередь plans.submitted)
//   - Допуск задач через conflict.Scheduler (fine/coarse)
//   - Постановку допущенных задач в scheduler с лимитом параллельности плана
//   - Запуск задач через engine и снятие блокировок tenant'ов по завершении
//   - Финализацию плана по OutcomePolicy (COMPLETED/FAILED/CANCELLED)
//   - Паузу, возобновление и отмену планов и отдельных задач
//   - Восстановление незавершённых планов после рестарта
//
// Orchestrator — единственный компонент, меняющий статус плана.
package orchestrator
