// Package engine содержит движок выполнения задачи развёртывания.
//
// Включает:
//   - engine.go   — проход по стадиям конвейера с checkpoint'ами
//   - rollback.go — откат завершённых стадий в обратном порядке
//   - control.go  — пауза, продолжение и отмена задачи
//
// Engine отвечает за одну задачу: он не знает про планы, блокировки
// tenant'ов и лимиты параллельности. Результат выполнения (Outcome)
// возвращается вызывающему синхронно.
package engine
