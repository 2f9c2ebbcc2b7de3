// Package api содержит HTTP API оркестратора.
//
// Структура:
//   - handler.go        — Handler и интерфейс Service (оркестратор)
//   - routes.go         — регистрация маршрутов
//   - middleware.go     — middleware (request id, logging, metrics, recovery)
//   - response.go       — унифицированные JSON-ответы и маппинг ошибок
//   - dto.go            — запросы и разбор query-параметров
//   - plan_handler.go   — /plans
//   - task_handler.go   — /tasks
//   - tenant_handler.go — /tenants и /locks
//
// Коды ошибок: VALIDATION → 400, CONFLICT → 409, STATE_CONFLICT → 422,
// не найдено → 404.
package api
