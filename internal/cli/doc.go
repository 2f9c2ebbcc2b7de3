// Package cli реализует инструмент командной строки rollout.
//
// # Обзор
//
// CLI работает с API оркестратора по HTTP и не импортирует внутренние
// пакеты системы: типы ответов продублированы в client.go.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Разбирает DataResponse, ListResponse и
// ErrorResponse; ошибки API возвращаются как *APIError.
//
//	client := cli.NewClient("http://localhost:8082")
//	plans, err := client.ListPlans(ctx, cli.ListPlansOpts{Statuses: []string{"RUNNING"}})
//
// ## Plan file
//
// План описывается YAML-файлом со списком tenant'ов (LoadPlanFile).
// Файл проверяется до отправки: tenant_id и deploy_unit обязательны,
// tenant не может встречаться дважды.
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию; -o json и -o yaml для
// структурированного вывода, --json как сокращение.
// Данные выводятся в stdout, сообщения в stderr:
//
//	rollout plan list --json | jq .
//
// ## Commands
//
//   - plan: list, create, show, start, pause, resume, cancel, delete, tasks, wait
//   - task: show, pause, resume, cancel
//   - tenant: lock, locks
package cli
