// Package scheduler ограничивает число одновременно выполняемых задач плана.
//
// Каждый план получает MaxConcurrency слотов и FIFO-очередь ожидающих
// задач; счётчик занятых слотов и очередь защищены одним мьютексом. Задача,
// для которой нет свободного слота, ставится в очередь; при завершении
// задачи слот переходит первой задаче в очереди.
//
// Планировщик ничего не знает про tenant'ов: конфликты разрешает
// пакет conflict до постановки задачи.
package scheduler
