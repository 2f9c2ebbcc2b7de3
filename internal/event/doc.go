// Package event доставляет события жизненного цикла планов и задач.
//
// Sink.Publish никогда не блокирует вызывающего: engine публикует
// события на границах стадий и не должен зависеть от скорости
// потребителей. Надёжный сигнал завершения задачи оркестратор
// получает не через события, а через результат Engine.Run.
package event
