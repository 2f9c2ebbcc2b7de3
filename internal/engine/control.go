package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/domain"
)

// control — управляющие сигналы одной выполняемой задачи.
//
// Сигналы только выставляются флагами; движок проверяет их на
// границах стадий. wake закрывается при каждом изменении, чтобы
// разбудить задачу, ожидающую на паузе.
type control struct {
	mu           sync.Mutex
	pauseWanted  bool
	cancelWanted bool
	reason       string
	wake         chan struct{}
}

func newControl() *control {
	return &control{wake: make(chan struct{})}
}

// signal будит ожидающих. Вызывается под c.mu.
func (c *control) signal() {
	close(c.wake)
	c.wake = make(chan struct{})
}

func (c *control) pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseWanted = true
	c.signal()
}

func (c *control) resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseWanted = false
	c.signal()
}

func (c *control) cancel(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelWanted {
		return
	}
	c.cancelWanted = true
	c.reason = reason
	c.signal()
}

// state возвращает текущие сигналы и канал для ожидания изменений.
func (c *control) state() (paused, cancelled bool, reason string, wake <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseWanted, c.cancelWanted, c.reason, c.wake
}

func (e *Engine) register(taskID uuid.UUID) *control {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctl := newControl()
	e.controls[taskID] = ctl
	return ctl
}

func (e *Engine) unregister(taskID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.controls, taskID)
}

func (e *Engine) control(taskID uuid.UUID) (*control, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ctl, ok := e.controls[taskID]
	return ctl, ok
}

// Pause просит задачу остановиться на ближайшей границе стадии.
func (e *Engine) Pause(taskID uuid.UUID) error {
	ctl, ok := e.control(taskID)
	if !ok {
		return ErrTaskNotActive
	}
	ctl.pause()
	return nil
}

// Wake будит задачу, чтобы она перечитала сигналы и условие Hold.
func (e *Engine) Wake(taskID uuid.UUID) error {
	ctl, ok := e.control(taskID)
	if !ok {
		return ErrTaskNotActive
	}
	ctl.mu.Lock()
	ctl.signal()
	ctl.mu.Unlock()
	return nil
}

// Resume снимает запрос паузы и будит задачу.
func (e *Engine) Resume(taskID uuid.UUID) error {
	ctl, ok := e.control(taskID)
	if !ok {
		return ErrTaskNotActive
	}
	ctl.resume()
	return nil
}

// Cancel отменяет задачу. Отмена односторонняя и идемпотентная.
//
// Выполняемая задача отменяется на ближайшей границе стадии (в том
// числе между стадиями отката) без отката. Задача, которая ещё не
// запущена движком, отменяется сразу; тогда stopped == true, и снять
// блокировку tenant'а должен вызывающий: Run для неё ничего не сообщит.
func (e *Engine) Cancel(task *domain.Task, reason string) (stopped bool, err error) {
	// Под e.mu, чтобы не разойтись с регистрацией в Run.
	e.mu.Lock()
	ctl, ok := e.controls[task.ID()]
	if ok {
		e.mu.Unlock()
		ctl.cancel(reason)
		return false, nil
	}
	defer e.mu.Unlock()

	if task.Status() == domain.TaskStatusCancelled {
		return false, nil
	}
	if err := task.Cancel(reason); err != nil {
		return false, err
	}
	e.emit(task, domain.EventTaskCancelled, "", reason, domain.ErrorKindCancelled)
	e.metrics.ObserveTaskOutcome(string(domain.TaskStatusCancelled))
	return true, nil
}

// Active возвращает число задач, выполняемых движком.
func (e *Engine) Active() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.controls)
}
