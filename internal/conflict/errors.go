package conflict

import "errors"

var (
	// ErrUnknownStrategy — неизвестная стратегия планирования.
	ErrUnknownStrategy = errors.New("unknown conflict strategy")

	// ErrNilBackend — Scheduler создан без backend'а.
	ErrNilBackend = errors.New("lock backend is nil")

	// ErrBackend — ошибка хранилища блокировок.
	ErrBackend = errors.New("lock backend failure")
)
