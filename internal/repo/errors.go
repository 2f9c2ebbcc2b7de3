package repo

import (
	"errors"

	"github.com/shaiso/Rollout/internal/domain"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД. Совпадает с domain.ErrNotFound,
	// чтобы вызывающие не зависели от пакета repo.
	ErrNotFound = domain.ErrNotFound

	// ErrInvalidState — сохранённые данные не проходят проверку домена.
	ErrInvalidState = errors.New("invalid state")
)
