package checkpoint

import "errors"

var (
	// ErrCorrupt — сохранённый checkpoint не проходит проверку инвариантов.
	ErrCorrupt = errors.New("corrupt checkpoint")

	// ErrNilStore — Manager создан без хранилища.
	ErrNilStore = errors.New("checkpoint store is nil")
)
