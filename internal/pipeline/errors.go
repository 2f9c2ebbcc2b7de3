package pipeline

import "errors"

// Ошибки построения конвейера.
var (
	// ErrEmptyPipeline — конвейер не содержит стадий.
	ErrEmptyPipeline = errors.New("pipeline has no stages")

	// ErrEmptyStageName — стадия без имени.
	ErrEmptyStageName = errors.New("stage has empty name")

	// ErrDuplicateStage — несколько стадий с одинаковым именем.
	ErrDuplicateStage = errors.New("duplicate stage name")

	// ErrEmptyStage — стадия не содержит шагов.
	ErrEmptyStage = errors.New("stage has no steps")

	// ErrStageNotFound — стадия с таким именем отсутствует в конвейере.
	ErrStageNotFound = errors.New("stage not found")
)
