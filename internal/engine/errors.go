package engine

import "errors"

var (
	// ErrTaskNotActive — задача сейчас не выполняется движком.
	ErrTaskNotActive = errors.New("task is not active in engine")

	// ErrNilPipeline — Run вызван без конвейера.
	ErrNilPipeline = errors.New("pipeline is nil")

	// ErrNilCheckpoints — Engine создаётся без checkpoint.Manager.
	ErrNilCheckpoints = errors.New("checkpoint manager is nil")

	// ErrRollbackResumed — откат продолжен после рестарта.
	ErrRollbackResumed = errors.New("rollback resumed after restart")

	// ErrInterrupted — выполнение прервано остановкой процесса.
	ErrInterrupted = errors.New("task execution interrupted")
)
