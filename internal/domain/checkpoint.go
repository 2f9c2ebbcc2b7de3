package domain

import (
	"fmt"
	"slices"
	"time"
)

// TaskCheckpoint — сохранённый прогресс задачи.
//
// CompletedStageNames хранит имена стадий в порядке завершения,
// LastCompletedStageIndex всегда равен len(CompletedStageNames)-1
// (-1 — ни одна стадия не завершена).
//
// Checkpoint заменяется целиком, частичные правки запрещены:
// это держит его согласованным с индексами pipeline.
type TaskCheckpoint struct {
	CompletedStageNames     []string  `json:"completed_stage_names"`
	LastCompletedStageIndex int       `json:"last_completed_stage_index"`
	Timestamp               time.Time `json:"timestamp"`
}

// NewCheckpoint создаёт checkpoint и проверяет инварианты.
func NewCheckpoint(names []string, lastIndex int) (TaskCheckpoint, error) {
	if lastIndex != len(names)-1 {
		return TaskCheckpoint{}, NewValidationError("last_completed_stage_index",
			fmt.Sprintf("expected %d for %d completed stages, got %d", len(names)-1, len(names), lastIndex))
	}

	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			return TaskCheckpoint{}, NewValidationError("completed_stage_names", "empty stage name")
		}
		if _, dup := seen[name]; dup {
			return TaskCheckpoint{}, NewValidationError("completed_stage_names",
				fmt.Sprintf("duplicate stage %q", name))
		}
		seen[name] = struct{}{}
	}

	return TaskCheckpoint{
		CompletedStageNames:     slices.Clone(names),
		LastCompletedStageIndex: lastIndex,
		Timestamp:               time.Now().UTC(),
	}, nil
}

// EmptyCheckpoint возвращает checkpoint без завершённых стадий.
func EmptyCheckpoint() TaskCheckpoint {
	return TaskCheckpoint{LastCompletedStageIndex: -1, Timestamp: time.Now().UTC()}
}

// Validate проверяет инварианты загруженного из хранилища checkpoint'а.
func (c TaskCheckpoint) Validate() error {
	_, err := NewCheckpoint(c.CompletedStageNames, c.LastCompletedStageIndex)
	return err
}

// IsEmpty возвращает true, если ни одна стадия не завершена.
func (c TaskCheckpoint) IsEmpty() bool {
	return len(c.CompletedStageNames) == 0
}

// Contains проверяет, завершена ли стадия.
func (c TaskCheckpoint) Contains(stage string) bool {
	return slices.Contains(c.CompletedStageNames, stage)
}

// Append возвращает новый checkpoint с добавленной стадией.
func (c TaskCheckpoint) Append(stage string) (TaskCheckpoint, error) {
	names := append(slices.Clone(c.CompletedStageNames), stage)
	return NewCheckpoint(names, len(names)-1)
}

// Clone возвращает глубокую копию.
func (c TaskCheckpoint) Clone() TaskCheckpoint {
	c.CompletedStageNames = slices.Clone(c.CompletedStageNames)
	return c
}

// RollbackReport — результат отката задачи.
//
// Attempted=false и отсутствие отчёта означают «откат не выполнялся»,
// пустой NotRolledBack — «откачено полностью».
type RollbackReport struct {
	Attempted     bool              `json:"attempted"`
	RolledBack    []string          `json:"rolled_back"`
	NotRolledBack []string          `json:"not_rolled_back,omitempty"`
	Errors        map[string]string `json:"errors,omitempty"`
}

// Complete возвращает true, если все стадии откачены.
func (r RollbackReport) Complete() bool {
	return r.Attempted && len(r.NotRolledBack) == 0
}

// Clone возвращает глубокую копию.
func (r RollbackReport) Clone() RollbackReport {
	out := RollbackReport{
		Attempted:     r.Attempted,
		RolledBack:    slices.Clone(r.RolledBack),
		NotRolledBack: slices.Clone(r.NotRolledBack),
	}
	if r.Errors != nil {
		out.Errors = make(map[string]string, len(r.Errors))
		for k, v := range r.Errors {
			out.Errors[k] = v
		}
	}
	return out
}
