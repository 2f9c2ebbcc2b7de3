package pipeline

import (
	"fmt"

	"github.com/shaiso/Rollout/internal/domain"
)

// Pipeline — упорядоченный набор стадий с уникальными именами.
//
// Pipeline не меняется после создания и может использоваться
// несколькими задачами одновременно, если шаги не хранят состояние.
type Pipeline struct {
	stages []*Stage
	index  map[string]int
}

// Builder строит конвейер для конкретной задачи.
type Builder func(task *domain.Task) (*Pipeline, error)

// NewPipeline проверяет стадии и создаёт конвейер.
func NewPipeline(stages ...*Stage) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, ErrEmptyPipeline
	}

	index := make(map[string]int, len(stages))
	for i, s := range stages {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := index[s.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStage, s.Name)
		}
		index[s.Name] = i
	}

	return &Pipeline{stages: stages, index: index}, nil
}

// MustPipeline — NewPipeline, паникующий при ошибке. Для статических конвейеров.
func MustPipeline(stages ...*Stage) *Pipeline {
	p, err := NewPipeline(stages...)
	if err != nil {
		panic(err)
	}
	return p
}

// Static возвращает Builder, отдающий один и тот же конвейер.
func Static(p *Pipeline) Builder {
	return func(*domain.Task) (*Pipeline, error) { return p, nil }
}

// Stages возвращает стадии в порядке выполнения.
func (p *Pipeline) Stages() []*Stage {
	out := make([]*Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Len возвращает количество стадий.
func (p *Pipeline) Len() int { return len(p.stages) }

// Stage возвращает стадию по имени.
func (p *Pipeline) Stage(name string) (*Stage, error) {
	i, ok := p.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStageNotFound, name)
	}
	return p.stages[i], nil
}

// Index возвращает позицию стадии или -1.
func (p *Pipeline) Index(name string) int {
	i, ok := p.index[name]
	if !ok {
		return -1
	}
	return i
}

// Names возвращает имена стадий в порядке выполнения.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}
