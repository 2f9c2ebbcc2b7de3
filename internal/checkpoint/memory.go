package checkpoint

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/domain"
)

// MemoryStore — Store в памяти процесса.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[uuid.UUID]domain.TaskCheckpoint
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[uuid.UUID]domain.TaskCheckpoint)}
}

// Put сохраняет копию checkpoint'а.
func (s *MemoryStore) Put(ctx context.Context, taskID uuid.UUID, cp domain.TaskCheckpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[taskID] = cp.Clone()
	return nil
}

// Get возвращает копию checkpoint'а или nil.
func (s *MemoryStore) Get(ctx context.Context, taskID uuid.UUID) (*domain.TaskCheckpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.data[taskID]
	if !ok {
		return nil, nil
	}
	c := cp.Clone()
	return &c, nil
}

// Remove удаляет checkpoint.
func (s *MemoryStore) Remove(ctx context.Context, taskID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, taskID)
	return nil
}

// GetMany возвращает найденные checkpoint'ы.
func (s *MemoryStore) GetMany(ctx context.Context, taskIDs []uuid.UUID) (map[uuid.UUID]domain.TaskCheckpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]domain.TaskCheckpoint, len(taskIDs))
	for _, id := range taskIDs {
		if cp, ok := s.data[id]; ok {
			out[id] = cp.Clone()
		}
	}
	return out, nil
}

// Len возвращает число сохранённых checkpoint'ов.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
