package store

import (
	"context"
	"errors"
	"sync"

	"github.com/pydra/pydra/master/model"
)

// MemoryStore is an in-process TaskStore, useful for tests and for
// single-node development. It implements TaskStore.
type MemoryStore struct {
	mu         sync.RWMutex
	tasks      map[int64]*TaskRecord
	workUnits  map[int64]*WorkUnitRecord
	nextTaskID int64
	nextWUID   int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     make(map[int64]*TaskRecord),
		workUnits: make(map[int64]*WorkUnitRecord),
	}
}

func (s *MemoryStore) NextTaskInstanceID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTaskID++
	return s.nextTaskID, nil
}

func (s *MemoryStore) CreateTaskInstance(ctx context.Context, rec *TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.tasks[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateTaskInstance(ctx context.Context, rec *TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[rec.ID]; !ok {
		return errors.New("store: task instance not found")
	}
	cp := *rec
	s.tasks[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTaskInstance(ctx context.Context, id int64) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListTaskInstancesByStatus(ctx context.Context, statuses ...model.Status) ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[model.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := make([]*TaskRecord, 0)
	for _, rec := range s.tasks {
		if want[rec.Status] {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTaskInstancesByKey(ctx context.Context, taskKey string, page, pageSize int) ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pageSize <= 0 {
		pageSize = 20
	}
	matched := make([]*TaskRecord, 0)
	for _, rec := range s.tasks {
		if rec.TaskKey == taskKey {
			cp := *rec
			matched = append(matched, &cp)
		}
	}
	start := page * pageSize
	if start >= len(matched) {
		return []*TaskRecord{}, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (s *MemoryStore) NextWorkUnitID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWUID++
	return s.nextWUID, nil
}

func (s *MemoryStore) CreateWorkUnit(ctx context.Context, rec *WorkUnitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.workUnits[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateWorkUnit(ctx context.Context, rec *WorkUnitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workUnits[rec.ID]; !ok {
		return errors.New("store: work unit not found")
	}
	cp := *rec
	s.workUnits[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) ListWorkUnitsByTaskInstance(ctx context.Context, taskInstanceID int64) ([]*WorkUnitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*WorkUnitRecord, 0)
	for _, rec := range s.workUnits {
		if rec.TaskInstanceID == taskInstanceID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}
