package store

import (
	"context"
	"testing"

	"github.com/pydra/pydra/master/model"
)

func TestNextTaskInstanceIDIncrements(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.NextTaskInstanceID(ctx)
	if err != nil {
		t.Fatalf("NextTaskInstanceID: %v", err)
	}
	second, err := s.NextTaskInstanceID(ctx)
	if err != nil {
		t.Fatalf("NextTaskInstanceID: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", first, second)
	}
}

func TestCreateAndGetTaskInstance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := &TaskRecord{ID: 1, TaskKey: "demo.task", Status: model.StatusStopped}
	if err := s.CreateTaskInstance(ctx, rec); err != nil {
		t.Fatalf("CreateTaskInstance: %v", err)
	}

	got, err := s.GetTaskInstance(ctx, 1)
	if err != nil {
		t.Fatalf("GetTaskInstance: %v", err)
	}
	if got == nil || got.TaskKey != "demo.task" {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Mutating the returned record must not affect the store's own copy.
	got.TaskKey = "mutated"
	got2, _ := s.GetTaskInstance(ctx, 1)
	if got2.TaskKey != "demo.task" {
		t.Fatal("expected GetTaskInstance to return a defensive copy")
	}
}

func TestGetTaskInstanceUnknownIDReturnsNil(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.GetTaskInstance(context.Background(), 999)
	if err != nil {
		t.Fatalf("GetTaskInstance: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown id, got %+v", got)
	}
}

func TestUpdateTaskInstanceUnknownIDErrors(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpdateTaskInstance(context.Background(), &TaskRecord{ID: 999})
	if err == nil {
		t.Fatal("expected an error updating a nonexistent task instance")
	}
}

func TestListTaskInstancesByStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.CreateTaskInstance(ctx, &TaskRecord{ID: 1, Status: model.StatusRunning})
	s.CreateTaskInstance(ctx, &TaskRecord{ID: 2, Status: model.StatusStopped})
	s.CreateTaskInstance(ctx, &TaskRecord{ID: 3, Status: model.StatusRunning})

	got, err := s.ListTaskInstancesByStatus(ctx, model.StatusRunning)
	if err != nil {
		t.Fatalf("ListTaskInstancesByStatus: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 running tasks, got %d", len(got))
	}
}

func TestListTaskInstancesByKeyPaginates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		s.CreateTaskInstance(ctx, &TaskRecord{ID: i, TaskKey: "demo.task"})
	}

	page0, err := s.ListTaskInstancesByKey(ctx, "demo.task", 0, 2)
	if err != nil {
		t.Fatalf("ListTaskInstancesByKey: %v", err)
	}
	if len(page0) != 2 {
		t.Fatalf("expected page size 2, got %d", len(page0))
	}

	pageOut, err := s.ListTaskInstancesByKey(ctx, "demo.task", 10, 2)
	if err != nil {
		t.Fatalf("ListTaskInstancesByKey: %v", err)
	}
	if len(pageOut) != 0 {
		t.Fatalf("expected an empty page past the end, got %d", len(pageOut))
	}
}

func TestWorkUnitCreateUpdateAndListByTaskInstance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.NextWorkUnitID(ctx)
	if err != nil {
		t.Fatalf("NextWorkUnitID: %v", err)
	}
	rec := &WorkUnitRecord{ID: id, TaskInstanceID: 1, WorkunitKey: "wu-1", Status: model.StatusRunning}
	if err := s.CreateWorkUnit(ctx, rec); err != nil {
		t.Fatalf("CreateWorkUnit: %v", err)
	}

	rec.Status = model.StatusComplete
	if err := s.UpdateWorkUnit(ctx, rec); err != nil {
		t.Fatalf("UpdateWorkUnit: %v", err)
	}

	got, err := s.ListWorkUnitsByTaskInstance(ctx, 1)
	if err != nil {
		t.Fatalf("ListWorkUnitsByTaskInstance: %v", err)
	}
	if len(got) != 1 || got[0].Status != model.StatusComplete {
		t.Fatalf("unexpected work units: %+v", got)
	}
}

func TestUpdateWorkUnitUnknownIDErrors(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpdateWorkUnit(context.Background(), &WorkUnitRecord{ID: 999})
	if err == nil {
		t.Fatal("expected an error updating a nonexistent work unit")
	}
}
