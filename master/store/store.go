// Package store abstracts the Task Store (§3, §6): persistence of
// TaskInstance and WorkUnit records and their status. The persistence
// backend's internal query engine is out of scope (§1); only this
// external contract is specified.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pydra/pydra/master/model"
)

// TaskRecord is the persisted projection of a TaskInstance (§3). It omits
// in-memory-only bookkeeping (Seq, the live WorkerRequests queue) that
// never survives a restart in recoverable form — on restart, a STOPPED
// task is re-enqueued with a fresh root request and a RUNNING task is
// marked FAILED; WorkUnit records are not used to rebuild requests.
type TaskRecord struct {
	ID            int64
	TaskKey       string
	Priority      int
	Args          json.RawMessage
	QueuedAt      time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Status        model.Status
	MainWorkerID  string
}

// WorkUnitRecord is the persisted projection of a WorkUnit (§3).
type WorkUnitRecord struct {
	ID             int64
	TaskInstanceID int64
	SubtaskKey     string
	WorkunitKey    string
	Args           json.RawMessage
	WorkerID       string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Status         model.Status
	OnMainWorker   bool
}

// TaskStore is the persistence contract for TaskInstances and WorkUnits.
type TaskStore interface {
	// NextTaskInstanceID returns a monotonically increasing id, unique for
	// the life of the store (§3 Identity).
	NextTaskInstanceID(ctx context.Context) (int64, error)

	CreateTaskInstance(ctx context.Context, rec *TaskRecord) error
	UpdateTaskInstance(ctx context.Context, rec *TaskRecord) error
	GetTaskInstance(ctx context.Context, id int64) (*TaskRecord, error)
	// ListTaskInstancesByStatus returns every TaskRecord currently in one
	// of the given statuses, used to rehydrate the queue on startup
	// (§4.1). task_history is served by ListTaskInstancesByKey.
	ListTaskInstancesByStatus(ctx context.Context, statuses ...model.Status) ([]*TaskRecord, error)
	ListTaskInstancesByKey(ctx context.Context, taskKey string, page, pageSize int) ([]*TaskRecord, error)

	NextWorkUnitID(ctx context.Context) (int64, error)
	CreateWorkUnit(ctx context.Context, rec *WorkUnitRecord) error
	UpdateWorkUnit(ctx context.Context, rec *WorkUnitRecord) error
	ListWorkUnitsByTaskInstance(ctx context.Context, taskInstanceID int64) ([]*WorkUnitRecord, error)
}
