package queue

import (
	"testing"
	"time"

	"github.com/pydra/pydra/master/model"
)

func newInstance(id int64, priority int, submittedAgo time.Duration) *model.TaskInstance {
	ti := model.NewTaskInstance(id, "demo.task", nil, priority)
	ti.SubmitTime = time.Now().Add(-submittedAgo)
	return ti
}

func TestEnqueueIsIdempotent(t *testing.T) {
	q := New()
	ti := newInstance(1, 5, 0)
	q.Enqueue(ti)
	q.Enqueue(ti)
	if q.Len() != 1 {
		t.Fatalf("expected len 1 after duplicate enqueue, got %d", q.Len())
	}
}

func TestNextSchedulableOrdersByScore(t *testing.T) {
	q := New()

	oldLow := newInstance(1, 10, 2*time.Minute)
	recentHigh := newInstance(2, 1, 0)
	recentMedium := newInstance(3, 5, 0)

	q.Enqueue(recentMedium)
	q.Enqueue(oldLow)
	q.Enqueue(recentHigh)

	// oldLow has aged enough that its score (10 - 120/10 = -2) undercuts
	// recentHigh's P1.
	first := q.NextSchedulable()
	if first == nil || first.ID != oldLow.ID {
		t.Fatalf("expected aged low-priority task to win, got %v", first)
	}
}

func TestNextSchedulableSkipsEmptyRequestQueues(t *testing.T) {
	q := New()
	drained := newInstance(1, 1, 0)
	drained.PopRequest()
	pending := newInstance(2, 9, 0)

	q.Enqueue(drained)
	q.Enqueue(pending)

	got := q.NextSchedulable()
	if got == nil || got.ID != pending.ID {
		t.Fatalf("expected the task with a pending request, got %v", got)
	}
}

func TestRemove(t *testing.T) {
	q := New()
	ti := newInstance(1, 5, 0)
	q.Enqueue(ti)
	q.Remove(ti)
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after remove, got len %d", q.Len())
	}
	if q.Contains(ti.ID) {
		t.Fatalf("expected task to no longer be present")
	}
}

func TestRescoreReordersAgedTasks(t *testing.T) {
	q := New()
	slowAger := newInstance(1, 5, 0)
	fresh := newInstance(2, 3, 0)
	q.Enqueue(slowAger)
	q.Enqueue(fresh)

	// Simulate time passing without waiting in the test.
	slowAger.SubmitTime = time.Now().Add(-5 * time.Minute)
	q.Rescore()

	snap := q.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 tasks in snapshot, got %d", len(snap))
	}
	// Scores were 5 vs 3 at enqueue; after Rescore slowAger is 5 - 300/10 = -25.
	if first := q.NextSchedulable(); first == nil || first.ID != slowAger.ID {
		t.Fatalf("expected the aged task to lead after Rescore, got %v", first)
	}
}
