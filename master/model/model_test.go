package model

import "testing"

func TestNewTaskInstanceSeedsRootRequest(t *testing.T) {
	ti := NewTaskInstance(1, "demo.task", nil, 5)
	if ti.Status != StatusStopped {
		t.Fatalf("expected a new task instance to start STOPPED, got %v", ti.Status)
	}
	if len(ti.WorkerRequests) != 1 {
		t.Fatalf("expected exactly one seeded root request, got %d", len(ti.WorkerRequests))
	}
	if !ti.WorkerRequests[0].IsRoot() {
		t.Fatal("expected the seeded request to be the root request")
	}
}

func TestNewTaskInstanceClampsInvalidPriority(t *testing.T) {
	ti := NewTaskInstance(1, "demo.task", nil, 0)
	if ti.Priority != 5 {
		t.Fatalf("expected out-of-range priority to default to 5, got %d", ti.Priority)
	}
	ti2 := NewTaskInstance(2, "demo.task", nil, 99)
	if ti2.Priority != 5 {
		t.Fatalf("expected out-of-range priority to default to 5, got %d", ti2.Priority)
	}
}

func TestRequestQueueIsFIFO(t *testing.T) {
	ti := NewTaskInstance(1, "demo.task", nil, 5)
	ti.PushRequest(&WorkerRequest{SubtaskKey: "a"})
	ti.PushRequest(&WorkerRequest{SubtaskKey: "b"})

	if got := ti.PopRequest(); got.SubtaskKey != "" {
		t.Fatalf("expected root request first, got %q", got.SubtaskKey)
	}
	if got := ti.PopRequest(); got.SubtaskKey != "a" {
		t.Fatalf("expected request 'a' next, got %q", got.SubtaskKey)
	}
	if got := ti.PeekRequest(); got.SubtaskKey != "b" {
		t.Fatalf("expected peek to return 'b' without removing it, got %q", got.SubtaskKey)
	}
	if ti.PopRequest().SubtaskKey != "b" {
		t.Fatal("expected 'b' to still be queued after peek")
	}
	if ti.PopRequest() != nil {
		t.Fatal("expected nil once the queue is drained")
	}
}

func TestPushRequestFrontTakesPriorityOverFIFO(t *testing.T) {
	ti := NewTaskInstance(1, "demo.task", nil, 5)
	ti.PopRequest() // drain the root request
	ti.PushRequest(&WorkerRequest{SubtaskKey: "a"})
	ti.PushRequestFront(&WorkerRequest{SubtaskKey: "retry"})

	if got := ti.PopRequest(); got.SubtaskKey != "retry" {
		t.Fatalf("expected the re-enqueued request to jump the queue, got %q", got.SubtaskKey)
	}
}

func TestPopWaitingWorkerIsLIFO(t *testing.T) {
	ti := NewTaskInstance(1, "demo.task", nil, 5)
	ti.WaitingWorkers = []string{"w1", "w2", "w3"}

	w, ok := ti.PopWaitingWorker()
	if !ok || w != "w3" {
		t.Fatalf("expected the most recently held worker w3 first, got %q", w)
	}
	w, ok = ti.PopWaitingWorker()
	if !ok || w != "w2" {
		t.Fatalf("expected w2 next, got %q", w)
	}
}

func TestRemoveRunningAndWaitingWorker(t *testing.T) {
	ti := NewTaskInstance(1, "demo.task", nil, 5)
	ti.RunningWorkers = []string{"w1", "w2"}
	ti.WaitingWorkers = []string{"w3"}

	if !ti.RemoveRunningWorker("w1") {
		t.Fatal("expected w1 to be removed from running workers")
	}
	if ti.RemoveRunningWorker("w1") {
		t.Fatal("expected a second removal of w1 to report false")
	}
	if !ti.RemoveWaitingWorker("w3") {
		t.Fatal("expected w3 to be removed from waiting workers")
	}
}

func TestHeldWorkersIncludesMainRunningAndWaiting(t *testing.T) {
	ti := NewTaskInstance(1, "demo.task", nil, 5)
	ti.MainWorkerID = "main"
	ti.RunningWorkers = []string{"r1"}
	ti.WaitingWorkers = []string{"w1"}

	held := ti.HeldWorkers()
	if len(held) != 3 || held[0] != "main" || held[1] != "r1" || held[2] != "w1" {
		t.Fatalf("unexpected held workers: %v", held)
	}
}

func TestWorkUnitIndexing(t *testing.T) {
	ti := NewTaskInstance(1, "demo.task", nil, 5)
	wu := &WorkUnit{ID: 1, WorkunitKey: "wu-1"}
	ti.AddWorkUnit(wu)

	got, ok := ti.GetWorkUnit("wu-1")
	if !ok || got != wu {
		t.Fatal("expected to retrieve the indexed work unit by its key")
	}
	if _, ok := ti.GetWorkUnit("missing"); ok {
		t.Fatal("expected lookup of an unknown workunit_key to fail")
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusComplete, StatusCancelled, StatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("expected %v to be terminal", s)
		}
	}
	nonTerminal := []Status{StatusStopped, StatusRunning, StatusPaused, StatusUnknown}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Fatalf("expected %v to not be terminal", s)
		}
	}
}

func TestStatusString(t *testing.T) {
	if StatusRunning.String() != "RUNNING" {
		t.Fatalf("expected RUNNING, got %q", StatusRunning.String())
	}
	if Status(42).String() != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN for an unrecognized status, got %q", Status(42).String())
	}
}
