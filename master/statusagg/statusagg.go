// Package statusagg implements the Status Aggregator (§2, §4.7): it polls
// live workers for task progress, caches the result with a short TTL, and
// de-duplicates concurrent fetches for the same task behind a single
// in-flight future.
package statusagg

import (
	"sync"
	"time"

	"github.com/pydra/pydra/master/model"
	"github.com/pydra/pydra/master/observability"
	"github.com/pydra/pydra/master/registry"
	"github.com/pydra/pydra/master/rpc"
)

// TTL is the cache window for a task's progress snapshot (§4.7, §5
// Timeouts, testable scenario 6).
const TTL = 3 * time.Second

// Entry is one task's cached status, matching the `{s, t, p}` shape of
// §4.7: status, start time (unix seconds), and progress.
type Entry struct {
	Status    model.Status `json:"s"`
	StartUnix int64        `json:"t,omitempty"`
	Progress  interface{}  `json:"p,omitempty"`
}

type cached struct {
	entry     Entry
	fetchedAt time.Time
}

// Aggregator caches per-task status snapshots and coalesces concurrent
// refreshes.
type Aggregator struct {
	registry *registry.Registry

	mu       sync.Mutex
	cache    map[int64]cached
	inflight map[int64]*rpc.Future
}

// New constructs an Aggregator bound to the Worker Registry used to fetch
// live progress via task_status.
func New(reg *registry.Registry) *Aggregator {
	return &Aggregator{
		registry: reg,
		cache:    make(map[int64]cached),
		inflight: make(map[int64]*rpc.Future),
	}
}

// Get returns the cached status for a task, refreshing it from the worker
// named by workerID (its main worker) if the cache entry is stale or
// absent. Concurrent callers for the same task id within the refresh
// window receive the same underlying future (§4.7 "second caller receives
// the same promise/future").
func (a *Aggregator) Get(taskID int64, workerID string) Entry {
	a.mu.Lock()
	if c, ok := a.cache[taskID]; ok && time.Since(c.fetchedAt) < TTL {
		entry := c.entry
		a.mu.Unlock()
		observability.StatusCacheLookups.WithLabelValues("hit").Inc()
		return entry
	}

	if future, ok := a.inflight[taskID]; ok {
		a.mu.Unlock()
		observability.StatusCacheLookups.WithLabelValues("inflight_join").Inc()
		return a.await(taskID, future)
	}

	observability.StatusCacheLookups.WithLabelValues("miss").Inc()

	if workerID == "" {
		stale, _ := a.cache[taskID]
		a.mu.Unlock()
		return stale.entry
	}

	w, ok := a.registry.Get(workerID)
	if !ok {
		stale, _ := a.cache[taskID]
		a.mu.Unlock()
		return stale.entry
	}

	future := w.Remote.TaskStatus(taskID)
	a.inflight[taskID] = future
	a.mu.Unlock()

	return a.await(taskID, future)
}

// StoredStatus sets the cache directly for a task that is not currently
// live-fetchable (e.g. queued: {s: STOPPED}), bypassing the RPC round trip
// entirely (§4.7 "{s:STOPPED} for queued tasks").
func (a *Aggregator) StoredStatus(taskID int64, status model.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[taskID] = cached{entry: Entry{Status: status}, fetchedAt: time.Now()}
}

// Invalidate drops the cached entry for a task, forcing the next Get to
// refetch.
func (a *Aggregator) Invalidate(taskID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cache, taskID)
}

func (a *Aggregator) await(taskID int64, future *rpc.Future) Entry {
	type outcome struct {
		entry Entry
	}
	done := make(chan outcome, 1)

	future.Then(
		func(result interface{}) {
			var reply struct {
				Progress interface{} `json:"progress"`
			}
			_ = rpc.DecodeResult(result, &reply)
			done <- outcome{entry: Entry{Status: model.StatusRunning, Progress: reply.Progress}}
		},
		func(err error) {
			done <- outcome{entry: Entry{Status: model.StatusUnknown}}
		},
	)

	out := <-done

	a.mu.Lock()
	a.cache[taskID] = cached{entry: out.entry, fetchedAt: time.Now()}
	delete(a.inflight, taskID)
	a.mu.Unlock()

	return out.entry
}
