// Package coordinator implements the ParallelTask Coordinator, the worker
// side of the subtask protocol described in §2 and §4.2-§4.4: it executes
// registered Tasks, turns a Runner's Spawn calls into request_worker RPCs,
// routes receive_results back to the pending Spawn that is waiting on
// them, and honors the cooperative STOP flag for cancellation (§5, §9).
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/pydra/pydra/master/rpc"
	"github.com/pydra/pydra/wire"
	"github.com/pydra/pydra/worker/tasks"
)

// master is the subset of rpcclient.RemoteMaster the Coordinator needs,
// declared locally so this package does not depend on rpcclient (it is
// wired from the call site, worker/main.go).
type master interface {
	RequestWorker(subtaskKey string, args []byte, workunitKey string) *rpc.Future
	RequestWorkerRelease() *rpc.Future
	SendResults(results []wire.ResultEntry, workunitKey string, failed bool) *rpc.Future
	WorkerStopped() *rpc.Future
}

// Coordinator tracks every workunit currently executing on this worker
// process and the results it is waiting on from subtasks it spawned.
type Coordinator struct {
	master   master
	registry *tasks.Registry
	logger   *log.Logger
	onKill   func()

	mu         sync.Mutex
	executions map[string]*execution       // key: workunit_key ("" for the root/main execution)
	pending    map[string]chan tasks.Result // key: workunit_key of a Spawn this worker is awaiting
	seq        int64
}

// New constructs a Coordinator driving runner lookups against registry and
// issuing RPCs through m. onKill is invoked by kill_worker (§5, §9); with a
// nil onKill, kill_worker fails with an error and the process keeps running.
func New(m master, registry *tasks.Registry, logger *log.Logger, onKill func()) *Coordinator {
	return &Coordinator{
		master:     m,
		registry:   registry,
		logger:     logger,
		onKill:     onKill,
		executions: make(map[string]*execution),
		pending:    make(map[string]chan tasks.Result),
	}
}

// HandleRunTask implements the run_task handler (§4.2 step 5): look up
// the named Task and execute it asynchronously, reporting its outcome
// back to the Master when it completes.
func (c *Coordinator) HandleRunTask(ctx context.Context, args wire.RunTaskArgs) error {
	runner, ok := c.registry.Lookup(args.TaskKey)
	if !ok {
		return tasks.ErrUnknownTask(args.TaskKey)
	}

	exec := &execution{
		coord:          c,
		taskInstanceID: args.TaskInstanceID,
		taskKey:        args.TaskKey,
		subtaskKey:     args.SubtaskKey,
		workunitKey:    args.WorkunitKey,
		isMain:         args.SubtaskKey == "",
		stopCh:         make(chan struct{}),
	}

	c.mu.Lock()
	c.executions[args.WorkunitKey] = exec
	c.mu.Unlock()

	go c.run(ctx, exec, runner, args.Args)
	return nil
}

func (c *Coordinator) run(ctx context.Context, exec *execution, runner tasks.Runner, args json.RawMessage) {
	result, err := runner.Run(ctx, exec, args)

	c.mu.Lock()
	delete(c.executions, exec.workunitKey)
	c.mu.Unlock()

	if exec.Stopped() {
		c.master.WorkerStopped()
		return
	}

	payload, failed := outcomeToResult(result, err)
	entries := []wire.ResultEntry{{Payload: payload, Failed: failed}}

	if exec.isMain {
		c.master.RequestWorkerRelease()
	}
	c.master.SendResults(entries, exec.workunitKey, failed)
}

func outcomeToResult(result json.RawMessage, err error) (json.RawMessage, bool) {
	if err != nil {
		msg, _ := json.Marshal(err.Error())
		return msg, true
	}
	return result, false
}

// HandleStopTask implements stop_task (§5 Cancellation): every execution
// belonging to taskInstanceID has its STOP flag raised. Acking back to the
// Master (worker_stopped) happens once the corresponding run() goroutine
// notices the flag and returns, not here.
func (c *Coordinator) HandleStopTask(taskInstanceID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, exec := range c.executions {
		if exec.taskInstanceID == taskInstanceID {
			exec.stop()
		}
	}
	return nil
}

// HandleTaskStatus implements task_status, used by the Status Aggregator
// (§4.7) to poll a worker directly when its cache entry is stale.
func (c *Coordinator) HandleTaskStatus(taskInstanceID int64) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, exec := range c.executions {
		if exec.taskInstanceID == taskInstanceID {
			return map[string]string{"status": "RUNNING"}, nil
		}
	}
	return map[string]string{"status": "UNKNOWN"}, nil
}

// HandleWorkerStatus implements worker_status (§4.5), issued by the
// Master right after a connection pairs so it can reattach or re-idle the
// worker correctly.
func (c *Coordinator) HandleWorkerStatus() (wire.WorkerStatusReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, exec := range c.executions {
		return wire.WorkerStatusReply{
			Kind:        wire.WorkerWorking,
			TaskKey:     exec.taskKey,
			WorkunitKey: exec.workunitKey,
		}, nil
	}
	return wire.WorkerStatusReply{Kind: wire.WorkerIdle}, nil
}

// HandleReceiveResults implements receive_results (§4.4): route a
// subtask's results to the Spawn call that is waiting for them.
func (c *Coordinator) HandleReceiveResults(args wire.ReceiveResultsArgs) error {
	c.mu.Lock()
	ch, ok := c.pending[args.WorkunitKey]
	if ok {
		delete(c.pending, args.WorkunitKey)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Printf("coordinator: receive_results for unknown workunit %s, dropping", args.WorkunitKey)
		return nil
	}

	var payload json.RawMessage
	var failed bool
	if len(args.Results) > 0 {
		payload = args.Results[0].Payload
		failed = args.Results[0].Failed
	}
	ch <- tasks.Result{Payload: payload, Failed: failed}
	return nil
}

// HandleReleaseWorker implements release_worker (§4.3): the Master is
// telling this previously-held worker it is free again. There is no
// local state to clear beyond what run()'s completion already cleared.
func (c *Coordinator) HandleReleaseWorker() error {
	return nil
}

// HandleKillWorker implements kill_worker, the hard-kill escalation past
// the cooperative STOP flag (§5, §9 supplemented feature).
func (c *Coordinator) HandleKillWorker() error {
	if c.onKill != nil {
		c.onKill()
		return nil
	}
	return fmt.Errorf("rpcclient: kill_worker received with no onKill handler")
}
