package controller

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pydra/pydra/master/model"
)

// registerMethods wires the §4.7 exposed-operations table. authenticate
// and challenge_response are deliberately unauthenticated — they are how a
// session becomes authenticated in the first place.
func (c *Controller) registerMethods() {
	c.methods = map[string]methodEntry{
		"authenticate":       {fn: c.authenticate, auth: false},
		"challenge_response": {fn: c.challengeResponse, auth: false},

		"list_tasks":          {fn: c.listTasks, auth: true},
		"queue_task":          {fn: c.queueTask, auth: true},
		"cancel_task":         {fn: c.cancelTask, auth: true},
		"list_queue":          {fn: c.listQueue, auth: true},
		"task_statuses":       {fn: c.taskStatuses, auth: true},
		"task_history":        {fn: c.taskHistory, auth: true},
		"task_history_detail": {fn: c.taskHistoryDetail, auth: true},
		"task_log":            {fn: c.taskLog, auth: true},

		"list_nodes":  {fn: c.listNodes, auth: true},
		"create_node": {fn: c.createNode, auth: true},
		"delete_node": {fn: c.deleteNode, auth: true},
	}
}

func (c *Controller) authenticate(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error) {
	cipherHex, digest, err := c.sessions.Authenticate(sessionID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"challenge": cipherHex, "digest": digest}, nil
}

func (c *Controller) challengeResponse(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error) {
	var response string
	if v, ok := kwargs["response"]; ok {
		_ = json.Unmarshal(v, &response)
	} else {
		var arr []string
		if err := json.Unmarshal(args, &arr); err == nil && len(arr) > 0 {
			response = arr[0]
		}
	}
	ok, err := c.sessions.ChallengeResponse(sessionID, response)
	if err != nil {
		return nil, err
	}
	return ok, nil
}

func (c *Controller) listTasks(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error) {
	tasks := c.scheduler.ListActive()
	out := make([]map[string]interface{}, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, map[string]interface{}{
			"id":       t.ID,
			"task_key": t.TaskKey,
			"status":   t.Status.String(),
			"priority": t.Priority,
		})
	}
	return out, nil
}

func (c *Controller) queueTask(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error) {
	var key string
	var taskArgs json.RawMessage
	priority := 5

	if v, ok := kwargs["key"]; ok {
		_ = json.Unmarshal(v, &key)
	}
	if v, ok := kwargs["args"]; ok {
		taskArgs = v
	}
	if v, ok := kwargs["priority"]; ok {
		_ = json.Unmarshal(v, &priority)
	}
	if key == "" {
		var arr []json.RawMessage
		if err := json.Unmarshal(args, &arr); err == nil {
			if len(arr) > 0 {
				_ = json.Unmarshal(arr[0], &key)
			}
			if len(arr) > 1 {
				taskArgs = arr[1]
			}
			if len(arr) > 2 {
				_ = json.Unmarshal(arr[2], &priority)
			}
		}
	}

	task, err := c.scheduler.QueueTask(ctx, key, taskArgs, priority)
	if err != nil {
		return nil, err
	}
	c.statusAgg.StoredStatus(task.ID, model.StatusStopped)
	return map[string]interface{}{"id": task.ID, "status": task.Status.String()}, nil
}

func (c *Controller) cancelTask(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error) {
	id, ok := firstInt64(args, kwargs, "id")
	if !ok {
		return nil, fmt.Errorf("cancel_task requires id")
	}
	c.scheduler.CancelTask(id)
	return true, nil
}

func (c *Controller) listQueue(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error) {
	tasks := c.scheduler.ListQueue()
	out := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out, nil
}

// taskStatuses implements task_statuses (§4.7): a mapping id -> {s,t,p}.
// STOPPED (queued-only) tasks are answered from the task's own status
// without consulting the aggregator; RUNNING tasks trigger (or join) an
// in-flight task_status fan-out, deduplicated by the Aggregator itself.
func (c *Controller) taskStatuses(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error) {
	out := make(map[string]interface{})
	for _, t := range c.scheduler.ListActive() {
		if t.Status == model.StatusStopped {
			out[fmt.Sprint(t.ID)] = map[string]interface{}{"s": t.Status.String()}
			continue
		}
		entry := c.statusAgg.Get(t.ID, t.MainWorkerID)
		rec := map[string]interface{}{"s": entry.Status.String()}
		if t.StartedAt != nil {
			rec["t"] = t.StartedAt.Unix()
		}
		if entry.Progress != nil {
			rec["p"] = entry.Progress
		}
		out[fmt.Sprint(t.ID)] = rec
	}
	return out, nil
}

func (c *Controller) taskHistory(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error) {
	var key string
	page := 0
	if v, ok := kwargs["key"]; ok {
		_ = json.Unmarshal(v, &key)
	}
	if v, ok := kwargs["page"]; ok {
		_ = json.Unmarshal(v, &page)
	}
	if key == "" {
		var arr []json.RawMessage
		if err := json.Unmarshal(args, &arr); err == nil {
			if len(arr) > 0 {
				_ = json.Unmarshal(arr[0], &key)
			}
			if len(arr) > 1 {
				_ = json.Unmarshal(arr[1], &page)
			}
		}
	}
	recs, err := c.store.ListTaskInstancesByKey(ctx, key, page, 20)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *Controller) taskHistoryDetail(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error) {
	id, ok := firstInt64(args, kwargs, "id")
	if !ok {
		return nil, fmt.Errorf("task_history_detail requires id")
	}
	rec, err := c.store.GetTaskInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("no such task instance: %d", id)
	}
	units, err := c.store.ListWorkUnitsByTaskInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"task": rec, "work_units": units}, nil
}

func (c *Controller) taskLog(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error) {
	id, ok := firstInt64(args, kwargs, "task_id")
	if !ok {
		return nil, fmt.Errorf("task_log requires task_id")
	}
	var subtaskKey, workunitKey string
	if v, ok := kwargs["subtask"]; ok {
		_ = json.Unmarshal(v, &subtaskKey)
	}
	if v, ok := kwargs["workunit"]; ok {
		_ = json.Unmarshal(v, &workunitKey)
	}
	lines, err := c.logs.Fetch(ctx, id, subtaskKey, workunitKey)
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (c *Controller) listNodes(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error) {
	return c.nodes.List(), nil
}

func (c *Controller) createNode(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error) {
	var n Node
	if v, ok := kwargs["id"]; ok {
		_ = json.Unmarshal(v, &n.ID)
	}
	if v, ok := kwargs["host"]; ok {
		_ = json.Unmarshal(v, &n.Host)
	}
	if v, ok := kwargs["port"]; ok {
		_ = json.Unmarshal(v, &n.Port)
	}
	if err := c.nodes.Create(&n); err != nil {
		return nil, err
	}
	return n, nil
}

func (c *Controller) deleteNode(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error) {
	var id string
	if v, ok := kwargs["id"]; ok {
		_ = json.Unmarshal(v, &id)
	} else {
		var arr []string
		if err := json.Unmarshal(args, &arr); err == nil && len(arr) > 0 {
			id = arr[0]
		}
	}
	c.nodes.Delete(id)
	return true, nil
}

// firstInt64 extracts a named int64 argument from kwargs, falling back to
// the first positional element of args.
func firstInt64(args json.RawMessage, kwargs map[string]json.RawMessage, name string) (int64, bool) {
	if v, ok := kwargs[name]; ok {
		if n, ok := parseInt64(v); ok {
			return n, true
		}
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(args, &arr); err == nil && len(arr) > 0 {
		return parseInt64(arr[0])
	}
	return 0, false
}
