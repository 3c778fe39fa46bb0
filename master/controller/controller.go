// Package controller implements the Controller Interface (§2, §4.7, §6):
// an HTTP/JSON-RPC surface exposing queue/cancel/list/status operations to
// an external caller, fronted by the session authentication model of
// §4.6.
package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pydra/pydra/master/auth"
	"github.com/pydra/pydra/master/scheduler"
	"github.com/pydra/pydra/master/statusagg"
	"github.com/pydra/pydra/master/store"
)

const sessionCookieName = "pydra_session"

// methodFunc implements one named RPC method. args is the JSON array form,
// kwargs the JSON object form (§6 "form fields args ... kwargs").
type methodFunc func(ctx context.Context, sessionID string, args json.RawMessage, kwargs map[string]json.RawMessage) (interface{}, error)

type methodEntry struct {
	fn   methodFunc
	auth bool
}

// Controller is the Controller Interface's HTTP handler.
type Controller struct {
	scheduler *scheduler.Scheduler
	statusAgg *statusagg.Aggregator
	sessions  *auth.SessionStore
	store     store.TaskStore
	nodes     *NodeStore
	logs      LogSource

	methods map[string]methodEntry
}

// New wires a Controller against its collaborators and registers every
// exposed operation from §4.7.
func New(sched *scheduler.Scheduler, agg *statusagg.Aggregator, sessions *auth.SessionStore, st store.TaskStore, nodes *NodeStore, logs LogSource) *Controller {
	c := &Controller{
		scheduler: sched,
		statusAgg: agg,
		sessions:  sessions,
		store:     st,
		nodes:     nodes,
		logs:      logs,
	}
	c.registerMethods()
	return c
}

// ServeHTTP implements the §6 wire contract: POST /{method} with form
// fields args (JSON array) and kwargs (JSON object); 200/401/404/500.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}

	entry, ok := c.methods[name]
	if !ok {
		writeError(w, http.StatusNotFound, "not found", nil)
		return
	}

	sessionID := c.sessionID(w, r)
	if entry.auth && !c.sessions.IsAuthenticated(sessionID) {
		writeError(w, http.StatusUnauthorized, "unauthenticated", nil)
		return
	}

	var args json.RawMessage
	var kwargs map[string]json.RawMessage
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), nil)
			return
		}
		if raw := r.PostForm.Get("args"); raw != "" {
			args = json.RawMessage(raw)
		}
		if raw := r.PostForm.Get("kwargs"); raw != "" {
			_ = json.Unmarshal([]byte(raw), &kwargs)
		}
	}

	result, err := entry.fn(r.Context(), sessionID, args, kwargs)
	if err != nil {
		if verr, ok := err.(*scheduler.ValidationError); ok {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"task_key": verr.TaskKey,
				"errors":   verr.Errors,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *Controller) sessionID(w http.ResponseWriter, r *http.Request) string {
	if ck, err := r.Cookie(sessionCookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	id, err := auth.GenerateRandomSessionID()
	if err != nil {
		return ""
	}
	c.sessions.NewSession(id)
	http.SetCookie(w, &http.Cookie{
		Name:    sessionCookieName,
		Value:   id,
		Path:    "/",
		Expires: time.Now().Add(auth.DefaultTTL),
	})
	return id
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the §6 500 shape {exception, traceback} for server
// errors, and a bare message for 401/404.
func writeError(w http.ResponseWriter, status int, exception string, traceback interface{}) {
	if status == http.StatusInternalServerError {
		writeJSON(w, status, map[string]interface{}{"exception": exception, "traceback": traceback})
		return
	}
	writeJSON(w, status, map[string]string{"error": exception})
}

func parseInt64(raw json.RawMessage) (int64, bool) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}
