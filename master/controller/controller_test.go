package controller

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pydra/pydra/master/auth"
	"github.com/pydra/pydra/master/queue"
	"github.com/pydra/pydra/master/registry"
	"github.com/pydra/pydra/master/scheduler"
	"github.com/pydra/pydra/master/statusagg"
	"github.com/pydra/pydra/master/store"
	"github.com/pydra/pydra/wire"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	sched := scheduler.New(queue.New(), registry.New(), store.NewMemoryStore(), log.Default())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)

	_, _, priv, err := wire.GenerateKeyPairSize(1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sessions := auth.NewSessionStore(priv, time.Minute)
	agg := statusagg.New(registry.New())

	return New(sched, agg, sessions, store.NewMemoryStore(), NewNodeStore(), NewMemoryLogSource())
}

// postForm performs one POST against the controller, carrying any cookies
// the jar already holds and capturing new ones it sets.
func postForm(t *testing.T, c *Controller, jar *cookieJar, path string, kwargs map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	if kwargs != nil {
		data, err := json.Marshal(kwargs)
		if err != nil {
			t.Fatalf("marshal kwargs: %v", err)
		}
		form.Set("kwargs", string(data))
	}

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	jar.attach(req)

	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, req)
	jar.capture(rec)
	return rec
}

// cookieJar is a minimal single-cookie jar so sequential requests in a test
// stay on the same session, mirroring what a real HTTP client does.
type cookieJar struct {
	cookie *http.Cookie
}

func (j *cookieJar) attach(req *http.Request) {
	if j.cookie != nil {
		req.AddCookie(j.cookie)
	}
}

func (j *cookieJar) capture(rec *httptest.ResponseRecorder) {
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == sessionCookieName {
			j.cookie = ck
		}
	}
}

func TestUnauthenticatedRequestToAuthedMethodIs401(t *testing.T) {
	c := newTestController(t)
	jar := &cookieJar{}

	rec := postForm(t, c, jar, "/queue_task", map[string]interface{}{"key": "demo.task"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownMethodIs404(t *testing.T) {
	c := newTestController(t)
	jar := &cookieJar{}

	rec := postForm(t, c, jar, "/no_such_method", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAuthenticateThenQueueTaskSucceeds(t *testing.T) {
	c := newTestController(t)
	jar := &cookieJar{}

	// First request (any path) establishes a session cookie.
	authRec := postForm(t, c, jar, "/authenticate", nil)
	if authRec.Code != http.StatusOK {
		t.Fatalf("authenticate: expected 200, got %d: %s", authRec.Code, authRec.Body.String())
	}
	var challenge struct {
		Challenge string `json:"challenge"`
		Digest    string `json:"digest"`
	}
	if err := json.Unmarshal(authRec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("decode authenticate reply: %v", err)
	}

	respRec := postForm(t, c, jar, "/challenge_response", map[string]interface{}{"response": challenge.Digest})
	if respRec.Code != http.StatusOK {
		t.Fatalf("challenge_response: expected 200, got %d: %s", respRec.Code, respRec.Body.String())
	}

	queueRec := postForm(t, c, jar, "/queue_task", map[string]interface{}{"key": "demo.task", "priority": 5})
	if queueRec.Code != http.StatusOK {
		t.Fatalf("queue_task: expected 200 once authenticated, got %d: %s", queueRec.Code, queueRec.Body.String())
	}

	var queued map[string]interface{}
	json.Unmarshal(queueRec.Body.Bytes(), &queued)
	if queued["status"] != "STOPPED" {
		t.Fatalf("expected a freshly queued task to read STOPPED, got %+v", queued)
	}
}

func TestQueueTaskInvalidFormReturns200WithValidationErrors(t *testing.T) {
	c := newTestController(t)
	jar := &cookieJar{}
	authenticateJar(t, c, jar)

	rec := postForm(t, c, jar, "/queue_task", map[string]interface{}{"key": ""})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected a 200 carrying validation errors, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if _, ok := body["errors"]; !ok {
		t.Fatalf("expected an 'errors' field in the response, got %+v", body)
	}
}

func TestNodeCRUD(t *testing.T) {
	c := newTestController(t)
	jar := &cookieJar{}
	authenticateJar(t, c, jar)

	createRec := postForm(t, c, jar, "/create_node", map[string]interface{}{"id": "n1", "host": "10.0.0.1", "port": 9000})
	if createRec.Code != http.StatusOK {
		t.Fatalf("create_node: expected 200, got %d: %s", createRec.Code, createRec.Body.String())
	}

	listRec := postForm(t, c, jar, "/list_nodes", nil)
	var nodes []Node
	json.Unmarshal(listRec.Body.Bytes(), &nodes)
	if len(nodes) != 1 || nodes[0].ID != "n1" {
		t.Fatalf("expected the created node to be listed, got %+v", nodes)
	}

	postForm(t, c, jar, "/delete_node", map[string]interface{}{"id": "n1"})
	listRec2 := postForm(t, c, jar, "/list_nodes", nil)
	var afterDelete []Node
	json.Unmarshal(listRec2.Body.Bytes(), &afterDelete)
	if len(afterDelete) != 0 {
		t.Fatalf("expected no nodes after delete, got %+v", afterDelete)
	}
}

func TestTaskLogMissingReturns500(t *testing.T) {
	c := newTestController(t)
	jar := &cookieJar{}
	authenticateJar(t, c, jar)

	rec := postForm(t, c, jar, "/task_log", map[string]interface{}{"task_id": 999})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for a task with no log, got %d", rec.Code)
	}
}

// authenticateJar drives the full authenticate/challenge_response handshake
// against c's own SessionStore so tests needing an authed session don't each
// repeat the dance inline.
func authenticateJar(t *testing.T, c *Controller, jar *cookieJar) {
	t.Helper()
	authRec := postForm(t, c, jar, "/authenticate", nil)
	var challenge struct {
		Digest string `json:"digest"`
	}
	json.Unmarshal(authRec.Body.Bytes(), &challenge)
	postForm(t, c, jar, "/challenge_response", map[string]interface{}{"response": challenge.Digest})
}
