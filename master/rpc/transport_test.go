package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pydra/pydra/wire"
)

// dialPair spins up an httptest server that upgrades one websocket
// connection and returns both ends wrapped as Conns, each already
// ServeLoop-ing in the background.
func dialPair(t *testing.T) (client *Conn, server *Conn, cleanup func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverConnCh := make(chan *websocket.Conn, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConnCh <- ws
	}))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	clientWS, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	serverWS := <-serverConnCh

	client = NewConn(clientWS, 1000, 1000)
	server = NewConn(serverWS, 1000, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	go client.ServeLoop(ctx)
	go server.ServeLoop(ctx)

	cleanup = func() {
		cancel()
		client.Close()
		server.Close()
		ts.Close()
	}
	return client, server, cleanup
}

func TestCallRoundTripsToRegisteredHandler(t *testing.T) {
	client, server, cleanup := dialPair(t)
	defer cleanup()

	server.HandleFunc(wire.MethodWorkerStatus, func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return wire.WorkerStatusReply{Kind: wire.WorkerIdle}, nil
	})

	fut := client.Call(wire.MethodWorkerStatus, struct{}{})
	done := make(chan struct{})
	var reply wire.WorkerStatusReply
	fut.Then(func(res interface{}) {
		DecodeResult(res, &reply)
		close(done)
	}, func(err error) {
		t.Errorf("unexpected call failure: %v", err)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
	if reply.Kind != wire.WorkerIdle {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestCallToUnknownMethodReturnsError(t *testing.T) {
	client, _, cleanup := dialPair(t)
	defer cleanup()

	fut := client.Call(wire.MethodReleaseWorker, struct{}{})
	done := make(chan error, 1)
	fut.Then(func(interface{}) {
		done <- nil
	}, func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error for a method with no registered handler")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestCloseRejectsPendingFutures(t *testing.T) {
	client, server, cleanup := dialPair(t)
	defer func() { cleanup() }()

	// Register a handler that never replies, so the call stays pending.
	block := make(chan struct{})
	server.HandleFunc(wire.MethodKillWorker, func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		<-block
		return nil, nil
	})

	fut := client.Call(wire.MethodKillWorker, struct{}{})
	errCh := make(chan error, 1)
	fut.Then(func(interface{}) { errCh <- nil }, func(err error) { errCh <- err })

	client.Close()
	close(block)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected the pending future to be rejected on Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rejection")
	}
}
