package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pydra/pydra/master/registry"
	"github.com/pydra/pydra/master/rpc"
	"github.com/pydra/pydra/master/scheduler"
	"github.com/pydra/pydra/wire"
)

// workerRatePerSec/workerBurst bound how many call frames per second the
// Master may issue to a single worker connection; calls arriving from the
// worker are not rate-limited on this side.
const (
	workerRatePerSec = 50.0
	workerBurst      = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// workerServer accepts the duplex websocket connections Nodes/Workers open
// against the Master (§6), authenticates them, and wires each paired
// connection into the Registry and Scheduler.
type workerServer struct {
	auth      *rpc.Authenticator
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
}

func (s *workerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("worker_id")
	if peerID == "" {
		http.Error(w, "missing worker_id", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade failed for %s: %v", peerID, err)
		return
	}

	conn := rpc.NewConn(ws, workerRatePerSec, workerBurst)
	s.auth.Attach(conn, peerID)
	s.registerSchedulerHandlers(conn)

	go s.watchPairing(conn, peerID)

	if err := conn.ServeLoop(r.Context()); err != nil {
		log.Printf("server: connection to %s ended: %v", peerID, err)
	}

	s.auth.Detach(conn)
	s.registry.Unregister(peerID)
	s.scheduler.RemoveWorker(peerID)
}

// watchPairing polls for the moment a connection completes the
// challenge/response handshake (conn.WorkerID becomes non-empty) and
// registers it with the Registry and Scheduler exactly once. auth.go has no
// synchronous "just paired" callback, so this is the simplest way to bridge
// the pairing state machine to the scheduler side without coupling the two
// packages together.
func (s *workerServer) watchPairing(conn *rpc.Conn, peerID string) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-conn.Done():
			return
		case <-ticker.C:
			if conn.WorkerID == "" {
				continue
			}
			remote := rpc.NewRemoteWorker(conn.WorkerID, conn)
			worker := &registry.Worker{ID: conn.WorkerID, Remote: remote}
			s.registry.Register(worker)
			s.scheduler.WorkerConnected(worker)
			return
		}
	}
}

// registerSchedulerHandlers wires the Worker->Master half of the sealed
// method set (§9): request_worker, request_worker_release, send_results,
// worker_stopped. Each rejects with NOT_PAIRED until the handshake
// completes, mirroring the auth_challenge/auth_response gate.
func (s *workerServer) registerSchedulerHandlers(conn *rpc.Conn) {
	conn.HandleFunc(wire.MethodRequestWorker, func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		if !s.auth.IsPaired(conn) {
			return nil, fmt.Errorf("NOT_PAIRED")
		}
		var req wire.RequestWorkerArgs
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("invalid request_worker payload: %w", err)
		}
		s.scheduler.RequestWorker(conn.WorkerID, req.SubtaskKey, req.Args, req.WorkunitKey)
		return true, nil
	})

	conn.HandleFunc(wire.MethodRequestWorkerRelease, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		if !s.auth.IsPaired(conn) {
			return nil, fmt.Errorf("NOT_PAIRED")
		}
		s.scheduler.RequestWorkerRelease(conn.WorkerID)
		return true, nil
	})

	conn.HandleFunc(wire.MethodSendResults, func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		if !s.auth.IsPaired(conn) {
			return nil, fmt.Errorf("NOT_PAIRED")
		}
		var req wire.SendResultsArgs
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("invalid send_results payload: %w", err)
		}
		s.scheduler.SendResults(conn.WorkerID, req.Results, req.WorkunitKey, req.Failed)
		return true, nil
	})

	conn.HandleFunc(wire.MethodWorkerStopped, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		if !s.auth.IsPaired(conn) {
			return nil, fmt.Errorf("NOT_PAIRED")
		}
		s.scheduler.WorkerStopped(conn.WorkerID)
		return true, nil
	})
}
