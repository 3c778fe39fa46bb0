// Package rpc implements the Master-side half of the duplex object-message
// RPC transport (§6 "Wire protocol"): a persistent gorilla/websocket
// connection per Node/Worker, framed with wire.Envelope, correlating
// replies to pending calls via call id. Authentication is layered on top
// as a per-connection state machine (auth.go).
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/pydra/pydra/wire"
)

// idleTimeout is the conservative idle timeout §5 recommends for worker
// RPC handles; an elapsed timeout is treated as a disconnect.
const idleTimeout = 60 * time.Second

// Handler processes an incoming call frame and returns its result (or an
// error, surfaced to the caller as a reply envelope with Error set).
type Handler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Conn wraps one duplex websocket connection to a Node/Worker. It is safe
// for concurrent use: writes are serialized internally, and incoming call
// frames are dispatched to registered Handlers while incoming reply
// frames resolve the matching pending Future.
type Conn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	pendMu   sync.Mutex
	pending  map[int]*Future
	nextCall int

	handlersMu sync.RWMutex
	handlers   map[wire.Method]Handler

	limiter *rate.Limiter // bounds this side's outgoing calls; incoming frames are not limited

	closeOnce sync.Once
	closed    chan struct{}

	// WorkerID is set once the connection completes pairing/auth and is
	// attributed to a worker id (node-host:port:core-index form, §3).
	WorkerID string
}

// NewConn wraps an established websocket connection. ratePerSec/burst
// bound how many call frames per second this side may issue through Call
// before further calls are rejected (golang.org/x/time/rate). Call frames
// arriving from the peer are dispatched without any rate limit.
func NewConn(ws *websocket.Conn, ratePerSec float64, burst int) *Conn {
	c := &Conn{
		ws:       ws,
		pending:  make(map[int]*Future),
		handlers: make(map[wire.Method]Handler),
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
		closed:   make(chan struct{}),
	}
	ws.SetReadDeadline(time.Now().Add(idleTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})
	return c
}

// HandleFunc registers the handler invoked when the peer calls method.
func (c *Conn) HandleFunc(method wire.Method, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[method] = h
}

// Call issues an RPC to the peer and returns a Future that resolves when
// the reply frame arrives. The scheduler attaches Then callbacks rather
// than blocking (§5).
func (c *Conn) Call(method wire.Method, args interface{}) *Future {
	fut := NewFuture()

	if !c.limiter.Allow() {
		fut.Reject(fmt.Errorf("rpc: rate limit exceeded for method %s", method))
		return fut
	}

	payload, err := json.Marshal(args)
	if err != nil {
		fut.Reject(fmt.Errorf("rpc: failed to marshal args: %w", err))
		return fut
	}

	c.pendMu.Lock()
	c.nextCall++
	id := c.nextCall
	c.pending[id] = fut
	c.pendMu.Unlock()

	env := wire.Envelope{CallID: id, Method: method, Args: payload}
	if err := c.writeEnvelope(env); err != nil {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
		fut.Reject(fmt.Errorf("rpc: write failed: %w", err))
	}
	return fut
}

func (c *Conn) writeEnvelope(env wire.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(idleTimeout))
	return c.ws.WriteJSON(env)
}

// ServeLoop reads frames until the connection closes or ctx is cancelled.
// Call frames are dispatched to the registered Handler (synchronously, on
// this goroutine — callers with blocking work must dispatch it themselves
// per §5); reply frames resolve the corresponding pending Future.
func (c *Conn) ServeLoop(ctx context.Context) error {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var env wire.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return fmt.Errorf("rpc: read failed: %w", err)
		}
		c.ws.SetReadDeadline(time.Now().Add(idleTimeout))

		if env.Reply {
			c.resolvePending(env)
			continue
		}
		go c.dispatch(ctx, env)
	}
}

func (c *Conn) resolvePending(env wire.Envelope) {
	c.pendMu.Lock()
	fut, ok := c.pending[env.CallID]
	if ok {
		delete(c.pending, env.CallID)
	}
	c.pendMu.Unlock()
	if !ok {
		return
	}
	if env.Error != "" {
		fut.Reject(fmt.Errorf("%s", env.Error))
		return
	}
	fut.Resolve(env.Result)
}

func (c *Conn) dispatch(ctx context.Context, env wire.Envelope) {
	c.handlersMu.RLock()
	h, ok := c.handlers[env.Method]
	c.handlersMu.RUnlock()

	reply := wire.Envelope{CallID: env.CallID, Reply: true}
	if !ok {
		reply.Error = fmt.Sprintf("unknown method: %s", env.Method)
		if err := c.writeEnvelope(reply); err != nil {
			log.Printf("rpc: failed to write unknown-method reply: %v", err)
		}
		return
	}

	result, err := h(ctx, env.Args)
	if err != nil {
		reply.Error = err.Error()
	} else {
		data, merr := json.Marshal(result)
		if merr != nil {
			reply.Error = fmt.Sprintf("failed to marshal result: %v", merr)
		} else {
			reply.Result = data
		}
	}
	if err := c.writeEnvelope(reply); err != nil {
		log.Printf("rpc: failed to write reply for %s: %v", env.Method, err)
	}
}

// Close terminates the connection and rejects every pending Future.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
		c.pendMu.Lock()
		pending := c.pending
		c.pending = make(map[int]*Future)
		c.pendMu.Unlock()
		for _, fut := range pending {
			fut.Reject(fmt.Errorf("rpc: connection closed"))
		}
	})
	return err
}

// Done returns a channel closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}
