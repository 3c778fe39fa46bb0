// Package rpcclient is the Worker-side half of the duplex object-message
// RPC transport (§6): it dials the Master over a persistent websocket,
// drives the connector's side of the RSA challenge/response handshake
// (§4.6), and exposes the Worker->Master sealed methods once paired. It
// reuses master/rpc's Conn/Future transport, which is peer-agnostic, so
// the framing and rate-limiting logic is not duplicated between the two
// processes.
package rpcclient

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/pydra/pydra/master/rpc"
	"github.com/pydra/pydra/wire"
)

// callRatePerSec/callBurst bound how many calls this worker may issue
// toward the Master per second, mirroring the symmetrical limit the
// Master applies to worker connections (§5).
const (
	callRatePerSec = 20.0
	callBurst      = 40
)

// Client wraps one duplex connection from a Worker process to the Master.
type Client struct {
	conn     *rpc.Conn
	workerID string

	priv *rsa.PrivateKey
	pub  wire.KeyFile

	masterPub *rsa.PublicKey
}

// Dial opens a websocket connection to the Master at addr (e.g.
// "ws://master:8080/worker/connect"), identifying this process as
// workerID. The Master->Worker handler set must be registered separately
// via RegisterHandlers before calling Run. keyBits is accepted for
// symmetry with the Master's Authenticator constructor but unused here:
// only the server side needs it to size the challenge nonce (§4.6).
func Dial(ctx context.Context, addr, workerID string, priv *rsa.PrivateKey, pub wire.KeyFile, keyBits int) (*Client, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: invalid address %q: %w", addr, err)
	}
	q := u.Query()
	q.Set("worker_id", workerID)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", addr, err)
	}

	conn := rpc.NewConn(ws, callRatePerSec, callBurst)
	return &Client{conn: conn, workerID: workerID, priv: priv, pub: pub}, nil
}

// Master returns the Worker->Master sealed method set bound to this
// connection (§9): request_worker, request_worker_release, send_results,
// worker_stopped.
func (c *Client) Master() *RemoteMaster {
	return &RemoteMaster{conn: c.conn}
}

// RegisterHandlers wires the Master->Worker sealed method set onto the
// underlying connection.
func (c *Client) RegisterHandlers(h Handlers) {
	registerHandlers(c.conn, h)
}

// Run drives the connection's read loop until it closes or ctx is
// cancelled. Must already be running (in its own goroutine) when
// Authenticate is called, since Authenticate's replies only arrive once
// something is reading frames off the socket.
func (c *Client) Run(ctx context.Context) error {
	return c.conn.ServeLoop(ctx)
}

// Close terminates the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Done returns a channel closed once the underlying connection closes.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// Authenticate drives the connector's side of the §4.6 handshake: fetch
// the Master's public key via exchange_keys, then solve the
// auth_challenge nonce and submit auth_response. The caller must already
// have Run (or an equivalent read loop) active on another goroutine, since
// replies to these calls arrive asynchronously over the same connection.
func (c *Client) Authenticate(ctx context.Context) error {
	if err := c.exchangeKeys(ctx); err != nil {
		return err
	}
	return c.solveChallenge(ctx)
}

func (c *Client) exchangeKeys(ctx context.Context) error {
	raw, err := await(ctx, c.conn.Call(wire.MethodExchangeKeys, c.pub))
	if err != nil {
		return fmt.Errorf("rpcclient: exchange_keys: %w", err)
	}
	var chunks []string
	if err := rpc.DecodeResult(raw, &chunks); err != nil {
		return fmt.Errorf("rpcclient: decode exchange_keys reply: %w", err)
	}
	kf, err := wire.ParseKeyFile([]byte(wire.JoinChunks(chunks)))
	if err != nil {
		return fmt.Errorf("rpcclient: parse master key file: %w", err)
	}
	pub, err := wire.PublicKeyFromKeyFile(kf)
	if err != nil {
		return fmt.Errorf("rpcclient: master key file: %w", err)
	}
	c.masterPub = pub
	return nil
}

func (c *Client) solveChallenge(ctx context.Context) error {
	if c.masterPub == nil {
		return fmt.Errorf("rpcclient: no master public key, exchange_keys must run first")
	}

	raw, err := await(ctx, c.conn.Call(wire.MethodAuthChallenge, struct{}{}))
	if err != nil {
		return fmt.Errorf("rpcclient: auth_challenge: %w", err)
	}
	var encryptedForUs []byte
	if err := rpc.DecodeResult(raw, &encryptedForUs); err != nil {
		return fmt.Errorf("rpcclient: decode auth_challenge reply: %w", err)
	}

	nonce, err := wire.DecryptOwn(c.priv, encryptedForUs)
	if err != nil {
		return fmt.Errorf("rpcclient: decrypt challenge: %w", err)
	}

	encryptedForMaster, err := wire.EncryptForPeer(c.masterPub, nonce)
	if err != nil {
		return fmt.Errorf("rpcclient: re-encrypt nonce: %w", err)
	}
	digest := wire.HashEncrypted(encryptedForMaster)

	if _, err := await(ctx, c.conn.Call(wire.MethodAuthResponse, map[string]string{"response": digest})); err != nil {
		return fmt.Errorf("rpcclient: auth_response: %w", err)
	}
	return nil
}

// await blocks until fut resolves or ctx is cancelled, converting the
// callback-style Future back into a synchronous call for the one-shot
// handshake exchange, where there is nothing useful to do concurrently.
func await(ctx context.Context, fut *rpc.Future) (interface{}, error) {
	resultCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)
	fut.Then(
		func(r interface{}) { resultCh <- r },
		func(e error) { errCh <- e },
	)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		return r, nil
	case e := <-errCh:
		return nil, e
	}
}
