package rpcclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pydra/pydra/master/auth"
	"github.com/pydra/pydra/master/rpc"
	"github.com/pydra/pydra/wire"
)

// startMasterSide upgrades one websocket connection and attaches a real
// rpc.Authenticator to it, mirroring how master/server.go wires an
// incoming worker connection, so the client's Authenticate exercises the
// actual §4.6 handshake end to end instead of a stub.
func startMasterSide(t *testing.T, keyBits int) (wsURL string, cleanup func()) {
	t.Helper()
	serverPub, _, serverKey, err := wire.GenerateKeyPairSize(keyBits)
	if err != nil {
		t.Fatalf("generate server key: %v", err)
	}
	pairing := auth.NewMemoryPairingStore()
	authr := rpc.NewAuthenticator(serverKey, serverPub, keyBits, pairing)

	upgrader := websocket.Upgrader{}
	connCh := make(chan *rpc.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConn := rpc.NewConn(ws, 1000, 1000)
		peerID := r.URL.Query().Get("worker_id")
		authr.Attach(serverConn, peerID)
		connCh <- serverConn
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		conn := <-connCh
		conn.ServeLoop(ctx)
	}()

	wsURL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/worker/connect"
	cleanup = func() {
		cancel()
		ts.Close()
	}
	return wsURL, cleanup
}

func TestAuthenticateCompletesHandshakeAgainstRealMaster(t *testing.T) {
	const keyBits = 1024
	wsURL, cleanup := startMasterSide(t, keyBits)
	defer cleanup()

	workerPub, _, workerPriv, err := wire.GenerateKeyPairSize(keyBits)
	if err != nil {
		t.Fatalf("generate worker key: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL, "worker-1", workerPriv, workerPub, keyBits)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- client.Run(ctx) }()

	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	// The Authenticator only exposes pairing state via IsPaired keyed by
	// *rpc.Conn, which this test cannot reach from the client side; instead
	// confirm the handshake actually completed by issuing a second
	// Authenticate pass, which must succeed again since exchange_keys and
	// auth_challenge/response are each idempotent given a correctly paired
	// connection.
	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("second Authenticate pass: %v", err)
	}
}
