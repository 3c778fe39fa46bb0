package rpc

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pydra/pydra/wire"
)

// PairingStore persists the public keys paired with each connecting
// Node/Worker (§4.6 "pairing"). It is the Master-side half of the
// exchange_keys handshake.
type PairingStore interface {
	GetPublicKey(peerID string) (wire.KeyFile, bool)
	SavePublicKey(peerID string, pub wire.KeyFile) error
}

// authState is the per-connection pairing/challenge state machine from
// §9: AWAITING_CHALLENGE -> AWAITING_RESPONSE -> PAIRED, with the
// challenge single-use as required by §4.6.
type authState int

const (
	stateAwaitingChallenge authState = iota
	stateAwaitingResponse
	statePaired
)

// Authenticator implements the Master side of the RSA challenge/response
// handshake described in §4.6, grounded on the original rsa_auth.py
// RSAAvatar and restated in Go idiom the way attestation/verifier.go signs
// and verifies with crypto/rsa.
type Authenticator struct {
	serverPriv *rsa.PrivateKey
	serverPub  wire.KeyFile
	keyBits    int
	pairing    PairingStore

	mu    sync.Mutex
	conns map[*Conn]*connAuth
}

type connAuth struct {
	state      authState
	peerID     string
	peerPubKey *rsa.PublicKey
	// expectedDigest is precomputed from the server's own encryption of
	// the nonce it sent, compared against the connector's auth_response.
	expectedDigest string
}

// NewAuthenticator constructs a Master-side Authenticator for the given
// server key pair.
func NewAuthenticator(serverPriv *rsa.PrivateKey, serverPub wire.KeyFile, keyBits int, pairing PairingStore) *Authenticator {
	return &Authenticator{
		serverPriv: serverPriv,
		serverPub:  serverPub,
		keyBits:    keyBits,
		pairing:    pairing,
		conns:      make(map[*Conn]*connAuth),
	}
}

// Attach registers the auth_challenge / auth_response / exchange_keys /
// get_key handlers on conn for a connector claiming peerID.
func (a *Authenticator) Attach(conn *Conn, peerID string) {
	a.mu.Lock()
	a.conns[conn] = &connAuth{state: stateAwaitingChallenge, peerID: peerID}
	a.mu.Unlock()

	conn.HandleFunc(wire.MethodAuthChallenge, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return a.handleAuthChallenge(conn)
	})
	conn.HandleFunc(wire.MethodAuthResponse, func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var req struct {
			Response string `json:"response"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("invalid auth_response payload: %w", err)
		}
		return a.handleAuthResponse(conn, req.Response)
	})
	conn.HandleFunc(wire.MethodExchangeKeys, func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var peerPub wire.KeyFile
		if err := json.Unmarshal(args, &peerPub); err != nil {
			return nil, fmt.Errorf("invalid exchange_keys payload: %w", err)
		}
		return a.handleExchangeKeys(conn, peerPub)
	})
	conn.HandleFunc(wire.MethodGetKey, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return wire.ChunkString(mustMarshalKeyFile(a.serverPub)), nil
	})
}

// Detach releases per-connection auth state when the connection closes.
func (a *Authenticator) Detach(conn *Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conns, conn)
}

// IsPaired reports whether conn has completed the challenge/response
// handshake successfully.
func (a *Authenticator) IsPaired(conn *Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	ca, ok := a.conns[conn]
	return ok && ca.state == statePaired
}

// handleAuthChallenge implements perspective_auth_challenge: if we have no
// public key for the connector, return NOT_PAIRED (triggering key
// exchange); otherwise encrypt a fresh nonce with the connector's public
// key, precompute the expected response digest, and return the
// ciphertext.
func (a *Authenticator) handleAuthChallenge(conn *Conn) (interface{}, error) {
	a.mu.Lock()
	ca, ok := a.conns[conn]
	if !ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("AUTH_FAIL: unknown connection")
	}
	peerPub := ca.peerPubKey
	if peerPub == nil {
		if kf, found := a.pairing.GetPublicKey(ca.peerID); found {
			pk, err := wire.PublicKeyFromKeyFile(kf)
			if err == nil {
				peerPub = pk
				ca.peerPubKey = pk
			}
		}
	}
	a.mu.Unlock()

	if peerPub == nil {
		return nil, fmt.Errorf("NOT_PAIRED")
	}

	nonce, err := wire.NewNonce(wire.ChallengeSize(a.keyBits))
	if err != nil {
		return nil, fmt.Errorf("AUTH_FAIL: %w", err)
	}

	encryptedForPeer, err := wire.EncryptForPeer(peerPub, nonce)
	if err != nil {
		return nil, fmt.Errorf("AUTH_FAIL: %w", err)
	}

	encryptedForSelf, err := wire.EncryptForPeer(&a.serverPriv.PublicKey, nonce)
	if err != nil {
		return nil, fmt.Errorf("AUTH_FAIL: %w", err)
	}
	expected := wire.HashEncrypted(encryptedForSelf)

	a.mu.Lock()
	ca.expectedDigest = expected
	ca.state = stateAwaitingResponse
	a.mu.Unlock()

	return encryptedForPeer, nil
}

// handleAuthResponse implements perspective_auth_response: compares the
// connector's digest against the one we precomputed, consuming the
// challenge either way (single-use, §4.6). A response submitted before
// auth_challenge was ever issued is rejected as NO_CHALLENGE.
func (a *Authenticator) handleAuthResponse(conn *Conn, response string) (interface{}, error) {
	a.mu.Lock()
	ca, ok := a.conns[conn]
	if !ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("AUTH_FAIL: unknown connection")
	}
	if ca.state != stateAwaitingResponse {
		a.mu.Unlock()
		return nil, fmt.Errorf("NO_CHALLENGE")
	}
	expected := ca.expectedDigest
	ca.expectedDigest = ""
	ca.state = stateAwaitingChallenge
	a.mu.Unlock()

	if expected == "" || response != expected {
		return nil, fmt.Errorf("CHALLENGE_REJECTED")
	}

	a.mu.Lock()
	ca.state = statePaired
	a.mu.Unlock()
	conn.WorkerID = ca.peerID
	return true, nil
}

// handleExchangeKeys implements perspective_exchange_keys: save the
// connector's public key, then reply with our own public key, chunked per
// §6 since the underlying integers are too large for a single JSON value.
func (a *Authenticator) handleExchangeKeys(conn *Conn, peerPub wire.KeyFile) (interface{}, error) {
	pk, err := wire.PublicKeyFromKeyFile(peerPub)
	if err != nil {
		return nil, fmt.Errorf("AUTH_FAIL: invalid peer key: %w", err)
	}

	a.mu.Lock()
	ca, ok := a.conns[conn]
	if !ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("AUTH_FAIL: unknown connection")
	}
	ca.peerPubKey = pk
	peerID := ca.peerID
	a.mu.Unlock()

	if err := a.pairing.SavePublicKey(peerID, peerPub); err != nil {
		return nil, fmt.Errorf("AUTH_FAIL: failed to persist peer key: %w", err)
	}

	return wire.ChunkString(mustMarshalKeyFile(a.serverPub)), nil
}

func mustMarshalKeyFile(kf wire.KeyFile) string {
	data, err := json.Marshal(kf)
	if err != nil {
		// kf is always a []string produced by this package; marshal of a
		// string slice cannot fail.
		panic(fmt.Sprintf("rpc: failed to marshal key file: %v", err))
	}
	return string(data)
}
