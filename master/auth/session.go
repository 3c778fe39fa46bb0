// Package auth implements the Controller <-> Master session authentication
// model (§4.6 second bullet): per-session challenge/response over HTTP,
// distinct from the RSA pairing handshake used between Master and
// Node/Worker (see master/rpc.Authenticator).
package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/pydra/pydra/master/observability"
	"github.com/pydra/pydra/wire"
)

// Sentinel errors surfaced as-is to the Controller's HTTP layer, which maps
// them to status codes (§4.7, §6).
var (
	ErrNoSession      = errors.New("NO_SESSION")
	ErrNoChallenge    = errors.New("NO_CHALLENGE")
	ErrAuthFailed     = errors.New("AUTH_FAILED")
	ErrSessionExpired = errors.New("SESSION_EXPIRED")
)

// DefaultTTL is the session lifetime before it is swept (§4.6).
const DefaultTTL = 2 * time.Minute

// session is the per-session record named directly by §4.6: {expires,
// authenticated, pending_challenge}.
type session struct {
	expires       time.Time
	authenticated bool
	pendingNonce  []byte
	pendingDigest string
}

// SessionStore manages Controller sessions: creation, challenge issuance,
// response verification, TTL expiry, and periodic sweeping. Safe for
// concurrent use.
type SessionStore struct {
	serverPriv *rsa.PrivateKey
	ttl        time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// NewSessionStore constructs a SessionStore bound to the Master's own RSA
// identity, used to produce the per-session challenge ciphertext.
func NewSessionStore(serverPriv *rsa.PrivateKey, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SessionStore{
		serverPriv: serverPriv,
		ttl:        ttl,
		sessions:   make(map[string]*session),
	}
}

// NewSession registers a fresh, unauthenticated session id.
func (s *SessionStore) NewSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = &session{expires: time.Now().Add(s.ttl)}
}

// IsAuthenticated reports whether sessionID currently holds a live,
// authenticated session (§4.7 "401 when the session is unauthenticated").
func (s *SessionStore) IsAuthenticated(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || time.Now().After(sess.expires) {
		return false
	}
	return sess.authenticated
}

// Authenticate issues a fresh challenge for sessionID: a random nonce
// encrypted with the Master's own public key, returned as hex ciphertext
// alongside the SHA-512 digest of that same ciphertext which the caller
// must reproduce via challenge_response (§4.6, testable scenario 5).
func (s *SessionStore) Authenticate(sessionID string) (ciphertextHex string, digest string, err error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return "", "", ErrNoSession
	}

	nonce, err := wire.NewNonce(wire.ChallengeSize(s.serverPriv.N.BitLen()))
	if err != nil {
		return "", "", err
	}
	encrypted, err := wire.EncryptForPeer(&s.serverPriv.PublicKey, nonce)
	if err != nil {
		return "", "", err
	}
	expected := wire.HashEncrypted(encrypted)

	s.mu.Lock()
	sess.pendingNonce = nonce
	sess.pendingDigest = expected
	sess.expires = time.Now().Add(s.ttl)
	s.mu.Unlock()

	return hex.EncodeToString(encrypted), expected, nil
}

// ChallengeResponse implements challenge_response: sets authenticated=true
// iff the supplied digest matches the one stored for the session. The
// challenge is consumed on use either way (§4.6).
func (s *SessionStore) ChallengeResponse(sessionID, response string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, ErrNoSession
	}
	if time.Now().After(sess.expires) {
		delete(s.sessions, sessionID)
		return false, ErrSessionExpired
	}
	if sess.pendingDigest == "" {
		return false, ErrNoChallenge
	}

	expected := sess.pendingDigest
	sess.pendingDigest = ""
	sess.pendingNonce = nil

	if response != expected {
		return false, ErrAuthFailed
	}
	sess.authenticated = true
	sess.expires = time.Now().Add(s.ttl)
	observability.SessionsActive.Inc()
	return true, nil
}

// Sweep removes expired sessions. Intended to run on a periodic ticker
// (§4.6 "swept periodically").
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, sess := range s.sessions {
		if now.After(sess.expires) {
			if sess.authenticated {
				observability.SessionsActive.Dec()
			}
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper starts a background goroutine sweeping expired sessions every
// interval until stop is closed.
func (s *SessionStore) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// GenerateRandomSessionID returns a fresh 32-byte hex session identifier,
// suitable for a Set-Cookie value.
func GenerateRandomSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
