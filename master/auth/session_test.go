package auth

import (
	"crypto/rsa"
	"testing"
	"time"

	"github.com/pydra/pydra/wire"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	_, _, priv, err := wire.GenerateKeyPairSize(1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func TestAuthenticateWithoutSessionFails(t *testing.T) {
	s := NewSessionStore(newTestKey(t), time.Minute)
	if _, _, err := s.Authenticate("missing"); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestFullChallengeResponseFlow(t *testing.T) {
	priv := newTestKey(t)
	s := NewSessionStore(priv, time.Minute)
	s.NewSession("sess-1")

	if s.IsAuthenticated("sess-1") {
		t.Fatal("expected a freshly created session to be unauthenticated")
	}

	_, digest, err := s.Authenticate("sess-1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	ok, err := s.ChallengeResponse("sess-1", digest)
	if err != nil || !ok {
		t.Fatalf("expected ChallengeResponse to succeed with the matching digest, got ok=%v err=%v", ok, err)
	}
	if !s.IsAuthenticated("sess-1") {
		t.Fatal("expected the session to be authenticated after a correct response")
	}
}

func TestChallengeResponseWrongDigestFails(t *testing.T) {
	s := NewSessionStore(newTestKey(t), time.Minute)
	s.NewSession("sess-1")
	if _, _, err := s.Authenticate("sess-1"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	ok, err := s.ChallengeResponse("sess-1", "not-the-digest")
	if ok || err != ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed, got ok=%v err=%v", ok, err)
	}
	if s.IsAuthenticated("sess-1") {
		t.Fatal("expected the session to remain unauthenticated after a wrong response")
	}
}

func TestChallengeResponseWithoutPendingChallengeFails(t *testing.T) {
	s := NewSessionStore(newTestKey(t), time.Minute)
	s.NewSession("sess-1")

	if _, err := s.ChallengeResponse("sess-1", "anything"); err != ErrNoChallenge {
		t.Fatalf("expected ErrNoChallenge, got %v", err)
	}
}

func TestChallengeIsSingleUse(t *testing.T) {
	s := NewSessionStore(newTestKey(t), time.Minute)
	s.NewSession("sess-1")
	_, digest, _ := s.Authenticate("sess-1")

	if ok, err := s.ChallengeResponse("sess-1", digest); !ok || err != nil {
		t.Fatalf("expected the first response to succeed, got ok=%v err=%v", ok, err)
	}
	if ok, err := s.ChallengeResponse("sess-1", digest); ok || err != ErrNoChallenge {
		t.Fatalf("expected replaying the same digest to fail with ErrNoChallenge, got ok=%v err=%v", ok, err)
	}
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	s := NewSessionStore(newTestKey(t), time.Millisecond)
	s.NewSession("sess-1")
	time.Sleep(5 * time.Millisecond)

	if s.IsAuthenticated("sess-1") {
		t.Fatal("expected an expired session to read as unauthenticated")
	}
	if _, err := s.ChallengeResponse("sess-1", "x"); err != ErrSessionExpired {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestSweepRemovesExpiredSessions(t *testing.T) {
	s := NewSessionStore(newTestKey(t), time.Millisecond)
	s.NewSession("sess-1")
	s.NewSession("sess-2")
	time.Sleep(5 * time.Millisecond)

	removed := s.Sweep()
	if removed != 2 {
		t.Fatalf("expected 2 sessions swept, got %d", removed)
	}
	if s.IsAuthenticated("sess-1") {
		t.Fatal("expected swept session to be gone")
	}
}

func TestGenerateRandomSessionIDIsUnique(t *testing.T) {
	a, err := GenerateRandomSessionID()
	if err != nil {
		t.Fatalf("GenerateRandomSessionID: %v", err)
	}
	b, err := GenerateRandomSessionID()
	if err != nil {
		t.Fatalf("GenerateRandomSessionID: %v", err)
	}
	if a == b {
		t.Fatal("expected two independently generated session ids to differ")
	}
	if len(a) != 64 {
		t.Fatalf("expected a 32-byte hex id (64 chars), got %d", len(a))
	}
}
