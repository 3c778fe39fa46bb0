package rpc

import (
	"errors"
	"testing"
)

func TestThenFiresOnSuccessAfterResolve(t *testing.T) {
	f := NewFuture()
	var got interface{}
	f.Then(func(res interface{}) { got = res }, func(error) { t.Fatal("unexpected failure callback") })

	f.Resolve("ok")
	if got != "ok" {
		t.Fatalf("expected callback to receive %q, got %v", "ok", got)
	}
}

func TestThenFiresOnFailureAfterReject(t *testing.T) {
	f := NewFuture()
	var got error
	f.Then(func(interface{}) { t.Fatal("unexpected success callback") }, func(err error) { got = err })

	want := errors.New("boom")
	f.Reject(want)
	if got != want {
		t.Fatalf("expected callback to receive %v, got %v", want, got)
	}
}

func TestThenOnAlreadyResolvedFutureFiresImmediately(t *testing.T) {
	f := NewFuture()
	f.Resolve(42)

	var got interface{}
	f.Then(func(res interface{}) { got = res }, nil)
	if got != 42 {
		t.Fatalf("expected immediate callback firing with 42, got %v", got)
	}
}

func TestThenOnAlreadyRejectedFutureFiresImmediately(t *testing.T) {
	f := NewFuture()
	want := errors.New("already failed")
	f.Reject(want)

	var got error
	f.Then(nil, func(err error) { got = err })
	if got != want {
		t.Fatalf("expected immediate failure callback, got %v", got)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	f := NewFuture()
	calls := 0
	f.Then(func(interface{}) { calls++ }, nil)

	f.Resolve("first")
	f.Resolve("second")

	if calls != 1 {
		t.Fatalf("expected exactly one success callback invocation, got %d", calls)
	}
}

func TestRejectAfterResolveIsNoop(t *testing.T) {
	f := NewFuture()
	failed := false
	f.Then(func(interface{}) {}, func(error) { failed = true })

	f.Resolve("done")
	f.Reject(errors.New("too late"))

	if failed {
		t.Fatal("expected Reject after Resolve to be a no-op")
	}
}

func TestMultipleThenCallsAllFire(t *testing.T) {
	f := NewFuture()
	count := 0
	f.Then(func(interface{}) { count++ }, nil)
	f.Then(func(interface{}) { count++ }, nil)

	f.Resolve("x")
	if count != 2 {
		t.Fatalf("expected both registered callbacks to fire, got %d", count)
	}
}
