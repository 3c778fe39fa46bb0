package rpc

import "sync"

// Future represents the eventual outcome of one RPC call (§5 "All RPC
// calls ... are asynchronous and return a future"). The Scheduler never
// blocks on these; it attaches success/failure callbacks instead, which
// matches §9's "coroutine-like callback chains" guidance (explicit
// callback chains rather than a hand-rolled coroutine state machine).
type Future struct {
	mu        sync.Mutex
	done      bool
	result    interface{}
	err       error
	onSuccess []func(interface{})
	onFailure []func(error)
}

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{}
}

// Then registers success and failure callbacks. If the Future is already
// resolved, the relevant callback fires immediately (synchronously, on the
// calling goroutine) rather than being lost.
func (f *Future) Then(onSuccess func(interface{}), onFailure func(error)) *Future {
	f.mu.Lock()
	if f.done {
		res, err := f.result, f.err
		f.mu.Unlock()
		if err != nil {
			if onFailure != nil {
				onFailure(err)
			}
		} else if onSuccess != nil {
			onSuccess(res)
		}
		return f
	}
	if onSuccess != nil {
		f.onSuccess = append(f.onSuccess, onSuccess)
	}
	if onFailure != nil {
		f.onFailure = append(f.onFailure, onFailure)
	}
	f.mu.Unlock()
	return f
}

// Resolve marks the future successful and fires every registered success
// callback. Safe to call at most meaningfully once; subsequent calls are
// no-ops.
func (f *Future) Resolve(result interface{}) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done = true
	f.result = result
	callbacks := f.onSuccess
	f.mu.Unlock()
	for _, cb := range callbacks {
		cb(result)
	}
}

// Reject marks the future failed and fires every registered failure
// callback.
func (f *Future) Reject(err error) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done = true
	f.err = err
	callbacks := f.onFailure
	f.mu.Unlock()
	for _, cb := range callbacks {
		cb(err)
	}
}
