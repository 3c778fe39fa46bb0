// Package coordination is the HA extension: standby Masters race for a
// single active-master lease in Redis, an agent/worker liveness monitor
// feeds disconnects into the Scheduler's remove_worker path, and a janitor
// clears leases abandoned by a crashed leader.
package coordination

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pydra/pydra/master/observability"
)

const leaderLockKey = "pydra:coordination:leader"

// LeaseMetadata is the value stored under the leader lock key, letting a
// competing Master (or the janitor) see who holds it and since when.
type LeaseMetadata struct {
	NodeID    string    `json:"node_id"`
	Epoch     int64     `json:"epoch"`
	CreatedAt time.Time `json:"created_at"`
}

// LeaderElector runs a Redis-backed lease race so that exactly one Master
// in a standby group drives the Scheduler's reactor loop at a time. Masters
// that lose the race stay up and keep retrying acquisition. The elector
// itself gates nothing else: only the onElected/onLost callbacks react to
// leadership changes.
type LeaderElector struct {
	client  *redis.Client
	nodeID  string
	ttl     time.Duration
	lockVal string

	mu       sync.RWMutex
	isLeader bool
	epoch    int64

	onElected func(ctx context.Context)
	onLost    func()

	leaderCancel context.CancelFunc
}

// NewLeaderElector constructs an elector for nodeID, racing on a lease with
// the given TTL. ttl should be a few times the renew loop's interval so a
// missed renewal or two doesn't flap leadership.
func NewLeaderElector(client *redis.Client, nodeID string, ttl time.Duration) *LeaderElector {
	return &LeaderElector{client: client, nodeID: nodeID, ttl: ttl}
}

// SetCallbacks registers leadership transition hooks. onElected receives a
// context cancelled the moment leadership is lost, for use as the ctx
// passed to Scheduler.Run.
func (l *LeaderElector) SetCallbacks(onElected func(ctx context.Context), onLost func()) {
	l.onElected = onElected
	l.onLost = onLost
}

// IsLeader reports whether this Master currently holds the lease.
func (l *LeaderElector) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

// Run drives the acquire/renew loop until ctx is cancelled, stepping down
// and releasing the lease on exit if currently leader.
func (l *LeaderElector) Run(ctx context.Context) {
	interval := l.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.IsLeader() {
				l.stepDown()
				l.release(context.Background())
			}
			return
		case <-ticker.C:
			if l.IsLeader() {
				renewed, err := l.renew(ctx)
				if err != nil || !renewed {
					if err != nil {
						log.Printf("coordination: lease renewal error: %v", err)
					}
					l.stepDown()
				}
				continue
			}
			acquired, epoch, err := l.acquire(ctx)
			if err != nil {
				log.Printf("coordination: lease acquisition error: %v", err)
				continue
			}
			if acquired {
				l.becomeLeader(ctx, epoch)
			}
		}
	}
}

func (l *LeaderElector) acquire(ctx context.Context) (bool, int64, error) {
	epoch, err := l.client.Incr(ctx, leaderLockKey+":epoch").Result()
	if err != nil {
		return false, 0, err
	}

	meta := LeaseMetadata{NodeID: l.nodeID, Epoch: epoch, CreatedAt: time.Now()}
	raw, err := json.Marshal(meta)
	if err != nil {
		return false, 0, err
	}
	val := string(raw)

	ok, err := l.client.SetNX(ctx, leaderLockKey, val, l.ttl).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		l.lockVal = val
	}
	return ok, epoch, nil
}

func (l *LeaderElector) renew(ctx context.Context) (bool, error) {
	cur, err := l.client.Get(ctx, leaderLockKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur != l.lockVal {
		// Someone else's lease; we no longer hold it.
		return false, nil
	}
	ok, err := l.client.Expire(ctx, leaderLockKey, l.ttl).Result()
	return ok, err
}

func (l *LeaderElector) release(ctx context.Context) {
	if l.lockVal == "" {
		return
	}
	cur, err := l.client.Get(ctx, leaderLockKey).Result()
	if err == nil && cur == l.lockVal {
		l.client.Del(ctx, leaderLockKey)
	}
	l.lockVal = ""
}

func (l *LeaderElector) becomeLeader(parent context.Context, epoch int64) {
	l.mu.Lock()
	l.isLeader = true
	l.epoch = epoch
	leaderCtx, cancel := context.WithCancel(parent)
	l.leaderCancel = cancel
	l.mu.Unlock()

	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "acquired").Inc()
	observability.LeadershipEpoch.WithLabelValues(l.nodeID).Set(float64(epoch))
	log.Printf("coordination: %s acquired leadership (epoch %d)", l.nodeID, epoch)

	if l.onElected != nil {
		go l.onElected(leaderCtx)
	}
}

func (l *LeaderElector) stepDown() {
	l.mu.Lock()
	if !l.isLeader {
		l.mu.Unlock()
		return
	}
	l.isLeader = false
	cancel := l.leaderCancel
	l.leaderCancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "lost").Inc()
	log.Printf("coordination: %s lost leadership", l.nodeID)

	if l.onLost != nil {
		l.onLost()
	}
}
