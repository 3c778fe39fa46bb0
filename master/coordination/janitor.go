package coordination

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockJanitor periodically re-checks the leader lease for staleness beyond
// what Redis's own TTL already guarantees: a Redis instance running under
// memory pressure can evict a key's TTL metadata without evicting the key
// itself, so the janitor cross-checks CreatedAt directly from the lease
// payload rather than trusting TTL alone.
type LockJanitor struct {
	client   *redis.Client
	ttl      time.Duration
	interval time.Duration
}

// NewLockJanitor constructs a janitor sweeping the leader lock key every
// interval, treating a lease older than 2*ttl as abandoned regardless of
// what Redis reports for its remaining TTL.
func NewLockJanitor(client *redis.Client, ttl, interval time.Duration) *LockJanitor {
	return &LockJanitor{client: client, ttl: ttl, interval: interval}
}

func (j *LockJanitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *LockJanitor) sweep(ctx context.Context) {
	val, err := j.client.Get(ctx, leaderLockKey).Result()
	if err == redis.Nil {
		return
	}
	if err != nil {
		log.Printf("coordination janitor: get lease: %v", err)
		return
	}

	var meta LeaseMetadata
	if err := json.Unmarshal([]byte(val), &meta); err != nil {
		log.Printf("coordination janitor: malformed lease payload, force releasing: %v", err)
		j.client.Del(ctx, leaderLockKey)
		return
	}

	if time.Since(meta.CreatedAt) > 2*j.ttl {
		log.Printf("coordination janitor: reclaiming abandoned lease from %s (epoch %d, held since %s)", meta.NodeID, meta.Epoch, meta.CreatedAt)
		j.client.Del(ctx, leaderLockKey)
	}
}
