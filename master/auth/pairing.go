package auth

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/pydra/pydra/wire"
)

// MemoryPairingStore is an in-process implementation of rpc.PairingStore,
// suitable for tests and single-node deployments.
type MemoryPairingStore struct {
	mu   sync.RWMutex
	keys map[string]wire.KeyFile
}

// NewMemoryPairingStore constructs an empty MemoryPairingStore.
func NewMemoryPairingStore() *MemoryPairingStore {
	return &MemoryPairingStore{keys: make(map[string]wire.KeyFile)}
}

func (m *MemoryPairingStore) GetPublicKey(peerID string) (wire.KeyFile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kf, ok := m.keys[peerID]
	return kf, ok
}

func (m *MemoryPairingStore) SavePublicKey(peerID string, pub wire.KeyFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[peerID] = pub
	return nil
}

// RedisPairingStore persists paired public keys in Redis, keyed by peer id,
// so pairing survives a Master restart without forcing every Node/Worker to
// re-pair (§4.6 "Pairing ... one-time").
type RedisPairingStore struct {
	client *redis.Client
	keyPfx string
}

// NewRedisPairingStore wraps an existing Redis client.
func NewRedisPairingStore(client *redis.Client) *RedisPairingStore {
	return &RedisPairingStore{client: client, keyPfx: "pydra:pairing:"}
}

func (r *RedisPairingStore) GetPublicKey(peerID string) (wire.KeyFile, bool) {
	val, err := r.client.Get(context.Background(), r.keyPfx+peerID).Result()
	if err != nil {
		return nil, false
	}
	var kf wire.KeyFile
	if err := json.Unmarshal([]byte(val), &kf); err != nil {
		return nil, false
	}
	return kf, true
}

func (r *RedisPairingStore) SavePublicKey(peerID string, pub wire.KeyFile) error {
	data, err := json.Marshal(pub)
	if err != nil {
		return err
	}
	return r.client.Set(context.Background(), r.keyPfx+peerID, string(data), 0).Err()
}
