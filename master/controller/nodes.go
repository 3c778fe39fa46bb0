package controller

import (
	"fmt"
	"sync"

	"github.com/pydra/pydra/master/observability"
)

// Node is a minimal record of a cluster host, as exposed through the node
// CRUD operations named in §4.7. Node discovery and enrollment mechanics
// (ZeroConf, MULTICAST_ALL) are out of scope (§1); this is just the
// record the Controller lets an operator manage directly.
type Node struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NodeStore is an in-memory CRUD store for Nodes.
type NodeStore struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewNodeStore constructs an empty NodeStore.
func NewNodeStore() *NodeStore {
	return &NodeStore{nodes: make(map[string]*Node)}
}

func (s *NodeStore) Create(n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[n.ID]; exists {
		return fmt.Errorf("node %s already exists", n.ID)
	}
	s.nodes[n.ID] = n
	observability.NodeCount.Set(float64(len(s.nodes)))
	return nil
}

func (s *NodeStore) Get(id string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

func (s *NodeStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
	observability.NodeCount.Set(float64(len(s.nodes)))
}

func (s *NodeStore) List() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out
}
