package coordination

import (
	"context"
	"log"
	"time"

	"github.com/pydra/pydra/master/registry"
)

// remover is the subset of *scheduler.Scheduler this monitor needs;
// declared locally to avoid an import cycle (scheduler does not, and must
// not, depend on coordination).
type remover interface {
	RemoveWorker(id string)
}

// AgentMonitor periodically sweeps the Worker Registry for stale entries
// (§5 Timeouts) and drives them through remove_worker, the same path a
// clean disconnect takes.
type AgentMonitor struct {
	registry  *registry.Registry
	scheduler remover
	interval  time.Duration
	threshold time.Duration
}

// NewAgentMonitor constructs a monitor checking every interval for workers
// whose LastSeen is older than threshold.
func NewAgentMonitor(reg *registry.Registry, sched remover, interval, threshold time.Duration) *AgentMonitor {
	return &AgentMonitor{registry: reg, scheduler: sched, interval: interval, threshold: threshold}
}

func (m *AgentMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *AgentMonitor) sweep() {
	stale := m.registry.Stale(m.threshold)
	for _, id := range stale {
		log.Printf("coordination: worker %s silent for %v, evicting", id, m.threshold)
		m.registry.Unregister(id)
		m.scheduler.RemoveWorker(id)
	}
}
