package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of queued TaskInstances.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pydra_queue_depth",
		Help: "Current number of TaskInstances waiting in the priority queue",
	})

	// QueueOldestTaskAge tracks the age of the oldest queued task.
	QueueOldestTaskAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pydra_queue_oldest_task_age_seconds",
		Help: "Age in seconds of the oldest task still waiting in the queue",
	})

	// SchedulingDecisions counts scheduler dispatch outcomes by kind.
	SchedulingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pydra_scheduling_decisions_total",
		Help: "Total scheduling decisions made by the reactor loop",
	}, []string{"decision"}) // reuse_waiting, dual_use_main, idle_assign, no_worker

	// WorkerPoolSize tracks the size of each worker pool.
	WorkerPoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pydra_worker_pool_size",
		Help: "Current number of workers in each pool",
	}, []string{"pool"}) // idle, main, active, waiting

	// TaskOutcomes counts terminal task results by status.
	TaskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pydra_task_outcomes_total",
		Help: "Total number of TaskInstances reaching a terminal status",
	}, []string{"status"})

	// TaskRuntimeSeconds tracks wall-clock task execution time.
	TaskRuntimeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pydra_task_runtime_seconds",
		Help:    "TaskInstance execution time from started_at to completed_at",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// RequestWorkerLatency tracks the time a WorkerRequest spends queued
	// before a worker is dispatched for it.
	RequestWorkerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pydra_request_worker_wait_seconds",
		Help:    "Time a WorkerRequest waits before a worker is assigned",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// PairingFailures counts RPC handshake rejections (§4.6).
	PairingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pydra_pairing_failures_total",
		Help: "RPC pairing/challenge failures by reason",
	}, []string{"reason"}) // not_paired, auth_fail

	// SessionsActive tracks authenticated controller sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pydra_controller_sessions_active",
		Help: "Current number of authenticated Controller sessions",
	})

	// StatusCacheHitRatio inputs: hit vs miss counters for the Status
	// Aggregator's TTL cache.
	StatusCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pydra_status_cache_lookups_total",
		Help: "Status Aggregator lookups by outcome",
	}, []string{"outcome"}) // hit, inflight_join, miss

	// NodeCount tracks enrolled nodes.
	NodeCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pydra_nodes_total",
		Help: "Current number of enrolled nodes",
	})

	// LeadershipTransitions counts leader-lease acquisitions and losses.
	LeadershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pydra_leadership_transitions_total",
		Help: "Leader lease transitions by node and kind",
	}, []string{"node_id", "transition"}) // acquired, lost

	// LeadershipEpoch tracks the epoch of the lease this node last acquired.
	LeadershipEpoch = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pydra_leadership_epoch",
		Help: "Epoch of the leader lease most recently acquired by this node",
	}, []string{"node_id"})
)
