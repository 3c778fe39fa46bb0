// Command master runs the Pydra Master process (§2): the Scheduler Core,
// Worker Registry, RPC transport, Status Aggregator, and Controller HTTP
// surface, optionally racing for leadership in a standby group.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pydra/pydra/master/auth"
	"github.com/pydra/pydra/master/controller"
	"github.com/pydra/pydra/master/coordination"
	"github.com/pydra/pydra/master/queue"
	"github.com/pydra/pydra/master/registry"
	"github.com/pydra/pydra/master/rpc"
	"github.com/pydra/pydra/master/scheduler"
	"github.com/pydra/pydra/master/statusagg"
	"github.com/pydra/pydra/master/store"
	"github.com/pydra/pydra/wire"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stderr, "[master] ", log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskStore := mustOpenStore(ctx, cfg, logger)
	redisClient := maybeOpenRedis(cfg, logger)

	pub, _, serverKey, err := wire.LoadOrCreateKeyPair(cfg.KeyPairPath, cfg.KeyBits)
	if err != nil {
		logger.Fatalf("load/create master key pair: %v", err)
	}

	pairingStore := choosePairingStore(redisClient)
	authenticator := rpc.NewAuthenticator(serverKey, pub, cfg.KeyBits, pairingStore)

	reg := registry.New()
	q := queue.New()
	sched := scheduler.New(q, reg, taskStore, logger)
	statusAggregator := statusagg.New(reg)

	sessions := auth.NewSessionStore(serverKey, cfg.SessionTTL)
	sessions.RunSweeper(cfg.SessionTTL/2, ctx.Done())

	nodes := controller.NewNodeStore()
	logs := controller.NewMemoryLogSource()
	httpController := controller.New(sched, statusAggregator, sessions, taskStore, nodes, logs)

	ws := &workerServer{auth: authenticator, registry: reg, scheduler: sched}

	agentMonitor := coordination.NewAgentMonitor(reg, sched, 5*time.Second, cfg.WorkerIdleTimeout)
	go agentMonitor.Run(ctx)

	if cfg.NodeID != "" && redisClient != nil {
		runWithLeaderElection(ctx, cfg, redisClient, sched, taskStore, logger)
	} else {
		go sched.Run(ctx)
		if err := sched.Rehydrate(ctx); err != nil {
			logger.Printf("rehydrate: %v", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/worker/connect", ws)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/", httpController)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Println("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}

func mustOpenStore(ctx context.Context, cfg Config, logger *log.Logger) store.TaskStore {
	if cfg.PostgresDSN == "" {
		logger.Println("PYDRA_POSTGRES_DSN unset, using in-memory task store")
		return store.NewMemoryStore()
	}
	s, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	return s
}

func maybeOpenRedis(cfg Config, logger *log.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		logger.Println("PYDRA_REDIS_ADDR unset, pairing/coordination run without Redis")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatalf("connect redis: %v", err)
	}
	return client
}

func choosePairingStore(client *redis.Client) rpc.PairingStore {
	if client == nil {
		return auth.NewMemoryPairingStore()
	}
	return auth.NewRedisPairingStore(client)
}

// runWithLeaderElection starts the Scheduler's reactor loop only while this
// Master holds the coordination lease, so that at most one standby drives
// task dispatch at a time (§5 "single writer"; the HA extension keeps that
// invariant across a pool of standby Masters instead of within one
// process).
func runWithLeaderElection(ctx context.Context, cfg Config, client *redis.Client, sched *scheduler.Scheduler, taskStore store.TaskStore, logger *log.Logger) {
	elector := coordination.NewLeaderElector(client, cfg.NodeID, cfg.LeaseTTL)
	janitor := coordination.NewLockJanitor(client, cfg.LeaseTTL, cfg.JanitorEvery)
	go janitor.Run(ctx)

	elector.SetCallbacks(
		func(leaderCtx context.Context) {
			logger.Printf("%s elected leader, starting scheduler", cfg.NodeID)
			go sched.Run(leaderCtx)
			if err := sched.Rehydrate(leaderCtx); err != nil {
				logger.Printf("rehydrate: %v", err)
			}
		},
		func() {
			logger.Printf("%s lost leadership", cfg.NodeID)
		},
	)
	go elector.Run(ctx)
}
