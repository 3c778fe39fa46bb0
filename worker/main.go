// Command worker runs a Pydra Worker process (§2): it dials the Master's
// duplex RPC endpoint, pairs via the RSA challenge/response handshake
// (§4.6), and executes run_task calls through the ParallelTask
// Coordinator until killed or the process is asked to shut down.
package main

import (
	"context"
	"crypto/rsa"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pydra/pydra/wire"
	"github.com/pydra/pydra/worker/coordinator"
	"github.com/pydra/pydra/worker/rpcclient"
	"github.com/pydra/pydra/worker/tasks"
)

func main() {
	cfg := LoadConfig()
	logger := log.New(os.Stderr, "[worker] ", log.LstdFlags)
	logger.Printf("starting worker %s, master %s", cfg.WorkerID, cfg.MasterAddr)

	pub, _, priv, err := wire.LoadOrCreateKeyPair(cfg.KeyPairPath, cfg.KeyBits)
	if err != nil {
		logger.Fatalf("load/create worker key pair: %v", err)
	}

	registry := tasks.NewRegistry()
	registerTasks(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Println("received shutdown signal")
		cancel()
	}()

	runWithReconnect(ctx, cfg, priv, pub, registry, logger)
	logger.Println("worker shutting down")
}

// registerTasks binds this process's Task implementations. Task package
// discovery/versioning is explicitly out of scope (§1 Non-goals); a real
// deployment would link in its own Runners here alongside (or instead of)
// the built-in shell.run.
func registerTasks(registry *tasks.Registry) {
	registry.Register("shell.run", tasks.Shell)
}

// runWithReconnect keeps the worker paired with the Master, reconnecting
// with exponential backoff after a dropped connection, until ctx is
// cancelled.
func runWithReconnect(ctx context.Context, cfg *Config, priv *rsa.PrivateKey, pub wire.KeyFile, registry *tasks.Registry, logger *log.Logger) {
	backoff := cfg.ReconnectMinBackoff

	for ctx.Err() == nil {
		if err := connectOnce(ctx, cfg, priv, pub, registry, logger); err != nil {
			logger.Printf("connection to master ended: %v", err)
		}

		if ctx.Err() != nil {
			return
		}

		logger.Printf("reconnecting in %s", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > cfg.ReconnectMaxBackoff {
			backoff = cfg.ReconnectMaxBackoff
		}
	}
}

// connectOnce dials the Master, pairs, and serves run_task calls until
// the connection drops or ctx is cancelled. A successful pairing does not
// reset the caller's backoff.
func connectOnce(ctx context.Context, cfg *Config, priv *rsa.PrivateKey, pub wire.KeyFile, registry *tasks.Registry, logger *log.Logger) error {
	client, err := rpcclient.Dial(ctx, cfg.MasterAddr, cfg.WorkerID, priv, pub, cfg.KeyBits)
	if err != nil {
		return err
	}
	defer client.Close()

	coord := coordinator.New(client.Master(), registry, logger, func() {
		logger.Println("kill_worker received, exiting process")
		os.Exit(1)
	})

	client.RegisterHandlers(rpcclient.Handlers{
		RunTask: coord.HandleRunTask,
		StopTask: func(ctx context.Context, taskInstanceID int64) error {
			return coord.HandleStopTask(taskInstanceID)
		},
		TaskStatus: func(ctx context.Context, taskInstanceID int64) (interface{}, error) {
			return coord.HandleTaskStatus(taskInstanceID)
		},
		WorkerStatus: func(ctx context.Context) (wire.WorkerStatusReply, error) {
			return coord.HandleWorkerStatus()
		},
		ReceiveResults: func(ctx context.Context, args wire.ReceiveResultsArgs) error {
			return coord.HandleReceiveResults(args)
		},
		ReleaseWorker: func(ctx context.Context) error {
			return coord.HandleReleaseWorker()
		},
		KillWorker: func(ctx context.Context) error {
			return coord.HandleKillWorker()
		},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	if err := client.Authenticate(ctx); err != nil {
		client.Close()
		<-runErr
		return err
	}
	logger.Println("paired with master")

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		client.Close()
		<-runErr
		return ctx.Err()
	}
}
