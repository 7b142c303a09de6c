package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/antcode/antcode/pkg/config"
	"github.com/antcode/antcode/pkg/executor"
	"github.com/antcode/antcode/pkg/fetch"
	"github.com/antcode/antcode/pkg/gatewayrpc"
	"github.com/antcode/antcode/pkg/identity"
	"github.com/antcode/antcode/pkg/log"
	"github.com/antcode/antcode/pkg/logstore"
	"github.com/antcode/antcode/pkg/plugin"
	"github.com/antcode/antcode/pkg/progress"
	"github.com/antcode/antcode/pkg/queue"
	"github.com/antcode/antcode/pkg/runtime"
	"github.com/antcode/antcode/pkg/transport"
	"github.com/antcode/antcode/pkg/worker"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "antcode-worker",
	Short:   "Runs the Worker role: polls for tasks and executes them in sandboxed Python runtimes",
	Version: Version,
	RunE:    runWorker,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("antcode-worker %s (%s)\n", Version, Commit))
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return fmt.Errorf("load worker config: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	idMgr, err := identity.NewManager(cfg.IdentityFile, "default", nil, Version)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if err := idMgr.Watch(); err != nil {
		log.Errorf("identity file watch failed to start", err)
	}
	defer idMgr.Stop()

	secrets := identity.NewSecretsManager(cfg.SecretsDir, "ANTCODE_WORKER")
	if err := secrets.Watch(); err != nil {
		log.Errorf("secrets watch failed to start", err)
	}
	defer secrets.Stop()

	client, closeClient, err := newGatewayClient(cfg, secrets)
	if err != nil {
		return fmt.Errorf("construct gateway client: %w", err)
	}
	defer closeClient()

	runtimes, err := runtime.NewManager(runtimeConfig(cfg))
	if err != nil {
		return fmt.Errorf("construct runtime manager: %w", err)
	}

	cache, err := fetch.NewCache(filepath.Join(cfg.VenvsDir, "..", "fetch-cache"), 200, 7*24*time.Hour)
	if err != nil {
		return fmt.Errorf("construct fetch cache: %w", err)
	}
	fetcher := fetch.NewFetcher(cache)

	exec := executor.NewProcessExecutor(executor.DefaultConfig())
	registry := plugin.NewDefaultRegistry()

	engCfg := worker.DefaultConfig()
	engCfg.WorkerID = idMgr.WorkerID()
	engCfg.Zone = idMgr.Identity().Zone
	engCfg.Version = Version
	engCfg.Labels = idMgr.Identity().Labels
	engCfg.MaxConcurrent = cfg.MaxConcurrent
	engCfg.PollBatchSize = cfg.BatchSize
	engCfg.PollBlockMS = cfg.PollBlockMS
	engCfg.HeartbeatPeriod = cfg.HeartbeatPeriod
	if cfg.DispatchSigningKey != "" {
		engCfg.SigningKey = []byte(cfg.DispatchSigningKey)
	}

	engine := worker.NewEngine(engCfg, client, runtimes, exec, registry, fetcher)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info(fmt.Sprintf("worker %s starting in %s mode", engCfg.WorkerID, cfg.TransportMode))
	engine.Start(ctx)

	<-ctx.Done()
	log.Info("worker shutting down")
	engine.Stop()
	return nil
}

func runtimeConfig(cfg *config.WorkerConfig) runtime.ManagerConfig {
	mc := runtime.DefaultManagerConfig(cfg.VenvsDir)
	mc.GCInterval = cfg.GCInterval
	mc.GCPolicy.EnvTTL = cfg.RuntimeTTL
	return mc
}

// newGatewayClient builds the gatewayrpc.Client this Worker dispatches
// through: a circuit-breaker-wrapped gRPC client dialed at GatewayAddr when
// TransportMode is "gateway", or a Direct client hitting the shared Redis
// backends in-process otherwise. The returned close func releases the
// Redis connection (Direct mode) or closes the gRPC connection (Gateway
// mode).
func newGatewayClient(cfg *config.WorkerConfig, secrets *identity.SecretsManager) (gatewayrpc.Client, func(), error) {
	if cfg.TransportMode == "gateway" {
		conn, err := transport.DialGateway(cfg.GatewayAddr, secrets)
		if err != nil {
			return nil, nil, err
		}
		inner := gatewayrpc.NewClient(conn)
		client := transport.NewClient(inner, transport.DefaultSettings("worker-gateway"))
		return client, func() { conn.Close() }, nil
	}

	rdb, err := config.DialRedis(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	direct := &transport.DirectClient{
		Namespace: cfg.RedisNamespace,
		Queue:     queue.NewRedisQueue(rdb),
		Control:   queue.NewRedisQueue(rdb),
		Progress:  progress.NewRedisProgress(rdb),
		Logs:      logstore.NewLocalLogStore("/var/lib/antcode/logs"),
	}
	return direct, func() { rdb.Close() }, nil
}
