package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antcode/antcode/pkg/config"
	"github.com/antcode/antcode/pkg/log"
	"github.com/antcode/antcode/pkg/master"
	"github.com/antcode/antcode/pkg/metrics"
	"github.com/antcode/antcode/pkg/queue"
	"github.com/antcode/antcode/pkg/store"
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
	Use:     "antcode-master",
	Short:   "Runs the Master role: leader election, scheduling, reconciliation and retries",
	Version: Version,
	RunE:    runMaster,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("antcode-master %s (%s)\n", Version, Commit))
}

func runMaster(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadMaster()
	if err != nil {
		return fmt.Errorf("load master config: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	st, err := store.Open(cfg.DatabaseURL, "/var/lib/antcode/master")
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rdb, err := config.DialRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("dial redis: %w", err)
	}
	defer rdb.Close()

	q := queue.NewRedisQueue(rdb)

	m := master.New(cfg, st, rdb, q)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		http.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server error", err)
		}
	}()
	log.Info(fmt.Sprintf("master metrics listening on %s", cfg.MetricsAddr))

	log.Info("master starting, campaigning for leadership")
	return m.Run(ctx)
}
