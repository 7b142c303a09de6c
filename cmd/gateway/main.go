package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/spf13/cobra"

	"github.com/antcode/antcode/pkg/config"
	"github.com/antcode/antcode/pkg/gateway"
	"github.com/antcode/antcode/pkg/gatewayrpc"
	"github.com/antcode/antcode/pkg/log"
	"github.com/antcode/antcode/pkg/logstore"
	"github.com/antcode/antcode/pkg/progress"
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
	Use:     "antcode-gateway",
	Short:   "Runs the Gateway role: the authenticated RPC surface between Workers and Redis",
	Version: Version,
	RunE:    runGateway,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("antcode-gateway %s (%s)\n", Version, Commit))
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGateway()
	if err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	rdb, err := config.DialRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("dial redis: %w", err)
	}
	defer rdb.Close()

	q := queue.NewRedisQueue(rdb)
	control := queue.NewRedisQueue(rdb)
	prog := progress.NewRedisProgress(rdb)
	logs := logstore.NewLocalLogStore("/var/lib/antcode/logs")

	st, err := store.Open(cfg.DatabaseURL, "/var/lib/antcode/gateway")
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	creds := gateway.NewRedisCredentials(rdb, st, cfg.RedisNamespace, 0)

	srv := &gateway.Server{
		Namespace:     cfg.RedisNamespace,
		Queue:         q,
		Control:       control,
		Progress:      prog,
		Logs:          logs,
		InstallKeys:   creds,
		WorkerAPIKeys: creds,
	}

	grpcServer, err := newGRPCServer(cfg, creds)
	if err != nil {
		return fmt.Errorf("configure grpc server: %w", err)
	}
	gatewayrpc.RegisterGatewayServer(grpcServer, srv)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}

	httpServer := gateway.NewHTTPServer(q, logs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		log.Info(fmt.Sprintf("gateway grpc listening on %s", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		log.Info(fmt.Sprintf("gateway http listening on %s", cfg.HTTPAddr))
		if err := httpServer.Start(cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("gateway shutting down")
		grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		grpcServer.GracefulStop()
		return err
	}
}

// newGRPCServer wires mTLS (when certs are configured) and the three-tier
// auth interceptor over them; an empty TLSCertFile runs in plaintext, for
// local/dev only.
func newGRPCServer(cfg *config.GatewayConfig, creds gateway.CredentialStore) (*grpc.Server, error) {
	var opts []grpc.ServerOption

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" && cfg.TLSCAFile != "" {
		tlsConfig, err := gateway.ServerTLSConfig(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("build server tls config: %w", err)
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	} else {
		opts = append(opts, grpc.Creds(insecure.NewCredentials()))
	}

	opts = append(opts, grpc.UnaryInterceptor(gateway.AuthInterceptor(creds, []byte(cfg.JWTSigningKey))))
	return grpc.NewServer(opts...), nil
}
