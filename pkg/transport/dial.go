package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/antcode/antcode/pkg/identity"
)

// DialGateway opens a gRPC connection to addr, using mTLS when secrets has a
// CA cert and client cert/key pair, plain TLS (server verification only)
// when it has only a CA cert path, and insecure credentials when secrets is
// nil or has no CA cert path - mirroring the Worker's request-certificate
// then connect-with-mTLS progression, generalized to any credential source.
func DialGateway(addr string, secrets *identity.SecretsManager) (*grpc.ClientConn, error) {
	creds, err := dialCredentials(secrets)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("transport: dial gateway %s: %w", addr, err)
	}
	return conn, nil
}

func dialCredentials(secrets *identity.SecretsManager) (credentials.TransportCredentials, error) {
	if secrets == nil {
		return insecure.NewCredentials(), nil
	}
	if secrets.HasMTLSCerts() {
		certPath, keyPath, _ := secrets.ClientCertPaths()
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("transport: load client cert/key: %w", err)
		}
		caPath := secrets.CACertPath()
		pool := x509.NewCertPool()
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("transport: read CA cert %s: %w", caPath, err)
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("transport: CA cert %s contains no usable certificates", caPath)
		}
		return credentials.NewTLS(&tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
			MinVersion:   tls.VersionTLS13,
		}), nil
	}
	if caPath := secrets.CACertPath(); caPath != "" {
		pool := x509.NewCertPool()
		if caPEM, err := os.ReadFile(caPath); err == nil {
			pool.AppendCertsFromPEM(caPEM)
		}
		return credentials.NewTLS(&tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS13,
		}), nil
	}
	return insecure.NewCredentials(), nil
}

// DialTimeout is the default deadline applied to the initial connection
// handshake by callers that wrap DialGateway in a context.
const DialTimeout = 10 * time.Second
