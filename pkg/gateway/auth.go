// Package gateway implements the authenticated gRPC surface between Workers
// and the control plane's Redis-backed queues, log streams, and control
// channel (spec §4.5). The Gateway owns no scheduling logic: every RPC
// translates directly into a queue/progress/logstore call.
package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/antcode/antcode/pkg/log"
)

// CredentialStore resolves a Worker's API key, for the header-based
// authentication layer.
type CredentialStore interface {
	// LookupAPIKey returns the Worker ID owning apiKey, or ok=false.
	LookupAPIKey(ctx context.Context, apiKey string) (workerID string, ok bool)
}

// unauthenticatedMethods bypass every auth layer: health checks and initial
// Worker registration (spec §4.5: "Unauthenticated methods are limited to
// health checks and initial Worker registration").
var unauthenticatedMethods = map[string]bool{
	"HealthCheck":    true,
	"RegisterWorker": true,
}

func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}

// workerIDKey is the context key the interceptor stores the authenticated
// Worker ID under, for RPC handlers to read back via WorkerIDFromContext.
type workerIDKeyType struct{}

var workerIDKey = workerIDKeyType{}

// WorkerIDFromContext returns the Worker ID established during
// authentication, or "" if none (only possible for the unauthenticated
// methods listed above).
func WorkerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(workerIDKey).(string)
	return id
}

// AuthInterceptor enforces the three-tier authentication order from spec
// §4.5: mTLS peer certificate first, then API-key + Worker-ID headers, then
// a bearer JWT - first success wins.
func AuthInterceptor(creds CredentialStore, jwtSecret []byte) grpc.UnaryServerInterceptor {
	logger := log.WithComponent("gateway-auth")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		name := methodName(info.FullMethod)
		if unauthenticatedMethods[name] {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)

		if workerID, ok := authenticateMTLS(ctx); ok {
			return handler(context.WithValue(ctx, workerIDKey, workerID), req)
		}

		if workerID, ok := authenticateAPIKey(ctx, md, creds); ok {
			return handler(context.WithValue(ctx, workerIDKey, workerID), req)
		}

		if workerID, ok := authenticateBearerJWT(md, jwtSecret); ok {
			return handler(context.WithValue(ctx, workerIDKey, workerID), req)
		}

		logger.Warn().Str("method", name).Msg("rejected unauthenticated RPC")
		return nil, status.Error(codes.Unauthenticated, "no valid authentication presented")
	}
}

// authenticateMTLS accepts the call if the peer presented a verified client
// certificate; the certificate's CommonName is treated as the Worker ID.
func authenticateMTLS(ctx context.Context) (string, bool) {
	p, ok := peer.FromContext(ctx)
	if !ok || p.AuthInfo == nil {
		return "", false
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok || len(tlsInfo.State.VerifiedChains) == 0 || len(tlsInfo.State.VerifiedChains[0]) == 0 {
		return "", false
	}
	leaf := tlsInfo.State.VerifiedChains[0][0]
	if leaf.Subject.CommonName == "" {
		return "", false
	}
	return leaf.Subject.CommonName, true
}

// authenticateAPIKey checks x-api-key + x-worker-id headers against creds:
// the key must resolve to the claimed Worker ID. No HMAC signature headers
// are read by this layer.
func authenticateAPIKey(ctx context.Context, md metadata.MD, creds CredentialStore) (string, bool) {
	apiKey := firstHeader(md, "x-api-key")
	claimedWorkerID := firstHeader(md, "x-worker-id")
	if apiKey == "" || claimedWorkerID == "" || creds == nil {
		return "", false
	}
	workerID, ok := creds.LookupAPIKey(ctx, apiKey)
	if !ok || workerID != claimedWorkerID {
		return "", false
	}
	return workerID, true
}

// authenticateBearerJWT validates a Bearer token in the Authorization
// header, returning the "sub" claim as the Worker ID.
func authenticateBearerJWT(md metadata.MD, secret []byte) (string, bool) {
	if len(secret) == 0 {
		return "", false
	}
	raw := firstHeader(md, "authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	tokenStr := strings.TrimPrefix(raw, prefix)

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, status.Error(codes.Unauthenticated, "unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", false
	}
	return sub, true
}

func firstHeader(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// ServerTLSConfig builds a server-side TLS config that requests (but, per
// the auth layer order, does not strictly require) a client certificate -
// mTLS is one of three acceptable auth paths, not the only one.
func ServerTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	pool.AppendCertsFromPEM(caPEM)
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.VerifyClientCertIfGiven,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
