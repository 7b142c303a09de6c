package gatewayrpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/antcode/antcode/pkg/gatewayrpc"
)

type stubServer struct {
	gatewayrpc.Server
	lastHeartbeat gatewayrpc.HeartbeatMessage
}

func (s *stubServer) PollTask(ctx context.Context, req *gatewayrpc.PollTaskRequest) (*gatewayrpc.PollTaskResponse, error) {
	return &gatewayrpc.PollTaskResponse{Tasks: []gatewayrpc.Task{
		{Receipt: "ready|1-0", RunID: "run-1", TaskID: "task-1", ProjectType: "code"},
	}}, nil
}

func (s *stubServer) AckTask(ctx context.Context, req *gatewayrpc.AckTaskRequest) (*gatewayrpc.AckTaskResponse, error) {
	return &gatewayrpc.AckTaskResponse{}, nil
}

func (s *stubServer) ReportResult(ctx context.Context, req *gatewayrpc.ReportResultRequest) (*gatewayrpc.ReportResultResponse, error) {
	return &gatewayrpc.ReportResultResponse{}, nil
}

func (s *stubServer) SendHeartbeat(ctx context.Context, req *gatewayrpc.SendHeartbeatRequest) (*gatewayrpc.SendHeartbeatResponse, error) {
	s.lastHeartbeat = req.Heartbeat
	return &gatewayrpc.SendHeartbeatResponse{AcceptedAt: 1234}, nil
}

func (s *stubServer) HealthCheck(ctx context.Context, req *gatewayrpc.HealthCheckRequest) (*gatewayrpc.HealthCheckResponse, error) {
	return &gatewayrpc.HealthCheckResponse{Status: "ok"}, nil
}

func dialStub(t *testing.T, srv *stubServer) (gatewayrpc.Client, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer()
	gatewayrpc.RegisterGatewayServer(s, srv)
	go s.Serve(lis)

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	client := gatewayrpc.NewClient(conn)
	return client, func() {
		conn.Close()
		s.Stop()
	}
}

func TestClientPollTaskRoundTrips(t *testing.T) {
	client, cleanup := dialStub(t, &stubServer{})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.PollTask(ctx, &gatewayrpc.PollTaskRequest{WorkerID: "w-1", Max: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].RunID != "run-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClientSendHeartbeatRoundTrips(t *testing.T) {
	srv := &stubServer{}
	client, cleanup := dialStub(t, srv)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.SendHeartbeat(ctx, &gatewayrpc.SendHeartbeatRequest{
		Heartbeat: gatewayrpc.HeartbeatMessage{WorkerID: "w-1", ActiveSlots: 2, TotalSlots: 5},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.AcceptedAt != 1234 {
		t.Fatalf("expected AcceptedAt=1234, got %d", resp.AcceptedAt)
	}
	if srv.lastHeartbeat.WorkerID != "w-1" || srv.lastHeartbeat.ActiveSlots != 2 {
		t.Fatalf("server did not observe the heartbeat payload: %+v", srv.lastHeartbeat)
	}
}

func TestClientHealthCheck(t *testing.T) {
	client, cleanup := dialStub(t, &stubServer{})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.HealthCheck(ctx, &gatewayrpc.HealthCheckRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
}
