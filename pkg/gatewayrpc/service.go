package gatewayrpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC service name under which the Gateway's methods are
// registered. It follows protoc's package.Service naming even though there
// is no .proto source behind it.
const ServiceName = "antcode.gatewayrpc.Gateway"

// Server is the set of RPCs a Gateway implementation must provide. Every
// method maps 1:1 to a row of the RPC surface.
type Server interface {
	PollTask(context.Context, *PollTaskRequest) (*PollTaskResponse, error)
	AckTask(context.Context, *AckTaskRequest) (*AckTaskResponse, error)
	ReportResult(context.Context, *ReportResultRequest) (*ReportResultResponse, error)
	SendHeartbeat(context.Context, *SendHeartbeatRequest) (*SendHeartbeatResponse, error)
	SendLog(context.Context, *SendLogRequest) (*SendLogResponse, error)
	SendLogBatch(context.Context, *SendLogBatchRequest) (*SendLogBatchResponse, error)
	SendLogChunk(context.Context, *SendLogChunkRequest) (*SendLogChunkResponse, error)
	PollControl(context.Context, *PollControlRequest) (*PollControlResponse, error)
	AckControl(context.Context, *AckControlRequest) (*AckControlResponse, error)
	SendControlResult(context.Context, *SendControlResultRequest) (*SendControlResultResponse, error)
	RegisterWorker(context.Context, *RegisterWorkerRequest) (*RegisterWorkerResponse, error)
	HealthCheck(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error)
}

func unaryHandler[Req, Resp any](call func(Server, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(Server), ctx, in)
		}
		fullMethod, ok := grpc.Method(ctx)
		if !ok {
			fullMethod = ServiceName
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(Server), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc wires Server's methods into a grpc.ServiceDesc usable with
// grpc.NewServer().RegisterService, without any generated *_grpc.pb.go file.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PollTask", Handler: unaryHandler(Server.PollTask)},
		{MethodName: "AckTask", Handler: unaryHandler(Server.AckTask)},
		{MethodName: "ReportResult", Handler: unaryHandler(Server.ReportResult)},
		{MethodName: "SendHeartbeat", Handler: unaryHandler(Server.SendHeartbeat)},
		{MethodName: "SendLog", Handler: unaryHandler(Server.SendLog)},
		{MethodName: "SendLogBatch", Handler: unaryHandler(Server.SendLogBatch)},
		{MethodName: "SendLogChunk", Handler: unaryHandler(Server.SendLogChunk)},
		{MethodName: "PollControl", Handler: unaryHandler(Server.PollControl)},
		{MethodName: "AckControl", Handler: unaryHandler(Server.AckControl)},
		{MethodName: "SendControlResult", Handler: unaryHandler(Server.SendControlResult)},
		{MethodName: "RegisterWorker", Handler: unaryHandler(Server.RegisterWorker)},
		{MethodName: "HealthCheck", Handler: unaryHandler(Server.HealthCheck)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gatewayrpc.go",
}

// RegisterGatewayServer registers srv with s under ServiceDesc.
func RegisterGatewayServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// callOpt selects the JSON codec for one RPC invocation.
func callOpt() grpc.CallOption { return grpc.CallContentSubtype(codecName) }

// Client is the Worker-side view of the Gateway RPC surface, implemented by
// both a live gRPC client (see NewClient) and the Direct-mode in-process
// adapter in pkg/transport.
type Client interface {
	PollTask(context.Context, *PollTaskRequest) (*PollTaskResponse, error)
	AckTask(context.Context, *AckTaskRequest) (*AckTaskResponse, error)
	ReportResult(context.Context, *ReportResultRequest) (*ReportResultResponse, error)
	SendHeartbeat(context.Context, *SendHeartbeatRequest) (*SendHeartbeatResponse, error)
	SendLog(context.Context, *SendLogRequest) (*SendLogResponse, error)
	SendLogBatch(context.Context, *SendLogBatchRequest) (*SendLogBatchResponse, error)
	SendLogChunk(context.Context, *SendLogChunkRequest) (*SendLogChunkResponse, error)
	PollControl(context.Context, *PollControlRequest) (*PollControlResponse, error)
	AckControl(context.Context, *AckControlRequest) (*AckControlResponse, error)
	SendControlResult(context.Context, *SendControlResultRequest) (*SendControlResultResponse, error)
	RegisterWorker(context.Context, *RegisterWorkerRequest) (*RegisterWorkerResponse, error)
	HealthCheck(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error)
}

type grpcClient struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a dialed *grpc.ClientConn (or any grpc.ClientConnInterface,
// which eases testing with bufconn) as a Client.
func NewClient(cc grpc.ClientConnInterface) Client {
	return &grpcClient{cc: cc}
}

func (c *grpcClient) PollTask(ctx context.Context, req *PollTaskRequest) (*PollTaskResponse, error) {
	out := new(PollTaskResponse)
	if err := c.cc.Invoke(ctx, fullMethod("PollTask"), req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *grpcClient) AckTask(ctx context.Context, req *AckTaskRequest) (*AckTaskResponse, error) {
	out := new(AckTaskResponse)
	if err := c.cc.Invoke(ctx, fullMethod("AckTask"), req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *grpcClient) ReportResult(ctx context.Context, req *ReportResultRequest) (*ReportResultResponse, error) {
	out := new(ReportResultResponse)
	if err := c.cc.Invoke(ctx, fullMethod("ReportResult"), req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *grpcClient) SendHeartbeat(ctx context.Context, req *SendHeartbeatRequest) (*SendHeartbeatResponse, error) {
	out := new(SendHeartbeatResponse)
	if err := c.cc.Invoke(ctx, fullMethod("SendHeartbeat"), req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *grpcClient) SendLog(ctx context.Context, req *SendLogRequest) (*SendLogResponse, error) {
	out := new(SendLogResponse)
	if err := c.cc.Invoke(ctx, fullMethod("SendLog"), req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *grpcClient) SendLogBatch(ctx context.Context, req *SendLogBatchRequest) (*SendLogBatchResponse, error) {
	out := new(SendLogBatchResponse)
	if err := c.cc.Invoke(ctx, fullMethod("SendLogBatch"), req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *grpcClient) SendLogChunk(ctx context.Context, req *SendLogChunkRequest) (*SendLogChunkResponse, error) {
	out := new(SendLogChunkResponse)
	if err := c.cc.Invoke(ctx, fullMethod("SendLogChunk"), req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *grpcClient) PollControl(ctx context.Context, req *PollControlRequest) (*PollControlResponse, error) {
	out := new(PollControlResponse)
	if err := c.cc.Invoke(ctx, fullMethod("PollControl"), req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *grpcClient) AckControl(ctx context.Context, req *AckControlRequest) (*AckControlResponse, error) {
	out := new(AckControlResponse)
	if err := c.cc.Invoke(ctx, fullMethod("AckControl"), req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *grpcClient) SendControlResult(ctx context.Context, req *SendControlResultRequest) (*SendControlResultResponse, error) {
	out := new(SendControlResultResponse)
	if err := c.cc.Invoke(ctx, fullMethod("SendControlResult"), req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *grpcClient) RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
	out := new(RegisterWorkerResponse)
	if err := c.cc.Invoke(ctx, fullMethod("RegisterWorker"), req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *grpcClient) HealthCheck(ctx context.Context, req *HealthCheckRequest) (*HealthCheckResponse, error) {
	out := new(HealthCheckResponse)
	if err := c.cc.Invoke(ctx, fullMethod("HealthCheck"), req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}
