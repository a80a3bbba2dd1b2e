package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// WorkerServer is the service a worker implements to receive replica
// placement instructions from the active memory manager.
type WorkerServer interface {
	AcquireReplicas(ctx context.Context, req *AcquireReplicasRequest) (*AcquireReplicasResponse, error)
	RemoveReplicas(ctx context.Context, req *RemoveReplicasRequest) (*RemoveReplicasResponse, error)
	Close(ctx context.Context, req *CloseRequest) (*CloseResponse, error)
}

// RegisterWorkerServer registers srv on s under the amm.Worker service name.
func RegisterWorkerServer(s *grpc.Server, srv WorkerServer) {
	s.RegisterService(&workerServiceDesc, srv)
}

var workerServiceDesc = grpc.ServiceDesc{
	ServiceName: "amm.Worker",
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AcquireReplicas", Handler: workerAcquireReplicasHandler},
		{MethodName: "RemoveReplicas", Handler: workerRemoveReplicasHandler},
		{MethodName: "Close", Handler: workerCloseHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "amm/worker.proto",
}

func workerAcquireReplicasHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AcquireReplicasRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).AcquireReplicas(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/amm.Worker/AcquireReplicas"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerServer).AcquireReplicas(ctx, req.(*AcquireReplicasRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func workerRemoveReplicasHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RemoveReplicasRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).RemoveReplicas(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/amm.Worker/RemoveReplicas"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerServer).RemoveReplicas(ctx, req.(*RemoveReplicasRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func workerCloseHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CloseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Close(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/amm.Worker/Close"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerServer).Close(ctx, req.(*CloseRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// WorkerClient is a typed wrapper over a gRPC connection to a single
// worker, one method per RPC.
type WorkerClient struct {
	cc *grpc.ClientConn
}

// NewWorkerClient wraps an established connection.
func NewWorkerClient(cc *grpc.ClientConn) *WorkerClient {
	return &WorkerClient{cc: cc}
}

// AcquireReplicas invokes the worker's AcquireReplicas RPC over the JSON
// codec subtype.
func (c *WorkerClient) AcquireReplicas(ctx context.Context, req *AcquireReplicasRequest) (*AcquireReplicasResponse, error) {
	out := new(AcquireReplicasResponse)
	if err := c.cc.Invoke(ctx, "/amm.Worker/AcquireReplicas", req, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveReplicas invokes the worker's RemoveReplicas RPC over the JSON
// codec subtype.
func (c *WorkerClient) RemoveReplicas(ctx context.Context, req *RemoveReplicasRequest) (*RemoveReplicasResponse, error) {
	out := new(RemoveReplicasResponse)
	if err := c.cc.Invoke(ctx, "/amm.Worker/RemoveReplicas", req, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

// Close invokes the worker's Close RPC over the JSON codec subtype, asking
// it to shut itself down.
func (c *WorkerClient) Close(ctx context.Context, req *CloseRequest) (*CloseResponse, error) {
	out := new(CloseResponse)
	if err := c.cc.Invoke(ctx, "/amm.Worker/Close", req, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}
