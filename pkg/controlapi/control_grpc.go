package controlapi

import (
	"context"

	"google.golang.org/grpc"
)

// ControlServer is the operator-facing control surface a manager replica
// implements: start/stop the tick loop, force one tick, and drain workers.
type ControlServer interface {
	StartAMM(ctx context.Context, req *RunOnceRequest) (*StatusResponse, error)
	StopAMM(ctx context.Context, req *RunOnceRequest) (*StatusResponse, error)
	Status(ctx context.Context, req *RunOnceRequest) (*StatusResponse, error)
	RunOnce(ctx context.Context, req *RunOnceRequest) (*RunOnceResponse, error)
	RetireWorkers(ctx context.Context, req *RetireWorkersRequest) (*RetireWorkersResponse, error)
}

// RegisterControlServer registers srv on s under the amm.Control service name.
func RegisterControlServer(s *grpc.Server, srv ControlServer) {
	s.RegisterService(&controlServiceDesc, srv)
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: "amm.Control",
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartAMM", Handler: controlStartAMMHandler},
		{MethodName: "StopAMM", Handler: controlStopAMMHandler},
		{MethodName: "Status", Handler: controlStatusHandler},
		{MethodName: "RunOnce", Handler: controlRunOnceHandler},
		{MethodName: "RetireWorkers", Handler: controlRetireWorkersHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "amm/control.proto",
}

func controlStartAMMHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RunOnceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).StartAMM(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/amm.Control/StartAMM"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).StartAMM(ctx, req.(*RunOnceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func controlStopAMMHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RunOnceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).StopAMM(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/amm.Control/StopAMM"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).StopAMM(ctx, req.(*RunOnceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func controlStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RunOnceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/amm.Control/Status"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).Status(ctx, req.(*RunOnceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func controlRunOnceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RunOnceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).RunOnce(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/amm.Control/RunOnce"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).RunOnce(ctx, req.(*RunOnceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func controlRetireWorkersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RetireWorkersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).RetireWorkers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/amm.Control/RetireWorkers"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).RetireWorkers(ctx, req.(*RetireWorkersRequest))
	}
	return interceptor(ctx, in, info, handler)
}
