package rpc

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// Server hosts a WorkerServer over gRPC, forcing every call through the
// JSON codec since no protobuf-generated codec is available (DESIGN.md).
// Mirrors pkg/api/server.go's NewServer/Start/Stop shape, minus the mTLS
// setup that package built around pkg/security.
type Server struct {
	grpc *grpc.Server
}

// NewServer wraps srv in a gRPC server that always decodes with the JSON
// codec registered in codec.go.
func NewServer(srv WorkerServer) *Server {
	codec := encoding.GetCodec(jsonCodecName)
	s := grpc.NewServer(grpc.ForceServerCodec(codec))
	RegisterWorkerServer(s, srv)
	return &Server{grpc: s}
}

// Start listens on addr and serves until Stop is called or Serve errors.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen on %s: %w", addr, err)
	}
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs before shutting down.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}
