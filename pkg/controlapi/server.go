package controlapi

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/amm/pkg/amm"
	"github.com/cuemby/amm/pkg/state"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// Server implements ControlServer over a local *amm.Manager, guarding every
// mutating call behind Raft leadership so a write issued against a
// non-leader replica fails fast instead of silently diverging.
type Server struct {
	manager *amm.Manager
	raft    *state.Manager
	grpc    *grpc.Server
}

// NewServer builds a control server for mgr, gated by raft's leadership.
func NewServer(mgr *amm.Manager, raft *state.Manager) *Server {
	codec := encoding.GetCodec(jsonCodecName)
	s := &Server{manager: mgr, raft: raft, grpc: grpc.NewServer(grpc.ForceServerCodec(codec))}
	RegisterControlServer(s.grpc, s)
	return s
}

// Start listens on addr and serves until Stop is called or Serve errors.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("controlapi: listen on %s: %w", addr, err)
	}
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs before shutting down.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

func (s *Server) ensureLeader() error {
	if !s.raft.IsLeader() {
		return fmt.Errorf("controlapi: not the leader")
	}
	return nil
}

func (s *Server) statusResponse() *StatusResponse {
	return &StatusResponse{Running: s.manager.Running(), Policies: s.manager.Policies()}
}

// StartAMM starts the tick loop on the leader.
func (s *Server) StartAMM(ctx context.Context, req *RunOnceRequest) (*StatusResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	s.manager.Start()
	return s.statusResponse(), nil
}

// StopAMM stops the tick loop on the leader.
func (s *Server) StopAMM(ctx context.Context, req *RunOnceRequest) (*StatusResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	s.manager.Stop()
	return s.statusResponse(), nil
}

// Status reports the tick loop's current state. Read-only: answered on any
// replica, not just the leader.
func (s *Server) Status(ctx context.Context, req *RunOnceRequest) (*StatusResponse, error) {
	return s.statusResponse(), nil
}

// RunOnce forces a single tick on the leader.
func (s *Server) RunOnce(ctx context.Context, req *RunOnceRequest) (*RunOnceResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	skipped, err := s.manager.RunOnce(ctx)
	if err != nil {
		return nil, err
	}
	return &RunOnceResponse{Skipped: skipped}, nil
}

// RetireWorkers drains the named workers on the leader.
func (s *Server) RetireWorkers(ctx context.Context, req *RetireWorkersRequest) (*RetireWorkersResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	opts := amm.RetireOptions{MaxPolls: req.MaxPolls, CloseWorkers: req.CloseWorkers}
	if req.PollSeconds > 0 {
		opts.PollInterval = time.Duration(req.PollSeconds * float64(time.Second))
	}
	if req.Remove != nil && !*req.Remove {
		opts.SkipDeregister = true
	}
	result, err := s.manager.RetireWorkers(ctx, req.Addresses, opts)
	if err != nil {
		return nil, err
	}
	return &RetireWorkersResponse{Retired: result.Retired, GaveUp: result.GaveUp}, nil
}
