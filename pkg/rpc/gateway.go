package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Gateway implements pkg/amm's Dispatcher over gRPC connections to
// individual workers, dialed lazily and cached for reuse across ticks.
// Grounded on pkg/client/client.go's connection-per-target dial style; uses
// insecure transport credentials because the retired mTLS/pkg/security
// machinery is out of scope here (DESIGN.md).
type Gateway struct {
	mu          sync.Mutex
	conns       map[string]*grpc.ClientConn
	dialTimeout time.Duration
}

// NewGateway returns a Gateway. Its dialTimeout field is not applied to the
// dial: grpc.Dial connects lazily, so a worker that cannot be reached fails
// the RPC itself, bounded by that call's context.
func NewGateway() *Gateway {
	return &Gateway{conns: make(map[string]*grpc.ClientConn), dialTimeout: 5 * time.Second}
}

func (g *Gateway) clientFor(addr string) (*WorkerClient, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cc, ok := g.conns[addr]; ok {
		return NewWorkerClient(cc), nil
	}

	cc, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("rpc: dial worker %s: %w", addr, err)
	}
	g.conns[addr] = cc
	return NewWorkerClient(cc), nil
}

// AcquireReplicas asks worker to fetch and hold the given keys.
func (g *Gateway) AcquireReplicas(ctx context.Context, worker string, keys []string) error {
	c, err := g.clientFor(worker)
	if err != nil {
		return err
	}
	_, err = c.AcquireReplicas(ctx, &AcquireReplicasRequest{Keys: keys})
	return err
}

// RemoveReplicas asks worker to drop the given keys.
func (g *Gateway) RemoveReplicas(ctx context.Context, worker string, keys []string) error {
	c, err := g.clientFor(worker)
	if err != nil {
		return err
	}
	_, err = c.RemoveReplicas(ctx, &RemoveReplicasRequest{Keys: keys})
	return err
}

// CloseWorker asks worker to shut itself down over RPC.
func (g *Gateway) CloseWorker(ctx context.Context, worker string) error {
	c, err := g.clientFor(worker)
	if err != nil {
		return err
	}
	_, err = c.Close(ctx, &CloseRequest{})
	return err
}

// Close tears down every cached worker connection.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var firstErr error
	for addr, cc := range g.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("rpc: close %s: %w", addr, err)
		}
	}
	g.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
