package controlapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps a gRPC connection to a manager's control API for CLI and
// test use, one method per RPC with its own timeout — the same shape as
// pkg/client/client.go's per-call context.WithTimeout wrappers.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient dials addr with insecure transport credentials; mTLS setup is
// out of scope for this control surface (see DESIGN.md).
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(jsonCodecName))
}

// StartAMM starts the tick loop on the manager.
func (c *Client) StartAMM() (*StatusResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp := new(StatusResponse)
	if err := c.invoke(ctx, "/amm.Control/StartAMM", &RunOnceRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// StopAMM stops the tick loop on the manager.
func (c *Client) StopAMM() (*StatusResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp := new(StatusResponse)
	if err := c.invoke(ctx, "/amm.Control/StopAMM", &RunOnceRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Status reports whether the tick loop is running and what is registered.
func (c *Client) Status() (*StatusResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp := new(StatusResponse)
	if err := c.invoke(ctx, "/amm.Control/Status", &RunOnceRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RunOnce forces a single tick.
func (c *Client) RunOnce() (*RunOnceResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp := new(RunOnceResponse)
	if err := c.invoke(ctx, "/amm.Control/RunOnce", &RunOnceRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RetireWorkers drains the named workers, blocking until the manager's poll
// loop finishes or gives up. closeWorkers asks each worker to shut itself
// down once drained; remove controls whether it is deregistered afterward
// (the conventional default is closeWorkers=false, remove=true).
func (c *Client) RetireWorkers(addrs []string, closeWorkers, remove bool) (*RetireWorkersResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	resp := new(RetireWorkersResponse)
	req := &RetireWorkersRequest{Addresses: addrs, CloseWorkers: closeWorkers, Remove: &remove}
	if err := c.invoke(ctx, "/amm.Control/RetireWorkers", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
