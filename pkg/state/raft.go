package state

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Manager owns the Raft-replicated AMM state: the FSM, the backing Store,
// and the Raft group itself. The AMM's control loop reads through Store.
// Writes from worker heartbeats, the retirement workflow, and the
// simulation harness also go straight to Store; Apply replicates a command
// through Raft, but nothing in this module calls it.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft  *raft.Raft
	fsm   *FSM
	store Store
}

// Config holds the parameters needed to construct and bootstrap a Manager.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager opens the backing bbolt store and constructs the FSM, but does
// not start Raft — call Bootstrap for that.
func NewManager(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	fsm := NewFSM(store)

	return &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      fsm,
		store:    store,
	}, nil
}

// Bootstrap starts a single-node Raft group rooted at this manager. A
// second scheduler joining later would call raft.AddVoter against the
// leader using the same transport/snapshot/log-store wiring.
func (m *Manager) Bootstrap() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// Tuned down from the library defaults (HeartbeatTimeout=1s,
	// ElectionTimeout=1s, LeaderLeaseTimeout=500ms) for sub-second failure
	// detection on a LAN-local deployment.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: config.LocalID, Address: transport.LocalAddr()},
		},
	}
	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	return nil
}

// Apply replicates a single command through Raft and blocks until it is
// committed and applied to the local FSM.
func (m *Manager) Apply(op string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal command payload: %w", err)
	}
	cmd := Command{Op: op, Data: payload}
	encoded, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(encoded, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return fmt.Errorf("fsm rejected command: %w", err)
		}
	}
	return nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// Store returns the backing Store, which the AMM and the simulated workers
// both read and write directly.
func (m *Manager) Store() Store {
	return m.store
}

// Stats exposes a small subset of Raft's internal counters for metrics
// collection.
func (m *Manager) Stats() map[string]string {
	if m.raft == nil {
		return nil
	}
	return m.raft.Stats()
}

// Shutdown releases the Raft group and backing store.
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shut down raft: %w", err)
		}
	}
	return m.store.Close()
}
