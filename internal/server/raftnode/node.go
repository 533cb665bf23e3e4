package raftnode

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/yndnr/tokmesh-go/internal/storage/snapshot"
	"github.com/yndnr/tokmesh-go/internal/telemetry/logger"
)

// Config configures a Node.
type Config struct {
	// NodeID is the unique raft server identifier.
	NodeID string
	// BindAddr is the address to bind for raft communication.
	BindAddr string
	// DataDir holds the raft log/stable stores and the snapshot store's
	// partition directory (a "snapshots" subdirectory beneath it).
	DataDir string
	// Bootstrap indicates this node forms a brand-new single-node cluster.
	Bootstrap bool
	// Logger receives lifecycle events; defaults to logger.Default().
	Logger logger.Logger
}

// Node wraps a raft.Raft instance whose snapshot backend is a
// snapshot.Store instead of raft.NewFileSnapshotStore.
type Node struct {
	raft      *raft.Raft
	transport *raft.NetworkTransport
	fsm       *FSM
	store     *snapshot.Store
	log       logger.Logger

	logStore    raft.LogStore
	stableStore raft.StableStore

	leaderCh chan bool
}

// New constructs and starts a raft node rooted at cfg.DataDir.
func New(cfg Config) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("raftnode: data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("raftnode: create data dir: %w", err)
	}

	store, err := snapshot.Open(snapshot.Config{
		Dir:    filepath.Join(cfg.DataDir, "snapshots"),
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("raftnode: open snapshot store: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.Logger = &raftHCLogger{log: cfg.Logger}
	raftConfig.HeartbeatTimeout = 1000 * time.Millisecond
	raftConfig.ElectionTimeout = 1000 * time.Millisecond
	raftConfig.CommitTimeout = 50 * time.Millisecond
	raftConfig.LeaderLeaseTimeout = 500 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("raftnode: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("raftnode: create transport: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		transport.Close()
		store.Close()
		return nil, fmt.Errorf("raftnode: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		transport.Close()
		store.Close()
		return nil, fmt.Errorf("raftnode: create stable store: %w", err)
	}

	fsm := NewFSM(cfg.Logger)
	snapshotStore := snapshot.NewRaftStore(store)

	leaderCh := make(chan bool, 10)
	raftConfig.NotifyCh = leaderCh

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		store.Close()
		return nil, fmt.Errorf("raftnode: create raft: %w", err)
	}

	node := &Node{
		raft:        r,
		transport:   transport,
		fsm:         fsm,
		store:       store,
		log:         cfg.Logger,
		logStore:    logStore,
		stableStore: stableStore,
		leaderCh:    leaderCh,
	}

	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{{ID: raft.ServerID(cfg.NodeID), Address: transport.LocalAddr()}},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil {
			node.Close()
			return nil, fmt.Errorf("raftnode: bootstrap cluster: %w", err)
		}
		cfg.Logger.Info("raft cluster bootstrapped", "node_id", cfg.NodeID, "addr", cfg.BindAddr)
	}

	cfg.Logger.Info("raft node created", "node_id", cfg.NodeID, "bind_addr", cfg.BindAddr, "bootstrap", cfg.Bootstrap)
	return node, nil
}

// Apply proposes delta to the counter FSM and waits for it to commit.
func (n *Node) Apply(delta int64, timeout time.Duration) error {
	data, err := marshalCounterCommand(delta)
	if err != nil {
		return err
	}
	f := n.raft.Apply(data, timeout)
	return f.Error()
}

// Value returns the FSM's current counter value.
func (n *Node) Value() int64 { return n.fsm.Value() }

// SnapshotStore exposes the underlying snapshot.Store, e.g. so callers
// can register listeners on it independent of raft.
func (n *Node) SnapshotStore() *snapshot.Store { return n.store }

// IsLeader reports whether this node currently holds raft leadership.
func (n *Node) IsLeader() bool { return n.raft.State() == raft.Leader }

// LeaderCh notifies on leadership changes.
func (n *Node) LeaderCh() <-chan bool { return n.leaderCh }

// TriggerSnapshot forces raft to take a snapshot now via RaftStore.
func (n *Node) TriggerSnapshot() error {
	return n.raft.Snapshot().Error()
}

// Close shuts down raft and every collaborator it owns.
func (n *Node) Close() error {
	n.log.Info("shutting down raft node")

	if err := n.raft.Shutdown().Error(); err != nil {
		n.log.Error("raft shutdown failed", "error", err)
	}
	if s, ok := n.stableStore.(*raftboltdb.BoltStore); ok {
		if err := s.Close(); err != nil {
			n.log.Error("close stable store failed", "error", err)
		}
	}
	if s, ok := n.logStore.(*raftboltdb.BoltStore); ok {
		if err := s.Close(); err != nil {
			n.log.Error("close log store failed", "error", err)
		}
	}
	if err := n.transport.Close(); err != nil {
		n.log.Error("close transport failed", "error", err)
	}
	n.store.Close()
	close(n.leaderCh)

	n.log.Info("raft node shutdown complete")
	return nil
}

// raftHCLogger bridges logger.Logger into hashicorp/go-hclog, which
// hashicorp/raft requires for its own internal logging.
type raftHCLogger struct {
	log logger.Logger
}

func (l *raftHCLogger) Log(level hclog.Level, msg string, args ...any) {
	switch level {
	case hclog.Trace, hclog.Debug:
		l.log.Debug(msg, args...)
	case hclog.Warn:
		l.log.Warn(msg, args...)
	case hclog.Error:
		l.log.Error(msg, args...)
	default:
		l.log.Info(msg, args...)
	}
}

func (l *raftHCLogger) Trace(msg string, args ...any) { l.log.Debug(msg, args...) }
func (l *raftHCLogger) Debug(msg string, args ...any) { l.log.Debug(msg, args...) }
func (l *raftHCLogger) Info(msg string, args ...any)  { l.log.Info(msg, args...) }
func (l *raftHCLogger) Warn(msg string, args ...any)  { l.log.Warn(msg, args...) }
func (l *raftHCLogger) Error(msg string, args ...any) { l.log.Error(msg, args...) }

func (l *raftHCLogger) IsTrace() bool { return false }
func (l *raftHCLogger) IsDebug() bool { return false }
func (l *raftHCLogger) IsInfo() bool  { return true }
func (l *raftHCLogger) IsWarn() bool  { return true }
func (l *raftHCLogger) IsError() bool { return true }

func (l *raftHCLogger) ImpliedArgs() []any             { return nil }
func (l *raftHCLogger) With(_ ...any) hclog.Logger     { return l }
func (l *raftHCLogger) Name() string                   { return "raft" }
func (l *raftHCLogger) Named(_ string) hclog.Logger     { return l }
func (l *raftHCLogger) ResetNamed(_ string) hclog.Logger { return l }
func (l *raftHCLogger) SetLevel(_ hclog.Level)          {}
func (l *raftHCLogger) GetLevel() hclog.Level           { return hclog.Info }
func (l *raftHCLogger) StandardLogger(_ *hclog.StandardLoggerOptions) *log.Logger { return nil }
func (l *raftHCLogger) StandardWriter(_ *hclog.StandardLoggerOptions) io.Writer   { return nil }
