// Package raftnode boots a single hashicorp/raft node over a
// snapshot.Store, standing in for the replication/consensus layer that
// produces and consumes this repository's snapshots. It exists to
// exercise snapshot.RaftStore against a real raft.Raft instance; its own
// FSM is a minimal counter, not a production state machine.
package raftnode
