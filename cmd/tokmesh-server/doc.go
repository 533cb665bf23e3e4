// Package main provides the entry point for tokmesh-server.
//
// tokmesh-server boots a single raft node (internal/server/raftnode)
// whose snapshot backend is this repository's file-backed,
// checksum-verified snapshot store (internal/storage/snapshot) instead
// of raft's own file snapshot store.
//
// Usage:
//
//	tokmesh-server [flags]
//	tokmesh-server --config /path/to/config.yaml
package main
