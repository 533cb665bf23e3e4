// Package config defines tokmesh-server's configuration structure.
package config

// ServerConfig is the root configuration for tokmesh-server.
type ServerConfig struct {
	Cluster ClusterSection `koanf:"cluster"`
	Log     LogSection     `koanf:"log"`
}

// ClusterSection configures the raft node this process runs.
type ClusterSection struct {
	// NodeID is the unique raft server identifier.
	NodeID string `koanf:"node_id"`

	// RaftAddr is the raft TCP bind address (e.g. "127.0.0.1:5343").
	RaftAddr string `koanf:"raft_addr"`

	// Bootstrap indicates this node forms a brand-new single-node cluster.
	Bootstrap bool `koanf:"bootstrap"`

	// DataDir holds the raft log/stable stores and the snapshot store's
	// partition directory.
	DataDir string `koanf:"data_dir"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
