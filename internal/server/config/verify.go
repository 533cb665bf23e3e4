package config

import "errors"

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if cfg.Cluster.NodeID == "" {
		return errors.New("cluster.node_id is required")
	}
	if cfg.Cluster.RaftAddr == "" {
		return errors.New("cluster.raft_addr is required")
	}
	if cfg.Cluster.DataDir == "" {
		return errors.New("cluster.data_dir is required")
	}
	return nil
}
