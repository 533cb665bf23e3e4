package config

// Default configuration values.
const (
	DefaultRaftAddr = "127.0.0.1:5343"
	DefaultDataDir  = "/var/lib/tokmesh-server/data"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Cluster: ClusterSection{
			RaftAddr: DefaultRaftAddr,
			DataDir:  DefaultDataDir,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
