package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yndnr/tokmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/tokmesh-go/internal/infra/confloader"
	"github.com/yndnr/tokmesh-go/internal/infra/shutdown"
	"github.com/yndnr/tokmesh-go/internal/server/config"
	"github.com/yndnr/tokmesh-go/internal/server/raftnode"
	"github.com/yndnr/tokmesh-go/internal/storage/snapshot"
	"github.com/yndnr/tokmesh-go/internal/telemetry/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	log.Info("starting tokmesh-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", *configFile,
		"node_id", cfg.Cluster.NodeID)

	watcher, err := startConfigWatcher(*configFile, cfg, log)
	if err != nil {
		log.Warn("configuration watcher not started", "error", err)
	}

	node, err := raftnode.New(raftnode.Config{
		NodeID:    cfg.Cluster.NodeID,
		BindAddr:  cfg.Cluster.RaftAddr,
		DataDir:   cfg.Cluster.DataDir,
		Bootstrap: cfg.Cluster.Bootstrap,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("start raft node: %w", err)
	}

	node.SnapshotStore().AddSnapshotListener(func(p *snapshot.Persisted) {
		log.Info("snapshot committed", "snapshot_id", p.ID().String(), "index", p.Index(), "term", p.Term())
	})

	shutdownHandler := shutdown.NewHandler(30 * time.Second)
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down raft node")
		return node.Close()
	})
	if watcher != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("stopping configuration watcher")
			return watcher.Stop()
		})
	}

	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	loader := confloader.NewLoader(opts...)

	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger initializes the structured logger.
func initLogger(cfg *config.ServerConfig) (logger.Logger, error) {
	return logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
}

// startConfigWatcher watches configFile for changes and applies a
// live log-level update using confloader.Watcher, avoiding a full
// process restart for SIGHUP-free reloads.
func startConfigWatcher(configFile string, cfg *config.ServerConfig, log logger.Logger) (*confloader.Watcher, error) {
	if configFile == "" {
		return nil, nil
	}

	w, err := confloader.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Watch(configFile); err != nil {
		return nil, fmt.Errorf("watch config file: %w", err)
	}

	w.OnChange(func(path string) {
		reloaded := config.Default()
		if err := confloader.NewLoader(confloader.WithConfigFile(configFile)).Load(reloaded); err != nil {
			log.Error("config reload failed", "path", path, "error", err)
			return
		}
		if reloaded.Log.Level != cfg.Log.Level {
			logger.SetLevel(reloaded.Log.Level)
			log.Info("log level reloaded", "level", reloaded.Log.Level)
			cfg.Log.Level = reloaded.Log.Level
		}
	})
	w.StartAsync()
	return w, nil
}
