// cmd/server is the entrypoint for a kvnode process: one replica in the
// static three-node cluster spec.md §6 describes.
//
// Example — three-node cluster on one host:
//
//	kvnode serve --port 50051 --data-dir /tmp/n1 --backup-dir /tmp/n1-backup
//	kvnode serve --port 50052 --data-dir /tmp/n2 --backup-dir /tmp/n2-backup
//	kvnode serve --port 50053 --data-dir /tmp/n3 --backup-dir /tmp/n3-backup
//
// Each node's peer list is the built-in cluster minus its own address
// unless --peers overrides it explicitly.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"kvnode/internal/api"
	"kvnode/internal/config"
	"kvnode/internal/engine"
	"kvnode/internal/logging"
	"kvnode/internal/metrics"
	"kvnode/internal/replication"
	"kvnode/internal/worker"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "kvnode",
	Short:   "kvnode — a single replica of the static three-node key-value cluster",
	Version: "0.1.0",
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.Int("port", config.DefaultPort, "listen port; also identifies this node in the built-in cluster")
	flags.String("data-dir", config.DefaultDataDir, "directory holding the embedded engine files")
	flags.String("backup-dir", config.DefaultBackupDir, "default destination for the Backup RPC")
	flags.StringSlice("peers", nil, "override the built-in peer list (host:port,host:port,...)")
	flags.Int("workers", config.DefaultWorkers, "worker pool size")
	flags.Int("map-size", config.DefaultMapSize, "initial mmap size hint, in bytes")
	flags.String("log-level", "info", "debug, info, warn, or error")
	flags.Bool("log-json", false, "emit JSON logs instead of console-formatted logs")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start this node and block until SIGINT/SIGTERM",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	port, _ := flags.GetInt("port")
	dataDir, _ := flags.GetString("data-dir")
	backupDir, _ := flags.GetString("backup-dir")
	peersOverride, _ := flags.GetStringSlice("peers")
	workers, _ := flags.GetInt("workers")
	mapSize, _ := flags.GetInt("map-size")
	logLevel, _ := flags.GetString("log-level")
	logJSON, _ := flags.GetBool("log-json")

	cfg := config.Default(port)
	cfg.DataDir = dataDir
	cfg.BackupDir = backupDir
	cfg.Workers = workers
	cfg.MapSize = mapSize
	cfg.LogLevel = logLevel
	cfg.LogJSON = logJSON
	if len(peersOverride) > 0 {
		self := fmt.Sprintf("localhost:%d", port)
		cfg.Peers = config.ExcludeSelf(peersOverride, self)
	}

	logger := logging.Init(logging.Config{
		Level:      logging.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger = logger.With().Str("node_id", cfg.NodeID).Logger()

	// ── Storage engine ──────────────────────────────────────────────────
	eng, err := engine.Open(cfg.DataDir, engine.Options{
		MapSize: cfg.MapSize,
		Logger:  logging.Component(logger, "engine"),
	})
	if err != nil {
		return fmt.Errorf("kvnode: open engine: %w", err)
	}

	// ── Worker pool ─────────────────────────────────────────────────────
	pool := worker.New(cfg.Workers, eng, logging.Component(logger, "worker"))
	pool.Start()

	// ── Replication manager ─────────────────────────────────────────────
	var repl *replication.Manager
	if len(cfg.Peers) > 0 {
		repl = replication.New(cfg.Peers, logging.Component(logger, "replication"))
		repl.OnAttempt(metrics.ReplicationHook)
		logger.Info().Str("peers", strings.Join(cfg.Peers, ",")).Msg("replicating to peers")
	} else {
		logger.Warn().Msg("no peers configured; running standalone")
	}

	// ── RPC servicer ─────────────────────────────────────────────────────
	// Bind loopback only (spec.md §4.4), matching the Python original's
	// add_insecure_port("127.0.0.1:{port}").
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := api.New(addr, pool, repl, cfg.BackupDir, logging.Component(logger, "api"))

	errCh := srv.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			pool.Stop()
			eng.Close()
			return fmt.Errorf("kvnode: listen: %w", err)
		}
	}

	// Reverse construction order: server, then pool, then engine.
	if err := srv.Stop(); err != nil {
		logger.Warn().Err(err).Msg("error closing listener")
	}
	pool.Stop()
	if err := eng.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing engine")
	}

	return nil
}
