// Package config assembles node configuration from flags, with the
// defaults spec.md §6 specifies: port 50051, a 10 MiB map size, and a
// built-in three-node cluster with self excluded (I3/I5).
package config

import "fmt"

// DefaultCluster is the built-in three-address cluster spec.md §6
// describes. A node's peer list is this set minus its own address.
var DefaultCluster = []string{
	"localhost:50051",
	"localhost:50052",
	"localhost:50053",
}

const (
	DefaultPort      = 50051
	DefaultDataDir   = "kvstore.db"
	DefaultBackupDir = "kvstore_backup"
	DefaultWorkers   = 4
	DefaultMapSize   = 10 << 20 // 10 MiB
)

// Config holds everything cmd/server needs to construct a node.
type Config struct {
	NodeID    string
	Port      int
	DataDir   string
	BackupDir string
	Peers     []string
	Workers   int
	MapSize   int
	LogLevel  string
	LogJSON   bool
}

// Default returns a Config with spec.md's built-in defaults, peers resolved
// against port so the node never replicates to itself.
func Default(port int) Config {
	return Config{
		NodeID:    fmt.Sprintf("node-%d", port),
		Port:      port,
		DataDir:   DefaultDataDir,
		BackupDir: DefaultBackupDir,
		Peers:     PeersExcludingSelf(port),
		Workers:   DefaultWorkers,
		MapSize:   DefaultMapSize,
		LogLevel:  "info",
		LogJSON:   false,
	}
}

// PeersExcludingSelf returns DefaultCluster with this node's own address
// removed, enforcing I3 (peer list excludes self) against the built-in
// three-node cluster.
func PeersExcludingSelf(port int) []string {
	self := fmt.Sprintf("localhost:%d", port)
	return ExcludeSelf(DefaultCluster, self)
}

// ExcludeSelf filters selfAddr out of peers, preserving order. Used when an
// operator supplies an explicit --peers list instead of the built-in
// cluster, so I3/I5 hold regardless of configuration source.
func ExcludeSelf(peers []string, selfAddr string) []string {
	out := make([]string, 0, len(peers))
	for _, addr := range peers {
		if addr != selfAddr {
			out = append(out, addr)
		}
	}
	return out
}
