package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
data_path = "/tmp/stratus-test"
privkey = "45c56be699dca666191ad3446897e0f480da234da896270202514a0e1a587c3f"
pool_size = 512
timeout_gap = 30
cycles_limit = 630000000
consensus_interval = 1500

[network]
listen = "/ip4/127.0.0.1/tcp/4001"
bootstraps = ["/ip4/10.0.0.1/tcp/4001/p2p/QmPeer"]

[api]
listen = "127.0.0.1:9000"

[wal]
retention_heights = 7

[log]
level = "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DataPath != "/tmp/stratus-test" {
		t.Fatalf("data_path = %q", cfg.DataPath)
	}
	if cfg.PoolSize != 512 || cfg.TimeoutGap != 30 || cfg.CyclesLimit != 630000000 {
		t.Fatalf("pool settings: %+v", cfg)
	}
	if cfg.ConsensusInterval != 1500 {
		t.Fatalf("consensus_interval = %d", cfg.ConsensusInterval)
	}
	if cfg.Network.Listen != "/ip4/127.0.0.1/tcp/4001" || len(cfg.Network.Bootstraps) != 1 {
		t.Fatalf("network: %+v", cfg.Network)
	}
	if cfg.Wal.RetentionHeights != 7 {
		t.Fatalf("wal retention = %d", cfg.Wal.RetentionHeights)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}

	if cfg.StateDataPath() != filepath.Join("/tmp/stratus-test", "state_data") {
		t.Fatalf("state path = %q", cfg.StateDataPath())
	}
	if cfg.WalPath() != filepath.Join("/tmp/stratus-test", "wal") {
		t.Fatalf("wal path = %q", cfg.WalPath())
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `privkey = "ab"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PoolSize != 20000 {
		t.Fatalf("default pool_size = %d", cfg.PoolSize)
	}
	if cfg.TimeoutGap != 20 {
		t.Fatalf("default timeout_gap = %d", cfg.TimeoutGap)
	}
	if cfg.Wal.RetentionHeights != 20 {
		t.Fatalf("default wal retention = %d", cfg.Wal.RetentionHeights)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("missing config accepted")
	}
}
