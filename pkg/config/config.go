// Package config provides the loader for Stratus node configuration. Node
// configuration is a TOML document; a local .env file may set environment
// variables that are not already set before the file is read.
package config

import (
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"stratus-network/pkg/utils"
)

// Config is the full node configuration.
type Config struct {
	DataPath string `mapstructure:"data_path" json:"data_path"`
	Privkey  string `mapstructure:"privkey" json:"privkey"`

	PoolSize    int    `mapstructure:"pool_size" json:"pool_size"`
	TimeoutGap  uint64 `mapstructure:"timeout_gap" json:"timeout_gap"`
	CyclesLimit uint64 `mapstructure:"cycles_limit" json:"cycles_limit"`

	// ConsensusInterval is the target milliseconds between heights.
	ConsensusInterval uint64 `mapstructure:"consensus_interval" json:"consensus_interval"`

	Network struct {
		Listen     string   `mapstructure:"listen" json:"listen"`
		Bootstraps []string `mapstructure:"bootstraps" json:"bootstraps"`
	} `mapstructure:"network" json:"network"`

	API struct {
		Listen string `mapstructure:"listen" json:"listen"`
	} `mapstructure:"api" json:"api"`

	Wal struct {
		RetentionHeights uint64 `mapstructure:"retention_heights" json:"retention_heights"`
	} `mapstructure:"wal" json:"wal"`

	Log struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"log" json:"log"`
}

// Load reads a TOML configuration file and applies defaults.
func Load(path string) (*Config, error) {
	// Best effort: a missing .env is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("data_path", utils.EnvOrDefault("STRATUS_DATA_PATH", "./data"))
	v.SetDefault("pool_size", 20000)
	v.SetDefault("timeout_gap", utils.EnvOrDefaultUint64("STRATUS_TIMEOUT_GAP", 20))
	v.SetDefault("cycles_limit", uint64(999_999_999_999))
	v.SetDefault("consensus_interval", 3000)
	v.SetDefault("network.listen", "/ip4/0.0.0.0/tcp/1337")
	v.SetDefault("api.listen", "127.0.0.1:8000")
	v.SetDefault("wal.retention_heights", 20)
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "decode config")
	}
	return &cfg, nil
}

// StateDataPath is where the state column family lives.
func (c *Config) StateDataPath() string {
	return filepath.Join(c.DataPath, "state_data")
}

// BlockDataPath is where block, transaction and receipt data live.
func (c *Config) BlockDataPath() string {
	return filepath.Join(c.DataPath, "block_data")
}

// WalPath is the root of the per-height write-ahead log.
func (c *Config) WalPath() string {
	return filepath.Join(c.DataPath, "wal")
}
