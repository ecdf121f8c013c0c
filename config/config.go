package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	GenesisFile string `toml:"GenesisFile"`
	// AllowAutogenesis lets a node without a genesis file start from the
	// default genesis. Development only.
	AllowAutogenesis bool   `toml:"AllowAutogenesis"`
	Environment      string `toml:"Environment"`
	LogFile          string `toml:"LogFile"`

	RPCReadHeaderTimeout int `toml:"RPCReadHeaderTimeout"`
	RPCReadTimeout       int `toml:"RPCReadTimeout"`
	RPCWriteTimeout      int `toml:"RPCWriteTimeout"`
	RPCIdleTimeout       int `toml:"RPCIdleTimeout"`

	RateLimit RateLimit `toml:"rate_limit"`
	Auth      Auth      `toml:"auth"`
	Indexer   Indexer   `toml:"indexer"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.GenesisFile != "" && !filepath.IsAbs(cfg.GenesisFile) {
		cfg.GenesisFile = filepath.Join(filepath.Dir(path), cfg.GenesisFile)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		RPCAddress:           ":8545",
		DataDir:              "./hm-data",
		Environment:          "dev",
		RPCReadHeaderTimeout: 5,
		RPCReadTimeout:       15,
		RPCWriteTimeout:      15,
		RPCIdleTimeout:       60,
		RateLimit: RateLimit{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Indexer: Indexer{
			Enabled: true,
			DSN:     "hm-events.db",
		},
		Auth: Auth{
			SecretEnv: "HM_RPC_JWT_SECRET",
			Issuer:    "hmchain",
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// IndexerPath resolves the indexer DSN relative to the data directory.
func (c *Config) IndexerPath() string {
	dsn := strings.TrimSpace(c.Indexer.DSN)
	if dsn == "" || dsn == ":memory:" || filepath.IsAbs(dsn) || strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return filepath.Join(c.DataDir, dsn)
}
