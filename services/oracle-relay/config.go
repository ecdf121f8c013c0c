package oraclerelay

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime options for the oracle relay.
type Config struct {
	ListenAddress string            `yaml:"listen"`
	NodeRPC       string            `yaml:"node_rpc"`
	Keystore      string            `yaml:"keystore"`
	PassphraseEnv string            `yaml:"passphrase_env"`
	Sensors       map[string]string `yaml:"sensors"`
	RateLimit     RateLimitConfig   `yaml:"rate_limit"`
	NodeAuth      NodeAuthConfig    `yaml:"node_auth"`
	SubmitTimeout Duration          `yaml:"submit_timeout"`
}

// RateLimitConfig throttles attestation intake across all sensors.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// NodeAuthConfig signs the bearer token the node expects on hm_sendCall.
// The shared secret is read from SecretEnv; an empty SecretEnv sends no token.
type NodeAuthConfig struct {
	SecretEnv string   `yaml:"secret_env"`
	Issuer    string   `yaml:"issuer"`
	TTL       Duration `yaml:"ttl"`
}

// LoadConfig reads and validates the relay configuration at path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":7080"
	}
	if strings.TrimSpace(cfg.NodeRPC) == "" {
		cfg.NodeRPC = "http://localhost:8545"
	}
	if strings.TrimSpace(cfg.PassphraseEnv) == "" {
		cfg.PassphraseEnv = "HM_ORACLE_PASSPHRASE"
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RequestsPerSecond)
		if cfg.RateLimit.Burst < 1 {
			cfg.RateLimit.Burst = 1
		}
	}
	if cfg.NodeAuth.Issuer == "" {
		cfg.NodeAuth.Issuer = "hmchain"
	}
	if cfg.NodeAuth.TTL.Duration <= 0 {
		cfg.NodeAuth.TTL.Duration = 5 * time.Minute
	}
	if cfg.SubmitTimeout.Duration <= 0 {
		cfg.SubmitTimeout.Duration = 15 * time.Second
	}
}

// Validate checks the configuration for required fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Keystore) == "" {
		return errors.New("keystore is required")
	}
	if len(c.Sensors) == 0 {
		return errors.New("at least one sensor must be configured")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return errors.New("rate_limit.requests_per_second must not be negative")
	}
	if _, err := c.SensorTable(); err != nil {
		return err
	}
	return nil
}

// SensorTable decodes the sensor map into normalised sensor id keys and
// gen-station code values.
func (c Config) SensorTable() (map[string][]byte, error) {
	table := make(map[string][]byte, len(c.Sensors))
	for sensor, code := range c.Sensors {
		id, err := normaliseHex(sensor)
		if err != nil {
			return nil, fmt.Errorf("sensor %q: %w", sensor, err)
		}
		if _, dup := table[id]; dup {
			return nil, fmt.Errorf("sensor %q configured twice", sensor)
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(code), "0x"))
		if err != nil || len(raw) == 0 {
			return nil, fmt.Errorf("sensor %q: gen-station code must be non-empty hex", sensor)
		}
		table[id] = raw
	}
	return table, nil
}

func normaliseHex(value string) (string, error) {
	trimmed := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if trimmed == "" {
		return "", errors.New("empty identifier")
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return "", fmt.Errorf("identifier must be hex: %w", err)
	}
	return trimmed, nil
}
