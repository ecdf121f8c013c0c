package config

import (
	"fmt"
	"strings"
)

func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must be provided")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("DataDir must be provided")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit: RequestsPerSecond must not be negative")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit: Burst must be positive when a rate is set")
	}
	if cfg.Indexer.Enabled && strings.TrimSpace(cfg.Indexer.DSN) == "" {
		return fmt.Errorf("indexer: DSN must be provided when enabled")
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.SecretEnv) == "" {
		return fmt.Errorf("auth: SecretEnv must be provided when enabled")
	}
	for name, secs := range map[string]int{
		"RPCReadHeaderTimeout": cfg.RPCReadHeaderTimeout,
		"RPCReadTimeout":       cfg.RPCReadTimeout,
		"RPCWriteTimeout":      cfg.RPCWriteTimeout,
		"RPCIdleTimeout":       cfg.RPCIdleTimeout,
	} {
		if secs < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}
