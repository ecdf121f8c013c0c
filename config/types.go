package config

// RateLimit bounds JSON-RPC requests per client address.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Indexer configures the SQLite event index backing hm_marketEvents.
type Indexer struct {
	Enabled bool   `toml:"Enabled"`
	DSN     string `toml:"DSN"`
}

// Telemetry configures the OTLP exporters. An empty endpoint disables export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
}

// Auth gates hm_sendCall behind an HS256 bearer token. The secret is read
// from the named environment variable, never from the file.
type Auth struct {
	Enabled   bool   `toml:"Enabled"`
	SecretEnv string `toml:"SecretEnv"`
	Issuer    string `toml:"Issuer"`
}
