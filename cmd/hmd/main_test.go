package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hmchain/config"
)

func lookupFrom(values map[string]string) envLookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestResolveGenesisPathPrecedence(t *testing.T) {
	env := lookupFrom(map[string]string{genesisPathEnv: "/env/genesis.json"})

	path, err := resolveGenesisPath("/cli/genesis.json", "/cfg/genesis.json", false, env)
	require.NoError(t, err)
	require.Equal(t, "/cli/genesis.json", path)

	path, err = resolveGenesisPath("", "/cfg/genesis.json", false, env)
	require.NoError(t, err)
	require.Equal(t, "/env/genesis.json", path)

	path, err = resolveGenesisPath(" ", "/cfg/genesis.json", false, lookupFrom(nil))
	require.NoError(t, err)
	require.Equal(t, "/cfg/genesis.json", path)

	path, err = resolveGenesisPath("", "", true, lookupFrom(nil))
	require.NoError(t, err)
	require.Empty(t, path)

	_, err = resolveGenesisPath("", "", false, lookupFrom(nil))
	require.ErrorContains(t, err, "no genesis file provided")
}

func TestResolveAllowAutogenesis(t *testing.T) {
	allow, err := resolveAllowAutogenesis(false, false, false, lookupFrom(map[string]string{allowAutogenesisEnv: "true"}))
	require.NoError(t, err)
	require.True(t, allow)

	allow, err = resolveAllowAutogenesis(true, true, false, lookupFrom(nil))
	require.NoError(t, err)
	require.False(t, allow)

	_, err = resolveAllowAutogenesis(false, false, false, lookupFrom(map[string]string{allowAutogenesisEnv: "maybe"}))
	require.Error(t, err)
}

func TestAuthConfigReadsSecretFromEnvironment(t *testing.T) {
	auth, err := authConfig(config.Auth{}, lookupFrom(nil))
	require.NoError(t, err)
	require.Empty(t, auth.Secret)

	cfg := config.Auth{Enabled: true, SecretEnv: "HM_SECRET", Issuer: "hmchain"}
	_, err = authConfig(cfg, lookupFrom(nil))
	require.ErrorContains(t, err, "HM_SECRET")

	auth, err = authConfig(cfg, lookupFrom(map[string]string{"HM_SECRET": "s3cret"}))
	require.NoError(t, err)
	require.Equal(t, []byte("s3cret"), auth.Secret)
	require.Equal(t, "hmchain", auth.Issuer)
}

func TestRunStartsAndStops(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.RPCAddress = "127.0.0.1:0"
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Indexer.DSN = "events.db"

	genesisPath := filepath.Join(dir, "genesis.json")
	require.NoError(t, os.WriteFile(genesisPath, []byte(`{"genesisTime":"1970-01-01T00:00:00Z","alloc":{},"market":{"initialMarketPrice":3}}`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	go func() { done <- run(ctx, cfg, genesisPath, "test", logger) }()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("node did not stop")
	}
	_, err := os.Stat(filepath.Join(cfg.DataDir, "events.db"))
	require.NoError(t, err)
}
