package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"hmchain/config"
	"hmchain/core"
	"hmchain/core/events"
	"hmchain/core/genesis"
	"hmchain/indexer"
	"hmchain/observability/logging"
	"hmchain/observability/metrics"
	telemetry "hmchain/observability/otel"
	"hmchain/rpc"
	"hmchain/storage"
)

const (
	genesisPathEnv      = "HM_GENESIS"
	allowAutogenesisEnv = "HM_ALLOW_AUTOGENESIS"
)

type envLookupFunc func(string) (string, bool)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides HM_GENESIS and config GenesisFile)")
	allowAutogenesis := flag.Bool("allow-autogenesis", false, "DEV ONLY: start from the default genesis when no genesis file is configured")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	env := strings.TrimSpace(os.Getenv("HM_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("hmd", env, logging.Options{File: cfg.LogFile})

	allow, err := resolveAllowAutogenesis(cfg.AllowAutogenesis, flagWasProvided("allow-autogenesis"), *allowAutogenesis, os.LookupEnv)
	if err != nil {
		log.Fatalf("Failed to resolve autogenesis setting: %v", err)
	}
	genesisPath, err := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, allow, os.LookupEnv)
	if err != nil {
		log.Fatalf("Failed to resolve genesis path: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, genesisPath, env, logger); err != nil {
		logger.Error("node stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("node stopped")
}

// run wires storage, the ledger, the event index and the RPC server and
// blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, genesisPath, env string, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "hmd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	spec := genesis.DefaultGenesisSpec()
	if genesisPath != "" {
		spec, err = genesis.LoadGenesisSpec(genesisPath)
		if err != nil {
			return fmt.Errorf("load genesis: %w", err)
		}
	} else {
		logger.Warn("starting from the default genesis", "reason", "autogenesis enabled")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var (
		sink  core.EventSink
		index rpc.EventIndex
	)
	if cfg.Indexer.Enabled {
		store, err := indexer.Open(cfg.IndexerPath())
		if err != nil {
			return err
		}
		defer store.Close()
		sink, index = store, store
	}

	ledger, err := core.Open(db, core.Config{
		Genesis: spec,
		Emitter: events.NoopEmitter{},
		Sink:    sink,
		Logger:  logger,
		Metrics: metrics.Market(),
	})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	auth, err := authConfig(cfg.Auth, os.LookupEnv)
	if err != nil {
		return err
	}
	server, err := rpc.NewServer(ledger, rpc.ServerConfig{
		Events:            index,
		Auth:              auth,
		Logger:            logger,
		Metrics:           metrics.RPC(),
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		ReadHeaderTimeout: seconds(cfg.RPCReadHeaderTimeout),
		ReadTimeout:       seconds(cfg.RPCReadTimeout),
		WriteTimeout:      seconds(cfg.RPCWriteTimeout),
		IdleTimeout:       seconds(cfg.RPCIdleTimeout),
	})
	if err != nil {
		return err
	}
	return server.Serve(ctx, cfg.RPCAddress)
}

func authConfig(cfg config.Auth, lookup envLookupFunc) (rpc.AuthConfig, error) {
	if !cfg.Enabled {
		return rpc.AuthConfig{}, nil
	}
	secret, ok := lookup(cfg.SecretEnv)
	if !ok || strings.TrimSpace(secret) == "" {
		return rpc.AuthConfig{}, fmt.Errorf("auth enabled but %s is not set", cfg.SecretEnv)
	}
	return rpc.AuthConfig{Secret: []byte(secret), Issuer: cfg.Issuer}, nil
}

func seconds(v int) time.Duration { return time.Duration(v) * time.Second }

func resolveGenesisPath(cliPath, cfgPath string, allowAutogenesis bool, lookup envLookupFunc) (string, error) {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed, nil
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, nil
			}
		}
	}
	if trimmed := strings.TrimSpace(cfgPath); trimmed != "" {
		return trimmed, nil
	}
	if allowAutogenesis {
		return "", nil
	}
	return "", fmt.Errorf("no genesis file provided; supply one via --genesis, %s, or config, or enable autogenesis (--allow-autogenesis / %s / config)", genesisPathEnv, allowAutogenesisEnv)
}

// resolveAllowAutogenesis applies config, then environment, then the CLI
// flag when it was explicitly set.
func resolveAllowAutogenesis(cfgValue, cliSet, cliValue bool, lookup envLookupFunc) (bool, error) {
	allow := cfgValue
	if lookup != nil {
		if value, ok := lookup(allowAutogenesisEnv); ok && strings.TrimSpace(value) != "" {
			parsed, err := strconv.ParseBool(strings.TrimSpace(value))
			if err != nil {
				return false, fmt.Errorf("invalid %s value %q: %w", allowAutogenesisEnv, value, err)
			}
			allow = parsed
		}
	}
	if cliSet {
		allow = cliValue
	}
	return allow, nil
}

func flagWasProvided(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
