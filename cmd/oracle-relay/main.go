package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"hmchain/cmd/internal/passphrase"
	"hmchain/crypto"
	"hmchain/observability/logging"
	telemetry "hmchain/observability/otel"
	oraclerelay "hmchain/services/oracle-relay"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("oracle-relay: %v", err)
	}
}

func run() error {
	var cfgPath, logFile string
	flag.StringVar(&cfgPath, "config", "services/oracle-relay/config.yaml", "path to oracle relay config")
	flag.StringVar(&logFile, "log-file", "", "optional rotating log file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("HM_ENV"))
	logger := logging.Setup("oracle-relay", env, logging.Options{File: logFile})

	cfg, err := oraclerelay.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(env, os.LookupEnv))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(flushCtx)
	}()

	pass, err := passphrase.NewSource(cfg.PassphraseEnv, "oracle").Get()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(cfg.Keystore, pass)
	if err != nil {
		return fmt.Errorf("load oracle key: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return oraclerelay.Run(ctx, cfg, key, logger)
}

func telemetryConfig(env string, lookup func(string) (string, bool)) telemetry.Config {
	get := func(name string) string {
		value, _ := lookup(name)
		return strings.TrimSpace(value)
	}
	insecure := true
	if value := get("OTEL_EXPORTER_OTLP_INSECURE"); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	return telemetry.Config{
		ServiceName: "oracle-relay",
		Environment: env,
		Endpoint:    get("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(get("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	}
}
