// Package oraclerelay forwards sensor meter readings to the ledger as signed
// update_hm_token_balance calls.
package oraclerelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hmchain/crypto"
	"hmchain/observability/metrics"
	"hmchain/rpc/client"
)

// Run serves the relay on cfg.ListenAddress until ctx is cancelled.
func Run(ctx context.Context, cfg Config, key *crypto.PrivateKey, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := NodeClientOptions(cfg.NodeAuth, nil)
	if err != nil {
		return err
	}
	submitter, err := NewNodeSubmitter(client.New(cfg.NodeRPC, opts...), key)
	if err != nil {
		return err
	}
	server, err := NewServer(cfg, submitter, logger, metrics.Relay())
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(server, "oracle-relay"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		logger.Info("oracle relay listening",
			"addr", cfg.ListenAddress,
			"node", cfg.NodeRPC,
			"oracle", submitter.Address(),
			"sensors", len(cfg.Sensors))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
