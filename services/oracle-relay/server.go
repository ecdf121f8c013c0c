package oraclerelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"hmchain/observability/metrics"
	"hmchain/rpc/client"
)

const maxAttestationBytes = 64 << 10

const (
	outcomeSubmitted = "submitted"
	outcomeRejected  = "rejected"
	outcomeThrottled = "throttled"
	outcomeFailed    = "failed"
)

// Attestation is a meter reading reported by a verified sensor.
type Attestation struct {
	SensorID string  `json:"sensor_id"`
	Balance  *uint64 `json:"balance"`
}

// AttestationResult echoes the ledger receipt for an accepted attestation.
type AttestationResult struct {
	SensorID string `json:"sensor_id"`
	CallHash string `json:"call_hash"`
	Height   uint64 `json:"height"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server accepts attestations over HTTP and forwards them to the node.
type Server struct {
	sensors   map[string][]byte
	submitter Submitter
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.RelayMetrics
	router    chi.Router
}

func NewServer(cfg Config, submitter Submitter, logger *slog.Logger, m *metrics.RelayMetrics) (*Server, error) {
	if submitter == nil {
		return nil, errors.New("submitter required")
	}
	sensors, err := cfg.SensorTable()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sensors:   sensors,
		submitter: submitter,
		timeout:   cfg.SubmitTimeout.Duration,
		logger:    logger.With("component", "oracle-relay"),
		metrics:   m,
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), burst)
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/v1/attestations", s.handleAttestation)
	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleAttestation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.ObserveAttestation(outcomeThrottled, time.Since(start))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		return
	}

	var att Attestation
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAttestationBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&att); err != nil {
		s.reject(w, http.StatusBadRequest, start, fmt.Sprintf("invalid attestation: %v", err))
		return
	}
	if att.Balance == nil {
		s.reject(w, http.StatusBadRequest, start, "balance is required")
		return
	}
	sensorID, err := normaliseHex(att.SensorID)
	if err != nil {
		s.reject(w, http.StatusBadRequest, start, fmt.Sprintf("invalid sensor_id: %v", err))
		return
	}
	code, ok := s.sensors[sensorID]
	if !ok {
		s.logger.Warn("attestation from unknown sensor", "sensor_id", sensorID)
		s.reject(w, http.StatusForbidden, start, "sensor is not registered with this relay")
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	receipt, err := s.submitter.SubmitBalance(ctx, code, *att.Balance)
	if err != nil {
		var rpcErr *client.Error
		if errors.As(err, &rpcErr) && rpcErr.Code == client.CodeExecutionReverted && receipt != nil {
			s.metrics.ObserveAttestation(outcomeFailed, time.Since(start))
			s.logger.Warn("attestation reverted",
				"sensor_id", sensorID,
				"call_hash", receipt.CallHash,
				"error", receipt.Error)
			writeJSON(w, http.StatusUnprocessableEntity, AttestationResult{
				SensorID: sensorID,
				CallHash: receipt.CallHash,
				Height:   receipt.Height,
				Status:   receipt.Status,
				Error:    receipt.Error,
			})
			return
		}
		s.metrics.ObserveAttestation(outcomeFailed, time.Since(start))
		s.logger.Error("submit attestation", "sensor_id", sensorID, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "node submission failed"})
		return
	}
	s.metrics.ObserveAttestation(outcomeSubmitted, time.Since(start))
	s.logger.Info("attestation submitted",
		"sensor_id", sensorID,
		"balance", *att.Balance,
		"call_hash", receipt.CallHash,
		"height", receipt.Height)
	writeJSON(w, http.StatusOK, AttestationResult{
		SensorID: sensorID,
		CallHash: receipt.CallHash,
		Height:   receipt.Height,
		Status:   receipt.Status,
	})
}

func (s *Server) reject(w http.ResponseWriter, status int, start time.Time, message string) {
	s.metrics.ObserveAttestation(outcomeRejected, time.Since(start))
	writeJSON(w, status, errorResponse{Error: strings.TrimSpace(message)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
