package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hmchain/core"
	"hmchain/core/types"
	"hmchain/indexer"
	"hmchain/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
)

const (
	codeParseError        = -32700
	codeInvalidRequest    = -32600
	codeMethodNotFound    = -32601
	codeInvalidParams     = -32602
	codeServerError       = -32000
	codeUnauthorized      = -32001
	codeDuplicateCall     = -32010
	codeRateLimited       = -32020
	codeExecutionReverted = -32030
	codeNotFound          = -32040
)

// Ledger is the node surface served over JSON-RPC.
type Ledger interface {
	Submit(ctx context.Context, call *types.Call) (*core.Receipt, error)
	Query(ctx context.Context, method string, params json.RawMessage, caller [20]byte) (json.RawMessage, error)
	Receipt(hash []byte) (*core.Receipt, error)
	Orders(offset, limit uint64) ([]core.OrderView, uint64, error)
	Nonce(addr [20]byte) (uint64, error)
	NativeBalance(addr [20]byte) (*uint256.Int, error)
	Height() uint64
	StateRoot() []byte
}

// EventIndex answers hm_marketEvents.
type EventIndex interface {
	EventsForOrder(ctx context.Context, orderID uint64, limit int) ([]indexer.Event, error)
	Recent(ctx context.Context, limit int) ([]indexer.Event, error)
}

type ServerConfig struct {
	Events  EventIndex
	Auth    AuthConfig
	Logger  *slog.Logger
	Metrics *metrics.RPCMetrics

	RequestsPerSecond float64
	Burst             int

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

type Server struct {
	ledger  Ledger
	events  EventIndex
	auth    AuthConfig
	limiter *sourceLimiter
	logger  *slog.Logger
	metrics *metrics.RPCMetrics
	cfg     ServerConfig
	router  http.Handler
}

func NewServer(ledger Ledger, cfg ServerConfig) (*Server, error) {
	if ledger == nil {
		return nil, fmt.Errorf("rpc: ledger must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger:  ledger,
		events:  cfg.Events,
		auth:    cfg.Auth,
		limiter: newSourceLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:  logger.With("component", "rpc"),
		metrics: cfg.Metrics,
		cfg:     cfg,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "height": s.ledger.Height()})
	})
	r.Handle("/metrics", promhttp.Handler())
	return otelhttp.NewHandler(r, "hm-rpc")
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc shutdown: %w", err)
		}
		return nil
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, id interface{}, rpcErr *RPCError) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

type methodHandler func(s *Server, r *http.Request, req *RPCRequest) (interface{}, int, *RPCError)

var methods = map[string]methodHandler{
	"hm_sendCall":      (*Server).handleSendCall,
	"hm_call":          (*Server).handleCall,
	"hm_getReceipt":    (*Server).handleGetReceipt,
	"hm_getOrder":      (*Server).handleGetOrder,
	"hm_listOrders":    (*Server).handleListOrders,
	"hm_getNonce":      (*Server).handleGetNonce,
	"hm_nativeBalance": (*Server).handleNativeBalance,
	"hm_marketEvents":  (*Server).handleMarketEvents,
	"hm_status":        (*Server).handleStatus,
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w.Header().Set("Content-Type", "application/json")

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() { _ = reader.Close() }()
	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, &RPCError{Code: codeInvalidRequest, Message: message})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeInvalidRequest, Message: "request body required"})
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeParseError, Message: "invalid JSON payload", Data: err.Error()})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version", Data: req.JSONRPC})
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "method required"})
		return
	}

	code := 0
	defer func() { s.metrics.Observe(req.Method, code, time.Since(start)) }()

	if !s.limiter.allow(clientSource(r)) {
		code = codeRateLimited
		s.metrics.RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, &RPCError{Code: codeRateLimited, Message: "rate limit exceeded"})
		return
	}
	handler, ok := methods[req.Method]
	if !ok {
		code = codeMethodNotFound
		writeError(w, http.StatusNotFound, req.ID, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)})
		return
	}
	result, status, rpcErr := handler(s, r, req)
	if rpcErr != nil {
		code = rpcErr.Code
		if rpcErr.Code == codeServerError {
			s.logger.Error("rpc request failed",
				"method", req.Method,
				"request_id", w.Header().Get(requestIDHeader),
				"error", rpcErr.Message)
		}
		writeError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, result)
}
