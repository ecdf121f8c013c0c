package core

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hmchain/core/events"
	"hmchain/core/genesis"
	"hmchain/core/state"
	"hmchain/core/types"
	"hmchain/crypto"
	"hmchain/native/market"
	"hmchain/observability/metrics"
	"hmchain/storage"
	"hmchain/storage/trie"
)

// EventSink receives the events of every committed call in commit order.
type EventSink interface {
	Record(height uint64, callHash string, evts []types.Event) error
}

// Config wires the ledger's collaborators. Zero values select defaults.
type Config struct {
	Genesis *genesis.GenesisSpec
	Clock   func() time.Time
	Emitter events.Emitter
	Sink    EventSink
	Logger  *slog.Logger
	Metrics *metrics.MarketMetrics
}

// Ledger executes signed market calls one at a time against the state trie.
// Every committed call advances the height by one.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	trie    *trie.Trie
	state   *state.Manager
	params  market.Params
	head    head
	clock   func() time.Time
	emitter events.Emitter
	sink    EventSink
	logger  *slog.Logger
	metrics *metrics.MarketMetrics
	tracer  trace.Tracer
}

// Open loads the ledger at its persisted head. A fresh database is seeded
// from the genesis spec and committed at height 0.
func Open(db storage.Database, cfg Config) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: database must not be nil")
	}
	spec := cfg.Genesis
	if spec == nil {
		spec = genesis.DefaultGenesisSpec()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	h, ok, err := loadHead(db)
	if err != nil {
		return nil, err
	}
	if !ok {
		root, err := genesis.BuildGenesisFromSpec(spec, db)
		if err != nil {
			return nil, fmt.Errorf("build genesis: %w", err)
		}
		h = head{Root: root}
		if unix := spec.GenesisTimestamp().Unix(); unix > 0 {
			h.Timestamp = uint64(unix)
		}
		if err := storeHead(db, h); err != nil {
			return nil, fmt.Errorf("persist genesis head: %w", err)
		}
		logger.Info("genesis committed", "root", h.Root.Hex())
	}

	stateTrie, err := trie.NewTrie(db, h.Root.Bytes())
	if err != nil {
		return nil, fmt.Errorf("open state trie: %w", err)
	}
	l := &Ledger{
		db:      db,
		trie:    stateTrie,
		state:   state.NewManager(stateTrie),
		params:  spec.MarketParams(),
		head:    h,
		clock:   cfg.Clock,
		emitter: cfg.Emitter,
		sink:    cfg.Sink,
		logger:  logger,
		metrics: cfg.Metrics,
		tracer:  otel.Tracer("hmchain/core"),
	}
	if l.clock == nil {
		l.clock = time.Now
	}
	if l.emitter == nil {
		l.emitter = events.NoopEmitter{}
	}
	logger.Info("ledger opened", "height", h.Height, "root", h.Root.Hex())
	return l, nil
}

// Height returns the last committed height.
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head.Height
}

// StateRoot returns the last committed state root.
func (l *Ledger) StateRoot() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head.Root.Bytes()
}

func (l *Ledger) newEngine(manager *state.Manager, emitter events.Emitter) *market.Engine {
	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetParams(l.params)
	engine.SetEmitter(emitter)
	engine.SetLogger(l.logger)
	engine.SetMetrics(l.metrics)
	return engine
}

func (l *Ledger) now() uint64 {
	ts := l.clock().Unix()
	if ts < 0 || uint64(ts) < l.head.Timestamp {
		return l.head.Timestamp
	}
	return uint64(ts)
}

// Submit verifies and executes a signed call. Calls rejected before
// execution return only an error and leave no trace. Executed calls always
// return a receipt; a reverted call also returns an error wrapping
// ErrReverted, its effects are discarded and its nonce is still consumed.
func (l *Ledger) Submit(ctx context.Context, call *types.Call) (*Receipt, error) {
	if call == nil {
		return nil, fmt.Errorf("%w: nil call", ErrInvalidParams)
	}
	ctx, span := l.tracer.Start(ctx, "ledger.submit",
		trace.WithAttributes(attribute.String("call.method", call.Method)))
	defer span.End()
	start := time.Now()

	receipt, err := l.submit(ctx, call)
	outcome := "success"
	switch {
	case errors.Is(err, ErrReverted):
		outcome = "reverted"
	case err != nil:
		outcome = "rejected"
	}
	l.metrics.ObserveCall(call.Method, outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "committed")
	}
	if receipt != nil {
		span.SetAttributes(attribute.Int64("ledger.height", int64(receipt.Height)))
	}
	return receipt, err
}

func (l *Ledger) submit(_ context.Context, call *types.Call) (*Receipt, error) {
	from, err := call.From()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	hash, err := call.Hash()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	h, err := lookupHandler(call.Method)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := loadReceipt(l.db, hash); err == nil {
		return nil, ErrDuplicateCall
	} else if !errors.Is(err, ErrReceiptNotFound) {
		return nil, err
	}
	nonce, err := l.state.Nonce(from)
	if err != nil {
		return nil, err
	}
	if call.Nonce != nonce {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrNonceMismatch, nonce, call.Nonce)
	}
	balance, err := l.state.NativeBalance(from)
	if err != nil {
		return nil, err
	}
	if balance.Lt(uint256.NewInt(call.Value)) {
		return nil, fmt.Errorf("%w: have %s, attaching %d", ErrInsufficientFunds, balance, call.Value)
	}

	ts := l.now()
	receipt := &Receipt{
		CallHash:  hex.EncodeToString(hash),
		Height:    l.head.Height + 1,
		From:      crypto.FormatRaw(from),
		Method:    call.Method,
		Nonce:     call.Nonce,
		Value:     call.Value,
		Timestamp: ts,
		Events:    []types.Event{},
	}

	buffer := &events.Buffer{}
	result, execErr := l.execute(h, call, from, ts, buffer)
	if execErr != nil {
		if err := l.trie.Reset(l.head.Root); err != nil {
			return nil, fmt.Errorf("rollback: %w", err)
		}
		if err := l.state.SetNonce(from, nonce+1); err != nil {
			return nil, err
		}
		receipt.Status = ReceiptStatusReverted
		receipt.Error = execErr.Error()
		buffer.Drain()
	} else {
		receipt.Status = ReceiptStatusSuccess
		receipt.Result = result
	}

	committed := buffer.Drain()
	for _, evt := range committed {
		if payload := evt.Event(); payload != nil {
			receipt.Events = append(receipt.Events, *payload)
		}
	}
	if err := l.commit(ts, hash, receipt); err != nil {
		return nil, err
	}

	for _, evt := range committed {
		l.emitter.Emit(evt)
	}
	if l.sink != nil && len(receipt.Events) > 0 {
		if err := l.sink.Record(receipt.Height, receipt.CallHash, receipt.Events); err != nil {
			l.logger.Warn("event sink failed", "height", receipt.Height, "error", err)
		}
	}

	if execErr != nil {
		l.logger.Warn("call reverted",
			"method", call.Method,
			"from", receipt.From,
			"height", receipt.Height,
			"error", execErr)
		return receipt, fmt.Errorf("%w: %w", ErrReverted, execErr)
	}
	l.logger.Info("call committed",
		"method", call.Method,
		"from", receipt.From,
		"height", receipt.Height,
		"events", len(receipt.Events))
	return receipt, nil
}

// execute runs the call against the working trie: nonce bump, value escrow
// into the contract account, then the entry point.
func (l *Ledger) execute(h handler, call *types.Call, from [20]byte, ts uint64, buffer *events.Buffer) (json.RawMessage, error) {
	nonce, err := l.state.Nonce(from)
	if err != nil {
		return nil, err
	}
	if err := l.state.SetNonce(from, nonce+1); err != nil {
		return nil, err
	}
	if call.Value > 0 {
		if err := moveNative(l.state, from, ContractAddress, call.Value); err != nil {
			return nil, err
		}
	}
	env := &hostEnv{state: l.state, invoker: from, timestamp: ts, transferred: call.Value}
	engine := l.newEngine(l.state, buffer)
	result, err := h.run(engine, env, call.Params)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

func (l *Ledger) commit(ts uint64, hash []byte, receipt *Receipt) error {
	root, err := l.trie.Commit(l.head.Root, l.head.Height+1)
	if err != nil {
		if rbErr := l.trie.Reset(l.head.Root); rbErr != nil {
			return fmt.Errorf("state commit failed: %v (rollback failed: %w)", err, rbErr)
		}
		return fmt.Errorf("state commit failed: %w", err)
	}
	next := head{Root: root, Height: l.head.Height + 1, Timestamp: ts}
	receipt.StateRoot = root.Hex()
	if err := storeReceipt(l.db, hash, receipt); err != nil {
		return l.abandon(err)
	}
	if err := storeHead(l.db, next); err != nil {
		return l.abandon(err)
	}
	l.head = next
	return nil
}

// abandon points the trie back at the persisted head after a failed write.
func (l *Ledger) abandon(cause error) error {
	if err := l.trie.Reset(l.head.Root); err != nil {
		return fmt.Errorf("%v (rollback failed: %w)", cause, err)
	}
	return cause
}

// Query runs a read-only method against the committed state as caller.
func (l *Ledger) Query(ctx context.Context, method string, params json.RawMessage, caller [20]byte) (json.RawMessage, error) {
	_, span := l.tracer.Start(ctx, "ledger.query",
		trace.WithAttributes(attribute.String("call.method", method)))
	defer span.End()

	h, err := lookupHandler(method)
	if err != nil {
		return nil, err
	}
	if h.mutates {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, method)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	view, err := trie.NewTrie(l.db, l.head.Root.Bytes())
	if err != nil {
		return nil, err
	}
	manager := state.NewManager(view)
	env := &hostEnv{state: manager, invoker: caller, timestamp: l.head.Timestamp}
	result, err := h.run(l.newEngine(manager, events.NoopEmitter{}), env, params)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return json.Marshal(result)
}

// Orders returns up to limit orders starting at offset, plus the total count.
func (l *Ledger) Orders(offset, limit uint64) ([]OrderView, uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	view, err := trie.NewTrie(l.db, l.head.Root.Bytes())
	if err != nil {
		return nil, 0, err
	}
	manager := state.NewManager(view)
	total, err := manager.OrderCount()
	if err != nil {
		return nil, 0, err
	}
	out := []OrderView{}
	for id := offset; id < total && uint64(len(out)) < limit; id++ {
		order, ok, err := manager.OrderGet(id)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			out = append(out, newOrderView(order))
		}
	}
	return out, total, nil
}

// Nonce returns the next expected call nonce of addr.
func (l *Ledger) Nonce(addr [20]byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Nonce(addr)
}

// NativeBalance returns the committed native balance of addr.
func (l *Ledger) NativeBalance(addr [20]byte) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.NativeBalance(addr)
}

// Receipt returns the receipt of the call with the given hash.
func (l *Ledger) Receipt(hash []byte) (*Receipt, error) {
	return loadReceipt(l.db, hash)
}
