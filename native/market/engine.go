package market

import (
	"fmt"
	"log/slog"

	"hmchain/core/events"
	"hmchain/core/types"
	"hmchain/observability/metrics"
)

// Env is the host environment of a single call.
type Env interface {
	// Invoker is the address that signed the call.
	Invoker() [20]byte
	// Timestamp is the host ledger time in seconds. It never decreases.
	Timestamp() uint64
	// TransferredBalance is the native value attached to the call.
	TransferredBalance() uint64
	// Transfer moves native value out of the contract account.
	Transfer(to [20]byte, amount uint64) error
}

type engineState interface {
	MarketPrice() (uint64, bool, error)
	SetMarketPrice(price uint64) error
	LatestTimestamp() (uint64, error)
	SetLatestTimestamp(ts uint64) error
	VerifiedSensors() ([][32]byte, error)
	SetVerifiedSensors(sensors [][32]byte) error
	IsVerified() (bool, error)
	SetVerified() error

	OrderCount() (uint64, error)
	OrderGet(id uint64) (*Order, bool, error)
	OrderAppend(order *Order) error
	OrderPut(order *Order) error

	HMBalance(addr [20]byte) (uint64, error)
	SetHMBalance(addr [20]byte, amount uint64) error
	RecBalance(addr [20]byte) (uint64, error)
	SetRecBalance(addr [20]byte, amount uint64) error

	IsBrand(addr [20]byte) (bool, error)
	SetBrand(addr [20]byte) error
	GenStationAddress(code []byte) ([20]byte, bool, error)
	SetGenStationAddress(code []byte, addr [20]byte) error
	PromotionSecret(addr [20]byte) ([]byte, bool, error)
	SetPromotionSecret(addr [20]byte, secret []byte) error
	EligiblePromotions(seller [20]byte) ([][]byte, error)
	SetEligiblePromotions(seller [20]byte, secrets [][]byte) error
}

// Engine executes market entry points against the configured state.
type Engine struct {
	state   engineState
	emitter events.Emitter
	params  Params
	logger  *slog.Logger
	metrics *metrics.MarketMetrics
}

// NewEngine creates a market engine with default parameters, a no-op emitter
// and the default logger.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		params:  DefaultParams(),
		logger:  slog.Default().With("component", moduleName),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetParams(params Params) { e.params = params }

func (e *Engine) Params() Params { return e.params }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With("component", moduleName)
}

// SetMetrics enables prometheus instrumentation.
func (e *Engine) SetMetrics(m *metrics.MarketMetrics) { e.metrics = m }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) ready(env Env) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if env == nil {
		return errNilEnv
	}
	return nil
}

func (e *Engine) requireInitialised() error {
	_, ok, err := e.state.MarketPrice()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInitialised
	}
	return nil
}

// prelude refreshes the cached time and sweeps expired options ahead of
// every market-mutating action.
func (e *Engine) prelude(env Env) error {
	if err := e.requireInitialised(); err != nil {
		return err
	}
	if err := e.UpdateTime(env); err != nil {
		return err
	}
	return e.CheckExpiredOptions(env)
}

func (e *Engine) requireOracle(env Env) error {
	if !e.params.oracleConfigured() {
		return nil
	}
	if env.Invoker() != e.params.Oracle {
		return fmt.Errorf("%w: oracle-only entry point", ErrUnauthorized)
	}
	return nil
}

// Init seeds the verified sensors, zeroes the cached timestamp and records
// the initial market price. It can run once.
func (e *Engine) Init(env Env) error {
	if err := e.ready(env); err != nil {
		return err
	}
	_, ok, err := e.state.MarketPrice()
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialised
	}
	if err := e.state.SetVerifiedSensors(e.params.sensors()); err != nil {
		return err
	}
	if err := e.state.SetLatestTimestamp(0); err != nil {
		return err
	}
	return e.state.SetMarketPrice(e.params.initialPrice())
}

func (e *Engine) loadOrder(id uint64) (*Order, error) {
	order, ok, err := e.state.OrderGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return order, nil
}

func addChecked(balance, amount uint64) (uint64, error) {
	sum := balance + amount
	if sum < balance {
		return 0, ErrBalanceOverflow
	}
	return sum, nil
}
