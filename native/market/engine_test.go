package market

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"hmchain/core/events"
)

type mockState struct {
	price        uint64
	priceSet     bool
	latest       uint64
	sensors      [][32]byte
	verified     bool
	orders       []*Order
	balances     map[[20]byte]uint64
	recBalances  map[[20]byte]uint64
	brands       map[[20]byte]bool
	genStations  map[string][20]byte
	secrets      map[[20]byte][]byte
	eligible     map[[20]byte][][]byte
	failOrderPut error
}

func newMockState() *mockState {
	return &mockState{
		balances:    make(map[[20]byte]uint64),
		recBalances: make(map[[20]byte]uint64),
		brands:      make(map[[20]byte]bool),
		genStations: make(map[string][20]byte),
		secrets:     make(map[[20]byte][]byte),
		eligible:    make(map[[20]byte][][]byte),
	}
}

func (m *mockState) MarketPrice() (uint64, bool, error) { return m.price, m.priceSet, nil }

func (m *mockState) SetMarketPrice(price uint64) error {
	m.price = price
	m.priceSet = true
	return nil
}

func (m *mockState) LatestTimestamp() (uint64, error) { return m.latest, nil }

func (m *mockState) SetLatestTimestamp(ts uint64) error {
	m.latest = ts
	return nil
}

func (m *mockState) VerifiedSensors() ([][32]byte, error) {
	return append([][32]byte(nil), m.sensors...), nil
}

func (m *mockState) SetVerifiedSensors(sensors [][32]byte) error {
	m.sensors = append([][32]byte(nil), sensors...)
	return nil
}

func (m *mockState) IsVerified() (bool, error) { return m.verified, nil }

func (m *mockState) SetVerified() error {
	m.verified = true
	return nil
}

func (m *mockState) OrderCount() (uint64, error) { return uint64(len(m.orders)), nil }

func (m *mockState) OrderGet(id uint64) (*Order, bool, error) {
	if id >= uint64(len(m.orders)) {
		return nil, false, nil
	}
	return m.orders[id].Clone(), true, nil
}

func (m *mockState) OrderAppend(order *Order) error {
	m.orders = append(m.orders, order.Clone())
	return nil
}

func (m *mockState) OrderPut(order *Order) error {
	if m.failOrderPut != nil {
		return m.failOrderPut
	}
	if order.OrderID >= uint64(len(m.orders)) {
		return errors.New("mock: order out of range")
	}
	m.orders[order.OrderID] = order.Clone()
	return nil
}

func (m *mockState) HMBalance(addr [20]byte) (uint64, error) { return m.balances[addr], nil }

func (m *mockState) SetHMBalance(addr [20]byte, amount uint64) error {
	m.balances[addr] = amount
	return nil
}

func (m *mockState) RecBalance(addr [20]byte) (uint64, error) { return m.recBalances[addr], nil }

func (m *mockState) SetRecBalance(addr [20]byte, amount uint64) error {
	m.recBalances[addr] = amount
	return nil
}

func (m *mockState) IsBrand(addr [20]byte) (bool, error) { return m.brands[addr], nil }

func (m *mockState) SetBrand(addr [20]byte) error {
	m.brands[addr] = true
	return nil
}

func (m *mockState) GenStationAddress(code []byte) ([20]byte, bool, error) {
	addr, ok := m.genStations[string(code)]
	return addr, ok, nil
}

func (m *mockState) SetGenStationAddress(code []byte, addr [20]byte) error {
	m.genStations[string(code)] = addr
	return nil
}

func (m *mockState) PromotionSecret(addr [20]byte) ([]byte, bool, error) {
	secret, ok := m.secrets[addr]
	return append([]byte(nil), secret...), ok, nil
}

func (m *mockState) SetPromotionSecret(addr [20]byte, secret []byte) error {
	m.secrets[addr] = append([]byte(nil), secret...)
	return nil
}

func (m *mockState) EligiblePromotions(seller [20]byte) ([][]byte, error) {
	queue := m.eligible[seller]
	out := make([][]byte, len(queue))
	for i, entry := range queue {
		out[i] = append([]byte(nil), entry...)
	}
	return out, nil
}

func (m *mockState) SetEligiblePromotions(seller [20]byte, secrets [][]byte) error {
	m.eligible[seller] = secrets
	return nil
}

func (m *mockState) totalTokens() uint64 {
	var total uint64
	for _, v := range m.balances {
		total += v
	}
	for _, v := range m.recBalances {
		total += v
	}
	for _, o := range m.orders {
		if !o.Fulfilled {
			total += o.Tokens
		}
	}
	return total
}

type mockEnv struct {
	invoker   [20]byte
	now       uint64
	value     uint64
	transfers map[[20]byte]uint64
}

func (m *mockEnv) Invoker() [20]byte          { return m.invoker }
func (m *mockEnv) Timestamp() uint64          { return m.now }
func (m *mockEnv) TransferredBalance() uint64 { return m.value }
func (m *mockEnv) Transfer(to [20]byte, amount uint64) error {
	if m.transfers == nil {
		m.transfers = make(map[[20]byte]uint64)
	}
	m.transfers[to] += amount
	return nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

func (r *recordingEmitter) eventTypes() []string {
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	alice = newTestAddress(0xA1)
	bob   = newTestAddress(0xB0)
	carol = newTestAddress(0xC0)
	dan   = newTestAddress(0xD0)
	eve   = newTestAddress(0xE0)
)

type testHarness struct {
	engine  *Engine
	state   *mockState
	emitter *recordingEmitter
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		engine:  NewEngine(),
		state:   newMockState(),
		emitter: &recordingEmitter{},
	}
	h.engine.SetState(h.state)
	h.engine.SetEmitter(h.emitter)
	require.NoError(t, h.engine.Init(h.env(alice, 0, 0)))
	return h
}

func (h *testHarness) env(invoker [20]byte, now, value uint64) *mockEnv {
	return &mockEnv{invoker: invoker, now: now, value: value}
}

func TestInitSeedsDefaultsOnce(t *testing.T) {
	h := newTestHarness(t)
	price, err := h.engine.MarketPrice()
	require.NoError(t, err)
	require.Equal(t, DefaultMarketPrice, price)
	require.Equal(t, DefaultVerifiedSensors, h.state.sensors)
	latest, err := h.engine.LatestTimestamp()
	require.NoError(t, err)
	require.Zero(t, latest)

	err = h.engine.Init(h.env(bob, 10, 0))
	require.ErrorIs(t, err, ErrAlreadyInitialised)
}

func TestEntryPointsRequireInit(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	_, err := engine.ListOrder(&mockEnv{invoker: alice}, 1, 1, 1, 1)
	require.ErrorIs(t, err, ErrNotInitialised)
	require.NoError(t, engine.CheckExpiredOptions(&mockEnv{}))
	require.ErrorIs(t, engine.RedeemTokens(&mockEnv{}, 1, alice), ErrNotInitialised)
}

func TestEngineWithoutState(t *testing.T) {
	engine := NewEngine()
	_, err := engine.ListOrder(&mockEnv{}, 1, 1, 1, 1)
	require.Error(t, err)
	engine.SetState(newMockState())
	require.Error(t, engine.RegisterAsBrand(nil))
}

func TestListThenBuy(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 100

	id, err := h.engine.ListOrder(h.env(alice, 1000, 0), 500, 50, 0, 3600)
	require.NoError(t, err)
	require.Zero(t, id)
	require.Equal(t, uint64(50), h.state.balances[alice])

	order, err := h.engine.Order(0)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), order.CreatedAt)
	require.Equal(t, OrderStatusListed, order.Status())
	require.True(t, order.IsSale)
	require.True(t, order.IsOption)
	require.False(t, order.IsBuy)

	buyEnv := h.env(bob, 1001, 500)
	require.NoError(t, h.engine.CreateBuyOrder(buyEnv, 0))

	require.Equal(t, uint64(50), h.state.balances[alice])
	require.Equal(t, uint64(50), h.state.balances[bob])
	require.Equal(t, uint64(500), buyEnv.transfers[alice])
	price, err := h.engine.MarketPrice()
	require.NoError(t, err)
	require.Equal(t, uint64(10), price)

	order, err = h.engine.Order(0)
	require.NoError(t, err)
	require.True(t, order.Fulfilled)
	require.Zero(t, order.OptionDuration)
	require.Equal(t, bob, order.Owner)
	require.Equal(t, OrderStatusSold, order.Status())
	require.Equal(t, []string{EventTypeOrderListed, EventTypeOrderSold}, h.emitter.eventTypes())
}

func TestOverpaymentForwardedToSeller(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 10
	_, err := h.engine.ListOrder(h.env(alice, 5, 0), 100, 10, 0, 0)
	require.NoError(t, err)

	env := h.env(bob, 6, 150)
	require.NoError(t, h.engine.CreateBuyOrder(env, 0))
	require.Equal(t, uint64(150), env.transfers[alice])
}

func TestOptionTakenThenExpired(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 100
	_, err := h.engine.ListOrder(h.env(alice, 1000, 0), 500, 50, 40, 3600)
	require.NoError(t, err)

	takeEnv := h.env(bob, 1100, 40)
	require.NoError(t, h.engine.TakeOnOption(takeEnv, 0))
	require.Equal(t, uint64(50), h.state.balances[bob])
	require.Equal(t, uint64(50), h.state.balances[alice])
	require.Equal(t, uint64(40), takeEnv.transfers[alice])

	order, err := h.engine.Order(0)
	require.NoError(t, err)
	require.Equal(t, uint64(1100), order.CreatedAt)
	require.Equal(t, uint64(3600), order.OptionDuration)
	require.True(t, order.Fulfilled)
	require.Equal(t, OrderStatusOptionActive, order.Status())
	price, err := h.engine.MarketPrice()
	require.NoError(t, err)
	require.Equal(t, DefaultMarketPrice, price)

	// The window closes at 4700; the sweep needs a strictly later time.
	require.NoError(t, h.engine.CheckExpiredOptions(h.env(dan, 4700, 0)))
	order, err = h.engine.Order(0)
	require.NoError(t, err)
	require.True(t, order.Fulfilled)

	require.NoError(t, h.engine.CheckExpiredOptions(h.env(dan, 4701, 0)))
	require.Zero(t, h.state.balances[bob])
	order, err = h.engine.Order(0)
	require.NoError(t, err)
	require.Equal(t, alice, order.Owner)
	require.False(t, order.Fulfilled)
	require.Equal(t, uint64(3600), order.OptionDuration)
	require.Equal(t, OrderStatusListed, order.Status())
	price, err = h.engine.MarketPrice()
	require.NoError(t, err)
	require.Equal(t, DefaultMarketPrice, price, "an expired option never sets the price")

	// The tokens are back in escrow under Alice's listing.
	require.Equal(t, uint64(50), h.state.balances[alice])
	require.Equal(t, uint64(100), h.state.balances[alice]+order.Tokens)
	require.Contains(t, h.emitter.eventTypes(), EventTypeOptionExpired)
}

func TestExpiredSlotCanBeRelisted(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 10
	_, err := h.engine.ListOrder(h.env(alice, 0, 0), 100, 10, 5, 10)
	require.NoError(t, err)
	require.NoError(t, h.engine.TakeOnOption(h.env(bob, 1, 5), 0))
	require.NoError(t, h.engine.CheckExpiredOptions(h.env(dan, 20, 0)))

	env := h.env(carol, 21, 100)
	require.NoError(t, h.engine.CreateBuyOrder(env, 0))
	require.Equal(t, uint64(10), h.state.balances[carol])
	require.Zero(t, h.state.balances[bob])
}

func TestConsumeByBrand(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 100
	require.NoError(t, h.engine.RegisterAsBrand(h.env(carol, 0, 0)))
	require.NoError(t, h.engine.AddPromotionSecret(h.env(carol, 0, 0), []byte{0xAB}))

	_, err := h.engine.ListOrder(h.env(alice, 10, 0), 200, 20, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(80), h.state.balances[alice])

	env := h.env(carol, 11, 200)
	require.NoError(t, h.engine.ConsumeToken(env, 0))
	require.Equal(t, uint64(20), h.state.recBalances[carol])
	require.Equal(t, uint64(80), h.state.balances[alice])
	require.Equal(t, uint64(200), env.transfers[alice])

	queue, err := h.engine.GetAllEligiblePromotions(alice)
	require.NoError(t, err)
	require.Equal(t, [][]byte{{0xAB}}, queue)
	price, err := h.engine.MarketPrice()
	require.NoError(t, err)
	require.Equal(t, uint64(10), price)

	rec, err := h.engine.RecBalance(carol)
	require.NoError(t, err)
	require.Equal(t, uint64(20), rec)
}

func TestEligiblePromotionsKeepDuplicates(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 2
	require.NoError(t, h.engine.RegisterAsBrand(h.env(carol, 0, 0)))
	require.NoError(t, h.engine.AddPromotionSecret(h.env(carol, 0, 0), []byte{0x01}))
	for i := 0; i < 2; i++ {
		_, err := h.engine.ListOrder(h.env(alice, 0, 0), 1, 1, 0, 0)
		require.NoError(t, err)
	}
	require.NoError(t, h.engine.ConsumeToken(h.env(carol, 0, 1), 0))
	require.NoError(t, h.engine.ConsumeToken(h.env(carol, 0, 1), 1))

	queue, err := h.engine.GetAllEligiblePromotions(alice)
	require.NoError(t, err)
	require.Equal(t, [][]byte{{0x01}, {0x01}}, queue)

	empty, err := h.engine.GetAllEligiblePromotions(bob)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestInsufficientPaymentLeavesStateUntouched(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 100
	_, err := h.engine.ListOrder(h.env(alice, 1000, 0), 500, 50, 0, 3600)
	require.NoError(t, err)

	env := h.env(bob, 1000, 499)
	err = h.engine.CreateBuyOrder(env, 0)
	require.ErrorIs(t, err, ErrInsufficientPayment)
	require.Zero(t, h.state.balances[bob])
	require.Equal(t, uint64(50), h.state.balances[alice])
	require.Empty(t, env.transfers)
	order, err := h.engine.Order(0)
	require.NoError(t, err)
	require.False(t, order.Fulfilled)
	require.Equal(t, alice, order.Owner)

	err = h.engine.TakeOnOption(h.env(bob, 1000, 0), 0)
	require.NoError(t, err, "a zero option fee is covered by a zero payment")
}

func TestNonBrandCannotConsume(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 10
	_, err := h.engine.ListOrder(h.env(alice, 0, 0), 10, 10, 0, 0)
	require.NoError(t, err)

	err = h.engine.ConsumeToken(h.env(dan, 0, 10), 0)
	require.ErrorIs(t, err, ErrNotBrand)

	require.NoError(t, h.engine.RegisterAsBrand(h.env(dan, 0, 0)))
	err = h.engine.ConsumeToken(h.env(dan, 0, 10), 0)
	require.ErrorIs(t, err, ErrPromotionSecretMissing)
	require.Zero(t, h.state.recBalances[dan])
}

func TestFulfilledOrderRejected(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 10
	_, err := h.engine.ListOrder(h.env(alice, 0, 0), 10, 10, 0, 0)
	require.NoError(t, err)
	require.NoError(t, h.engine.CreateBuyOrder(h.env(bob, 0, 10), 0))

	require.ErrorIs(t, h.engine.CreateBuyOrder(h.env(carol, 0, 10), 0), ErrAlreadyFulfilled)
	require.ErrorIs(t, h.engine.TakeOnOption(h.env(carol, 0, 10), 0), ErrAlreadyFulfilled)
	require.ErrorIs(t, h.engine.CreateBuyOrder(h.env(carol, 0, 10), 7), ErrOrderNotFound)
}

func TestListOrderValidation(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 5

	_, err := h.engine.ListOrder(h.env(alice, 0, 0), 10, 0, 0, 0)
	require.ErrorIs(t, err, ErrInvalidOrder)
	_, err = h.engine.ListOrder(h.env(alice, 0, 0), 10, 6, 0, 0)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	length, err := h.engine.ReturnOrdersArrayLength()
	require.NoError(t, err)
	require.Zero(t, length)
}

func TestOracleMintIsAbsolute(t *testing.T) {
	h := newTestHarness(t)
	code := []byte{0x01}
	require.NoError(t, h.engine.AddGenStation(h.env(eve, 0, 0), code))

	require.NoError(t, h.engine.UpdateHMTokenBalance(h.env(dan, 1, 0), code, 1000))
	require.Equal(t, uint64(1000), h.state.balances[eve])
	require.NoError(t, h.engine.UpdateHMTokenBalance(h.env(dan, 2, 0), code, 2000))
	balance, err := h.engine.ReturnHMBalance(h.env(eve, 2, 0))
	require.NoError(t, err)
	require.Equal(t, uint64(2000), balance)

	err = h.engine.UpdateHMTokenBalance(h.env(dan, 3, 0), []byte{0x02}, 1)
	require.ErrorIs(t, err, ErrGenStationUnknown)
}

func TestOracleGate(t *testing.T) {
	h := newTestHarness(t)
	oracle := newTestAddress(0x0A)
	params := h.engine.Params()
	params.Oracle = oracle
	h.engine.SetParams(params)
	code := []byte{0x01}
	require.NoError(t, h.engine.AddGenStation(h.env(eve, 0, 0), code))

	err := h.engine.UpdateHMTokenBalance(h.env(eve, 1, 0), code, 1000)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.NoError(t, h.engine.UpdateHMTokenBalance(h.env(oracle, 1, 0), code, 1000))

	require.ErrorIs(t, h.engine.RedeemTokens(h.env(eve, 2, 0), 10, eve), ErrUnauthorized)
	require.NoError(t, h.engine.RedeemTokens(h.env(oracle, 2, 0), 10, eve))
	require.Equal(t, uint64(990), h.state.balances[eve])
}

func TestRedeemTokens(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 30

	require.ErrorIs(t, h.engine.RedeemTokens(h.env(dan, 5, 0), 31, alice), ErrInsufficientBalance)
	require.NoError(t, h.engine.RedeemTokens(h.env(dan, 5, 0), 30, alice))
	require.Zero(t, h.state.balances[alice])
	require.Equal(t, uint64(5), h.state.latest)
}

func TestGenStationClaims(t *testing.T) {
	h := newTestHarness(t)
	code := []byte{0x07}
	require.ErrorIs(t, h.engine.AddGenStation(h.env(eve, 0, 0), nil), ErrInvalidCode)
	require.NoError(t, h.engine.AddGenStation(h.env(eve, 0, 0), code))
	require.NoError(t, h.engine.AddGenStation(h.env(dan, 0, 0), code))
	owner, ok, err := h.engine.GenStation(code)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dan, owner)

	params := h.engine.Params()
	params.ExclusiveGenStations = true
	h.engine.SetParams(params)
	require.ErrorIs(t, h.engine.AddGenStation(h.env(eve, 0, 0), code), ErrGenStationClaimed)
	require.NoError(t, h.engine.AddGenStation(h.env(dan, 0, 0), code))
}

func TestCheckVerifiedSensorsLatches(t *testing.T) {
	h := newTestHarness(t)
	verified, err := h.engine.IsVerified()
	require.NoError(t, err)
	require.False(t, verified)

	ok, err := h.engine.CheckVerifiedSensors(h.env(dan, 0, 0), []byte{0x01})
	require.NoError(t, err)
	require.False(t, ok)

	unknown := make([]byte, SensorIDLength)
	ok, err = h.engine.CheckVerifiedSensors(h.env(dan, 0, 0), unknown)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = h.engine.CheckVerifiedSensors(h.env(dan, 0, 0), DefaultVerifiedSensors[1][:])
	require.NoError(t, err)
	require.True(t, ok)
	verified, err = h.engine.IsVerified()
	require.NoError(t, err)
	require.True(t, verified)
}

func TestRegisterAsBrandIdempotent(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.engine.RegisterAsBrand(h.env(carol, 0, 0)))
	require.NoError(t, h.engine.RegisterAsBrand(h.env(carol, 0, 0)))
	isBrand, err := h.engine.IsBrand(carol)
	require.NoError(t, err)
	require.True(t, isBrand)
	require.Equal(t, []string{EventTypeBrandRegistered}, h.emitter.eventTypes())
	require.ErrorIs(t, h.engine.AddPromotionSecret(h.env(carol, 0, 0), nil), ErrInvalidSecret)
}

func TestZeroDurationListingIsNotAnOption(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 100
	_, err := h.engine.ListOrder(h.env(alice, 0, 0), 500, 50, 1, 0)
	require.NoError(t, err)

	env := h.env(bob, 10, 1)
	require.ErrorIs(t, h.engine.TakeOnOption(env, 0), ErrInvalidOrder)
	require.Zero(t, h.state.balances[bob])
	require.Empty(t, env.transfers)
	order, err := h.engine.Order(0)
	require.NoError(t, err)
	require.False(t, order.Fulfilled)
	require.Equal(t, alice, order.Owner)

	// The listing still sells at its full price.
	buy := h.env(bob, 11, 500)
	require.NoError(t, h.engine.CreateBuyOrder(buy, 0))
	require.Equal(t, uint64(500), buy.transfers[alice])
	require.Equal(t, uint64(50), h.state.balances[bob])
	price, err := h.engine.MarketPrice()
	require.NoError(t, err)
	require.Equal(t, uint64(10), price)
}

func TestExerciseOption(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 50
	_, err := h.engine.ListOrder(h.env(alice, 0, 0), 500, 50, 40, 100)
	require.NoError(t, err)
	require.NoError(t, h.engine.TakeOnOption(h.env(bob, 10, 40), 0))

	require.ErrorIs(t, h.engine.ExerciseOption(h.env(carol, 20, 500), 0), ErrNotOptionOwner)
	require.ErrorIs(t, h.engine.ExerciseOption(h.env(bob, 20, 499), 0), ErrInsufficientPayment)

	env := h.env(bob, 20, 500)
	require.NoError(t, h.engine.ExerciseOption(env, 0))
	require.Equal(t, uint64(500), env.transfers[alice])
	order, err := h.engine.Order(0)
	require.NoError(t, err)
	require.Equal(t, OrderStatusSold, order.Status())
	price, err := h.engine.MarketPrice()
	require.NoError(t, err)
	require.Equal(t, uint64(10), price)

	// A sold slot is never clawed back.
	require.NoError(t, h.engine.CheckExpiredOptions(h.env(dan, 10_000, 0)))
	require.Equal(t, uint64(50), h.state.balances[bob])
	require.ErrorIs(t, h.engine.ExerciseOption(h.env(bob, 10_001, 500), 0), ErrOptionNotActive)
}

func TestExpiredOptionCannotBeExercised(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 5
	_, err := h.engine.ListOrder(h.env(alice, 0, 0), 50, 5, 1, 10)
	require.NoError(t, err)
	require.NoError(t, h.engine.TakeOnOption(h.env(bob, 0, 1), 0))
	err = h.engine.ExerciseOption(h.env(bob, 11, 50), 0)
	require.ErrorIs(t, err, ErrOptionNotActive)
}

func TestEndOptionEntryPoint(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 5
	_, err := h.engine.ListOrder(h.env(alice, 0, 0), 50, 5, 1, 10)
	require.NoError(t, err)
	require.ErrorIs(t, h.engine.EndOption(h.env(dan, 0, 0), 0), ErrOptionNotActive)
	require.ErrorIs(t, h.engine.EndOption(h.env(dan, 0, 0), 3), ErrOrderNotFound)

	require.NoError(t, h.engine.TakeOnOption(h.env(bob, 2, 1), 0))
	require.ErrorIs(t, h.engine.EndOption(h.env(dan, 50, 0), 0), ErrOptionNotExpired)

	// EndOption reads the cached time only.
	require.NoError(t, h.engine.UpdateTime(h.env(dan, 50, 0)))
	require.NoError(t, h.engine.EndOption(h.env(dan, 50, 0), 0))
	require.Zero(t, h.state.balances[bob])
	order, err := h.engine.Order(0)
	require.NoError(t, err)
	require.Equal(t, OrderStatusListed, order.Status())
}

func TestClawbackUnderflowSkipped(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 10
	_, err := h.engine.ListOrder(h.env(alice, 0, 0), 100, 10, 1, 5)
	require.NoError(t, err)
	require.NoError(t, h.engine.TakeOnOption(h.env(bob, 1, 1), 0))
	// Bob's balance drops below the claw-back amount.
	require.NoError(t, h.engine.RedeemTokens(h.env(dan, 2, 0), 4, bob))

	require.NoError(t, h.engine.CheckExpiredOptions(h.env(dan, 100, 0)))
	order, err := h.engine.Order(0)
	require.NoError(t, err)
	require.Equal(t, OrderStatusOptionActive, order.Status())
	require.Equal(t, uint64(6), h.state.balances[bob])
	require.Contains(t, h.emitter.eventTypes(), EventTypeOptionClawbackFailed)

	require.ErrorIs(t, h.engine.EndOption(h.env(dan, 100, 0), 0), ErrInsufficientBalance)
}

func TestRelistedOptionTokensSurviveExpiry(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 10
	_, err := h.engine.ListOrder(h.env(alice, 0, 0), 100, 10, 1, 5)
	require.NoError(t, err)
	require.NoError(t, h.engine.TakeOnOption(h.env(bob, 1, 1), 0))

	// Bob escrows the optioned tokens under a listing of his own.
	relisted, err := h.engine.ListOrder(h.env(bob, 2, 0), 50, 10, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), relisted)
	require.Zero(t, h.state.balances[bob])
	total := h.state.totalTokens()

	require.NoError(t, h.engine.CheckExpiredOptions(h.env(dan, 100, 0)))
	order, err := h.engine.Order(0)
	require.NoError(t, err)
	require.Equal(t, OrderStatusOptionActive, order.Status())
	require.Equal(t, bob, order.Owner)
	require.Contains(t, h.emitter.eventTypes(), EventTypeOptionClawbackFailed)

	listing, err := h.engine.Order(relisted)
	require.NoError(t, err)
	require.Equal(t, OrderStatusListed, listing.Status())
	require.Equal(t, bob, listing.Seller)
	require.Zero(t, h.state.balances[bob])
	require.Equal(t, total, h.state.totalTokens())

	require.ErrorIs(t, h.engine.EndOption(h.env(dan, 100, 0), 0), ErrInsufficientBalance)
}

func TestUpdateTimeMonotonic(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.engine.UpdateTime(h.env(dan, 100, 0)))
	require.NoError(t, h.engine.UpdateTime(h.env(dan, 50, 0)))
	latest, err := h.engine.LatestTimestamp()
	require.NoError(t, err)
	require.Equal(t, uint64(100), latest)
}

func TestSweepIdempotent(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 30
	for i := 0; i < 3; i++ {
		_, err := h.engine.ListOrder(h.env(alice, 0, 0), 10, 10, 1, uint64(5*(i+1)))
		require.NoError(t, err)
		require.NoError(t, h.engine.TakeOnOption(h.env(bob, 0, 1), uint64(i)))
	}
	require.NoError(t, h.engine.CheckExpiredOptions(h.env(dan, 12, 0)))
	first := snapshotOrders(h.state)
	balances := map[[20]byte]uint64{alice: h.state.balances[alice], bob: h.state.balances[bob]}

	require.NoError(t, h.engine.CheckExpiredOptions(h.env(dan, 12, 0)))
	require.Equal(t, first, snapshotOrders(h.state))
	require.Equal(t, balances[alice], h.state.balances[alice])
	require.Equal(t, balances[bob], h.state.balances[bob])
	require.Equal(t, uint64(10), h.state.balances[bob])
}

func TestWriteFailureSurfaces(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 10
	_, err := h.engine.ListOrder(h.env(alice, 0, 0), 10, 10, 0, 0)
	require.NoError(t, err)
	boom := errors.New("boom")
	h.state.failOrderPut = boom
	require.ErrorIs(t, h.engine.CreateBuyOrder(h.env(bob, 0, 10), 0), boom)
}

func TestIsMarketError(t *testing.T) {
	require.True(t, IsMarketError(ErrOrderNotFound))
	require.True(t, IsMarketError(fmt.Errorf("%w: listing 3 carries no option window", ErrInvalidOrder)))
	require.True(t, IsMarketError(fmt.Errorf("call reverted: %w", ErrInsufficientBalance)))

	require.False(t, IsMarketError(nil))
	require.False(t, IsMarketError(errors.New("market: disk full")))
	require.False(t, IsMarketError(errNilState))

	h := newTestHarness(t)
	h.state.balances[alice] = 10
	_, err := h.engine.ListOrder(h.env(alice, 0, 0), 10, 10, 0, 0)
	require.NoError(t, err)
	h.state.failOrderPut = errors.New("market: store unavailable")
	err = h.engine.CreateBuyOrder(h.env(bob, 0, 10), 0)
	require.Error(t, err)
	require.False(t, IsMarketError(err))
}

func TestBalanceOverflowRejected(t *testing.T) {
	h := newTestHarness(t)
	h.state.balances[alice] = 10
	h.state.balances[bob] = ^uint64(0)
	_, err := h.engine.ListOrder(h.env(alice, 0, 0), 10, 10, 0, 0)
	require.NoError(t, err)
	require.ErrorIs(t, h.engine.CreateBuyOrder(h.env(bob, 0, 10), 0), ErrBalanceOverflow)
	order, err := h.engine.Order(0)
	require.NoError(t, err)
	require.False(t, order.Fulfilled)
}

func snapshotOrders(state *mockState) []Order {
	out := make([]Order, len(state.orders))
	for i, o := range state.orders {
		out[i] = *o
	}
	return out
}

func TestRandomCallsPreserveInvariants(t *testing.T) {
	h := newTestHarness(t)
	actors := [][20]byte{alice, bob, carol, dan, eve}
	codes := make([][]byte, len(actors))
	for i, actor := range actors {
		codes[i] = []byte{byte(i + 1)}
		require.NoError(t, h.engine.AddGenStation(h.env(actor, 0, 0), codes[i]))
		require.NoError(t, h.engine.RegisterAsBrand(h.env(actor, 0, 0)))
		require.NoError(t, h.engine.AddPromotionSecret(h.env(actor, 0, 0), []byte{byte(i)}))
	}

	rng := rand.New(rand.NewSource(42))
	var minted uint64
	var now, lastLatest uint64
	for step := 0; step < 2000; step++ {
		now += uint64(rng.Intn(20))
		actor := rng.Intn(len(actors))
		env := h.env(actors[actor], now, uint64(rng.Intn(200)))
		length, err := h.engine.ReturnOrdersArrayLength()
		require.NoError(t, err)
		target := uint64(0)
		if length > 0 {
			target = uint64(rng.Int63n(int64(length)))
		}

		switch rng.Intn(8) {
		case 0:
			// Sweep first so the claw-backs land before the previous balance is read.
			require.NoError(t, h.engine.CheckExpiredOptions(env))
			previous := h.state.balances[actors[actor]]
			value := uint64(rng.Intn(500))
			if h.engine.UpdateHMTokenBalance(env, codes[actor], value) == nil {
				minted = minted - previous + value
			}
		case 1:
			_, _ = h.engine.ListOrder(env, uint64(rng.Intn(300)), uint64(rng.Intn(60)), uint64(rng.Intn(50)), uint64(rng.Intn(100)))
		case 2:
			_ = h.engine.CreateBuyOrder(env, target)
		case 3:
			_ = h.engine.TakeOnOption(env, target)
		case 4:
			_ = h.engine.ConsumeToken(env, target)
		case 5:
			_ = h.engine.ExerciseOption(env, target)
		case 6:
			value := uint64(rng.Intn(30))
			if h.engine.RedeemTokens(env, value, actors[actor]) == nil {
				minted -= value
			}
		default:
			_ = h.engine.CheckExpiredOptions(env)
		}

		for i, order := range h.state.orders {
			require.Equal(t, uint64(i), order.OrderID)
			if !order.Fulfilled {
				require.Equal(t, order.Seller, order.Owner)
			}
		}
		require.Equal(t, minted, h.state.totalTokens(), "step %d", step)
		require.GreaterOrEqual(t, h.state.latest, lastLatest)
		lastLatest = h.state.latest
	}
}
