package market

import "fmt"

// ListOrder escrows tokens from the invoker into a new option-backed listing
// and returns its id. A zero duration lists the slot for outright sale only.
func (e *Engine) ListOrder(env Env, sellPrice, tokens, optionPrice, duration uint64) (uint64, error) {
	if err := e.ready(env); err != nil {
		return 0, err
	}
	if err := e.prelude(env); err != nil {
		return 0, err
	}
	if tokens == 0 {
		return 0, fmt.Errorf("%w: token quantity must be positive", ErrInvalidOrder)
	}
	seller := env.Invoker()
	balance, err := e.state.HMBalance(seller)
	if err != nil {
		return 0, err
	}
	if balance < tokens {
		return 0, fmt.Errorf("%w: have %d, listing %d", ErrInsufficientBalance, balance, tokens)
	}
	now, err := e.state.LatestTimestamp()
	if err != nil {
		return 0, err
	}
	id, err := e.state.OrderCount()
	if err != nil {
		return 0, err
	}
	order := &Order{
		OrderID:        id,
		Seller:         seller,
		Owner:          seller,
		SellPrice:      sellPrice,
		Tokens:         tokens,
		OptionFee:      optionPrice,
		OptionDuration: duration,
		CreatedAt:      now,
		IsSale:         true,
		IsOption:       true,
	}
	if err := e.state.OrderAppend(order); err != nil {
		return 0, err
	}
	if err := e.state.SetHMBalance(seller, balance-tokens); err != nil {
		return 0, err
	}
	e.metrics.ObserveListed(id + 1)
	e.emit(NewOrderListedEvent(order))
	return id, nil
}

// openOrder loads a slot that must still be listed and checks that the
// attached payment covers price(order).
func (e *Engine) openOrder(env Env, id uint64, price func(*Order) uint64) (*Order, uint64, error) {
	order, err := e.loadOrder(id)
	if err != nil {
		return nil, 0, err
	}
	if order.Fulfilled {
		return nil, 0, fmt.Errorf("%w: %d", ErrAlreadyFulfilled, id)
	}
	payment := env.TransferredBalance()
	if required := price(order); payment < required {
		return nil, 0, fmt.Errorf("%w: sent %d, required %d", ErrInsufficientPayment, payment, required)
	}
	return order, payment, nil
}

func sellPriceOf(o *Order) uint64 { return o.SellPrice }

func optionFeeOf(o *Order) uint64 { return o.OptionFee }

// CreateBuyOrder buys a listed slot outright. The whole attached payment is
// forwarded to the seller, including any excess over the sell price.
func (e *Engine) CreateBuyOrder(env Env, id uint64) error {
	if err := e.ready(env); err != nil {
		return err
	}
	if err := e.prelude(env); err != nil {
		return err
	}
	order, payment, err := e.openOrder(env, id, sellPriceOf)
	if err != nil {
		return err
	}
	buyer := env.Invoker()
	balance, err := e.state.HMBalance(buyer)
	if err != nil {
		return err
	}
	credited, err := addChecked(balance, order.Tokens)
	if err != nil {
		return err
	}

	order.Owner = buyer
	order.Fulfilled = true
	order.OptionDuration = 0
	if err := e.state.OrderPut(order); err != nil {
		return err
	}
	if err := e.state.SetHMBalance(buyer, credited); err != nil {
		return err
	}
	if err := env.Transfer(order.Seller, payment); err != nil {
		return err
	}
	price, err := e.recordTrade(order)
	if err != nil {
		return err
	}
	e.metrics.ObserveFill("buy")
	e.emit(NewOrderSoldEvent(order, payment, price))
	return nil
}

// TakeOnOption hands a listed slot to the invoker for the option window. The
// tokens move to the taker immediately; the market price is not touched.
// Listings with a zero option duration are plain sales and cannot be taken.
func (e *Engine) TakeOnOption(env Env, id uint64) error {
	if err := e.ready(env); err != nil {
		return err
	}
	if err := e.prelude(env); err != nil {
		return err
	}
	order, payment, err := e.openOrder(env, id, optionFeeOf)
	if err != nil {
		return err
	}
	if order.OptionDuration == 0 {
		return fmt.Errorf("%w: listing %d carries no option window", ErrInvalidOrder, id)
	}
	taker := env.Invoker()
	balance, err := e.state.HMBalance(taker)
	if err != nil {
		return err
	}
	credited, err := addChecked(balance, order.Tokens)
	if err != nil {
		return err
	}
	now, err := e.state.LatestTimestamp()
	if err != nil {
		return err
	}

	order.Owner = taker
	order.Fulfilled = true
	order.CreatedAt = now
	if err := e.state.OrderPut(order); err != nil {
		return err
	}
	if err := e.state.SetHMBalance(taker, credited); err != nil {
		return err
	}
	if err := env.Transfer(order.Seller, payment); err != nil {
		return err
	}
	e.metrics.ObserveFill("option")
	e.emit(NewOptionTakenEvent(order, payment))
	return nil
}

// ConsumeToken lets a brand take a listed slot into its consumption bucket.
// The brand's promotion secret joins the seller's eligibility queue.
func (e *Engine) ConsumeToken(env Env, id uint64) error {
	if err := e.ready(env); err != nil {
		return err
	}
	if err := e.prelude(env); err != nil {
		return err
	}
	order, payment, err := e.openOrder(env, id, sellPriceOf)
	if err != nil {
		return err
	}
	brand := env.Invoker()
	isBrand, err := e.state.IsBrand(brand)
	if err != nil {
		return err
	}
	if !isBrand {
		return ErrNotBrand
	}
	secret, ok, err := e.state.PromotionSecret(brand)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPromotionSecretMissing
	}
	consumed, err := e.state.RecBalance(brand)
	if err != nil {
		return err
	}
	if _, err := addChecked(consumed, order.Tokens); err != nil {
		return err
	}

	order.Owner = brand
	order.Fulfilled = true
	order.OptionDuration = 0
	if err := e.state.OrderPut(order); err != nil {
		return err
	}
	if err := e.creditRecBalance(brand, order.Tokens); err != nil {
		return err
	}
	if err := e.addEligiblePromotions(order.Seller, secret); err != nil {
		return err
	}
	if err := env.Transfer(order.Seller, payment); err != nil {
		return err
	}
	price, err := e.recordTrade(order)
	if err != nil {
		return err
	}
	e.metrics.ObserveFill("consume")
	e.emit(NewTokenConsumedEvent(order, payment, price))
	return nil
}

// ExerciseOption converts the invoker's active option into an outright sale
// by paying the sell price. The tokens already sit with the taker.
func (e *Engine) ExerciseOption(env Env, id uint64) error {
	if err := e.ready(env); err != nil {
		return err
	}
	if err := e.prelude(env); err != nil {
		return err
	}
	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if !order.OptionActive() {
		return fmt.Errorf("%w: %d", ErrOptionNotActive, id)
	}
	if order.Owner != env.Invoker() {
		return ErrNotOptionOwner
	}
	payment := env.TransferredBalance()
	if payment < order.SellPrice {
		return fmt.Errorf("%w: sent %d, required %d", ErrInsufficientPayment, payment, order.SellPrice)
	}

	order.OptionDuration = 0
	if err := e.state.OrderPut(order); err != nil {
		return err
	}
	if err := env.Transfer(order.Seller, payment); err != nil {
		return err
	}
	price, err := e.recordTrade(order)
	if err != nil {
		return err
	}
	e.metrics.ObserveFill("exercise")
	e.emit(NewOptionExercisedEvent(order, payment, price))
	return nil
}

// recordTrade stores the unit price of a completed sale.
func (e *Engine) recordTrade(order *Order) (uint64, error) {
	if order.Tokens == 0 {
		return 0, fmt.Errorf("%w: order %d has no tokens", ErrInvalidOrder, order.OrderID)
	}
	price := order.SellPrice / order.Tokens
	if err := e.state.SetMarketPrice(price); err != nil {
		return 0, err
	}
	e.metrics.SetPrice(price)
	return price, nil
}

// ReturnOrdersArrayLength returns the number of orders ever listed.
func (e *Engine) ReturnOrdersArrayLength() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.OrderCount()
}

// Order returns a copy of the slot.
func (e *Engine) Order(id uint64) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadOrder(id)
}

// MarketPrice returns the last-trade unit price.
func (e *Engine) MarketPrice() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	price, ok, err := e.state.MarketPrice()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotInitialised
	}
	return price, nil
}
