package market

import (
	"errors"
	"fmt"
	"time"
)

// UpdateTime advances the cached timestamp to the host time. The cached value
// never moves backwards.
func (e *Engine) UpdateTime(env Env) error {
	if err := e.ready(env); err != nil {
		return err
	}
	latest, err := e.state.LatestTimestamp()
	if err != nil {
		return err
	}
	now := env.Timestamp()
	if now <= latest {
		return nil
	}
	return e.state.SetLatestTimestamp(now)
}

// LatestTimestamp returns the cached ledger time.
func (e *Engine) LatestTimestamp() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.LatestTimestamp()
}

// CheckExpiredOptions refreshes the cached time and returns every option whose
// window closed before it to the seller. The id range is fixed before the
// pass starts.
func (e *Engine) CheckExpiredOptions(env Env) error {
	if err := e.ready(env); err != nil {
		return err
	}
	start := time.Now()
	defer func() { e.metrics.ObserveSweep(time.Since(start)) }()

	if err := e.UpdateTime(env); err != nil {
		return err
	}
	now, err := e.state.LatestTimestamp()
	if err != nil {
		return err
	}
	count, err := e.state.OrderCount()
	if err != nil {
		return err
	}
	for id := uint64(0); id < count; id++ {
		order, ok, err := e.state.OrderGet(id)
		if err != nil {
			return err
		}
		if !ok || !order.expiredAt(now) {
			continue
		}
		err = e.endOption(order)
		var clawback *clawbackError
		if errors.As(err, &clawback) {
			e.logger.Warn("option claw-back skipped",
				"orderId", id,
				"available", clawback.available,
				"tokens", order.Tokens)
			e.metrics.ObserveClawbackFailed()
			e.emit(NewOptionClawbackFailedEvent(order, clawback.available))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// EndOption returns an expired option to its seller on request. The slot must
// be an active option whose window closed before the cached time.
func (e *Engine) EndOption(env Env, id uint64) error {
	if err := e.ready(env); err != nil {
		return err
	}
	if err := e.requireInitialised(); err != nil {
		return err
	}
	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if !order.OptionActive() {
		return fmt.Errorf("%w: %d", ErrOptionNotActive, id)
	}
	now, err := e.state.LatestTimestamp()
	if err != nil {
		return err
	}
	if !order.expiredAt(now) {
		return fmt.Errorf("%w: order %d", ErrOptionNotExpired, id)
	}
	if err := e.endOption(order); err != nil {
		var clawback *clawbackError
		if errors.As(err, &clawback) {
			return fmt.Errorf("%w: taker holds %d of %d tokens", ErrInsufficientBalance, clawback.available, order.Tokens)
		}
		return err
	}
	return nil
}

type clawbackError struct {
	available uint64
}

func (c *clawbackError) Error() string {
	return fmt.Sprintf("market: claw-back exceeds taker balance %d", c.available)
}

// endOption debits the taker and hands the slot back to the seller. Nothing
// is written when the taker no longer holds the tokens.
func (e *Engine) endOption(order *Order) error {
	taker := order.Owner
	balance, err := e.state.HMBalance(taker)
	if err != nil {
		return err
	}
	if balance < order.Tokens {
		return &clawbackError{available: balance}
	}
	if err := e.state.SetHMBalance(taker, balance-order.Tokens); err != nil {
		return err
	}
	order.Owner = order.Seller
	order.Fulfilled = false
	if err := e.state.OrderPut(order); err != nil {
		return err
	}
	e.metrics.ObserveExpired()
	e.emit(NewOptionExpiredEvent(order, taker))
	return nil
}
