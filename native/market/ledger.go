package market

import "fmt"

// UpdateHMTokenBalance assigns an absolute balance to the producer that
// claimed code. The assignment replaces the previous balance; it is not a
// delta.
func (e *Engine) UpdateHMTokenBalance(env Env, code []byte, value uint64) error {
	if err := e.ready(env); err != nil {
		return err
	}
	if err := e.requireOracle(env); err != nil {
		return err
	}
	if err := e.prelude(env); err != nil {
		return err
	}
	producer, ok, err := e.state.GenStationAddress(code)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %x", ErrGenStationUnknown, code)
	}
	previous, err := e.state.HMBalance(producer)
	if err != nil {
		return err
	}
	if err := e.state.SetHMBalance(producer, value); err != nil {
		return err
	}
	e.emit(NewBalanceUpdatedEvent(code, producer, previous, value))
	return nil
}

// ReturnHMBalance returns the invoker's spendable balance.
func (e *Engine) ReturnHMBalance(env Env) (uint64, error) {
	if err := e.ready(env); err != nil {
		return 0, err
	}
	return e.state.HMBalance(env.Invoker())
}

// HMBalance returns the spendable balance of addr.
func (e *Engine) HMBalance(addr [20]byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.HMBalance(addr)
}

// RecBalance returns the tokens addr has consumed as a brand.
func (e *Engine) RecBalance(addr [20]byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.RecBalance(addr)
}

// RedeemTokens removes value tokens from user. The sweep runs first (it
// refreshes the cached time itself); there is no separate time update.
func (e *Engine) RedeemTokens(env Env, value uint64, user [20]byte) error {
	if err := e.ready(env); err != nil {
		return err
	}
	if err := e.requireOracle(env); err != nil {
		return err
	}
	if err := e.requireInitialised(); err != nil {
		return err
	}
	if err := e.CheckExpiredOptions(env); err != nil {
		return err
	}
	balance, err := e.state.HMBalance(user)
	if err != nil {
		return err
	}
	if balance < value {
		return fmt.Errorf("%w: have %d, redeeming %d", ErrInsufficientBalance, balance, value)
	}
	remaining := balance - value
	if err := e.state.SetHMBalance(user, remaining); err != nil {
		return err
	}
	e.emit(NewTokensRedeemedEvent(user, value, remaining))
	return nil
}

func (e *Engine) creditRecBalance(addr [20]byte, amount uint64) error {
	balance, err := e.state.RecBalance(addr)
	if err != nil {
		return err
	}
	updated, err := addChecked(balance, amount)
	if err != nil {
		return err
	}
	return e.state.SetRecBalance(addr, updated)
}
