package core

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"hmchain/core/state"
)

// ContractAddress holds the native value attached to calls until the market
// forwards it.
var ContractAddress = func() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("hm/market/contract"))[12:])
	return addr
}()

// hostEnv is the environment of one call. It implements market.Env.
type hostEnv struct {
	state       *state.Manager
	invoker     [20]byte
	timestamp   uint64
	transferred uint64
}

func (e *hostEnv) Invoker() [20]byte          { return e.invoker }
func (e *hostEnv) Timestamp() uint64          { return e.timestamp }
func (e *hostEnv) TransferredBalance() uint64 { return e.transferred }

// Transfer pays amount of the native asset out of the contract account.
func (e *hostEnv) Transfer(to [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return moveNative(e.state, ContractAddress, to, amount)
}

func moveNative(manager *state.Manager, from, to [20]byte, amount uint64) error {
	if from == to {
		return nil
	}
	value := uint256.NewInt(amount)
	fromBalance, err := manager.NativeBalance(from)
	if err != nil {
		return err
	}
	if fromBalance.Lt(value) {
		return fmt.Errorf("%w: have %s, need %d", ErrInsufficientFunds, fromBalance, amount)
	}
	toBalance, err := manager.NativeBalance(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBalance, value)
	if overflow {
		return fmt.Errorf("native balance overflow")
	}
	if err := manager.SetNativeBalance(from, new(uint256.Int).Sub(fromBalance, value)); err != nil {
		return err
	}
	return manager.SetNativeBalance(to, credited)
}
