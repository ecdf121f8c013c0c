package rpc

import (
	"encoding/json"

	"hmchain/core"
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// CallArgs is the hm_call parameter: a read-only entry point evaluated as
// From, which defaults to the zero address.
type CallArgs struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	From   string          `json:"from,omitempty"`
}

type ListOrdersArgs struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}

type ListOrdersResult struct {
	Orders []core.OrderView `json:"orders"`
	Total  uint64           `json:"total"`
}

// MarketEventsArgs selects either one order's history or the newest events.
type MarketEventsArgs struct {
	OrderID *uint64 `json:"orderId,omitempty"`
	Limit   int     `json:"limit,omitempty"`
}

type BalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type StatusResult struct {
	Height    uint64 `json:"height"`
	StateRoot string `json:"stateRoot"`
}

// RevertData accompanies codeExecutionReverted: the market error and the
// receipt recording the consumed nonce.
type RevertData struct {
	Error   string        `json:"error"`
	Receipt *core.Receipt `json:"receipt,omitempty"`
}
