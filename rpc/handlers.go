package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"hmchain/core"
	"hmchain/core/types"
	"hmchain/crypto"
	"hmchain/native/market"
)

const (
	defaultOrderPage = 100
	maxOrderPage     = 500
)

func singleParam(req *RPCRequest, out interface{}, what string) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: what + " parameter required"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid " + what, Data: err.Error()}
	}
	return nil
}

// optionalParam decodes params[0] when present.
func optionalParam(req *RPCRequest, out interface{}, what string) *RPCError {
	switch len(req.Params) {
	case 0:
		return nil
	case 1:
		return singleParam(req, out, what)
	default:
		return &RPCError{Code: codeInvalidParams, Message: "too many parameters"}
	}
}

func addressParam(req *RPCRequest) ([20]byte, *RPCError) {
	var value string
	if rpcErr := singleParam(req, &value, "address"); rpcErr != nil {
		return [20]byte{}, rpcErr
	}
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, &RPCError{Code: codeInvalidParams, Message: "invalid address", Data: err.Error()}
	}
	return addr.Raw(), nil
}

// ledgerError maps ledger and market failures onto JSON-RPC errors.
func ledgerError(err error) (int, *RPCError) {
	switch {
	case errors.Is(err, core.ErrDuplicateCall):
		return http.StatusConflict, &RPCError{Code: codeDuplicateCall, Message: "call has already been processed"}
	case errors.Is(err, core.ErrInvalidSignature),
		errors.Is(err, core.ErrNonceMismatch),
		errors.Is(err, core.ErrInsufficientFunds),
		errors.Is(err, core.ErrInvalidParams),
		errors.Is(err, core.ErrUnknownMethod),
		errors.Is(err, core.ErrReadOnly):
		return http.StatusBadRequest, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, core.ErrReceiptNotFound), errors.Is(err, market.ErrOrderNotFound):
		return http.StatusNotFound, &RPCError{Code: codeNotFound, Message: err.Error()}
	case market.IsMarketError(err):
		return http.StatusOK, &RPCError{Code: codeExecutionReverted, Message: "execution reverted", Data: RevertData{Error: err.Error()}}
	default:
		return http.StatusInternalServerError, &RPCError{Code: codeServerError, Message: err.Error()}
	}
}

func (s *Server) handleSendCall(r *http.Request, req *RPCRequest) (interface{}, int, *RPCError) {
	if s.auth.enabled() {
		if authErr := s.auth.verify(r); authErr != nil {
			return nil, http.StatusUnauthorized, authErr
		}
	}
	var call types.Call
	if rpcErr := singleParam(req, &call, "call"); rpcErr != nil {
		return nil, http.StatusBadRequest, rpcErr
	}
	receipt, err := s.ledger.Submit(r.Context(), &call)
	if err != nil {
		if errors.Is(err, core.ErrReverted) {
			return nil, http.StatusOK, &RPCError{
				Code:    codeExecutionReverted,
				Message: "execution reverted",
				Data:    RevertData{Error: receipt.Error, Receipt: receipt},
			}
		}
		status, rpcErr := ledgerError(err)
		return nil, status, rpcErr
	}
	return receipt, http.StatusOK, nil
}

func (s *Server) handleCall(r *http.Request, req *RPCRequest) (interface{}, int, *RPCError) {
	var args CallArgs
	if rpcErr := singleParam(req, &args, "call"); rpcErr != nil {
		return nil, http.StatusBadRequest, rpcErr
	}
	var caller [20]byte
	if from := strings.TrimSpace(args.From); from != "" {
		addr, err := crypto.DecodeAddress(from)
		if err != nil {
			return nil, http.StatusBadRequest, &RPCError{Code: codeInvalidParams, Message: "invalid from address", Data: err.Error()}
		}
		caller = addr.Raw()
	}
	result, err := s.ledger.Query(r.Context(), args.Method, args.Params, caller)
	if err != nil {
		status, rpcErr := ledgerError(err)
		return nil, status, rpcErr
	}
	return result, http.StatusOK, nil
}

func (s *Server) handleGetReceipt(_ *http.Request, req *RPCRequest) (interface{}, int, *RPCError) {
	var value string
	if rpcErr := singleParam(req, &value, "call hash"); rpcErr != nil {
		return nil, http.StatusBadRequest, rpcErr
	}
	hash, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil || len(hash) != 32 {
		return nil, http.StatusBadRequest, &RPCError{Code: codeInvalidParams, Message: "call hash must be 32 hex-encoded bytes"}
	}
	receipt, err := s.ledger.Receipt(hash)
	if err != nil {
		status, rpcErr := ledgerError(err)
		return nil, status, rpcErr
	}
	return receipt, http.StatusOK, nil
}

func (s *Server) handleGetOrder(r *http.Request, req *RPCRequest) (interface{}, int, *RPCError) {
	var id uint64
	if rpcErr := singleParam(req, &id, "order id"); rpcErr != nil {
		return nil, http.StatusBadRequest, rpcErr
	}
	params, err := json.Marshal(core.OrderParams{OrderID: id})
	if err != nil {
		return nil, http.StatusInternalServerError, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	result, err := s.ledger.Query(r.Context(), core.MethodGetOrder, params, [20]byte{})
	if err != nil {
		status, rpcErr := ledgerError(err)
		return nil, status, rpcErr
	}
	return result, http.StatusOK, nil
}

func (s *Server) handleListOrders(_ *http.Request, req *RPCRequest) (interface{}, int, *RPCError) {
	var args ListOrdersArgs
	if rpcErr := optionalParam(req, &args, "pagination"); rpcErr != nil {
		return nil, http.StatusBadRequest, rpcErr
	}
	if args.Limit == 0 {
		args.Limit = defaultOrderPage
	}
	if args.Limit > maxOrderPage {
		args.Limit = maxOrderPage
	}
	orders, total, err := s.ledger.Orders(args.Offset, args.Limit)
	if err != nil {
		status, rpcErr := ledgerError(err)
		return nil, status, rpcErr
	}
	return ListOrdersResult{Orders: orders, Total: total}, http.StatusOK, nil
}

func (s *Server) handleGetNonce(_ *http.Request, req *RPCRequest) (interface{}, int, *RPCError) {
	addr, rpcErr := addressParam(req)
	if rpcErr != nil {
		return nil, http.StatusBadRequest, rpcErr
	}
	nonce, err := s.ledger.Nonce(addr)
	if err != nil {
		status, rpcErr := ledgerError(err)
		return nil, status, rpcErr
	}
	return nonce, http.StatusOK, nil
}

func (s *Server) handleNativeBalance(_ *http.Request, req *RPCRequest) (interface{}, int, *RPCError) {
	addr, rpcErr := addressParam(req)
	if rpcErr != nil {
		return nil, http.StatusBadRequest, rpcErr
	}
	balance, err := s.ledger.NativeBalance(addr)
	if err != nil {
		status, rpcErr := ledgerError(err)
		return nil, status, rpcErr
	}
	return BalanceResult{Address: crypto.FormatRaw(addr), Balance: balance.Dec()}, http.StatusOK, nil
}

func (s *Server) handleMarketEvents(r *http.Request, req *RPCRequest) (interface{}, int, *RPCError) {
	if s.events == nil {
		return nil, http.StatusServiceUnavailable, &RPCError{Code: codeServerError, Message: "event index disabled"}
	}
	var args MarketEventsArgs
	if rpcErr := optionalParam(req, &args, "event filter"); rpcErr != nil {
		return nil, http.StatusBadRequest, rpcErr
	}
	var (
		evts interface{}
		err  error
	)
	if args.OrderID != nil {
		evts, err = s.events.EventsForOrder(r.Context(), *args.OrderID, args.Limit)
	} else {
		evts, err = s.events.Recent(r.Context(), args.Limit)
	}
	if err != nil {
		return nil, http.StatusInternalServerError, &RPCError{Code: codeServerError, Message: fmt.Sprintf("query events: %v", err)}
	}
	return evts, http.StatusOK, nil
}

func (s *Server) handleStatus(_ *http.Request, _ *RPCRequest) (interface{}, int, *RPCError) {
	return StatusResult{
		Height:    s.ledger.Height(),
		StateRoot: "0x" + hex.EncodeToString(s.ledger.StateRoot()),
	}, http.StatusOK, nil
}
