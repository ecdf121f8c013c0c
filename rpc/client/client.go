// Package client is a JSON-RPC client for the hm node.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hmchain/core"
	"hmchain/core/types"
	"hmchain/crypto"
	"hmchain/indexer"
	"hmchain/rpc"
)

// Error codes returned by the node.
const (
	CodeUnauthorized      = -32001
	CodeDuplicateCall     = -32010
	CodeRateLimited       = -32020
	CodeExecutionReverted = -32030
	CodeNotFound          = -32040
)

// Error is a JSON-RPC error returned by the node.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Data) > 0 && e.Code != CodeExecutionReverted {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsCode reports whether err is a node error with the given code.
func IsCode(err error, code int) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}

// TokenSource supplies the bearer token attached to hm_sendCall.
type TokenSource func() (string, error)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTokenSource(src TokenSource) Option {
	return func(c *Client) { c.token = src }
}

type Client struct {
	endpoint string
	http     *http.Client
	token    TokenSource
	nextID   atomic.Int64
}

func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimSpace(endpoint),
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Endpoint() string { return c.endpoint }

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Call invokes method with positional params and decodes the result into out
// when out is non-nil.
func (c *Client) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if method == "hm_sendCall" && c.token != nil {
		token, err := c.token()
		if err != nil {
			return fmt.Errorf("rpc token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var decoded response
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// SendCall submits a signed call. A reverted call returns its receipt
// together with an *Error carrying CodeExecutionReverted.
func (c *Client) SendCall(ctx context.Context, call *types.Call) (*core.Receipt, error) {
	var receipt core.Receipt
	err := c.Call(ctx, "hm_sendCall", &receipt, call)
	if err == nil {
		return &receipt, nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) && rpcErr.Code == CodeExecutionReverted && len(rpcErr.Data) > 0 {
		var data rpc.RevertData
		if json.Unmarshal(rpcErr.Data, &data) == nil {
			rpcErr.Message = "execution reverted: " + data.Error
			return data.Receipt, rpcErr
		}
	}
	return nil, err
}

// Invoke signs method with key at the account's next nonce and submits it.
func (c *Client) Invoke(ctx context.Context, key *crypto.PrivateKey, method string, params interface{}, value uint64) (*core.Receipt, error) {
	if key == nil {
		return nil, fmt.Errorf("signing key required")
	}
	nonce, err := c.Nonce(ctx, key.PubKey().Address().String())
	if err != nil {
		return nil, err
	}
	call := &types.Call{Method: method, Value: value, Nonce: nonce}
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		call.Params = encoded
	}
	if err := call.Sign(key.PrivateKey); err != nil {
		return nil, fmt.Errorf("sign call: %w", err)
	}
	return c.SendCall(ctx, call)
}

// Query evaluates a read-only entry point as from (may be empty).
func (c *Client) Query(ctx context.Context, method string, params interface{}, from string, out interface{}) error {
	args := rpc.CallArgs{Method: method, From: from}
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		args.Params = encoded
	}
	return c.Call(ctx, "hm_call", out, args)
}

func (c *Client) Receipt(ctx context.Context, hash []byte) (*core.Receipt, error) {
	var receipt core.Receipt
	if err := c.Call(ctx, "hm_getReceipt", &receipt, hex.EncodeToString(hash)); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) Order(ctx context.Context, id uint64) (*core.OrderView, error) {
	var order core.OrderView
	if err := c.Call(ctx, "hm_getOrder", &order, id); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) Orders(ctx context.Context, offset, limit uint64) (*rpc.ListOrdersResult, error) {
	var out rpc.ListOrdersResult
	if err := c.Call(ctx, "hm_listOrders", &out, rpc.ListOrdersArgs{Offset: offset, Limit: limit}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Nonce(ctx context.Context, address string) (uint64, error) {
	var nonce uint64
	if err := c.Call(ctx, "hm_getNonce", &nonce, address); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (c *Client) NativeBalance(ctx context.Context, address string) (*rpc.BalanceResult, error) {
	var out rpc.BalanceResult
	if err := c.Call(ctx, "hm_nativeBalance", &out, address); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarketEvents returns the history of orderID, or the newest events when
// orderID is nil.
func (c *Client) MarketEvents(ctx context.Context, orderID *uint64, limit int) ([]indexer.Event, error) {
	var out []indexer.Event
	if err := c.Call(ctx, "hm_marketEvents", &out, rpc.MarketEventsArgs{OrderID: orderID, Limit: limit}); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*rpc.StatusResult, error) {
	var out rpc.StatusResult
	if err := c.Call(ctx, "hm_status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
