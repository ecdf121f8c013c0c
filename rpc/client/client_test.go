package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hmchain/core"
	"hmchain/core/genesis"
	"hmchain/crypto"
	"hmchain/rpc"
	"hmchain/storage"
)

func newTestNode(t *testing.T, auth rpc.AuthConfig, funded ...*crypto.PrivateKey) *httptest.Server {
	t.Helper()
	alloc := map[string]string{}
	for _, key := range funded {
		alloc[key.PubKey().Address().String()] = "500"
	}
	raw, err := json.Marshal(map[string]interface{}{"genesisTime": "1970-01-01T00:00:00Z", "alloc": alloc, "market": map[string]interface{}{}})
	require.NoError(t, err)
	spec, err := genesis.ParseGenesisSpec(raw)
	require.NoError(t, err)

	ledger, err := core.Open(storage.NewMemDB(), core.Config{
		Genesis: spec,
		Clock:   func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	require.NoError(t, err)
	srv, err := rpc.NewServer(ledger, rpc.ServerConfig{Auth: auth})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestInvokeAndQuery(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	ts := newTestNode(t, rpc.AuthConfig{}, key)
	c := New(ts.URL)
	ctx := context.Background()
	addr := key.PubKey().Address().String()

	receipt, err := c.Invoke(ctx, key, core.MethodAddGenStation, core.CodeParams{Code: []byte{0x01}}, 0)
	require.NoError(t, err)
	require.True(t, receipt.Succeeded())

	receipt, err = c.Invoke(ctx, key, core.MethodUpdateHMTokenBalance, core.UpdateBalanceParams{Code: []byte{0x01}, Value: 40}, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(2), receipt.Height)

	var balance uint64
	require.NoError(t, c.Query(ctx, core.MethodReturnHMBalance, nil, addr, &balance))
	require.Equal(t, uint64(40), balance)

	nonce, err := c.Nonce(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(2), nonce)

	native, err := c.NativeBalance(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, "500", native.Balance)

	fetched, err := c.Receipt(ctx, mustHash(t, receipt.CallHash))
	require.NoError(t, err)
	require.Equal(t, core.MethodUpdateHMTokenBalance, fetched.Method)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), status.Height)
}

func TestInvokeRevertReturnsReceipt(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	ts := newTestNode(t, rpc.AuthConfig{}, key)
	c := New(ts.URL)

	receipt, err := c.Invoke(context.Background(), key, core.MethodTakeOnOption, core.OrderParams{OrderID: 4}, 0)
	require.Error(t, err)
	require.True(t, IsCode(err, CodeExecutionReverted))
	require.Contains(t, err.Error(), "order not found")
	require.NotNil(t, receipt)
	require.Equal(t, core.ReceiptStatusReverted, receipt.Status)

	_, err = c.Order(context.Background(), 4)
	require.True(t, IsCode(err, CodeNotFound))
}

func TestTokenSourceAttachedToSendCall(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	secret := []byte("shared")
	ts := newTestNode(t, rpc.AuthConfig{Secret: secret}, key)

	_, err = New(ts.URL).Invoke(context.Background(), key, core.MethodRegisterAsBrand, nil, 0)
	require.True(t, IsCode(err, CodeUnauthorized))

	c := New(ts.URL, WithTokenSource(func() (string, error) {
		return rpc.IssueToken(secret, "", "test", time.Minute)
	}))
	receipt, err := c.Invoke(context.Background(), key, core.MethodRegisterAsBrand, nil, 0)
	require.NoError(t, err)
	require.True(t, receipt.Succeeded())

	orders, err := c.Orders(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Zero(t, orders.Total)
	require.Empty(t, orders.Orders)
}

func mustHash(t *testing.T, value string) []byte {
	t.Helper()
	out, err := hex.DecodeString(value)
	require.NoError(t, err)
	return out
}
