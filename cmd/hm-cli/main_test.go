package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hmchain/core"
	"hmchain/core/genesis"
	"hmchain/rpc"
	"hmchain/storage"
)

type cliHarness struct {
	t       *testing.T
	rpcURL  string
	wallets map[string]string
}

func (h *cliHarness) run(wallet string, args ...string) (int, string, string) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--rpc", h.rpcURL, "--keystore", h.wallets[wallet]}, args...)
	code := run(full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func newCLIHarness(t *testing.T, names ...string) *cliHarness {
	t.Helper()
	t.Setenv(passphraseEnv, "test-passphrase")
	dir := t.TempDir()
	h := &cliHarness{t: t, wallets: map[string]string{}}

	alloc := map[string]string{}
	for _, name := range names {
		path := filepath.Join(dir, name+".json")
		h.wallets[name] = path
		code, out, errOut := h.run(name, "generate-key")
		require.Equal(t, 0, code, errOut)
		require.Contains(t, out, "Address: hm1")

		code, out, errOut = h.run(name, "address")
		require.Equal(t, 0, code, errOut)
		alloc[strings.TrimSpace(out)] = "1000"
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
	srv, err := rpc.NewServer(ledger, rpc.ServerConfig{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	h.rpcURL = ts.URL
	return h
}

func TestUsageAndUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run(nil, &stdout, &stderr))
	require.Contains(t, stdout.String(), "generate-key")
	require.Contains(t, stdout.String(), "end-option")

	stdout.Reset()
	require.Equal(t, 1, run([]string{"frobnicate"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "Unknown command: frobnicate")

	stderr.Reset()
	require.Equal(t, 1, run([]string{"--rpc"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "missing value for --rpc")
}

func TestGenerateKeyRefusesOverwrite(t *testing.T) {
	h := newCLIHarness(t, "alice")
	code, _, errOut := h.run("alice", "generate-key")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "already exists")
}

func TestMissingKeystore(t *testing.T) {
	h := newCLIHarness(t)
	h.wallets["ghost"] = filepath.Join(t.TempDir(), "missing.json")
	code, _, errOut := h.run("ghost", "brand")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "run hm-cli generate-key first")
}

func TestListBuyAndInspect(t *testing.T) {
	h := newCLIHarness(t, "alice", "bob")

	code, _, errOut := h.run("alice", "gen-station", "--code", "0xa1")
	require.Equal(t, 0, code, errOut)
	code, _, errOut = h.run("alice", "update-balance", "--code", "a1", "--value", "80")
	require.Equal(t, 0, code, errOut)
	code, _, errOut = h.run("alice", "list", "--price", "120", "--tokens", "40", "--option-fee", "10", "--option-duration", "30")
	require.Equal(t, 0, code, errOut)

	code, out, errOut := h.run("bob", "buy", "--id", "0", "--value", "120")
	require.Equal(t, 0, code, errOut)
	var receipt core.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &receipt))
	require.True(t, receipt.Succeeded())

	code, out, errOut = h.run("bob", "balance")
	require.Equal(t, 0, code, errOut)
	var bal balanceView
	require.NoError(t, json.Unmarshal([]byte(out), &bal))
	require.Equal(t, uint64(40), bal.HM)
	require.Equal(t, "880", bal.Native)

	code, out, errOut = h.run("bob", "order", "--id", "0")
	require.Equal(t, 0, code, errOut)
	var order core.OrderView
	require.NoError(t, json.Unmarshal([]byte(out), &order))
	require.Equal(t, "sold", order.Status)

	code, out, errOut = h.run("bob", "orders", "--limit", "5")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, `"total": 1`)

	code, out, errOut = h.run("bob", "receipt", "--hash", receipt.CallHash)
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, core.MethodCreateBuyOrder)

	code, _, errOut = h.run("bob", "order", "--id", "7")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "order 7 does not exist")
}

func TestRevertedCallExitsNonZero(t *testing.T) {
	h := newCLIHarness(t, "alice")
	code, out, errOut := h.run("alice", "consume", "--id", "0", "--value", "5")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "execution reverted")
	require.Contains(t, out, `"status": "reverted"`)
}

func TestBrandConsumeAndPromotions(t *testing.T) {
	h := newCLIHarness(t, "seller", "brand")

	code, _, errOut := h.run("seller", "gen-station", "--code", "b2")
	require.Equal(t, 0, code, errOut)
	code, _, errOut = h.run("seller", "update-balance", "--code", "b2", "--value", "10")
	require.Equal(t, 0, code, errOut)
	code, _, errOut = h.run("seller", "list", "--price", "50", "--tokens", "10")
	require.Equal(t, 0, code, errOut)

	code, _, errOut = h.run("brand", "brand")
	require.Equal(t, 0, code, errOut)
	code, _, errOut = h.run("brand", "promotion-secret", "--secret", "cafe")
	require.Equal(t, 0, code, errOut)
	code, _, errOut = h.run("brand", "consume", "--id", "0", "--value", "50")
	require.Equal(t, 0, code, errOut)

	code, out, errOut := h.run("seller", "promotions")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "0xcafe")

	code, out, errOut = h.run("brand", "balance")
	require.Equal(t, 0, code, errOut)
	var bal balanceView
	require.NoError(t, json.Unmarshal([]byte(out), &bal))
	require.Equal(t, uint64(10), bal.RecBalance)
	require.True(t, bal.IsBrand)
}

func TestFlagValidation(t *testing.T) {
	h := newCLIHarness(t, "alice")
	cases := [][]string{
		{"buy"},
		{"gen-station", "--code", "zz"},
		{"list", "--price", "1"},
		{"redeem", "--value", "1", "--user", "nope"},
		{"receipt", "--hash", "abc"},
		{"sweep", "extra"},
	}
	for _, args := range cases {
		code, _, _ := h.run("alice", args...)
		require.Equal(t, 1, code, "args %v", args)
	}
}
