package main

import (
	"encoding/hex"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"hmchain/core"
	"hmchain/crypto"
)

// resolveAddress returns --addr, or the wallet address when it is empty.
func resolveAddress(s *session, addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		key, err := s.loadKey()
		if err != nil {
			return "", err
		}
		return key.PubKey().Address().String(), nil
	}
	if _, err := crypto.DecodeAddress(addr); err != nil {
		return "", err
	}
	return addr, nil
}

type balanceView struct {
	Address    string `json:"address"`
	HM         uint64 `json:"hm"`
	RecBalance uint64 `json:"recBalance"`
	Native     string `json:"native"`
	IsBrand    bool   `json:"isBrand"`
}

func runBalance(s *session, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	addrFlag := fs.String("addr", "", "address to inspect (defaults to the wallet)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	addr, err := resolveAddress(s, *addrFlag)
	if err != nil {
		return failf(stderr, "%v", err)
	}
	ctx, cancel := s.context()
	defer cancel()
	c := s.client()

	view := balanceView{Address: addr}
	if err := c.Query(ctx, core.MethodReturnHMBalance, nil, addr, &view.HM); err != nil {
		return failf(stderr, "%v", err)
	}
	byAddr := core.AddressParams{Address: addr}
	if err := c.Query(ctx, core.MethodRecBalance, byAddr, "", &view.RecBalance); err != nil {
		return failf(stderr, "%v", err)
	}
	if err := c.Query(ctx, core.MethodIsBrand, byAddr, "", &view.IsBrand); err != nil {
		return failf(stderr, "%v", err)
	}
	native, err := c.NativeBalance(ctx, addr)
	if err != nil {
		return failf(stderr, "%v", err)
	}
	view.Native = native.Balance
	writeJSON(stdout, view)
	return 0
}

func runOrder(s *session, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("order", stderr)
	id := fs.Int64("id", -1, "order id")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if *id < 0 {
		return failf(stderr, "--id is required")
	}
	ctx, cancel := s.context()
	defer cancel()
	order, err := s.client().Order(ctx, uint64(*id))
	if err != nil {
		if isNotFound(err) {
			return failf(stderr, "order %d does not exist", *id)
		}
		return failf(stderr, "%v", err)
	}
	writeJSON(stdout, order)
	return 0
}

func runOrders(s *session, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("orders", stderr)
	offset := fs.Uint64("offset", 0, "first order id")
	limit := fs.Uint64("limit", 50, "maximum orders to return")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	ctx, cancel := s.context()
	defer cancel()
	page, err := s.client().Orders(ctx, *offset, *limit)
	if err != nil {
		return failf(stderr, "%v", err)
	}
	writeJSON(stdout, page)
	return 0
}

func runPromotions(s *session, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("promotions", stderr)
	addrFlag := fs.String("addr", "", "seller address (defaults to the wallet)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	addr, err := resolveAddress(s, *addrFlag)
	if err != nil {
		return failf(stderr, "%v", err)
	}
	ctx, cancel := s.context()
	defer cancel()
	var secrets []hexutil.Bytes
	if err := s.client().Query(ctx, core.MethodGetAllEligiblePromotions, core.AddressParams{Address: addr}, "", &secrets); err != nil {
		return failf(stderr, "%v", err)
	}
	if secrets == nil {
		secrets = []hexutil.Bytes{}
	}
	writeJSON(stdout, secrets)
	return 0
}

func runReceipt(s *session, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("receipt", stderr)
	hashHex := fs.String("hash", "", "call hash (hex)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	hash, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(*hashHex), "0x"))
	if err != nil || len(hash) != 32 {
		return failf(stderr, "--hash must be 32 hex-encoded bytes")
	}
	ctx, cancel := s.context()
	defer cancel()
	receipt, err := s.client().Receipt(ctx, hash)
	if err != nil {
		if isNotFound(err) {
			return failf(stderr, "no receipt for %x", hash)
		}
		return failf(stderr, "%v", err)
	}
	writeJSON(stdout, receipt)
	return 0
}

func runEvents(s *session, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	id := fs.Int64("id", -1, "restrict to one order")
	limit := fs.Int("limit", 20, "maximum events to return")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	var orderID *uint64
	if *id >= 0 {
		v := uint64(*id)
		orderID = &v
	}
	ctx, cancel := s.context()
	defer cancel()
	evts, err := s.client().MarketEvents(ctx, orderID, *limit)
	if err != nil {
		return failf(stderr, "%v", err)
	}
	writeJSON(stdout, evts)
	return 0
}

func runStatus(s *session, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("status", stderr)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	ctx, cancel := s.context()
	defer cancel()
	status, err := s.client().Status(ctx)
	if err != nil {
		return failf(stderr, "%v", err)
	}
	writeJSON(stdout, status)
	return 0
}
