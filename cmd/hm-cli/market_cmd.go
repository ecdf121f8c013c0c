package main

import (
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"hmchain/core"
	"hmchain/crypto"
	"hmchain/rpc/client"
)

func sortedCommands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// submit signs method with the wallet key and prints the receipt. A reverted
// call prints its receipt and exits non-zero.
func submit(s *session, method string, params interface{}, value uint64, stdout, stderr io.Writer) int {
	key, err := s.loadKey()
	if err != nil {
		return failf(stderr, "%v", err)
	}
	ctx, cancel := s.context()
	defer cancel()
	receipt, err := s.client().Invoke(ctx, key, method, params, value)
	if receipt != nil {
		writeJSON(stdout, receipt)
	}
	if err != nil {
		return failf(stderr, "%v", err)
	}
	return 0
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func signedNoParams(method string) func(*session, []string, io.Writer, io.Writer) int {
	return func(s *session, args []string, stdout, stderr io.Writer) int {
		fs := newFlagSet(method, stderr)
		if !parseFlags(fs, args, stderr) {
			return 1
		}
		return submit(s, method, nil, 0, stdout, stderr)
	}
}

func orderCall(method string) func(*session, []string, io.Writer, io.Writer) int {
	return func(s *session, args []string, stdout, stderr io.Writer) int {
		fs := newFlagSet(method, stderr)
		id := fs.Int64("id", -1, "order id")
		value := fs.Uint64("value", 0, "native amount attached to the call")
		if !parseFlags(fs, args, stderr) {
			return 1
		}
		if *id < 0 {
			return failf(stderr, "--id is required")
		}
		return submit(s, method, core.OrderParams{OrderID: uint64(*id)}, *value, stdout, stderr)
	}
}

func runPromotionSecret(s *session, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("promotion-secret", stderr)
	secretHex := fs.String("secret", "", "promotion secret (hex)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	secret, err := decodeHexFlag("secret", *secretHex)
	if err != nil {
		return failf(stderr, "%v", err)
	}
	return submit(s, core.MethodAddPromotionSecret, core.SecretParams{Secret: secret}, 0, stdout, stderr)
}

func runGenStation(s *session, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("gen-station", stderr)
	codeHex := fs.String("code", "", "generation station code (hex)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	code, err := decodeHexFlag("code", *codeHex)
	if err != nil {
		return failf(stderr, "%v", err)
	}
	return submit(s, core.MethodAddGenStation, core.CodeParams{Code: code}, 0, stdout, stderr)
}

func runUpdateBalance(s *session, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("update-balance", stderr)
	codeHex := fs.String("code", "", "generation station code (hex)")
	value := fs.Uint64("value", 0, "new absolute HM balance of the producer")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	code, err := decodeHexFlag("code", *codeHex)
	if err != nil {
		return failf(stderr, "%v", err)
	}
	return submit(s, core.MethodUpdateHMTokenBalance, core.UpdateBalanceParams{Code: code, Value: *value}, 0, stdout, stderr)
}

func runList(s *session, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("list", stderr)
	var p core.ListOrderParams
	fs.Uint64Var(&p.SellPrice, "price", 0, "total sell price in native units")
	fs.Uint64Var(&p.Tokens, "tokens", 0, "HM tokens to escrow")
	fs.Uint64Var(&p.OptionPrice, "option-fee", 0, "fee to take an option")
	fs.Uint64Var(&p.Duration, "option-duration", 0, "option window in seconds")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if p.Tokens == 0 {
		return failf(stderr, "--tokens must be positive")
	}
	return submit(s, core.MethodListOrder, p, 0, stdout, stderr)
}

func runRedeem(s *session, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("redeem", stderr)
	value := fs.Uint64("value", 0, "tokens to credit")
	user := fs.String("user", "", "recipient address (bech32)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if _, err := crypto.DecodeAddress(strings.TrimSpace(*user)); err != nil {
		return failf(stderr, "--user: %v", err)
	}
	return submit(s, core.MethodRedeemTokens, core.RedeemParams{Value: *value, User: strings.TrimSpace(*user)}, 0, stdout, stderr)
}

func runVerifySensor(s *session, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("verify-sensor", stderr)
	codeHex := fs.String("code", "", "32-byte sensor id (hex)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	code, err := decodeHexFlag("code", *codeHex)
	if err != nil {
		return failf(stderr, "%v", err)
	}
	return submit(s, core.MethodCheckVerifiedSensors, core.CodeParams{Code: hexutil.Bytes(code)}, 0, stdout, stderr)
}

// isNotFound distinguishes a missing record from a transport failure.
func isNotFound(err error) bool {
	return client.IsCode(err, client.CodeNotFound)
}
