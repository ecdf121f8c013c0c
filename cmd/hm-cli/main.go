package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"hmchain/cmd/internal/passphrase"
	"hmchain/crypto"
	"hmchain/rpc/client"
)

const (
	defaultKeystore = "wallet.json"
	passphraseEnv   = "HM_KEYSTORE_PASSPHRASE"
	rpcTokenEnv     = "HM_RPC_TOKEN"
)

// session carries the global flags shared by every command.
type session struct {
	rpcURL   string
	keystore string
	pass     *passphrase.Source
	timeout  time.Duration
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func defaultSession() *session {
	s := &session{
		rpcURL:   "http://localhost:8545",
		keystore: defaultKeystore,
		timeout:  30 * time.Second,
	}
	if v := strings.TrimSpace(os.Getenv("HM_RPC_URL")); v != "" {
		s.rpcURL = v
	}
	if v := strings.TrimSpace(os.Getenv("HM_KEYSTORE")); v != "" {
		s.keystore = v
	}
	s.pass = passphrase.NewSource(passphraseEnv, "wallet")
	return s
}

type command struct {
	usage string
	run   func(s *session, args []string, stdout, stderr io.Writer) int
}

var commands = map[string]command{
	"generate-key":     {"create a new encrypted wallet keystore", runGenerateKey},
	"address":          {"print the wallet address", runAddress},
	"init":             {"run the one-time market init", signedNoParams("init")},
	"brand":            {"register the wallet as a brand", signedNoParams("register_as_brand")},
	"promotion-secret": {"store the brand promotion secret (--secret hex)", runPromotionSecret},
	"gen-station":      {"claim a generation station code (--code hex)", runGenStation},
	"update-balance":   {"oracle: set a producer's HM balance (--code hex --value n)", runUpdateBalance},
	"list":             {"list HM tokens for sale", runList},
	"buy":              {"buy an order outright (--id n --value payment)", orderCall("create_buy_order")},
	"take":             {"take an option on an order (--id n --value fee)", orderCall("take_on_option")},
	"consume":          {"consume an order as a brand (--id n --value payment)", orderCall("consume_token")},
	"exercise":         {"exercise a held option (--id n --value payment)", orderCall("exercise_option")},
	"end-option":       {"revert an expired option (--id n)", orderCall("end_option")},
	"sweep":            {"revert every expired option", signedNoParams("check_expired_options")},
	"update-time":      {"advance the market clock", signedNoParams("update_time")},
	"redeem":           {"credit redeemed tokens (--value n --user addr)", runRedeem},
	"verify-sensor":    {"check a sensor id against the allow-list (--code hex)", runVerifySensor},
	"balance":          {"show HM, rec and native balances (--addr)", runBalance},
	"order":            {"show one order (--id n)", runOrder},
	"orders":           {"page through the order book", runOrders},
	"promotions":       {"show a seller's eligible promotions (--addr)", runPromotions},
	"receipt":          {"fetch a call receipt (--hash hex)", runReceipt},
	"events":           {"show indexed market events", runEvents},
	"status":           {"show node height and state root", runStatus},
}

func run(args []string, stdout, stderr io.Writer) int {
	s := defaultSession()
	rest, err := s.applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	if len(rest) == 0 || rest[0] == "help" || rest[0] == "-h" || rest[0] == "--help" {
		printUsage(stdout)
		return 0
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		printUsage(stderr)
		return 1
	}
	return cmd.run(s, rest[1:], stdout, stderr)
}

// applyGlobalFlags strips --rpc and --keystore wherever they appear.
func (s *session) applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var target *string
		switch {
		case arg == "--rpc" || arg == "--keystore":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			target = s.flagTarget(arg)
			*target = args[i+1]
			i++
		case strings.HasPrefix(arg, "--rpc="), strings.HasPrefix(arg, "--keystore="):
			name, value, _ := strings.Cut(arg, "=")
			target = s.flagTarget(name)
			*target = value
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func (s *session) flagTarget(name string) *string {
	if name == "--rpc" {
		return &s.rpcURL
	}
	return &s.keystore
}

func (s *session) client() *client.Client {
	opts := []client.Option{}
	if token := strings.TrimSpace(os.Getenv(rpcTokenEnv)); token != "" {
		opts = append(opts, client.WithTokenSource(func() (string, error) { return token, nil }))
	}
	return client.New(s.rpcURL, opts...)
}

func (s *session) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *session) loadKey() (*crypto.PrivateKey, error) {
	if _, err := os.Stat(s.keystore); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("keystore %s not found; run hm-cli generate-key first", s.keystore)
		}
		return nil, err
	}
	pass, err := s.pass.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(s.keystore, pass)
	if err != nil {
		return nil, fmt.Errorf("unlock keystore %s: %w", s.keystore, err)
	}
	return key, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: hm-cli [--rpc URL] [--keystore PATH] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Signing commands unlock the keystore with $%s or an interactive prompt.\n", passphraseEnv)
	fmt.Fprintln(w, "Commands:")
	for _, name := range sortedCommands() {
		fmt.Fprintf(w, "  %-17s %s\n", name, commands[name].usage)
	}
}

func writeJSON(w io.Writer, v interface{}) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "%v\n", v)
		return
	}
	fmt.Fprintln(w, string(encoded))
}

func failf(stderr io.Writer, format string, args ...interface{}) int {
	fmt.Fprintf(stderr, "Error: "+format+"\n", args...)
	return 1
}

func decodeHexFlag(name, value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("--%s is required", name)
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("--%s must be hex: %v", name, err)
	}
	return decoded, nil
}
