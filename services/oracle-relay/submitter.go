package oraclerelay

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"hmchain/core"
	"hmchain/crypto"
	"hmchain/rpc"
	"hmchain/rpc/client"
)

// Submitter publishes a meter reading for a gen station to the ledger.
type Submitter interface {
	SubmitBalance(ctx context.Context, code []byte, balance uint64) (*core.Receipt, error)
}

// NodeSubmitter signs update_hm_token_balance with the oracle key. Calls are
// serialised so each one picks up the nonce left by the previous receipt.
type NodeSubmitter struct {
	mu     sync.Mutex
	client *client.Client
	key    *crypto.PrivateKey
}

func NewNodeSubmitter(c *client.Client, key *crypto.PrivateKey) (*NodeSubmitter, error) {
	if c == nil {
		return nil, fmt.Errorf("node client required")
	}
	if key == nil {
		return nil, fmt.Errorf("oracle key required")
	}
	return &NodeSubmitter{client: c, key: key}, nil
}

func (s *NodeSubmitter) Address() string {
	return s.key.PubKey().Address().String()
}

func (s *NodeSubmitter) SubmitBalance(ctx context.Context, code []byte, balance uint64) (*core.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	params := core.UpdateBalanceParams{Code: code, Value: balance}
	return s.client.Invoke(ctx, s.key, core.MethodUpdateHMTokenBalance, params, 0)
}

// NodeClientOptions builds the client options for cfg, attaching a freshly
// signed bearer token to each submission when node auth is configured.
func NodeClientOptions(cfg NodeAuthConfig, lookup func(string) (string, bool)) ([]client.Option, error) {
	name := strings.TrimSpace(cfg.SecretEnv)
	if name == "" {
		return nil, nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	secret, ok := lookup(name)
	if !ok || strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("node auth secret %s is not set", name)
	}
	issuer, ttl := cfg.Issuer, cfg.TTL.Duration
	source := func() (string, error) {
		return rpc.IssueToken([]byte(secret), issuer, "oracle-relay", ttl)
	}
	return []client.Option{client.WithTokenSource(source)}, nil
}
