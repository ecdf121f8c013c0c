// core/genesis/loader.go
package genesis

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"hmchain/core/state"
	"hmchain/native/market"
	"hmchain/storage"
	"hmchain/storage/trie"
)

// genesisEnv is the host environment of the market init call. Nobody signs
// it and no value is attached.
type genesisEnv struct {
	timestamp uint64
}

func (genesisEnv) Invoker() [20]byte          { return [20]byte{} }
func (e genesisEnv) Timestamp() uint64        { return e.timestamp }
func (genesisEnv) TransferredBalance() uint64 { return 0 }
func (genesisEnv) Transfer([20]byte, uint64) error {
	return fmt.Errorf("genesis: transfers are not available")
}

// BuildGenesisFromSpec writes the native allocations and the initialised
// market into a fresh state trie and commits it at height 0.
func BuildGenesisFromSpec(spec *GenesisSpec, db storage.Database) (common.Hash, error) {
	if spec == nil {
		return common.Hash{}, fmt.Errorf("genesis spec must not be nil")
	}
	if db == nil {
		return common.Hash{}, fmt.Errorf("database must not be nil")
	}

	stateTrie, err := trie.NewTrie(db, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("init state trie: %w", err)
	}
	manager := state.NewManager(stateTrie)
	parentRoot := stateTrie.Root()

	// 1) Native allocations (sorted by address)
	for _, alloc := range spec.Allocations() {
		if err := manager.SetNativeBalance(alloc.Address, alloc.Amount); err != nil {
			return common.Hash{}, fmt.Errorf("alloc %x: %w", alloc.Address, err)
		}
	}

	// 2) Market init
	engine := market.NewEngine()
	engine.SetParams(spec.MarketParams())
	engine.SetState(manager)
	var ts uint64
	if unix := spec.GenesisTimestamp().Unix(); unix > 0 {
		ts = uint64(unix)
	}
	if err := engine.Init(genesisEnv{timestamp: ts}); err != nil {
		return common.Hash{}, fmt.Errorf("init market: %w", err)
	}

	// 3) Commit
	root, err := stateTrie.Commit(parentRoot, 0)
	if err != nil {
		return common.Hash{}, fmt.Errorf("commit state: %w", err)
	}
	return root, nil
}
