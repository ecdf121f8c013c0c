// core/genesis/spec.go
package genesis

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"hmchain/crypto"
	"hmchain/native/market"
)

// GenesisSpec describes the initial ledger state: native asset allocations
// and the market parameters applied by the one-time market init.
type GenesisSpec struct {
	GenesisTime string            `json:"genesisTime"`
	Alloc       map[string]string `json:"alloc"` // addr -> native amount
	Market      MarketSpec        `json:"market"`

	genesisTimestamp time.Time
	allocations      []Allocation
	params           market.Params
}

type MarketSpec struct {
	Oracle               string   `json:"oracle,omitempty"`
	ExclusiveGenStations bool     `json:"exclusiveGenStations,omitempty"`
	VerifiedSensors      []string `json:"verifiedSensors,omitempty"`
	InitialMarketPrice   uint64   `json:"initialMarketPrice,omitempty"`
}

// Allocation is a validated native balance credited at genesis.
type Allocation struct {
	Address [20]byte
	Amount  *uint256.Int
}

// DefaultGenesisSpec returns an empty allocation set with the default market
// parameters.
func DefaultGenesisSpec() *GenesisSpec {
	spec := &GenesisSpec{
		GenesisTime: "1970-01-01T00:00:00Z",
		Alloc:       map[string]string{},
	}
	if err := spec.validate(); err != nil {
		panic(err)
	}
	return spec
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates a JSON genesis document.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// Allocations returns the native allocations sorted by address.
func (s *GenesisSpec) Allocations() []Allocation {
	out := make([]Allocation, len(s.allocations))
	for i, alloc := range s.allocations {
		out[i] = Allocation{Address: alloc.Address, Amount: new(uint256.Int).Set(alloc.Amount)}
	}
	return out
}

// MarketParams returns the engine parameters described by the spec.
func (s *GenesisSpec) MarketParams() market.Params {
	params := s.params
	params.VerifiedSensors = append([][32]byte(nil), s.params.VerifiedSensors...)
	return params
}

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	s.allocations = s.allocations[:0]
	seen := make(map[[20]byte]struct{}, len(s.Alloc))
	for addrStr, amountStr := range s.Alloc {
		addr, err := crypto.DecodeAddress(addrStr)
		if err != nil {
			return fmt.Errorf("alloc %q: %w", addrStr, err)
		}
		raw := addr.Raw()
		if _, dup := seen[raw]; dup {
			return fmt.Errorf("alloc %q: duplicate address", addrStr)
		}
		seen[raw] = struct{}{}
		amount, err := parseAmountString(amountStr)
		if err != nil {
			return fmt.Errorf("alloc %q: %w", addrStr, err)
		}
		s.allocations = append(s.allocations, Allocation{Address: raw, Amount: amount})
	}
	sort.Slice(s.allocations, func(i, j int) bool {
		return bytes.Compare(s.allocations[i].Address[:], s.allocations[j].Address[:]) < 0
	})

	params, err := s.Market.params()
	if err != nil {
		return fmt.Errorf("market: %w", err)
	}
	s.params = params
	return nil
}

func (m MarketSpec) params() (market.Params, error) {
	params := market.DefaultParams()
	if strings.TrimSpace(m.Oracle) != "" {
		oracle, err := crypto.DecodeAddress(m.Oracle)
		if err != nil {
			return params, fmt.Errorf("oracle: %w", err)
		}
		params.Oracle = oracle.Raw()
	}
	params.ExclusiveGenStations = m.ExclusiveGenStations
	if m.InitialMarketPrice != 0 {
		params.InitialMarketPrice = m.InitialMarketPrice
	}
	if m.VerifiedSensors != nil {
		sensors, err := ParseSensorIDs(m.VerifiedSensors)
		if err != nil {
			return params, err
		}
		params.VerifiedSensors = sensors
	}
	return params, nil
}

// ParseSensorIDs decodes hex sensor identifiers. Each must be 32 bytes.
func ParseSensorIDs(values []string) ([][32]byte, error) {
	out := make([][32]byte, 0, len(values))
	for i, value := range values {
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
		if err != nil {
			return nil, fmt.Errorf("verifiedSensors[%d]: %w", i, err)
		}
		if len(raw) != market.SensorIDLength {
			return nil, fmt.Errorf("verifiedSensors[%d]: expected %d bytes, got %d", i, market.SensorIDLength, len(raw))
		}
		var id [32]byte
		copy(id[:], raw)
		out = append(out, id)
	}
	return out, nil
}

func parseAmountString(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid genesisTime %q: %w", value, err)
	}
	return ts.UTC(), nil
}
