package market

// DefaultMarketPrice is the unit price recorded at initialisation.
const DefaultMarketPrice uint64 = 10

// DefaultVerifiedSensors are the sensor identities trusted at genesis.
var DefaultVerifiedSensors = [][32]byte{
	{
		0xb8, 0x71, 0x5f, 0xb9, 0x8f, 0xeb, 0x70, 0xc3, 0xf3, 0xf1, 0xb0, 0x11,
		0x74, 0x57, 0x7b, 0xbd, 0xbf, 0x7f, 0xe3, 0x28, 0x92, 0x84, 0x6a, 0xaa,
		0xd9, 0x67, 0x76, 0xfb, 0x58, 0x27, 0x02, 0x16,
	},
	{
		0x21, 0x05, 0x74, 0x2f, 0x5a, 0xdb, 0x22, 0x9d, 0xd4, 0xbe, 0x38, 0x98,
		0x31, 0x4f, 0xdd, 0x0f, 0x0d, 0xd3, 0x5e, 0xfb, 0xf0, 0xa5, 0x72, 0x4c,
		0xc7, 0xd5, 0xa1, 0x7e, 0xee, 0x9a, 0xfd, 0x1f,
	},
}

// Params configures the engine.
type Params struct {
	// Oracle, when non-zero, is the only address allowed to set producer
	// balances and redeem tokens. A zero oracle leaves gating to the host.
	Oracle [20]byte
	// ExclusiveGenStations rejects claims on a code already mapped to a
	// different address instead of overwriting it.
	ExclusiveGenStations bool
	// VerifiedSensors seeds the allow-list on Init. Nil selects the defaults.
	VerifiedSensors [][32]byte
	// InitialMarketPrice seeds creds_market_price on Init. Zero selects
	// DefaultMarketPrice.
	InitialMarketPrice uint64
}

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() Params {
	return Params{
		VerifiedSensors:    append([][32]byte(nil), DefaultVerifiedSensors...),
		InitialMarketPrice: DefaultMarketPrice,
	}
}

func (p Params) oracleConfigured() bool {
	return p.Oracle != ([20]byte{})
}

func (p Params) sensors() [][32]byte {
	if p.VerifiedSensors == nil {
		return append([][32]byte(nil), DefaultVerifiedSensors...)
	}
	return append([][32]byte(nil), p.VerifiedSensors...)
}

func (p Params) initialPrice() uint64 {
	if p.InitialMarketPrice == 0 {
		return DefaultMarketPrice
	}
	return p.InitialMarketPrice
}
