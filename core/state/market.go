package state

import (
	"encoding/binary"
	"fmt"

	"hmchain/native/market"
)

const marketPrefix = "hm/market/"

var (
	marketVerifiedSensorsKey = Singleton(marketPrefix + "verified_sensors")
	marketLatestTimestampKey = Singleton(marketPrefix + "latest_timestamp")
	marketPriceKey           = Singleton(marketPrefix + "creds_market_price")
	marketIsVerifiedKey      = Singleton(marketPrefix + "is_verified")
	marketOrderLenKey        = Singleton(marketPrefix + "order_array/len")
)

const (
	marketBalancesNS     = marketPrefix + "balances"
	marketRecBalancesNS  = marketPrefix + "rec_balances"
	marketBrandNS        = marketPrefix + "is_brand"
	marketGenStationNS   = marketPrefix + "gen_station_to_address"
	marketSecretNS       = marketPrefix + "address_to_promotion_secret"
	marketEligibleNS     = marketPrefix + "address_to_eligible_promotions"
	marketOrderKeyPrefix = marketPrefix + "order_array/"
)

func marketOrderKey(id uint64) []byte {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], id)
	return prefixedKey([]byte(marketOrderKeyPrefix), idx[:])
}

func (m *Manager) getUint64(key []byte) (uint64, bool, error) {
	var v uint64
	ok, err := m.KVGet(key, &v)
	if err != nil {
		return 0, false, err
	}
	return v, ok, nil
}

// MarketPrice returns the last-trade unit price. The boolean is false before
// the market is initialised.
func (m *Manager) MarketPrice() (uint64, bool, error) {
	return m.getUint64(marketPriceKey)
}

func (m *Manager) SetMarketPrice(price uint64) error {
	return m.KVPut(marketPriceKey, price)
}

func (m *Manager) LatestTimestamp() (uint64, error) {
	ts, _, err := m.getUint64(marketLatestTimestampKey)
	return ts, err
}

func (m *Manager) SetLatestTimestamp(ts uint64) error {
	return m.KVPut(marketLatestTimestampKey, ts)
}

func (m *Manager) VerifiedSensors() ([][32]byte, error) {
	var sensors [][32]byte
	if err := m.KVGetList(marketVerifiedSensorsKey, &sensors); err != nil {
		return nil, err
	}
	return sensors, nil
}

func (m *Manager) SetVerifiedSensors(sensors [][32]byte) error {
	if sensors == nil {
		sensors = [][32]byte{}
	}
	return m.KVPut(marketVerifiedSensorsKey, sensors)
}

func (m *Manager) IsVerified() (bool, error) {
	var verified bool
	if _, err := m.KVGet(marketIsVerifiedKey, &verified); err != nil {
		return false, err
	}
	return verified, nil
}

func (m *Manager) SetVerified() error {
	return m.KVPut(marketIsVerifiedKey, true)
}

// OrderCount returns the length of the order sequence.
func (m *Manager) OrderCount() (uint64, error) {
	n, _, err := m.getUint64(marketOrderLenKey)
	return n, err
}

// OrderGet loads the order stored at index id.
func (m *Manager) OrderGet(id uint64) (*market.Order, bool, error) {
	order := new(market.Order)
	ok, err := m.KVGet(marketOrderKey(id), order)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return order, true, nil
}

// OrderAppend stores order at the next index and bumps the sequence length.
// The order id must equal the current length.
func (m *Manager) OrderAppend(order *market.Order) error {
	if order == nil {
		return fmt.Errorf("market state: nil order")
	}
	n, err := m.OrderCount()
	if err != nil {
		return err
	}
	if order.OrderID != n {
		return fmt.Errorf("market state: order id %d does not match sequence length %d", order.OrderID, n)
	}
	if err := m.KVPut(marketOrderKey(n), order); err != nil {
		return err
	}
	return m.KVPut(marketOrderLenKey, n+1)
}

// OrderPut rewrites an existing slot in place.
func (m *Manager) OrderPut(order *market.Order) error {
	if order == nil {
		return fmt.Errorf("market state: nil order")
	}
	n, err := m.OrderCount()
	if err != nil {
		return err
	}
	if order.OrderID >= n {
		return fmt.Errorf("market state: order %d out of range", order.OrderID)
	}
	return m.KVPut(marketOrderKey(order.OrderID), order)
}

func (m *Manager) HMBalance(addr [20]byte) (uint64, error) {
	v, _, err := m.getUint64(AddressKey(marketBalancesNS, addr))
	return v, err
}

func (m *Manager) SetHMBalance(addr [20]byte, amount uint64) error {
	return m.KVPut(AddressKey(marketBalancesNS, addr), amount)
}

func (m *Manager) RecBalance(addr [20]byte) (uint64, error) {
	v, _, err := m.getUint64(AddressKey(marketRecBalancesNS, addr))
	return v, err
}

func (m *Manager) SetRecBalance(addr [20]byte, amount uint64) error {
	return m.KVPut(AddressKey(marketRecBalancesNS, addr), amount)
}

func (m *Manager) IsBrand(addr [20]byte) (bool, error) {
	var flag bool
	if _, err := m.KVGet(AddressKey(marketBrandNS, addr), &flag); err != nil {
		return false, err
	}
	return flag, nil
}

func (m *Manager) SetBrand(addr [20]byte) error {
	return m.KVPut(AddressKey(marketBrandNS, addr), true)
}

// GenStationAddress resolves a generation station code to its producer.
func (m *Manager) GenStationAddress(code []byte) ([20]byte, bool, error) {
	var addr [20]byte
	ok, err := m.KVGet(BytesKey(marketGenStationNS, code), &addr)
	if err != nil {
		return [20]byte{}, false, err
	}
	return addr, ok, nil
}

func (m *Manager) SetGenStationAddress(code []byte, addr [20]byte) error {
	return m.KVPut(BytesKey(marketGenStationNS, code), addr)
}

func (m *Manager) PromotionSecret(addr [20]byte) ([]byte, bool, error) {
	var secret []byte
	ok, err := m.KVGet(AddressKey(marketSecretNS, addr), &secret)
	if err != nil {
		return nil, false, err
	}
	return secret, ok, nil
}

func (m *Manager) SetPromotionSecret(addr [20]byte, secret []byte) error {
	return m.KVPut(AddressKey(marketSecretNS, addr), secret)
}

// EligiblePromotions returns the seller's promotion queue in insertion order.
func (m *Manager) EligiblePromotions(seller [20]byte) ([][]byte, error) {
	var queue [][]byte
	if err := m.KVGetList(AddressKey(marketEligibleNS, seller), &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

func (m *Manager) SetEligiblePromotions(seller [20]byte, secrets [][]byte) error {
	if secrets == nil {
		secrets = [][]byte{}
	}
	return m.KVPut(AddressKey(marketEligibleNS, seller), secrets)
}
