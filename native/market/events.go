package market

import (
	"encoding/hex"
	"strconv"

	"hmchain/core/types"
	"hmchain/crypto"
)

const (
	EventTypeOrderListed           = "market.order.listed"
	EventTypeOrderSold             = "market.order.sold"
	EventTypeOptionTaken           = "market.option.taken"
	EventTypeOptionExercised       = "market.option.exercised"
	EventTypeOptionExpired         = "market.option.expired"
	EventTypeOptionClawbackFailed  = "market.option.clawback_failed"
	EventTypeTokenConsumed         = "market.token.consumed"
	EventTypeBalanceUpdated        = "market.balance.updated"
	EventTypeTokensRedeemed        = "market.tokens.redeemed"
	EventTypeBrandRegistered       = "market.brand.registered"
	EventTypeGenStationClaimed     = "market.gen_station.claimed"
	EventTypeSensorVerified        = "market.sensor.verified"
	EventTypePromotionSecretStored = "market.promotion_secret.stored"
)

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func orderAttributes(o *Order) map[string]string {
	attrs := make(map[string]string)
	if o == nil {
		return attrs
	}
	attrs["orderId"] = formatUint(o.OrderID)
	attrs["seller"] = crypto.FormatRaw(o.Seller)
	attrs["owner"] = crypto.FormatRaw(o.Owner)
	attrs["sellPrice"] = formatUint(o.SellPrice)
	attrs["tokens"] = formatUint(o.Tokens)
	attrs["optionFee"] = formatUint(o.OptionFee)
	attrs["optionDuration"] = formatUint(o.OptionDuration)
	attrs["createdAt"] = formatUint(o.CreatedAt)
	attrs["status"] = string(o.Status())
	return attrs
}

func newOrderEvent(eventType string, o *Order) *types.Event {
	return &types.Event{Type: eventType, Attributes: orderAttributes(o)}
}

// NewOrderListedEvent is emitted when a seller escrows tokens into a new slot.
func NewOrderListedEvent(o *Order) *types.Event { return newOrderEvent(EventTypeOrderListed, o) }

// NewOrderSoldEvent is emitted on an outright purchase.
func NewOrderSoldEvent(o *Order, payment, price uint64) *types.Event {
	evt := newOrderEvent(EventTypeOrderSold, o)
	evt.Attributes["payment"] = formatUint(payment)
	evt.Attributes["marketPrice"] = formatUint(price)
	return evt
}

// NewOptionTakenEvent is emitted when a taker pays the option fee.
func NewOptionTakenEvent(o *Order, payment uint64) *types.Event {
	evt := newOrderEvent(EventTypeOptionTaken, o)
	evt.Attributes["payment"] = formatUint(payment)
	return evt
}

// NewOptionExercisedEvent is emitted when a taker converts an option into a
// sale.
func NewOptionExercisedEvent(o *Order, payment, price uint64) *types.Event {
	evt := newOrderEvent(EventTypeOptionExercised, o)
	evt.Attributes["payment"] = formatUint(payment)
	evt.Attributes["marketPrice"] = formatUint(price)
	return evt
}

// NewOptionExpiredEvent is emitted when an option reverts to its seller.
func NewOptionExpiredEvent(o *Order, taker [20]byte) *types.Event {
	evt := newOrderEvent(EventTypeOptionExpired, o)
	evt.Attributes["taker"] = crypto.FormatRaw(taker)
	return evt
}

// NewOptionClawbackFailedEvent is emitted when the sweep cannot debit a taker.
func NewOptionClawbackFailedEvent(o *Order, available uint64) *types.Event {
	evt := newOrderEvent(EventTypeOptionClawbackFailed, o)
	evt.Attributes["available"] = formatUint(available)
	return evt
}

// NewTokenConsumedEvent is emitted when a brand consumes a listing.
func NewTokenConsumedEvent(o *Order, payment, price uint64) *types.Event {
	evt := newOrderEvent(EventTypeTokenConsumed, o)
	evt.Attributes["payment"] = formatUint(payment)
	evt.Attributes["marketPrice"] = formatUint(price)
	return evt
}

// NewBalanceUpdatedEvent is emitted for oracle balance assignments.
func NewBalanceUpdatedEvent(code []byte, producer [20]byte, previous, value uint64) *types.Event {
	return &types.Event{Type: EventTypeBalanceUpdated, Attributes: map[string]string{
		"code":     hex.EncodeToString(code),
		"producer": crypto.FormatRaw(producer),
		"previous": formatUint(previous),
		"balance":  formatUint(value),
	}}
}

// NewTokensRedeemedEvent is emitted when tokens leave a user's balance.
func NewTokensRedeemedEvent(user [20]byte, value, remaining uint64) *types.Event {
	return &types.Event{Type: EventTypeTokensRedeemed, Attributes: map[string]string{
		"user":      crypto.FormatRaw(user),
		"value":     formatUint(value),
		"remaining": formatUint(remaining),
	}}
}

func NewBrandRegisteredEvent(brand [20]byte) *types.Event {
	return &types.Event{Type: EventTypeBrandRegistered, Attributes: map[string]string{
		"brand": crypto.FormatRaw(brand),
	}}
}

func NewGenStationClaimedEvent(code []byte, producer [20]byte, previous *[20]byte) *types.Event {
	attrs := map[string]string{
		"code":     hex.EncodeToString(code),
		"producer": crypto.FormatRaw(producer),
	}
	if previous != nil {
		attrs["previous"] = crypto.FormatRaw(*previous)
	}
	return &types.Event{Type: EventTypeGenStationClaimed, Attributes: attrs}
}

func NewSensorVerifiedEvent(sensor [32]byte, caller [20]byte) *types.Event {
	return &types.Event{Type: EventTypeSensorVerified, Attributes: map[string]string{
		"sensor": hex.EncodeToString(sensor[:]),
		"caller": crypto.FormatRaw(caller),
	}}
}

// NewPromotionSecretStoredEvent deliberately omits the secret itself.
func NewPromotionSecretStoredEvent(owner [20]byte, size int) *types.Event {
	return &types.Event{Type: EventTypePromotionSecretStored, Attributes: map[string]string{
		"owner": crypto.FormatRaw(owner),
		"size":  strconv.Itoa(size),
	}}
}
