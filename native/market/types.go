package market

// OrderStatus is derived from an order's flags; it is never persisted.
type OrderStatus string

const (
	OrderStatusListed       OrderStatus = "listed"
	OrderStatusOptionActive OrderStatus = "option_active"
	OrderStatusSold         OrderStatus = "sold"
)

// Order is a single slot of the order book. OrderID equals the slot index.
type Order struct {
	OrderID        uint64
	Seller         [20]byte
	Owner          [20]byte
	SellPrice      uint64
	Tokens         uint64
	OptionFee      uint64
	OptionDuration uint64
	CreatedAt      uint64
	Fulfilled      bool
	IsBuy          bool
	IsSale         bool
	IsOption       bool
}

// Clone returns a copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// Status reports the lifecycle position of the slot.
func (o *Order) Status() OrderStatus {
	switch {
	case o == nil || !o.Fulfilled:
		return OrderStatusListed
	case o.OptionDuration > 0:
		return OrderStatusOptionActive
	default:
		return OrderStatusSold
	}
}

// OptionActive reports whether a taker currently holds the slot under an
// open option window.
func (o *Order) OptionActive() bool {
	return o != nil && o.Fulfilled && o.OptionDuration > 0
}

// expiredAt reports whether the option window closed strictly before now.
// Windows whose end overflows u64 never close.
func (o *Order) expiredAt(now uint64) bool {
	if !o.OptionActive() {
		return false
	}
	deadline := o.CreatedAt + o.OptionDuration
	if deadline < o.CreatedAt {
		return false
	}
	return deadline < now
}
