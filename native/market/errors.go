package market

import "errors"

var (
	ErrInsufficientPayment    = errors.New("market: insufficient value sent")
	ErrAlreadyFulfilled       = errors.New("market: order already fulfilled")
	ErrInsufficientBalance    = errors.New("market: insufficient HM token balance")
	ErrNotBrand               = errors.New("market: caller is not a brand")
	ErrPromotionSecretMissing = errors.New("market: brand has no promotion secret")
	ErrGenStationUnknown      = errors.New("market: generation station code not registered")
	ErrGenStationClaimed      = errors.New("market: generation station code already claimed")
	ErrOrderNotFound          = errors.New("market: order not found")
	ErrInvalidOrder           = errors.New("market: invalid order")
	ErrInvalidSecret          = errors.New("market: invalid promotion secret")
	ErrInvalidCode            = errors.New("market: invalid generation station code")
	ErrOptionNotActive        = errors.New("market: order is not an active option")
	ErrOptionNotExpired       = errors.New("market: option window still open")
	ErrNotOptionOwner         = errors.New("market: caller does not hold the option")
	ErrBalanceOverflow        = errors.New("market: balance overflow")
	ErrUnauthorized           = errors.New("market: unauthorized")
	ErrAlreadyInitialised     = errors.New("market: already initialised")
	ErrNotInitialised         = errors.New("market: not initialised")
	errNilState               = errors.New("market engine: state not configured")
	errNilEnv                 = errors.New("market engine: host environment not provided")
)

var marketErrors = []error{
	ErrInsufficientPayment,
	ErrAlreadyFulfilled,
	ErrInsufficientBalance,
	ErrNotBrand,
	ErrPromotionSecretMissing,
	ErrGenStationUnknown,
	ErrGenStationClaimed,
	ErrOrderNotFound,
	ErrInvalidOrder,
	ErrInvalidSecret,
	ErrInvalidCode,
	ErrOptionNotActive,
	ErrOptionNotExpired,
	ErrNotOptionOwner,
	ErrBalanceOverflow,
	ErrUnauthorized,
	ErrAlreadyInitialised,
	ErrNotInitialised,
}

// IsMarketError reports whether err wraps one of the engine's rejection
// sentinels. State and host failures are not market errors.
func IsMarketError(err error) bool {
	for _, target := range marketErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
