package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"hmchain/crypto"
	"hmchain/native/market"
)

// Method names accepted by Submit and Query.
const (
	MethodInit                     = "init"
	MethodAddPromotionSecret       = "add_promotion_secret"
	MethodRegisterAsBrand          = "register_as_brand"
	MethodAddGenStation            = "add_gen_station"
	MethodUpdateHMTokenBalance     = "update_hm_token_balance"
	MethodReturnHMBalance          = "return_hm_balance"
	MethodListOrder                = "list_order"
	MethodCreateBuyOrder           = "create_buy_order"
	MethodTakeOnOption             = "take_on_option"
	MethodConsumeToken             = "consume_token"
	MethodExerciseOption           = "exercise_option"
	MethodEndOption                = "end_option"
	MethodRedeemTokens             = "redeem_tokens"
	MethodCheckExpiredOptions      = "check_expired_options"
	MethodUpdateTime               = "update_time"
	MethodCheckVerifiedSensors     = "check_verified_sensors"
	MethodIsVerified               = "is_verified"
	MethodIsBrand                  = "is_brand"
	MethodGetAllEligiblePromotions = "get_all_eligible_promotions"
	MethodReturnOrdersArrayLength  = "return_orders_array_length"
	MethodGetOrder                 = "get_order"
	MethodMarketPrice              = "market_price"
	MethodRecBalance               = "rec_balance"
	MethodLatestTimestamp          = "latest_timestamp"
)

// CodeParams carries a generation station or sensor code.
type CodeParams struct {
	Code hexutil.Bytes `json:"code"`
}

type SecretParams struct {
	Secret hexutil.Bytes `json:"secret"`
}

type UpdateBalanceParams struct {
	Code  hexutil.Bytes `json:"code"`
	Value uint64        `json:"value"`
}

type ListOrderParams struct {
	SellPrice   uint64 `json:"sellPrice"`
	Tokens      uint64 `json:"tokens"`
	OptionPrice uint64 `json:"optionPrice"`
	Duration    uint64 `json:"duration"`
}

type OrderParams struct {
	OrderID uint64 `json:"orderId"`
}

type RedeemParams struct {
	Value uint64 `json:"value"`
	User  string `json:"user"`
}

type AddressParams struct {
	Address string `json:"address"`
}

// OrderView is the JSON shape of an order.
type OrderView struct {
	OrderID        uint64 `json:"orderId"`
	Seller         string `json:"seller"`
	Owner          string `json:"owner"`
	SellPrice      uint64 `json:"sellPrice"`
	Tokens         uint64 `json:"tokens"`
	OptionFee      uint64 `json:"optionFee"`
	OptionDuration uint64 `json:"optionDuration"`
	CreatedAt      uint64 `json:"createdAt"`
	Fulfilled      bool   `json:"fulfilled"`
	IsBuy          bool   `json:"isBuy"`
	IsSale         bool   `json:"isSale"`
	IsOption       bool   `json:"isOption"`
	Status         string `json:"status"`
}

func newOrderView(o *market.Order) OrderView {
	return OrderView{
		OrderID:        o.OrderID,
		Seller:         crypto.FormatRaw(o.Seller),
		Owner:          crypto.FormatRaw(o.Owner),
		SellPrice:      o.SellPrice,
		Tokens:         o.Tokens,
		OptionFee:      o.OptionFee,
		OptionDuration: o.OptionDuration,
		CreatedAt:      o.CreatedAt,
		Fulfilled:      o.Fulfilled,
		IsBuy:          o.IsBuy,
		IsSale:         o.IsSale,
		IsOption:       o.IsOption,
		Status:         string(o.Status()),
	}
}

type handlerFunc func(engine *market.Engine, env market.Env, params json.RawMessage) (interface{}, error)

type handler struct {
	mutates bool
	run     handlerFunc
}

var handlers = map[string]handler{
	MethodInit: {mutates: true, run: func(e *market.Engine, env market.Env, _ json.RawMessage) (interface{}, error) {
		return nil, e.Init(env)
	}},
	MethodAddPromotionSecret: {mutates: true, run: func(e *market.Engine, env market.Env, raw json.RawMessage) (interface{}, error) {
		var p SecretParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, e.AddPromotionSecret(env, p.Secret)
	}},
	MethodRegisterAsBrand: {mutates: true, run: func(e *market.Engine, env market.Env, _ json.RawMessage) (interface{}, error) {
		return nil, e.RegisterAsBrand(env)
	}},
	MethodAddGenStation: {mutates: true, run: func(e *market.Engine, env market.Env, raw json.RawMessage) (interface{}, error) {
		var p CodeParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, e.AddGenStation(env, p.Code)
	}},
	MethodUpdateHMTokenBalance: {mutates: true, run: func(e *market.Engine, env market.Env, raw json.RawMessage) (interface{}, error) {
		var p UpdateBalanceParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, e.UpdateHMTokenBalance(env, p.Code, p.Value)
	}},
	MethodReturnHMBalance: {run: func(e *market.Engine, env market.Env, _ json.RawMessage) (interface{}, error) {
		return e.ReturnHMBalance(env)
	}},
	MethodListOrder: {mutates: true, run: func(e *market.Engine, env market.Env, raw json.RawMessage) (interface{}, error) {
		var p ListOrderParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return e.ListOrder(env, p.SellPrice, p.Tokens, p.OptionPrice, p.Duration)
	}},
	MethodCreateBuyOrder: orderHandler((*market.Engine).CreateBuyOrder),
	MethodTakeOnOption:   orderHandler((*market.Engine).TakeOnOption),
	MethodConsumeToken:   orderHandler((*market.Engine).ConsumeToken),
	MethodExerciseOption: orderHandler((*market.Engine).ExerciseOption),
	MethodEndOption:      orderHandler((*market.Engine).EndOption),
	MethodRedeemTokens: {mutates: true, run: func(e *market.Engine, env market.Env, raw json.RawMessage) (interface{}, error) {
		var p RedeemParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		user, err := decodeAddress(p.User)
		if err != nil {
			return nil, err
		}
		return nil, e.RedeemTokens(env, p.Value, user)
	}},
	MethodCheckExpiredOptions: {mutates: true, run: func(e *market.Engine, env market.Env, _ json.RawMessage) (interface{}, error) {
		return nil, e.CheckExpiredOptions(env)
	}},
	MethodUpdateTime: {mutates: true, run: func(e *market.Engine, env market.Env, _ json.RawMessage) (interface{}, error) {
		return nil, e.UpdateTime(env)
	}},
	MethodCheckVerifiedSensors: {mutates: true, run: func(e *market.Engine, env market.Env, raw json.RawMessage) (interface{}, error) {
		var p CodeParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return e.CheckVerifiedSensors(env, p.Code)
	}},
	MethodIsVerified: {run: func(e *market.Engine, _ market.Env, _ json.RawMessage) (interface{}, error) {
		return e.IsVerified()
	}},
	MethodIsBrand: {run: func(e *market.Engine, _ market.Env, raw json.RawMessage) (interface{}, error) {
		addr, err := decodeAddressParams(raw)
		if err != nil {
			return nil, err
		}
		return e.IsBrand(addr)
	}},
	MethodGetAllEligiblePromotions: {run: func(e *market.Engine, _ market.Env, raw json.RawMessage) (interface{}, error) {
		addr, err := decodeAddressParams(raw)
		if err != nil {
			return nil, err
		}
		queue, err := e.GetAllEligiblePromotions(addr)
		if err != nil {
			return nil, err
		}
		out := make([]hexutil.Bytes, len(queue))
		for i, secret := range queue {
			out[i] = secret
		}
		return out, nil
	}},
	MethodReturnOrdersArrayLength: {run: func(e *market.Engine, _ market.Env, _ json.RawMessage) (interface{}, error) {
		return e.ReturnOrdersArrayLength()
	}},
	MethodGetOrder: {run: func(e *market.Engine, _ market.Env, raw json.RawMessage) (interface{}, error) {
		var p OrderParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		order, err := e.Order(p.OrderID)
		if err != nil {
			return nil, err
		}
		return newOrderView(order), nil
	}},
	MethodMarketPrice: {run: func(e *market.Engine, _ market.Env, _ json.RawMessage) (interface{}, error) {
		return e.MarketPrice()
	}},
	MethodRecBalance: {run: func(e *market.Engine, _ market.Env, raw json.RawMessage) (interface{}, error) {
		addr, err := decodeAddressParams(raw)
		if err != nil {
			return nil, err
		}
		return e.RecBalance(addr)
	}},
	MethodLatestTimestamp: {run: func(e *market.Engine, _ market.Env, _ json.RawMessage) (interface{}, error) {
		return e.LatestTimestamp()
	}},
}

func orderHandler(action func(*market.Engine, market.Env, uint64) error) handler {
	return handler{mutates: true, run: func(e *market.Engine, env market.Env, raw json.RawMessage) (interface{}, error) {
		var p OrderParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, action(e, env, p.OrderID)
	}}
}

// Methods returns the dispatch names and whether each mutates state.
func Methods() map[string]bool {
	out := make(map[string]bool, len(handlers))
	for name, h := range handlers {
		out[name] = h.mutates
	}
	return out
}

func lookupHandler(method string) (handler, error) {
	h, ok := handlers[strings.TrimSpace(method)]
	if !ok {
		return handler{}, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return h, nil
}

func decodeParams(raw json.RawMessage, out interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: params required", ErrInvalidParams)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

func decodeAddressParams(raw json.RawMessage) ([20]byte, error) {
	var p AddressParams
	if err := decodeParams(raw, &p); err != nil {
		return [20]byte{}, err
	}
	return decodeAddress(p.Address)
}

func decodeAddress(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: address: %v", ErrInvalidParams, err)
	}
	return addr.Raw(), nil
}
