package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus int8

const (
	OrderOpen OrderStatus = iota
	OrderFilled
	OrderCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText makes the status readable in JSON payloads.
func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "filled":
		*s = OrderFilled
	case "cancelled":
		*s = OrderCancelled
	default:
		*s = OrderOpen
	}
	return nil
}

// Order is a maker's standing, non-escrowed commitment to exchange
// AmountGive of AssetGive for AmountGet of AssetGet. The balance check at
// creation time is advisory only: the committed funds are not held, so the
// maker may withdraw them afterwards and the order becomes unfillable until
// the balance is restored.
//
// Orders are never deleted. Terminal states (filled, cancelled) are final.
type Order struct {
	ID         uint64         `json:"id"`
	Maker      common.Address `json:"maker"`
	AssetGet   common.Address `json:"assetGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	AssetGive  common.Address `json:"assetGive"`
	AmountGive *big.Int       `json:"amountGive"`
	CreatedAt  int64          `json:"createdAt"` // Unix milliseconds
	Status     OrderStatus    `json:"status"`
}

// clone returns a deep copy so callers can never mutate book state.
func (o *Order) clone() *Order {
	cp := *o
	cp.AmountGet = new(big.Int).Set(o.AmountGet)
	cp.AmountGive = new(big.Int).Set(o.AmountGive)
	return &cp
}
