package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind identifies the state transition an audit event records.
type EventKind string

const (
	EventDeposit   EventKind = "deposit"
	EventWithdraw  EventKind = "withdraw"
	EventOrder     EventKind = "order"
	EventCancel    EventKind = "cancel"
	EventTrade     EventKind = "trade"
	EventFlashLoan EventKind = "flash_loan"
)

// Event is the audit envelope emitted after every committed mutation.
// Failed operations never emit.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp int64     `json:"timestamp"` // Unix milliseconds
	Payload   any       `json:"payload,omitempty"`
}

// BalanceChange is the payload for deposit and withdraw events.
// Balance is the custody entry after the movement.
type BalanceChange struct {
	Asset   common.Address `json:"asset"`
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
	Balance *big.Int       `json:"balance"`
}

// OrderChange is the payload for order-created and cancel events.
type OrderChange struct {
	Order Order `json:"order"`
}

// Trade is the payload for fill events. Maker is the order's creator,
// Filler the taker whose payment the fee was deducted from.
type Trade struct {
	OrderID    uint64         `json:"orderId"`
	Filler     common.Address `json:"filler"`
	Maker      common.Address `json:"maker"`
	AssetGet   common.Address `json:"assetGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	AssetGive  common.Address `json:"assetGive"`
	AmountGive *big.Int       `json:"amountGive"`
	Fee        *big.Int       `json:"fee"`
}

// LoanGrant is the payload for flash-loan events.
type LoanGrant struct {
	Asset     common.Address `json:"asset"`
	Recipient common.Address `json:"recipient"`
	Amount    *big.Int       `json:"amount"`
	Fee       *big.Int       `json:"fee"`
}

// Sink receives committed audit events. Publish must not block for long;
// it runs inside the engine's critical section.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }
