package api

// Request/response DTOs for the REST endpoints and WebSocket messages.
// Amounts cross the wire as decimal strings in the asset's smallest unit.

// ==============================
// REST Response Types
// ==============================

// ConfigInfo mirrors the engine's immutable deployment configuration.
type ConfigInfo struct {
	Exchange   string `json:"exchange"`   // exchange's custody address
	FeeAccount string `json:"feeAccount"` // account credited with fill fees
	FeePercent uint64 `json:"feePercent"` // integer percent on the taker's payment
	LoanFeeBps uint64 `json:"loanFeeBps"` // flash-loan fee, basis points
}

// AssetInfo describes a registered asset ledger.
type AssetInfo struct {
	Address  string `json:"address"`
	Name     string `json:"name,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals uint8  `json:"decimals,omitempty"`
	// OnHand is the exchange's holdings of this asset in the asset ledger
	// (custody total plus any engine-owned float).
	OnHand string `json:"onHand"`
}

// BalanceInfo is a single custody entry.
type BalanceInfo struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Balance string `json:"balance"`
}

// OrderInfo is an order in the book (open or terminal).
type OrderInfo struct {
	ID         uint64 `json:"id"`
	Maker      string `json:"maker"`
	AssetGet   string `json:"assetGet"`
	AmountGet  string `json:"amountGet"`
	AssetGive  string `json:"assetGive"`
	AmountGive string `json:"amountGive"`
	CreatedAt  int64  `json:"createdAt"` // Unix milliseconds
	Status     string `json:"status"`    // "open", "filled", "cancelled"
}

// StateInfo is the engine's audit checkpoint.
type StateInfo struct {
	Digest     string `json:"digest"` // keccak-256 of canonical engine state
	OrderCount uint64 `json:"orderCount"`
}

// ErrorResponse carries the failure kind of a rejected operation.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ==============================
// REST Request Types
// ==============================

// MoveRequest is a deposit or withdrawal.
type MoveRequest struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// MakeOrderRequest creates an order.
type MakeOrderRequest struct {
	Maker      string `json:"maker"`
	AssetGet   string `json:"assetGet"`
	AmountGet  string `json:"amountGet"`
	AssetGive  string `json:"assetGive"`
	AmountGive string `json:"amountGive"`
}

// OrderActionRequest cancels or fills an existing order.
type OrderActionRequest struct {
	Caller string `json:"caller"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest subscribes a client to event kinds
// (e.g. "deposit", "trade", "flash_loan").
type WSSubscribeRequest struct {
	Op    string   `json:"op"` // "subscribe" or "unsubscribe"
	Kinds []string `json:"kinds"`
}
