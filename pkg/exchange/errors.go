package exchange

import "errors"

// Engine failure kinds. Every failed operation terminates with zero persisted
// side effects and wraps one of these so callers can match with errors.Is.
// Asset-ledger failures (insufficient token balance/allowance, invalid
// recipient) propagate verbatim from pkg/token.
var (
	// ErrInvalidAmount rejects zero or negative movement requests.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance means a custody entry is too low for the
	// requested movement.
	ErrInsufficientBalance = errors.New("insufficient custody balance")

	// ErrUnauthorized means the caller is not the order's maker.
	ErrUnauthorized = errors.New("caller is not the order maker")

	// ErrInvalidOrderState means the order does not exist or is not open.
	ErrInvalidOrderState = errors.New("order does not exist or is not open")

	// ErrInsufficientLoanFunds means a flash loan exceeds on-hand holdings.
	ErrInsufficientLoanFunds = errors.New("insufficient funds to loan")

	// ErrRepaymentShortfall means a flash-loan recipient failed to restore
	// the required balance; the loan was fully undone.
	ErrRepaymentShortfall = errors.New("flash loan repayment shortfall")
)
