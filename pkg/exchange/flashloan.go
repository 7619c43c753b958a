package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Recipient is the borrower side of a flash loan: a single callback the
// engine invokes after transferring the loan out. The callback's return
// carries no success signal; the loan succeeds only if the engine's holdings
// are restored (plus any configured fee) by the time it returns. The
// recipient runs inside the engine's critical section and must repay through
// the asset ledger directly, not through engine operations.
type Recipient interface {
	Address() common.Address
	OnFlashLoan(asset common.Address, amount *big.Int, data []byte)
}

// BorrowerFunc adapts a plain function to the Recipient interface.
type BorrowerFunc struct {
	Addr     common.Address
	Callback func(asset common.Address, amount *big.Int, data []byte)
}

func (b BorrowerFunc) Address() common.Address { return b.Addr }

func (b BorrowerFunc) OnFlashLoan(asset common.Address, amount *big.Int, data []byte) {
	if b.Callback != nil {
		b.Callback(asset, amount, data)
	}
}

// FlashLoan lends amount of asset out of the exchange's on-hand holdings to
// the recipient for the duration of one callback. The whole operation is
// all-or-nothing: if the recipient does not restore the holdings (plus the
// configured loan fee), the asset ledger is rolled back to its pre-loan
// snapshot and no event is emitted.
//
// This is the only operation where the custody invariant (ledger total <=
// on-hand holdings) is transiently violated, between the transfer-out and
// the post-callback check.
func (e *Exchange) FlashLoan(recipient Recipient, asset common.Address, amount *big.Int, data []byte) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: loan of %v", ErrInvalidAmount, amount)
	}
	ledger, err := e.assets.Get(asset)
	if err != nil {
		return err
	}

	balanceBefore := ledger.BalanceOf(e.addr)
	if balanceBefore.Cmp(amount) < 0 {
		return fmt.Errorf("%w: on hand %s, requested %s", ErrInsufficientLoanFunds, balanceBefore, amount)
	}

	fee := e.loanFee(amount)
	required := new(big.Int).Add(balanceBefore, fee)

	snap := ledger.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			ledger.Restore(snap)
			err = fmt.Errorf("%w: recipient panicked: %v", ErrRepaymentShortfall, r)
		}
	}()

	if err := ledger.Transfer(e.addr, recipient.Address(), amount); err != nil {
		return err
	}

	recipient.OnFlashLoan(asset, amount, data)

	if after := ledger.BalanceOf(e.addr); after.Cmp(required) < 0 {
		ledger.Restore(snap)
		return fmt.Errorf("%w: have %s, need %s", ErrRepaymentShortfall, after, required)
	}

	ev := Event{
		Kind:      EventFlashLoan,
		Timestamp: e.now(),
		Payload: LoanGrant{
			Asset:     asset,
			Recipient: recipient.Address(),
			Amount:    new(big.Int).Set(amount),
			Fee:       fee,
		},
	}
	// No custody entries changed; only the event needs recording.
	if err := e.commit(ev, func(b StateBatch) error { return nil }); err != nil {
		return err
	}

	e.log.Info("flash_loan",
		zap.String("asset", asset.Hex()),
		zap.String("recipient", recipient.Address().Hex()),
		zap.String("amount", amount.String()),
		zap.String("fee", fee.String()))
	return nil
}

// loanFee computes amount * loanFeeBps / 10000, truncating toward zero.
func (e *Exchange) loanFee(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(e.loanFeeBps))
	return fee.Div(fee, big.NewInt(10000))
}
