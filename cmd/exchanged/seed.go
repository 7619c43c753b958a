package main

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/flashdex/flashdex/pkg/exchange"
	"github.com/flashdex/flashdex/pkg/token"
)

// seedDemo populates a fresh engine with demo activity: token distribution,
// deposits, a cancelled order, a few fills, a spread of open orders on both
// sides, and a handful of flash loans. Safe to skip on a reloaded database.
func seedDemo(eng *exchange.Exchange, fdx, musdc *token.Token, sugar *zap.SugaredLogger) error {
	if eng.OrderCount() > 0 {
		sugar.Infow("seed_skipped", "reason", "existing state", "order_count", eng.OrderCount())
		return nil
	}

	amount := token.Units(100_000)

	// Distribute tokens to the users
	if err := fdx.Transfer(deployer, user1, amount); err != nil {
		return fmt.Errorf("distribute FDX: %w", err)
	}
	if err := musdc.Transfer(deployer, user2, amount); err != nil {
		return fmt.Errorf("distribute mUSDC: %w", err)
	}

	// Users approve and deposit into the exchange
	if err := fdx.Approve(user1, eng.Address(), amount); err != nil {
		return err
	}
	if err := eng.Deposit(fdx.Address(), user1, amount); err != nil {
		return fmt.Errorf("deposit FDX: %w", err)
	}
	if err := musdc.Approve(user2, eng.Address(), amount); err != nil {
		return err
	}
	if err := eng.Deposit(musdc.Address(), user2, amount); err != nil {
		return fmt.Errorf("deposit mUSDC: %w", err)
	}

	// One cancelled order
	o, err := eng.MakeOrder(user1, musdc.Address(), token.Units(1), fdx.Address(), token.Units(1))
	if err != nil {
		return err
	}
	if err := eng.CancelOrder(user1, o.ID); err != nil {
		return err
	}

	// A few filled orders
	for i := int64(1); i <= 3; i++ {
		o, err := eng.MakeOrder(user1, musdc.Address(), token.Units(10), fdx.Address(), token.Units(10*i))
		if err != nil {
			return err
		}
		if err := eng.FillOrder(user2, o.ID); err != nil {
			return fmt.Errorf("fill order %d: %w", o.ID, err)
		}
	}

	// Open orders on both sides
	for i := int64(1); i <= 5; i++ {
		if _, err := eng.MakeOrder(user1, musdc.Address(), token.Units(10*i), fdx.Address(), token.Units(10)); err != nil {
			return err
		}
		if _, err := eng.MakeOrder(user2, fdx.Address(), token.Units(10), musdc.Address(), token.Units(10*i)); err != nil {
			return err
		}
	}

	// Flash loans against the custodied FDX inventory. The borrower just
	// returns the funds (plus fee, when configured) within the callback.
	borrowerAddr := common.HexToAddress("0x1000000000000000000000000000000000000004")
	if eng.LoanFeeBps() > 0 {
		// the borrower needs its own funds to cover the loan fee
		if err := fdx.Transfer(deployer, borrowerAddr, token.Units(100)); err != nil {
			return err
		}
	}
	borrower := exchange.BorrowerFunc{
		Addr: borrowerAddr,
		Callback: func(asset common.Address, amount *big.Int, data []byte) {
			fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(eng.LoanFeeBps()))
			fee.Div(fee, big.NewInt(10000))
			repay := new(big.Int).Add(amount, fee)
			if err := fdx.Transfer(borrowerAddr, eng.Address(), repay); err != nil {
				sugar.Warnw("seed_loan_repay", "error", err)
			}
		},
	}
	for i := 0; i < 3; i++ {
		if err := eng.FlashLoan(borrower, fdx.Address(), token.Units(1000), nil); err != nil {
			return fmt.Errorf("flash loan: %w", err)
		}
	}

	sugar.Infow("seed_complete", "order_count", eng.OrderCount())
	return nil
}
