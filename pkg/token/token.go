package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Failure kinds surfaced by ledger operations. Callers match with errors.Is.
var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrInvalidRecipient      = errors.New("invalid recipient address")
	ErrInvalidAmount         = errors.New("invalid token amount")
)

// Ledger is the fungible-asset interface the exchange engine consumes.
// There is no ambient transaction sender in-process, so the acting account
// (from / owner / spender) is passed explicitly on every mutating call.
//
// Snapshot/Restore is the transactional hook the flash-loan issuer uses to
// undo a loan whose recipient failed to repay.
type Ledger interface {
	Address() common.Address
	BalanceOf(account common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) error
	Approve(owner, spender common.Address, amount *big.Int) error
	Allowance(owner, spender common.Address) *big.Int
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
	Snapshot() *Snapshot
	Restore(snap *Snapshot)
}

// Token is an in-process fungible asset ledger with standard
// balance/transfer/approve semantics. The full supply is minted to the
// deployer at construction.
type Token struct {
	name     string
	symbol   string
	decimals uint8
	supply   *big.Int
	addr     common.Address

	mu         sync.RWMutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int // owner -> spender -> amount
}

var _ Ledger = (*Token)(nil)

// New creates a token and mints supply (in whole tokens, scaled by 10^18)
// to the deployer. The token's address is derived from its name and symbol
// so a fixed demo set gets stable identities across restarts.
func New(name, symbol string, supply uint64, deployer common.Address) *Token {
	t := &Token{
		name:       name,
		symbol:     symbol,
		decimals:   18,
		supply:     Units(int64(supply)),
		addr:       deriveAddress(name, symbol),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
	t.balances[deployer] = new(big.Int).Set(t.supply)
	return t
}

// Units scales n whole tokens to the smallest unit (18 decimals).
func Units(n int64) *big.Int {
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), exp)
}

// deriveAddress computes a stable pseudo-address: last 20 bytes of
// keccak256(name || ":" || symbol).
func deriveAddress(name, symbol string) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	h.Write([]byte{':'})
	h.Write([]byte(symbol))
	sum := h.Sum(nil)
	return common.BytesToAddress(sum[12:])
}

func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }
func (t *Token) Address() common.Address { return t.addr }

func (t *Token) TotalSupply() *big.Int {
	return new(big.Int).Set(t.supply)
}

// BalanceOf returns the account's balance (0 if absent). The result is a copy.
func (t *Token) BalanceOf(account common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if bal, ok := t.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Transfer moves amount from one account to another.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidRecipient)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// Approve sets spender's allowance over owner's balance.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return fmt.Errorf("%w: zero spender", ErrInvalidRecipient)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns the remaining amount spender may move from owner.
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

// TransferFrom moves amount from the owner using spender's allowance.
// The allowance is consumed before the balance moves.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidRecipient)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := new(big.Int)
	if m, ok := t.allowances[from]; ok {
		if a, ok := m[spender]; ok {
			allowed = a
		}
	}
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: approved %s, need %s", ErrInsufficientAllowance, allowed, amount)
	}

	if err := t.move(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

// move transfers balance between accounts. Caller holds t.mu.
func (t *Token) move(from, to common.Address, amount *big.Int) error {
	bal, ok := t.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		have := new(big.Int)
		if ok {
			have = bal
		}
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, have, amount)
	}
	bal.Sub(bal, amount)
	if dst, ok := t.balances[to]; ok {
		dst.Add(dst, amount)
	} else {
		t.balances[to] = new(big.Int).Set(amount)
	}
	return nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return nil
}

// Snapshot is a full copy of a token's mutable state.
type Snapshot struct {
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// Snapshot captures the current balances and allowances.
func (t *Token) Snapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := &Snapshot{
		balances:   make(map[common.Address]*big.Int, len(t.balances)),
		allowances: make(map[common.Address]map[common.Address]*big.Int, len(t.allowances)),
	}
	for acc, bal := range t.balances {
		snap.balances[acc] = new(big.Int).Set(bal)
	}
	for owner, m := range t.allowances {
		cp := make(map[common.Address]*big.Int, len(m))
		for spender, a := range m {
			cp[spender] = new(big.Int).Set(a)
		}
		snap.allowances[owner] = cp
	}
	return snap
}

// Restore replaces the token's state with a previously captured snapshot.
func (t *Token) Restore(snap *Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.balances = make(map[common.Address]*big.Int, len(snap.balances))
	for acc, bal := range snap.balances {
		t.balances[acc] = new(big.Int).Set(bal)
	}
	t.allowances = make(map[common.Address]map[common.Address]*big.Int, len(snap.allowances))
	for owner, m := range snap.allowances {
		cp := make(map[common.Address]*big.Int, len(m))
		for spender, a := range m {
			cp[spender] = new(big.Int).Set(a)
		}
		t.allowances[owner] = cp
	}
}
