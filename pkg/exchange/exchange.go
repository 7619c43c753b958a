package exchange

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/flashdex/flashdex/pkg/token"
	"github.com/flashdex/flashdex/pkg/util"
)

// Config is the engine's immutable deployment configuration.
type Config struct {
	// Address identifies the exchange itself in the asset ledgers; all
	// custodied funds sit under this account.
	Address common.Address
	// FeeAccount is credited with the fill fee.
	FeeAccount common.Address
	// FeePercent is the integer percentage applied to the taker's payment.
	FeePercent uint64
	// LoanFeeBps is the flash-loan fee in basis points (0 = free).
	LoanFeeBps uint64
}

// Exchange is the custodial exchange engine: a custody ledger of per-(asset,
// account) balances, an append-only order book, and a flash-loan issuer over
// the custodied inventory.
//
// One mutex serializes all public operations (single-writer model). External
// calls into asset ledgers happen after the relevant custody mutation, so
// observers never see a state where funds left custody but the entry is
// unchanged. Flash-loan recipients run inside the critical section and must
// interact with the asset ledger only, never back into the engine.
type Exchange struct {
	mu sync.Mutex

	addr       common.Address
	feeAccount common.Address
	feePercent uint64
	loanFeeBps uint64

	assets *token.Registry

	balances   map[common.Address]map[common.Address]*big.Int // asset -> account -> amount
	orders     map[uint64]*Order
	orderCount uint64
	eventSeq   uint64

	store Persister // optional durability; nil = ephemeral
	sinks []Sink
	now   func() int64
	log   *zap.Logger
}

// Option configures an Exchange at construction time.
type Option func(*Exchange)

// WithStore attaches persistence. Existing state is reloaded.
func WithStore(s Persister) Option {
	return func(e *Exchange) { e.store = s }
}

// WithSink subscribes an audit event sink.
func WithSink(s Sink) Option {
	return func(e *Exchange) { e.sinks = append(e.sinks, s) }
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() int64) Option {
	return func(e *Exchange) { e.now = now }
}

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Exchange) { e.log = log }
}

// New creates an engine over the given asset registry.
func New(cfg Config, assets *token.Registry, opts ...Option) (*Exchange, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("exchange address must not be zero")
	}

	e := &Exchange{
		addr:       cfg.Address,
		feeAccount: cfg.FeeAccount,
		feePercent: cfg.FeePercent,
		loanFeeBps: cfg.LoanFeeBps,
		assets:     assets,
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		orders:     make(map[uint64]*Order),
		now:        util.NowMillis,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store != nil {
		st, err := e.store.LoadState()
		if err != nil {
			return nil, fmt.Errorf("failed to reload state: %w", err)
		}
		e.balances = st.Balances
		e.orders = st.Orders
		e.orderCount = st.OrderCount
		e.eventSeq = st.EventSeq
	}
	return e, nil
}

// Subscribe attaches an additional audit event sink after construction.
func (e *Exchange) Subscribe(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

func (e *Exchange) Address() common.Address    { return e.addr }
func (e *Exchange) FeeAccount() common.Address { return e.feeAccount }
func (e *Exchange) FeePercent() uint64         { return e.feePercent }
func (e *Exchange) LoanFeeBps() uint64         { return e.loanFeeBps }

// Deposit pulls amount of asset from the depositor's asset-ledger balance
// into custody. The depositor must have approved the exchange for at least
// amount beforehand; allowance or balance shortfalls propagate from the
// ledger and leave custody untouched.
func (e *Exchange) Deposit(asset, from common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: deposit of %v", ErrInvalidAmount, amount)
	}
	ledger, err := e.assets.Get(asset)
	if err != nil {
		return err
	}

	// Consumes the depositor's pre-approved allowance for the exchange.
	allowance := ledger.Allowance(from, e.addr)
	if err := ledger.TransferFrom(e.addr, from, e.addr, amount); err != nil {
		return err
	}

	balance := e.credit(asset, from, amount)
	ev := Event{
		Kind:      EventDeposit,
		Timestamp: e.now(),
		Payload: BalanceChange{
			Asset:   asset,
			Account: from,
			Amount:  new(big.Int).Set(amount),
			Balance: balance,
		},
	}
	if err := e.commit(ev, func(b StateBatch) error {
		return b.SetBalance(asset, from, balance)
	}); err != nil {
		// Unwind the pull: return the tokens and the consumed allowance, drop
		// the custody credit. The deposit never happened.
		e.debit(asset, from, amount)
		if uerr := ledger.Transfer(e.addr, from, amount); uerr != nil {
			e.log.Error("deposit_unwind_failed",
				zap.String("asset", asset.Hex()),
				zap.String("account", from.Hex()),
				zap.Error(uerr))
		} else if uerr := ledger.Approve(from, e.addr, allowance); uerr != nil {
			e.log.Error("deposit_unwind_failed",
				zap.String("asset", asset.Hex()),
				zap.String("account", from.Hex()),
				zap.Error(uerr))
		}
		return err
	}

	e.log.Info("deposit",
		zap.String("asset", asset.Hex()),
		zap.String("account", from.Hex()),
		zap.String("amount", amount.String()),
		zap.String("balance", balance.String()))
	return nil
}

// Withdraw pushes amount of asset back out of custody to the owner. The
// custody entry is debited before the external transfer so a re-entrant
// observer can never double-spend the old entry.
func (e *Exchange) Withdraw(asset, to common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: withdrawal of %v", ErrInvalidAmount, amount)
	}
	ledger, err := e.assets.Get(asset)
	if err != nil {
		return err
	}

	have := e.custody(asset, to)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, have, amount)
	}

	balance := e.debit(asset, to, amount)
	if err := ledger.Transfer(e.addr, to, amount); err != nil {
		// Undo the debit; the external transfer never happened.
		e.credit(asset, to, amount)
		return err
	}

	ev := Event{
		Kind:      EventWithdraw,
		Timestamp: e.now(),
		Payload: BalanceChange{
			Asset:   asset,
			Account: to,
			Amount:  new(big.Int).Set(amount),
			Balance: balance,
		},
	}
	if err := e.commit(ev, func(b StateBatch) error {
		return b.SetBalance(asset, to, balance)
	}); err != nil {
		// Unwind the payout and restore the entry. Without this a reloaded
		// node would resurrect the old entry and pay the same funds twice.
		if uerr := ledger.Transfer(to, e.addr, amount); uerr != nil {
			e.log.Error("withdraw_unwind_failed",
				zap.String("asset", asset.Hex()),
				zap.String("account", to.Hex()),
				zap.Error(uerr))
		}
		e.credit(asset, to, amount)
		return err
	}

	e.log.Info("withdraw",
		zap.String("asset", asset.Hex()),
		zap.String("account", to.Hex()),
		zap.String("amount", amount.String()),
		zap.String("balance", balance.String()))
	return nil
}

// TotalBalanceOf returns the custody entry for (asset, account), 0 if absent.
func (e *Exchange) TotalBalanceOf(asset, account common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.custody(asset, account))
}

// MakeOrder appends an open order committing the maker to exchange
// amountGive of assetGive for amountGet of assetGet. The maker must hold
// amountGive in custody at call time; the funds are NOT escrowed, so the
// order can later become unfillable if the maker withdraws them. Fill
// re-validates.
func (e *Exchange) MakeOrder(maker, assetGet common.Address, amountGet *big.Int, assetGive common.Address, amountGive *big.Int) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amountGet == nil || amountGet.Sign() <= 0 || amountGive == nil || amountGive.Sign() <= 0 {
		return nil, fmt.Errorf("%w: order amounts %v / %v", ErrInvalidAmount, amountGet, amountGive)
	}
	if _, err := e.assets.Get(assetGet); err != nil {
		return nil, err
	}
	if _, err := e.assets.Get(assetGive); err != nil {
		return nil, err
	}

	have := e.custody(assetGive, maker)
	if have.Cmp(amountGive) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, have, amountGive)
	}

	e.orderCount++
	o := &Order{
		ID:         e.orderCount,
		Maker:      maker,
		AssetGet:   assetGet,
		AmountGet:  new(big.Int).Set(amountGet),
		AssetGive:  assetGive,
		AmountGive: new(big.Int).Set(amountGive),
		CreatedAt:  e.now(),
		Status:     OrderOpen,
	}
	e.orders[o.ID] = o

	ev := Event{Kind: EventOrder, Timestamp: o.CreatedAt, Payload: OrderChange{Order: *o.clone()}}
	if err := e.commit(ev, func(b StateBatch) error {
		if err := b.SaveOrder(o); err != nil {
			return err
		}
		return b.SetOrderCount(e.orderCount)
	}); err != nil {
		// Persistence failed: take the order back out of the book.
		delete(e.orders, o.ID)
		e.orderCount--
		return nil, err
	}

	e.log.Info("order_created",
		zap.Uint64("id", o.ID),
		zap.String("maker", maker.Hex()),
		zap.String("amount_get", amountGet.String()),
		zap.String("amount_give", amountGive.String()))
	return o.clone(), nil
}

// CancelOrder transitions an open order to cancelled. Only the maker may
// cancel, and only while the order is open. No funds move: the commitment
// was advisory.
func (e *Exchange) CancelOrder(caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok || o.Status != OrderOpen {
		return fmt.Errorf("%w: order %d", ErrInvalidOrderState, id)
	}
	if o.Maker != caller {
		return fmt.Errorf("%w: order %d belongs to %s", ErrUnauthorized, id, o.Maker.Hex())
	}

	o.Status = OrderCancelled
	ev := Event{Kind: EventCancel, Timestamp: e.now(), Payload: OrderChange{Order: *o.clone()}}
	if err := e.commit(ev, func(b StateBatch) error {
		return b.SaveOrder(o)
	}); err != nil {
		o.Status = OrderOpen
		return err
	}

	e.log.Info("order_cancelled", zap.Uint64("id", id), zap.String("maker", caller.Hex()))
	return nil
}

// FillOrder settles an open order between its maker and the filler. The fee
// (amountGet * feePercent / 100, truncating) is paid by the filler on top of
// the maker's asking amount and credited to the fee account. Both sides'
// custody balances are re-validated before anything moves, so a maker who
// withdrew the committed funds after creation fails the fill with no partial
// effect.
func (e *Exchange) FillOrder(filler common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok || o.Status != OrderOpen {
		return fmt.Errorf("%w: order %d", ErrInvalidOrderState, id)
	}

	fee := e.fillFee(o.AmountGet)
	cost := new(big.Int).Add(o.AmountGet, fee)

	if have := e.custody(o.AssetGet, filler); have.Cmp(cost) < 0 {
		return fmt.Errorf("%w: filler has %s, needs %s", ErrInsufficientBalance, have, cost)
	}
	// The maker's commitment was never escrowed; re-check it now.
	if have := e.custody(o.AssetGive, o.Maker); have.Cmp(o.AmountGive) < 0 {
		return fmt.Errorf("%w: maker has %s, order gives %s", ErrInsufficientBalance, have, o.AmountGive)
	}

	fillerGet := e.debit(o.AssetGet, filler, cost)
	makerGet := e.credit(o.AssetGet, o.Maker, o.AmountGet)
	feeBal := e.credit(o.AssetGet, e.feeAccount, fee)
	makerGive := e.debit(o.AssetGive, o.Maker, o.AmountGive)
	fillerGive := e.credit(o.AssetGive, filler, o.AmountGive)
	o.Status = OrderFilled

	ev := Event{
		Kind:      EventTrade,
		Timestamp: e.now(),
		Payload: Trade{
			OrderID:    o.ID,
			Filler:     filler,
			Maker:      o.Maker,
			AssetGet:   o.AssetGet,
			AmountGet:  new(big.Int).Set(o.AmountGet),
			AssetGive:  o.AssetGive,
			AmountGive: new(big.Int).Set(o.AmountGive),
			Fee:        fee,
		},
	}
	if err := e.commit(ev, func(b StateBatch) error {
		if err := b.SetBalance(o.AssetGet, filler, fillerGet); err != nil {
			return err
		}
		if err := b.SetBalance(o.AssetGet, o.Maker, makerGet); err != nil {
			return err
		}
		if err := b.SetBalance(o.AssetGet, e.feeAccount, feeBal); err != nil {
			return err
		}
		if err := b.SetBalance(o.AssetGive, o.Maker, makerGive); err != nil {
			return err
		}
		if err := b.SetBalance(o.AssetGive, filler, fillerGive); err != nil {
			return err
		}
		return b.SaveOrder(o)
	}); err != nil {
		// Roll the settlement back; the batch never committed.
		e.credit(o.AssetGet, filler, cost)
		e.debit(o.AssetGet, o.Maker, o.AmountGet)
		e.debit(o.AssetGet, e.feeAccount, fee)
		e.credit(o.AssetGive, o.Maker, o.AmountGive)
		e.debit(o.AssetGive, filler, o.AmountGive)
		o.Status = OrderOpen
		return err
	}

	e.log.Info("order_filled",
		zap.Uint64("id", id),
		zap.String("filler", filler.Hex()),
		zap.String("maker", o.Maker.Hex()),
		zap.String("fee", fee.String()))
	return nil
}

// OrderCount returns the number of orders ever created.
func (e *Exchange) OrderCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orderCount
}

// Order returns a copy of the order with the given id.
func (e *Exchange) Order(id uint64) (*Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return nil, false
	}
	return o.clone(), true
}

// Orders returns copies of all orders, ascending by id.
func (e *Exchange) Orders() []*Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Order, 0, len(e.orders))
	for id := uint64(1); id <= e.orderCount; id++ {
		if o, ok := e.orders[id]; ok {
			out = append(out, o.clone())
		}
	}
	return out
}

// RecentEvents returns persisted audit events, newest first. Without a
// store the engine keeps no history and the result is empty.
func (e *Exchange) RecentEvents(limit int) ([]Event, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.LoadRecentEvents(limit)
}

// fillFee computes amountGet * feePercent / 100, truncating toward zero.
func (e *Exchange) fillFee(amountGet *big.Int) *big.Int {
	fee := new(big.Int).Mul(amountGet, new(big.Int).SetUint64(e.feePercent))
	return fee.Div(fee, big.NewInt(100))
}

// custody returns the live entry for (asset, account). Callers must hold
// e.mu and must not retain the result.
func (e *Exchange) custody(asset, account common.Address) *big.Int {
	if m, ok := e.balances[asset]; ok {
		if bal, ok := m[account]; ok {
			return bal
		}
	}
	return new(big.Int)
}

// credit adds amount to (asset, account) and returns a copy of the new entry.
func (e *Exchange) credit(asset, account common.Address, amount *big.Int) *big.Int {
	m, ok := e.balances[asset]
	if !ok {
		m = make(map[common.Address]*big.Int)
		e.balances[asset] = m
	}
	bal, ok := m[account]
	if !ok {
		bal = new(big.Int)
		m[account] = bal
	}
	bal.Add(bal, amount)
	return new(big.Int).Set(bal)
}

// debit subtracts amount from (asset, account) and returns a copy of the new
// entry. Callers check sufficiency first.
func (e *Exchange) debit(asset, account common.Address, amount *big.Int) *big.Int {
	bal := e.balances[asset][account]
	bal.Sub(bal, amount)
	return new(big.Int).Set(bal)
}

// commit persists the operation's writes plus its audit event in one atomic
// batch, then fans the event out to subscribers. Callers undo their memory
// mutations if commit fails.
func (e *Exchange) commit(ev Event, write func(b StateBatch) error) error {
	e.eventSeq++
	if e.store != nil {
		b := e.store.NewBatch()
		if err := write(b); err != nil {
			b.Close()
			e.eventSeq--
			return err
		}
		if err := b.SaveEvent(e.eventSeq, ev); err != nil {
			b.Close()
			e.eventSeq--
			return err
		}
		if err := b.Commit(); err != nil {
			e.eventSeq--
			return fmt.Errorf("failed to commit batch: %w", err)
		}
	}
	for _, s := range e.sinks {
		s.Publish(ev)
	}
	return nil
}
