package exchange

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Persister is the durability hook the engine writes through. The in-memory
// engine state stays authoritative; each committed operation writes all its
// keys through one atomic batch.
type Persister interface {
	LoadState() (*State, error)
	LoadRecentEvents(limit int) ([]Event, error)
	NewBatch() StateBatch
}

// StateBatch accumulates the writes of one engine operation and commits them
// atomically. A failed Commit must leave the persisted state untouched.
type StateBatch interface {
	SetBalance(asset, account common.Address, amount *big.Int) error
	SaveOrder(o *Order) error
	SetOrderCount(n uint64) error
	SaveEvent(seq uint64, ev Event) error
	Commit() error
	Close() error
}

// Store provides pebble-backed persistence for the engine's state: custody
// balances, the order log, the two sequence counters, and event history.
type Store struct {
	db *pebble.DB
}

var _ Persister = (*Store)(nil)

// NewStore opens a pebble database at the given path.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
		MaxOpenFiles: 500,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// State is everything LoadState recovers at startup.
type State struct {
	Balances   map[common.Address]map[common.Address]*big.Int // asset -> account -> amount
	Orders     map[uint64]*Order
	OrderCount uint64
	EventSeq   uint64
}

// LoadState reloads the full engine state from pebble.
func (s *Store) LoadState() (*State, error) {
	st := &State{
		Balances: make(map[common.Address]map[common.Address]*big.Int),
		Orders:   make(map[uint64]*Order),
	}

	if err := s.loadBalances(st); err != nil {
		return nil, err
	}
	if err := s.loadOrders(st); err != nil {
		return nil, err
	}

	var err error
	if st.OrderCount, err = s.loadSeq(keyOrderSeq); err != nil {
		return nil, err
	}
	if st.EventSeq, err = s.loadSeq(keyEventSeq); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) loadBalances(st *State) error {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		asset, account, err := balanceKeyParse(iter.Key())
		if err != nil {
			return fmt.Errorf("corrupt balance entry %q: %w", iter.Key(), err)
		}
		amount, ok := new(big.Int).SetString(string(iter.Value()), 10)
		if !ok {
			return fmt.Errorf("corrupt balance value %q for %q", iter.Value(), iter.Key())
		}
		if st.Balances[asset] == nil {
			st.Balances[asset] = make(map[common.Address]*big.Int)
		}
		st.Balances[asset][account] = amount
	}
	return nil
}

func (s *Store) loadOrders(st *State) error {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var o Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return fmt.Errorf("corrupt order entry %q: %w", iter.Key(), err)
		}
		st.Orders[o.ID] = &o
	}
	return nil
}

func (s *Store) loadSeq(key string) (uint64, error) {
	data, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid sequence value for %s", key)
	}
	return binary.BigEndian.Uint64(data), nil
}

// LoadRecentEvents returns the most recent events, newest first.
func (s *Store) LoadRecentEvents(limit int) ([]Event, error) {
	prefix := []byte(prefixEvent)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var events []Event
	for iter.Last(); iter.Valid() && len(events) < limit; iter.Prev() {
		var ev Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Batch is the pebble-backed StateBatch.
type Batch struct {
	batch *pebble.Batch
}

func (s *Store) NewBatch() StateBatch {
	return &Batch{batch: s.db.NewBatch()}
}

// SetBalance records the custody entry after a movement.
func (b *Batch) SetBalance(asset, account common.Address, amount *big.Int) error {
	return b.batch.Set(balanceKey(asset, account), []byte(amount.Text(10)), nil)
}

// SaveOrder records an order in its current lifecycle state.
func (b *Batch) SaveOrder(o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return b.batch.Set(orderKey(o.ID), data, nil)
}

func (b *Batch) SetOrderCount(n uint64) error {
	return b.batch.Set([]byte(keyOrderSeq), seqBytes(n), nil)
}

// SaveEvent appends an audit event under the given sequence number and
// advances the persisted event counter.
func (b *Batch) SaveEvent(seq uint64, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.batch.Set(eventKey(seq), data, nil); err != nil {
		return err
	}
	return b.batch.Set([]byte(keyEventSeq), seqBytes(seq), nil)
}

// Commit writes the batch to pebble atomically.
func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// Close discards the batch without committing.
func (b *Batch) Close() error {
	return b.batch.Close()
}

func seqBytes(n uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return buf[:]
}
