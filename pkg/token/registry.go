package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownAsset is returned when an asset address is not registered.
var ErrUnknownAsset = fmt.Errorf("unknown asset")

// Registry resolves asset addresses to their ledgers. The hosting process
// registers every tradable asset at startup; the exchange engine only reads.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[common.Address]Ledger
}

func NewRegistry() *Registry {
	return &Registry{ledgers: make(map[common.Address]Ledger)}
}

func (r *Registry) Register(l Ledger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgers[l.Address()] = l
}

func (r *Registry) Get(asset common.Address) (Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.ledgers[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	return l, nil
}

// List returns all registered ledgers (unordered snapshot).
func (r *Registry) List() []Ledger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Ledger, 0, len(r.ledgers))
	for _, l := range r.ledgers {
		out = append(out, l)
	}
	return out
}
