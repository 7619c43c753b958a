package exchange

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// StateDigest returns the keccak-256 hash of the engine's canonical state:
// every custody entry in sorted key order, every order ascending by id, and
// the order counter. Two engines with equal digests hold identical state;
// tests use it to prove failed operations changed nothing.
func (e *Exchange) StateDigest() common.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := sha3.NewLegacyKeccak256()

	assets := make([]common.Address, 0, len(e.balances))
	for asset := range e.balances {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].Hex() < assets[j].Hex()
	})

	for _, asset := range assets {
		entries := e.balances[asset]
		accounts := make([]common.Address, 0, len(entries))
		for account := range entries {
			accounts = append(accounts, account)
		}
		sort.Slice(accounts, func(i, j int) bool {
			return accounts[i].Hex() < accounts[j].Hex()
		})
		for _, account := range accounts {
			fmt.Fprintf(h, "bal|%s|%s|%s\n", asset.Hex(), account.Hex(), entries[account].Text(10))
		}
	}

	for id := uint64(1); id <= e.orderCount; id++ {
		o, ok := e.orders[id]
		if !ok {
			continue
		}
		fmt.Fprintf(h, "ord|%d|%s|%s|%s|%s|%s|%d|%s\n",
			o.ID, o.Maker.Hex(),
			o.AssetGet.Hex(), o.AmountGet.Text(10),
			o.AssetGive.Hex(), o.AmountGive.Text(10),
			o.CreatedAt, o.Status)
	}

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], e.orderCount)
	h.Write(seq[:])

	return common.BytesToHash(h.Sum(nil))
}
