package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema.
// Prefix-based so full-state reloads and event history are single range scans;
// numeric components are zero-padded for lexicographic ordering.
const (
	prefixBalance = "bal:" // custody entry per (asset, account)
	prefixOrder   = "ord:" // order by id
	prefixEvent   = "evt:" // audit event by sequence
	keyOrderSeq   = "seq:orders"
	keyEventSeq   = "seq:events"
)

// balanceKey formats "bal:{asset}:{account}".
func balanceKey(asset, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), account.Hex()))
}

// balanceKeyParse is the inverse of balanceKey, used when reloading state.
func balanceKeyParse(key []byte) (asset, account common.Address, err error) {
	// "bal:" + 42-char asset + ":" + 42-char account
	want := len(prefixBalance) + 42 + 1 + 42
	if len(key) != want {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid balance key length: %d", len(key))
	}
	assetHex := string(key[len(prefixBalance) : len(prefixBalance)+42])
	accountHex := string(key[len(prefixBalance)+43:])
	if !common.IsHexAddress(assetHex) || !common.IsHexAddress(accountHex) {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid balance key: %s", key)
	}
	return common.HexToAddress(assetHex), common.HexToAddress(accountHex), nil
}

// orderKey formats "ord:{id}" with a zero-padded id.
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

// eventKey formats "evt:{seq}" with a zero-padded sequence number.
func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
