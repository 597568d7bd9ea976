package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lythesia/minidex/pkg/app/core/ledger"
)

// Pebble key schema
// Design principles:
// 1. Prefix-based for range scans (all balances, all open orders)
// 2. Lexicographic ordering for time-based queries (trades)
// 3. Fixed-width numeric fields, zero-padded, so byte order matches numeric order

// Key prefixes
const (
	prefixBalance = "bal:"  // per-(asset, account) balance slot
	prefixOrder   = "ord:"  // open orders
	prefixTrade   = "trd:"  // trade history
	keyOrderSeq   = "meta:order_seq" // next order id
)

// balanceKey returns the key for one balance slot
// Format: "bal:{asset}:{address}"
// Example: "bal:quote:0x742d35cc6634c0532925a3b844bc9e7595f0beb"
func balanceKey(asset ledger.Asset, addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset, addr.Hex()))
}

// balancePrefix returns the prefix for all balance slots
func balancePrefix() []byte {
	return []byte(prefixBalance)
}

// orderKey returns the key for an open order
// Format: "ord:{id}" with the id zero-padded to 20 digits
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

// orderPrefix returns the prefix for all open orders
func orderPrefix() []byte {
	return []byte(prefixOrder)
}

// tradeKey returns the key for a trade
// Format: "trd:{timestamp}:{takerOrderId}:{makerOrderId}"
// Timestamp is zero-padded (20 digits) for lexicographic sorting; the order
// id pair makes the key unique within one millisecond.
func tradeKey(timestamp, takerID, makerID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d:%020d", prefixTrade, timestamp, takerID, makerID))
}

// tradePrefix returns the prefix for all trades
func tradePrefix() []byte {
	return []byte(prefixTrade)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "ord:" -> upper bound "ord;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// balanceKeyFields extracts asset and address from a balance key
// Inverse of balanceKey() - used for parsing iterator keys
func balanceKeyFields(key []byte) (ledger.Asset, common.Address, error) {
	rest := string(key[len(prefixBalance):])
	sep := -1
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return 0, common.Address{}, fmt.Errorf("malformed balance key: %q", key)
	}
	asset, ok := ledger.ParseAsset(rest[:sep])
	if !ok {
		return 0, common.Address{}, fmt.Errorf("unknown asset in balance key: %q", key)
	}
	addrHex := rest[sep+1:]
	if !common.IsHexAddress(addrHex) {
		return 0, common.Address{}, fmt.Errorf("invalid address in balance key: %q", key)
	}
	return asset, common.HexToAddress(addrHex), nil
}
