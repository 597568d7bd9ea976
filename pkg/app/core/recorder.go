package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lythesia/minidex/pkg/app/core/book"
	"github.com/lythesia/minidex/pkg/app/core/ledger"
)

// Recorder receives state changes produced by engine operations so they can
// be made durable. Calls between two Flushes belong to one operation; Flush
// commits them atomically.
//
// The engine only mutates state on paths that cannot fail afterwards, so a
// recorder never has to roll anything back.
type Recorder interface {
	BalanceChanged(addr common.Address, asset ledger.Asset, available, locked *uint256.Int)
	OrderUpserted(o *book.Order)
	OrderRemoved(id uint64)
	TradeExecuted(t *Trade)
	OrderSeq(next uint64)
	Flush() error
}
