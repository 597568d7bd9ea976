package book

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide converts a side name ("buy"/"sell") back to a Side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy":
		return Buy, true
	case "sell":
		return Sell, true
	default:
		return 0, false
	}
}

// Order is a resting or incoming limit order.
//
// Locked tracks the escrow still reserved for the unfilled remainder: quote
// for buys, base for sells. A buy locked at its own limit price can exceed
// price*qty after fills at better prices; that surplus is refunded when the
// order leaves the book.
type Order struct {
	ID        uint64
	Owner     common.Address
	Side      Side
	Price     uint64
	Qty       uint64
	Timestamp uint64 // arrival ordinal, ties broken by ID
	Locked    uint256.Int
}

// Fill is one leg of a match. Every match produces two fills, maker leg
// first, both at the sell side's limit price.
type Fill struct {
	OrderID uint64
	Side    Side
	Price   uint64
	Qty     uint64
}

// Notional returns price*qty as a 256-bit integer. Products of two 64-bit
// operands cannot overflow.
func Notional(price, qty uint64) *uint256.Int {
	n := uint256.NewInt(price)
	return n.Mul(n, uint256.NewInt(qty))
}
