package book

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lythesia/minidex/pkg/app/core/ledger"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrUnauthorized  = errors.New("only the order owner can cancel")
)

// PriceLevel aggregates the open quantity at one price.
type PriceLevel struct {
	Price uint64
	Qty   uint64
}

// Book holds the resting orders of the single market, sorted for
// price-time priority matching.
//
// Best prices come from two heaps (O(1) peek); each price maps to a FIFO
// queue of orders, so within a level earlier arrivals match first. A flat
// id index gives O(1) cancel lookup.
//
// The book has no internal lock: like the ledger it is serialized by the
// owning Engine.
type Book struct {
	orders map[uint64]*Order

	bidHeap *MaxPriceHeap
	askHeap *MinPriceHeap

	// price -> FIFO queue
	bids map[uint64][]*Order
	asks map[uint64][]*Order

	// next order id; advanced by NewOrder so every order ever created gets
	// a distinct id, matched on arrival or not
	nextID uint64
}

func NewBook() *Book {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		orders:  make(map[uint64]*Order),
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[uint64][]*Order),
		asks:    make(map[uint64][]*Order),
	}
}

// NewOrder creates an order and consumes an id. The id is spent even if the
// order is later rejected or fully matched without resting.
func (b *Book) NewOrder(owner common.Address, side Side, price, qty, ts uint64) *Order {
	o := &Order{
		ID:        b.nextID,
		Owner:     owner,
		Side:      side,
		Price:     price,
		Qty:       qty,
		Timestamp: ts,
	}
	b.nextID++
	return o
}

// SetNextID overrides the id counter. Used when replaying persisted state so
// ids never repeat across restarts.
func (b *Book) SetNextID(next uint64) {
	if next > b.nextID {
		b.nextID = next
	}
}

// NextID returns the id the next created order will get.
func (b *Book) NextID() uint64 { return b.nextID }

// Get returns an open order by id.
func (b *Book) Get(id uint64) (*Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// Insert rests an order on the book.
func (b *Book) Insert(o *Order) {
	b.orders[o.ID] = o
	if o.ID >= b.nextID {
		b.nextID = o.ID + 1
	}

	switch o.Side {
	case Buy:
		if len(b.bids[o.Price]) == 0 {
			heap.Push(b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
	case Sell:
		if len(b.asks[o.Price]) == 0 {
			heap.Push(b.askHeap, o.Price)
		}
		b.asks[o.Price] = append(b.asks[o.Price], o)
	}
}

// BestBid returns the highest bid price (O(1) with heap)
func (b *Book) BestBid() (uint64, bool) {
	if b.bidHeap.Len() == 0 {
		return 0, false
	}
	return b.bidHeap.Peek(), true
}

// BestAsk returns the lowest ask price (O(1) with heap)
func (b *Book) BestAsk() (uint64, bool) {
	if b.askHeap.Len() == 0 {
		return 0, false
	}
	return b.askHeap.Peek(), true
}

// MatchAsks crosses an incoming buy against resting asks, cheapest first.
// The buy order is mutated in place; the caller rests it afterwards if any
// quantity remains. Each match settles at the maker's ask price, so the
// buy's quote escrow drains slower than its own limit price assumed; once
// the buy is fully satisfied the residual escrow is unlocked.
//
// Ledger settlement failures here mean funds reserved at placement have
// gone missing, which is unrecoverable state corruption, so they panic.
func (b *Book) MatchAsks(buy *Order, l *ledger.Ledger) []Fill {
	var fills []Fill

	for buy.Qty > 0 {
		askP, ok := b.BestAsk()
		if !ok || askP > buy.Price {
			break
		}

		maker := b.asks[askP][0]
		dealPrice := maker.Price
		matchQty := maker.Qty
		if matchQty > buy.Qty {
			matchQty = buy.Qty
		}

		quoteAmt := Notional(dealPrice, matchQty)
		baseAmt := uint256.NewInt(matchQty)

		buy.Qty -= matchQty
		buy.Locked.Sub(&buy.Locked, quoteAmt)
		maker.Qty -= matchQty
		maker.Locked.Sub(&maker.Locked, baseAmt)

		mustTransferLocked(l, buy.Owner, maker.Owner, ledger.Quote, quoteAmt)
		mustTransferLocked(l, maker.Owner, buy.Owner, ledger.Base, baseAmt)

		if maker.Qty == 0 {
			b.removeResting(maker)
		}

		fills = append(fills,
			Fill{OrderID: maker.ID, Side: Sell, Price: dealPrice, Qty: matchQty},
			Fill{OrderID: buy.ID, Side: Buy, Price: dealPrice, Qty: matchQty},
		)
	}

	if buy.Qty == 0 && !buy.Locked.IsZero() {
		mustUnlock(l, buy.Owner, ledger.Quote, &buy.Locked)
		buy.Locked.Clear()
	}
	return fills
}

// MatchBids crosses an incoming sell against resting bids, highest first.
// Each match settles at the incoming sell's limit price. A resting buy that
// fills completely gets its residual quote escrow unlocked immediately; it
// is leaving the book and nobody will touch it again.
func (b *Book) MatchBids(sell *Order, l *ledger.Ledger) []Fill {
	var fills []Fill

	for sell.Qty > 0 {
		bidP, ok := b.BestBid()
		if !ok || bidP < sell.Price {
			break
		}

		maker := b.bids[bidP][0]
		dealPrice := sell.Price
		matchQty := maker.Qty
		if matchQty > sell.Qty {
			matchQty = sell.Qty
		}

		quoteAmt := Notional(dealPrice, matchQty)
		baseAmt := uint256.NewInt(matchQty)

		sell.Qty -= matchQty
		sell.Locked.Sub(&sell.Locked, baseAmt)
		maker.Qty -= matchQty
		maker.Locked.Sub(&maker.Locked, quoteAmt)

		mustTransferLocked(l, maker.Owner, sell.Owner, ledger.Quote, quoteAmt)
		mustTransferLocked(l, sell.Owner, maker.Owner, ledger.Base, baseAmt)

		if maker.Qty == 0 {
			if !maker.Locked.IsZero() {
				mustUnlock(l, maker.Owner, ledger.Quote, &maker.Locked)
				maker.Locked.Clear()
			}
			b.removeResting(maker)
		}

		fills = append(fills,
			Fill{OrderID: maker.ID, Side: Buy, Price: dealPrice, Qty: matchQty},
			Fill{OrderID: sell.ID, Side: Sell, Price: dealPrice, Qty: matchQty},
		)
	}
	return fills
}

// Cancel removes an open order and unlocks its remaining escrow.
func (b *Book) Cancel(owner common.Address, id uint64, l *ledger.Ledger) error {
	o, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if o.Owner != owner {
		return fmt.Errorf("%w: id %d", ErrUnauthorized, id)
	}

	b.removeResting(o)

	asset := ledger.Quote
	if o.Side == Sell {
		asset = ledger.Base
	}
	if !o.Locked.IsZero() {
		mustUnlock(l, o.Owner, asset, &o.Locked)
		o.Locked.Clear()
	}
	return nil
}

// removeResting deletes an order from its price level and the id index,
// dropping the level from its heap when it empties.
func (b *Book) removeResting(o *Order) {
	delete(b.orders, o.ID)

	switch o.Side {
	case Buy:
		level := b.bids[o.Price]
		for i, cur := range level {
			if cur.ID == o.ID {
				b.bids[o.Price] = append(level[:i], level[i+1:]...)
				break
			}
		}
		if len(b.bids[o.Price]) == 0 {
			delete(b.bids, o.Price)
			b.removeFromBidHeap(o.Price)
		}
	case Sell:
		level := b.asks[o.Price]
		for i, cur := range level {
			if cur.ID == o.ID {
				b.asks[o.Price] = append(level[:i], level[i+1:]...)
				break
			}
		}
		if len(b.asks[o.Price]) == 0 {
			delete(b.asks, o.Price)
			b.removeFromAskHeap(o.Price)
		}
	}
}

// removeFromBidHeap removes a price level from the bid heap (O(N) worst case, but rare)
func (b *Book) removeFromBidHeap(price uint64) {
	for i := 0; i < b.bidHeap.Len(); i++ {
		if (*b.bidHeap)[i] == price {
			heap.Remove(b.bidHeap, i)
			return
		}
	}
}

// removeFromAskHeap removes a price level from the ask heap (O(N) worst case, but rare)
func (b *Book) removeFromAskHeap(price uint64) {
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i] == price {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

// BidLevels returns all bid price levels sorted high to low (best bid first).
// Aggregates qty across all orders at each price.
func (b *Book) BidLevels() []PriceLevel {
	var levels []PriceLevel
	for price, orders := range b.bids {
		if len(orders) == 0 {
			continue
		}
		var totalQty uint64
		for _, o := range orders {
			totalQty += o.Qty
		}
		levels = append(levels, PriceLevel{Price: price, Qty: totalQty})
	}

	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price > levels[j].Price
	})
	return levels
}

// AskLevels returns all ask price levels sorted low to high (best ask first).
// Aggregates qty across all orders at each price.
func (b *Book) AskLevels() []PriceLevel {
	var levels []PriceLevel
	for price, orders := range b.asks {
		if len(orders) == 0 {
			continue
		}
		var totalQty uint64
		for _, o := range orders {
			totalQty += o.Qty
		}
		levels = append(levels, PriceLevel{Price: price, Qty: totalQty})
	}

	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price < levels[j].Price
	})
	return levels
}

// OpenOrders returns every resting order, oldest first.
func (b *Book) OpenOrders() []*Order {
	orders := make([]*Order, 0, len(b.orders))
	for _, o := range b.orders {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ID < orders[j].ID
	})
	return orders
}

func mustTransferLocked(l *ledger.Ledger, from, to common.Address, asset ledger.Asset, amt *uint256.Int) {
	if err := l.TransferLocked(from, to, asset, amt); err != nil {
		panic(fmt.Sprintf("book: settlement of reserved funds failed: %v", err))
	}
}

func mustUnlock(l *ledger.Ledger, addr common.Address, asset ledger.Asset, amt *uint256.Int) {
	if err := l.Unlock(addr, asset, amt); err != nil {
		panic(fmt.Sprintf("book: unlock of reserved funds failed: %v", err))
	}
}
