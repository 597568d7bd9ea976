package core

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lythesia/minidex/pkg/app/core/book"
	"github.com/lythesia/minidex/pkg/app/core/ledger"
)

// Engine owns the order book and the ledger and exposes the only operations
// that touch them. One mutex serializes everything: placing and cancelling
// cross both structures, and the invariants (escrow backing every resting
// order, balances conserved across fills) only hold when nobody observes the
// pair mid-operation.
//
// The engine never reads the wall clock; arrival timestamps come from the
// caller so replays and tests stay deterministic.
type Engine struct {
	mu     sync.RWMutex
	pair   Pair
	ledger *ledger.Ledger
	book   *book.Book
	rec    Recorder
}

func NewEngine(pair Pair) *Engine {
	e := &Engine{
		pair:   pair,
		ledger: ledger.NewLedger(),
		book:   book.NewBook(),
	}
	e.ledger.SetObserver(func(addr common.Address, asset ledger.Asset, available, locked *uint256.Int) {
		if e.rec != nil {
			e.rec.BalanceChanged(addr, asset, available, locked)
		}
	})
	return e
}

// SetRecorder attaches the persistence layer. Call after restoring state so
// the replay itself is not re-persisted.
func (e *Engine) SetRecorder(rec Recorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec = rec
}

func (e *Engine) Pair() Pair { return e.pair }

// PlaceLimitOrder validates, escrows, matches, and rests the remainder.
// Returns the new order's id and the fills it produced, maker leg first per
// match. The id is consumed even when the funds lock fails.
func (e *Engine) PlaceLimitOrder(pairSymbol string, side book.Side, price, qty uint64, caller common.Address, now uint64) (uint64, []book.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pairSymbol != e.pair.Symbol {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnsupportedPair, pairSymbol)
	}
	if side != book.Buy && side != book.Sell {
		return 0, nil, ErrInvalidSide
	}
	if price == 0 {
		return 0, nil, ErrInvalidPrice
	}
	if qty == 0 {
		return 0, nil, ErrInvalidQuantity
	}

	o := e.book.NewOrder(caller, side, price, qty, now)

	var fills []book.Fill
	switch side {
	case book.Buy:
		required := book.Notional(price, qty)
		if err := e.ledger.Lock(caller, ledger.Quote, required); err != nil {
			return o.ID, nil, err
		}
		o.Locked.Set(required)
		fills = e.book.MatchAsks(o, e.ledger)
	case book.Sell:
		if err := e.ledger.Lock(caller, ledger.Base, uint256.NewInt(qty)); err != nil {
			return o.ID, nil, err
		}
		o.Locked.SetUint64(qty)
		fills = e.book.MatchBids(o, e.ledger)
	}

	if o.Qty > 0 {
		e.book.Insert(o)
	}

	if e.rec != nil {
		e.recordPlacement(o, fills, now)
		if err := e.rec.Flush(); err != nil {
			return o.ID, fills, fmt.Errorf("persist placement: %w", err)
		}
	}
	return o.ID, fills, nil
}

// recordPlacement stages everything a placement changed: the taker order,
// every maker it touched, the trades, and the id counter. Balance changes
// were already staged by the ledger observer as they happened.
func (e *Engine) recordPlacement(o *book.Order, fills []book.Fill, now uint64) {
	for i := 0; i+1 < len(fills); i += 2 {
		maker, taker := fills[i], fills[i+1]
		if m, open := e.book.Get(maker.OrderID); open {
			e.rec.OrderUpserted(m)
		} else {
			e.rec.OrderRemoved(maker.OrderID)
		}
		e.rec.TradeExecuted(&Trade{
			MakerOrderID: maker.OrderID,
			TakerOrderID: taker.OrderID,
			TakerSide:    taker.Side.String(),
			Price:        taker.Price,
			Qty:          taker.Qty,
			Timestamp:    now,
		})
	}
	if o.Qty > 0 {
		e.rec.OrderUpserted(o)
	}
	e.rec.OrderSeq(e.book.NextID())
}

// CancelOrder removes the caller's open order and refunds its escrow.
func (e *Engine) CancelOrder(caller common.Address, orderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.book.Cancel(caller, orderID, e.ledger); err != nil {
		return err
	}
	if e.rec != nil {
		e.rec.OrderRemoved(orderID)
		if err := e.rec.Flush(); err != nil {
			return fmt.Errorf("persist cancel: %w", err)
		}
	}
	return nil
}

// Deposit credits an account's available balance.
func (e *Engine) Deposit(addr common.Address, asset ledger.Asset, amt *uint256.Int) error {
	if amt.IsZero() {
		return fmt.Errorf("%w: deposit", ErrInvalidAmount)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger.Deposit(addr, asset, amt)
	if e.rec != nil {
		if err := e.rec.Flush(); err != nil {
			return fmt.Errorf("persist deposit: %w", err)
		}
	}
	return nil
}

// Withdraw debits an account's available balance. Locked funds stay put.
func (e *Engine) Withdraw(addr common.Address, asset ledger.Asset, amt *uint256.Int) error {
	if amt.IsZero() {
		return fmt.Errorf("%w: withdrawal", ErrInvalidAmount)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ledger.Withdraw(addr, asset, amt); err != nil {
		return err
	}
	if e.rec != nil {
		if err := e.rec.Flush(); err != nil {
			return fmt.Errorf("persist withdrawal: %w", err)
		}
	}
	return nil
}

// BalanceOf returns the available balance for (account, asset).
func (e *Engine) BalanceOf(addr common.Address, asset ledger.Asset) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.BalanceOf(addr, asset)
}

// LockedOf returns the locked balance for (account, asset).
func (e *Engine) LockedOf(addr common.Address, asset ledger.Asset) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.LockedOf(addr, asset)
}

// BidLevels returns the aggregated bid side, best first.
func (e *Engine) BidLevels() []book.PriceLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.BidLevels()
}

// AskLevels returns the aggregated ask side, best first.
func (e *Engine) AskLevels() []book.PriceLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.AskLevels()
}

// OpenOrder returns a copy of an open order, if it rests on the book.
func (e *Engine) OpenOrder(id uint64) (book.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if o, ok := e.book.Get(id); ok {
		return *o, true
	}
	return book.Order{}, false
}

// RestoreBalance seeds a ledger slot from persisted state.
// Only valid before SetRecorder.
func (e *Engine) RestoreBalance(addr common.Address, asset ledger.Asset, available, locked *uint256.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger.Restore(addr, asset, available, locked)
}

// RestoreOrder rests a persisted open order back on the book.
// Only valid before SetRecorder.
func (e *Engine) RestoreOrder(o *book.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.book.Insert(o)
}

// RestoreOrderSeq advances the order id counter to its persisted value.
func (e *Engine) RestoreOrderSeq(next uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.book.SetNextID(next)
}
