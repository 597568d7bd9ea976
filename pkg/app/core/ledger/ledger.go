package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrInsufficientLocked  = errors.New("insufficient locked balance")
	ErrSelfTransfer        = errors.New("cannot transfer locked funds to self")
)

// Observer is notified after every balance mutation with the new state of the
// touched slot. Used by the persistence layer; nil disables notifications.
type Observer func(addr common.Address, asset Asset, available, locked *uint256.Int)

type slotKey struct {
	addr  common.Address
	asset Asset
}

type slot struct {
	available uint256.Int
	locked    uint256.Int
}

// Ledger tracks available and locked funds per (account, asset).
// Amounts are unsigned 256-bit integers; an amount can never go negative
// because every debit is checked before it is applied.
//
// The ledger has no internal lock: it is single-writer, serialized by the
// Engine that owns it together with the order book.
type Ledger struct {
	slots    map[slotKey]*slot
	observer Observer
}

func NewLedger() *Ledger {
	return &Ledger{
		slots: make(map[slotKey]*slot),
	}
}

// SetObserver installs the mutation callback. Pass nil to detach.
func (l *Ledger) SetObserver(obs Observer) {
	l.observer = obs
}

func (l *Ledger) get(addr common.Address, asset Asset) *slot {
	k := slotKey{addr: addr, asset: asset}
	s, ok := l.slots[k]
	if !ok {
		s = &slot{}
		l.slots[k] = s
	}
	return s
}

func (l *Ledger) notify(addr common.Address, asset Asset, s *slot) {
	if l.observer != nil {
		l.observer(addr, asset, &s.available, &s.locked)
	}
}

// Deposit credits the available balance. Overflow of the 256-bit balance is
// unreachable with real token supplies and treated as a fatal invariant
// violation.
func (l *Ledger) Deposit(addr common.Address, asset Asset, amt *uint256.Int) {
	s := l.get(addr, asset)
	if _, overflow := s.available.AddOverflow(&s.available, amt); overflow {
		panic(fmt.Sprintf("ledger: available balance overflow for %s/%s", addr.Hex(), asset))
	}
	l.notify(addr, asset, s)
}

// Withdraw debits the available balance. Locked funds are not withdrawable.
func (l *Ledger) Withdraw(addr common.Address, asset Asset, amt *uint256.Int) error {
	s := l.get(addr, asset)
	if s.available.Lt(amt) {
		return fmt.Errorf("%w: %s has %s %s, need %s",
			ErrInsufficientBalance, addr.Hex(), s.available.Dec(), asset, amt.Dec())
	}
	s.available.Sub(&s.available, amt)
	l.notify(addr, asset, s)
	return nil
}

// Lock moves funds from available to locked, reserving them for an order.
func (l *Ledger) Lock(addr common.Address, asset Asset, amt *uint256.Int) error {
	s := l.get(addr, asset)
	if s.available.Lt(amt) {
		return fmt.Errorf("%w: %s has %s %s, need %s",
			ErrInsufficientBalance, addr.Hex(), s.available.Dec(), asset, amt.Dec())
	}
	s.available.Sub(&s.available, amt)
	s.locked.Add(&s.locked, amt)
	l.notify(addr, asset, s)
	return nil
}

// Unlock moves funds from locked back to available.
func (l *Ledger) Unlock(addr common.Address, asset Asset, amt *uint256.Int) error {
	s := l.get(addr, asset)
	if s.locked.Lt(amt) {
		return fmt.Errorf("%w: %s has %s %s locked, need %s",
			ErrInsufficientLocked, addr.Hex(), s.locked.Dec(), asset, amt.Dec())
	}
	s.locked.Sub(&s.locked, amt)
	s.available.Add(&s.available, amt)
	l.notify(addr, asset, s)
	return nil
}

// TransferLocked settles a trade leg: debits the sender's locked balance and
// credits the receiver's available balance. Self-transfers are rejected so a
// settlement bug cannot silently no-op.
func (l *Ledger) TransferLocked(from, to common.Address, asset Asset, amt *uint256.Int) error {
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfTransfer, from.Hex())
	}
	src := l.get(from, asset)
	if src.locked.Lt(amt) {
		return fmt.Errorf("%w: %s has %s %s locked, need %s",
			ErrInsufficientLocked, from.Hex(), src.locked.Dec(), asset, amt.Dec())
	}
	src.locked.Sub(&src.locked, amt)
	dst := l.get(to, asset)
	dst.available.Add(&dst.available, amt)
	l.notify(from, asset, src)
	l.notify(to, asset, dst)
	return nil
}

// BalanceOf returns a copy of the available balance. Missing slots read as zero.
func (l *Ledger) BalanceOf(addr common.Address, asset Asset) *uint256.Int {
	if s, ok := l.slots[slotKey{addr: addr, asset: asset}]; ok {
		return new(uint256.Int).Set(&s.available)
	}
	return uint256.NewInt(0)
}

// LockedOf returns a copy of the locked balance. Missing slots read as zero.
func (l *Ledger) LockedOf(addr common.Address, asset Asset) *uint256.Int {
	if s, ok := l.slots[slotKey{addr: addr, asset: asset}]; ok {
		return new(uint256.Int).Set(&s.locked)
	}
	return uint256.NewInt(0)
}

// Restore sets a slot directly without notifying the observer.
// Used when replaying persisted state at startup.
func (l *Ledger) Restore(addr common.Address, asset Asset, available, locked *uint256.Int) {
	s := l.get(addr, asset)
	s.available.Set(available)
	s.locked.Set(locked)
}
