package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lythesia/minidex/pkg/app/core"
	"github.com/lythesia/minidex/pkg/app/core/book"
	"github.com/lythesia/minidex/pkg/app/core/ledger"
)

// Store provides Pebble-based persistence for balances, open orders, and
// trade history. It implements core.Recorder: engine mutations accumulate in
// a pending batch and Flush commits them atomically, so a crash mid-operation
// never leaves half a placement on disk.
//
// Not safe for concurrent use on its own; the engine's mutex already
// serializes all recorder calls.
type Store struct {
	db      *pebble.DB
	pending *pebble.Batch
}

// NewStore opens a Pebble database at the given path
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		// Performance tuning
		Cache:                       pebble.NewCache(128 << 20), // 128MB cache
		MemTableSize:                64 << 20,                   // 64MB memtable
		MaxConcurrentCompactions:    func() int { return 3 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20, // 64MB
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10, // 512KB
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	return &Store{db: db}, nil
}

// Close discards any uncommitted batch and closes the database
func (s *Store) Close() error {
	if s.pending != nil {
		s.pending.Close()
		s.pending = nil
	}
	return s.db.Close()
}

// ==============================
// JSON record shapes
// ==============================

// balanceRecord holds one ledger slot; amounts are decimal strings so the
// full 256-bit range survives the round trip.
type balanceRecord struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

type orderRecord struct {
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	Side      string `json:"side"`
	Price     uint64 `json:"price"`
	Qty       uint64 `json:"qty"`
	Timestamp uint64 `json:"timestamp"`
	Locked    string `json:"locked"`
}

// ==============================
// core.Recorder
// ==============================

func (s *Store) batch() *pebble.Batch {
	if s.pending == nil {
		s.pending = s.db.NewBatch()
	}
	return s.pending
}

// BalanceChanged stages the new state of a ledger slot
func (s *Store) BalanceChanged(addr common.Address, asset ledger.Asset, available, locked *uint256.Int) {
	rec := balanceRecord{Available: available.Dec(), Locked: locked.Dec()}
	data, err := json.Marshal(rec)
	if err != nil {
		panic(fmt.Sprintf("storage: marshal balance record: %v", err))
	}
	s.batch().Set(balanceKey(asset, addr), data, nil)
}

// OrderUpserted stages an open order's current state
func (s *Store) OrderUpserted(o *book.Order) {
	rec := orderRecord{
		ID:        o.ID,
		Owner:     o.Owner.Hex(),
		Side:      o.Side.String(),
		Price:     o.Price,
		Qty:       o.Qty,
		Timestamp: o.Timestamp,
		Locked:    o.Locked.Dec(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		panic(fmt.Sprintf("storage: marshal order record: %v", err))
	}
	s.batch().Set(orderKey(o.ID), data, nil)
}

// OrderRemoved stages the deletion of a filled or cancelled order
func (s *Store) OrderRemoved(id uint64) {
	s.batch().Delete(orderKey(id), nil)
}

// TradeExecuted appends a trade to the history
func (s *Store) TradeExecuted(t *core.Trade) {
	data, err := json.Marshal(t)
	if err != nil {
		panic(fmt.Sprintf("storage: marshal trade record: %v", err))
	}
	s.batch().Set(tradeKey(t.Timestamp, t.TakerOrderID, t.MakerOrderID), data, nil)
}

// OrderSeq stages the next order id so ids stay unique across restarts
func (s *Store) OrderSeq(next uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	s.batch().Set([]byte(keyOrderSeq), buf[:], nil)
}

// Flush commits the pending batch atomically. A no-op when nothing is staged.
func (s *Store) Flush() error {
	if s.pending == nil {
		return nil
	}
	batch := s.pending
	s.pending = nil
	if err := batch.Commit(pebble.Sync); err != nil {
		batch.Close()
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// ==============================
// Boot-time loading
// ==============================

// SavedBalance is one ledger slot read back from disk
type SavedBalance struct {
	Addr      common.Address
	Asset     ledger.Asset
	Available *uint256.Int
	Locked    *uint256.Int
}

// LoadBalances reads every persisted balance slot
func (s *Store) LoadBalances() ([]SavedBalance, error) {
	prefix := balancePrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate balances: %w", err)
	}
	defer iter.Close()

	var balances []SavedBalance
	for iter.First(); iter.Valid(); iter.Next() {
		asset, addr, err := balanceKeyFields(iter.Key())
		if err != nil {
			return nil, err
		}
		var rec balanceRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal balance %q: %w", iter.Key(), err)
		}
		available, err := uint256.FromDecimal(rec.Available)
		if err != nil {
			return nil, fmt.Errorf("bad available amount %q: %w", rec.Available, err)
		}
		locked, err := uint256.FromDecimal(rec.Locked)
		if err != nil {
			return nil, fmt.Errorf("bad locked amount %q: %w", rec.Locked, err)
		}
		balances = append(balances, SavedBalance{
			Addr:      addr,
			Asset:     asset,
			Available: available,
			Locked:    locked,
		})
	}
	return balances, nil
}

// LoadOpenOrders reads every persisted open order, id ascending
func (s *Store) LoadOpenOrders() ([]*book.Order, error) {
	prefix := orderPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	defer iter.Close()

	var orders []*book.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var rec orderRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order %q: %w", iter.Key(), err)
		}
		side, ok := book.ParseSide(rec.Side)
		if !ok {
			return nil, fmt.Errorf("unknown side %q in order %d", rec.Side, rec.ID)
		}
		locked, err := uint256.FromDecimal(rec.Locked)
		if err != nil {
			return nil, fmt.Errorf("bad locked amount %q in order %d: %w", rec.Locked, rec.ID, err)
		}
		o := &book.Order{
			ID:        rec.ID,
			Owner:     common.HexToAddress(rec.Owner),
			Side:      side,
			Price:     rec.Price,
			Qty:       rec.Qty,
			Timestamp: rec.Timestamp,
		}
		o.Locked.Set(locked)
		orders = append(orders, o)
	}
	return orders, nil
}

// LoadOrderSeq reads the persisted next order id. Returns 0 on a fresh db.
func (s *Store) LoadOrderSeq() (uint64, error) {
	data, closer, err := s.db.Get([]byte(keyOrderSeq))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get order seq: %w", err)
	}
	defer closer.Close()

	if len(data) != 8 {
		return 0, fmt.Errorf("malformed order seq value: %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// LoadRecentTrades loads the most recent N trades,
// newest first (reverse chronological order)
func (s *Store) LoadRecentTrades(limit int) ([]*core.Trade, error) {
	prefix := tradePrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate trades: %w", err)
	}
	defer iter.Close()

	var trades []*core.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t core.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade %q: %w", iter.Key(), err)
		}
		trades = append(trades, &t)
	}
	return trades, nil
}
