package storage

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lythesia/minidex/pkg/app/core"
	"github.com/lythesia/minidex/pkg/app/core/book"
	"github.com/lythesia/minidex/pkg/app/core/ledger"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir() + "/db")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFlushEmptyIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush on empty batch: %v", err)
	}
}

func TestBalanceRoundTrip(t *testing.T) {
	s := newTestStore(t)

	s.BalanceChanged(alice, ledger.Quote, u(700), u(300))
	s.BalanceChanged(bob, ledger.Base, u(950), u(50))
	// later write for the same slot wins
	s.BalanceChanged(alice, ledger.Quote, u(600), u(400))
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	balances, err := s.LoadBalances()
	if err != nil {
		t.Fatalf("LoadBalances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("balances = %d, want 2", len(balances))
	}
	for _, b := range balances {
		switch {
		case b.Addr == alice && b.Asset == ledger.Quote:
			if !b.Available.Eq(u(600)) || !b.Locked.Eq(u(400)) {
				t.Errorf("alice quote = %s/%s, want 600/400", b.Available.Dec(), b.Locked.Dec())
			}
		case b.Addr == bob && b.Asset == ledger.Base:
			if !b.Available.Eq(u(950)) || !b.Locked.Eq(u(50)) {
				t.Errorf("bob base = %s/%s, want 950/50", b.Available.Dec(), b.Locked.Dec())
			}
		default:
			t.Errorf("unexpected balance slot %s/%s", b.Addr.Hex(), b.Asset)
		}
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)

	o := &book.Order{ID: 3, Owner: alice, Side: book.Buy, Price: 10, Qty: 50, Timestamp: 7}
	o.Locked.SetUint64(500)
	s.OrderUpserted(o)
	s.OrderSeq(4)
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	orders, err := s.LoadOpenOrders()
	if err != nil {
		t.Fatalf("LoadOpenOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	got := orders[0]
	if got.ID != 3 || got.Owner != alice || got.Side != book.Buy || got.Price != 10 || got.Qty != 50 || got.Timestamp != 7 {
		t.Errorf("order = %+v, want id=3 owner=alice side=buy price=10 qty=50 ts=7", got)
	}
	if !got.Locked.Eq(u(500)) {
		t.Errorf("order locked = %s, want 500", got.Locked.Dec())
	}

	seq, err := s.LoadOrderSeq()
	if err != nil {
		t.Fatalf("LoadOrderSeq: %v", err)
	}
	if seq != 4 {
		t.Errorf("order seq = %d, want 4", seq)
	}
}

func TestOrderRemoval(t *testing.T) {
	s := newTestStore(t)

	o := &book.Order{ID: 1, Owner: alice, Side: book.Sell, Price: 9, Qty: 10, Timestamp: 1}
	o.Locked.SetUint64(10)
	s.OrderUpserted(o)
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	s.OrderRemoved(1)
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	orders, err := s.LoadOpenOrders()
	if err != nil {
		t.Fatalf("LoadOpenOrders: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("orders after removal = %d, want 0", len(orders))
	}
}

func TestRecentTradesNewestFirst(t *testing.T) {
	s := newTestStore(t)

	for i := uint64(1); i <= 5; i++ {
		s.TradeExecuted(&core.Trade{
			MakerOrderID: i,
			TakerOrderID: i + 100,
			TakerSide:    "buy",
			Price:        10 + i,
			Qty:          i,
			Timestamp:    1000 + i,
		})
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	trades, err := s.LoadRecentTrades(3)
	if err != nil {
		t.Fatalf("LoadRecentTrades: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("trades = %d, want 3", len(trades))
	}
	wantTs := []uint64{1005, 1004, 1003}
	for i, tr := range trades {
		if tr.Timestamp != wantTs[i] {
			t.Errorf("trade[%d].Timestamp = %d, want %d", i, tr.Timestamp, wantTs[i])
		}
	}
}

func TestRecentTradesCorruptEntry(t *testing.T) {
	s := newTestStore(t)

	s.TradeExecuted(&core.Trade{MakerOrderID: 1, TakerOrderID: 2, TakerSide: "buy", Price: 10, Qty: 5, Timestamp: 1000})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.db.Set(tradeKey(1001, 3, 4), []byte("not json"), pebble.Sync); err != nil {
		t.Fatalf("write corrupt entry: %v", err)
	}

	if _, err := s.LoadRecentTrades(10); err == nil {
		t.Error("LoadRecentTrades should fail on a corrupt record")
	}
}

func TestFreshStoreLoadsEmpty(t *testing.T) {
	s := newTestStore(t)

	if balances, err := s.LoadBalances(); err != nil || len(balances) != 0 {
		t.Errorf("LoadBalances = %v, %v, want empty", balances, err)
	}
	if orders, err := s.LoadOpenOrders(); err != nil || len(orders) != 0 {
		t.Errorf("LoadOpenOrders = %v, %v, want empty", orders, err)
	}
	if seq, err := s.LoadOrderSeq(); err != nil || seq != 0 {
		t.Errorf("LoadOrderSeq = %d, %v, want 0", seq, err)
	}
	if trades, err := s.LoadRecentTrades(10); err != nil || len(trades) != 0 {
		t.Errorf("LoadRecentTrades = %v, %v, want empty", trades, err)
	}
}

// TestEngineRecordsThroughStore wires a real engine to a real store and
// checks that a restart reconstructs the same state.
func TestEngineRecordsThroughStore(t *testing.T) {
	dir := t.TempDir() + "/db"
	pair := core.Pair{Symbol: "MINI-USDX", BaseAsset: "MINI", QuoteAsset: "USDX"}

	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	e := core.NewEngine(pair)
	e.SetRecorder(s)
	if err := e.Deposit(alice, ledger.Quote, u(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.Deposit(bob, ledger.Base, u(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	buyID, _, err := e.PlaceLimitOrder(pair.Symbol, book.Buy, 10, 100, alice, 1)
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if _, _, err := e.PlaceLimitOrder(pair.Symbol, book.Sell, 10, 40, bob, 2); err != nil {
		t.Fatalf("place sell: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	// restart
	s2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { s2.Close() })

	e2 := core.NewEngine(pair)
	balances, err := s2.LoadBalances()
	if err != nil {
		t.Fatalf("LoadBalances: %v", err)
	}
	for _, b := range balances {
		e2.RestoreBalance(b.Addr, b.Asset, b.Available, b.Locked)
	}
	orders, err := s2.LoadOpenOrders()
	if err != nil {
		t.Fatalf("LoadOpenOrders: %v", err)
	}
	for _, o := range orders {
		e2.RestoreOrder(o)
	}
	seq, err := s2.LoadOrderSeq()
	if err != nil {
		t.Fatalf("LoadOrderSeq: %v", err)
	}
	e2.RestoreOrderSeq(seq)
	e2.SetRecorder(s2)

	// alice bought 40@10 and still bids for 60 with 600 locked
	if got := e2.BalanceOf(alice, ledger.Base); !got.Eq(u(40)) {
		t.Errorf("alice base = %s, want 40", got.Dec())
	}
	if got := e2.LockedOf(alice, ledger.Quote); !got.Eq(u(600)) {
		t.Errorf("alice locked quote = %s, want 600", got.Dec())
	}
	if got := e2.BalanceOf(bob, ledger.Quote); !got.Eq(u(400)) {
		t.Errorf("bob quote = %s, want 400", got.Dec())
	}
	resting, open := e2.OpenOrder(buyID)
	if !open {
		t.Fatal("resting buy lost across restart")
	}
	if resting.Qty != 60 {
		t.Errorf("resting qty = %d, want 60", resting.Qty)
	}

	trades, err := s2.LoadRecentTrades(10)
	if err != nil {
		t.Fatalf("LoadRecentTrades: %v", err)
	}
	if len(trades) != 1 || trades[0].Price != 10 || trades[0].Qty != 40 {
		t.Errorf("trades = %+v, want one 40@10", trades)
	}

	// ids keep advancing past everything created before the restart
	id, _, err := e2.PlaceLimitOrder(pair.Symbol, book.Sell, 11, 1, bob, 3)
	if err != nil {
		t.Fatalf("place after restart: %v", err)
	}
	if id <= buyID {
		t.Errorf("order id after restart = %d, want > %d", id, buyID)
	}
}
