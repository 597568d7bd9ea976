package core

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lythesia/minidex/pkg/app/core/book"
	"github.com/lythesia/minidex/pkg/app/core/ledger"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

const pairSymbol = "MINI-USDX"

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(Pair{Symbol: pairSymbol, BaseAsset: "MINI", QuoteAsset: "USDX"})
	if err := e.Deposit(alice, ledger.Base, u(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.Deposit(alice, ledger.Quote, u(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.Deposit(bob, ledger.Base, u(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.Deposit(bob, ledger.Quote, u(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return e
}

func checkBalance(t *testing.T, e *Engine, addr common.Address, asset ledger.Asset, available, locked uint64) {
	t.Helper()
	if got := e.BalanceOf(addr, asset); !got.Eq(u(available)) {
		t.Errorf("BalanceOf(%s, %s) = %s, want %d", addr.Hex(), asset, got.Dec(), available)
	}
	if got := e.LockedOf(addr, asset); !got.Eq(u(locked)) {
		t.Errorf("LockedOf(%s, %s) = %s, want %d", addr.Hex(), asset, got.Dec(), locked)
	}
}

func TestPlaceValidation(t *testing.T) {
	e := newTestEngine(t)

	if _, _, err := e.PlaceLimitOrder("OTHER-PAIR", book.Buy, 10, 100, alice, 1); !errors.Is(err, ErrUnsupportedPair) {
		t.Errorf("unsupported pair = %v, want ErrUnsupportedPair", err)
	}
	if _, _, err := e.PlaceLimitOrder(pairSymbol, book.Buy, 0, 100, alice, 1); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("zero price = %v, want ErrInvalidPrice", err)
	}
	if _, _, err := e.PlaceLimitOrder(pairSymbol, book.Buy, 10, 0, alice, 1); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("zero qty = %v, want ErrInvalidQuantity", err)
	}
	if _, _, err := e.PlaceLimitOrder(pairSymbol, book.Side(9), 10, 100, alice, 1); !errors.Is(err, ErrInvalidSide) {
		t.Errorf("bad side = %v, want ErrInvalidSide", err)
	}
}

func TestPlaceInsufficientFunds(t *testing.T) {
	e := newTestEngine(t)

	// buy needs price*qty quote; alice only has 1000
	if _, _, err := e.PlaceLimitOrder(pairSymbol, book.Buy, 11, 100, alice, 1); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("underfunded buy = %v, want ErrInsufficientBalance", err)
	}
	if _, _, err := e.PlaceLimitOrder(pairSymbol, book.Sell, 10, 1001, alice, 1); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("underfunded sell = %v, want ErrInsufficientBalance", err)
	}
	// rejected placements mutate nothing
	checkBalance(t, e, alice, ledger.Base, 1000, 0)
	checkBalance(t, e, alice, ledger.Quote, 1000, 0)
}

func TestRejectedPlacementStillConsumesID(t *testing.T) {
	e := newTestEngine(t)

	id1, _, err := e.PlaceLimitOrder(pairSymbol, book.Buy, 10, 10, alice, 1)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	rejectedID, _, err := e.PlaceLimitOrder(pairSymbol, book.Buy, 11, 100, alice, 2)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("underfunded buy = %v, want ErrInsufficientBalance", err)
	}
	id3, _, err := e.PlaceLimitOrder(pairSymbol, book.Buy, 10, 10, alice, 3)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if rejectedID == id1 || rejectedID == id3 || id1 == id3 {
		t.Errorf("ids not unique: %d, %d, %d", id1, rejectedID, id3)
	}
	if id3 != rejectedID+1 {
		t.Errorf("rejected placement did not consume an id: %d then %d", rejectedID, id3)
	}
}

func TestPlaceAndMatch(t *testing.T) {
	e := newTestEngine(t)

	buyID, fills, err := e.PlaceLimitOrder(pairSymbol, book.Buy, 10, 100, alice, 1)
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if len(fills) != 0 {
		t.Fatalf("fills on empty book = %d, want 0", len(fills))
	}
	checkBalance(t, e, alice, ledger.Quote, 0, 1000)

	sellID, fills, err := e.PlaceLimitOrder(pairSymbol, book.Sell, 10, 100, bob, 2)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(fills))
	}
	if fills[0].OrderID != buyID || fills[1].OrderID != sellID {
		t.Errorf("fill order ids = %d, %d, want %d, %d", fills[0].OrderID, fills[1].OrderID, buyID, sellID)
	}

	checkBalance(t, e, alice, ledger.Base, 1100, 0)
	checkBalance(t, e, alice, ledger.Quote, 0, 0)
	checkBalance(t, e, bob, ledger.Base, 900, 0)
	checkBalance(t, e, bob, ledger.Quote, 2000, 0)
}

func TestBalanceConservation(t *testing.T) {
	e := newTestEngine(t)

	total := func(asset ledger.Asset) *uint256.Int {
		sum := uint256.NewInt(0)
		for _, addr := range []common.Address{alice, bob} {
			sum.Add(sum, e.BalanceOf(addr, asset))
			sum.Add(sum, e.LockedOf(addr, asset))
		}
		return sum
	}

	if _, _, err := e.PlaceLimitOrder(pairSymbol, book.Buy, 8, 100, alice, 1); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, _, err := e.PlaceLimitOrder(pairSymbol, book.Sell, 6, 50, bob, 2); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, _, err := e.PlaceLimitOrder(pairSymbol, book.Sell, 12, 30, bob, 3); err != nil {
		t.Fatalf("place: %v", err)
	}

	if got := total(ledger.Base); !got.Eq(u(2000)) {
		t.Errorf("total base = %s, want 2000", got.Dec())
	}
	if got := total(ledger.Quote); !got.Eq(u(2000)) {
		t.Errorf("total quote = %s, want 2000", got.Dec())
	}
}

func TestCancelThroughEngine(t *testing.T) {
	e := newTestEngine(t)

	buyID, _, err := e.PlaceLimitOrder(pairSymbol, book.Buy, 10, 100, alice, 1)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, _, err := e.PlaceLimitOrder(pairSymbol, book.Sell, 10, 50, bob, 2); err != nil {
		t.Fatalf("place: %v", err)
	}
	checkBalance(t, e, alice, ledger.Quote, 0, 500)

	if err := e.CancelOrder(bob, buyID); !errors.Is(err, book.ErrUnauthorized) {
		t.Errorf("cancel by non-owner = %v, want ErrUnauthorized", err)
	}
	if err := e.CancelOrder(alice, buyID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	checkBalance(t, e, alice, ledger.Quote, 500, 0)

	if err := e.CancelOrder(alice, buyID); !errors.Is(err, book.ErrOrderNotFound) {
		t.Errorf("second cancel = %v, want ErrOrderNotFound", err)
	}
}

func TestDepositWithdraw(t *testing.T) {
	e := NewEngine(Pair{Symbol: pairSymbol, BaseAsset: "MINI", QuoteAsset: "USDX"})

	if err := e.Deposit(alice, ledger.Quote, u(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero deposit = %v, want ErrInvalidAmount", err)
	}
	if err := e.Withdraw(alice, ledger.Quote, u(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero withdrawal = %v, want ErrInvalidAmount", err)
	}

	if err := e.Deposit(alice, ledger.Quote, u(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.Withdraw(alice, ledger.Quote, u(40)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	checkBalance(t, e, alice, ledger.Quote, 60, 0)

	if err := e.Withdraw(alice, ledger.Quote, u(100)); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("over-withdrawal = %v, want ErrInsufficientBalance", err)
	}
}

func TestWithdrawCannotTouchLocked(t *testing.T) {
	e := newTestEngine(t)

	if _, _, err := e.PlaceLimitOrder(pairSymbol, book.Buy, 10, 100, alice, 1); err != nil {
		t.Fatalf("place: %v", err)
	}
	checkBalance(t, e, alice, ledger.Quote, 0, 1000)

	if err := e.Withdraw(alice, ledger.Quote, u(1)); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("withdraw against locked funds = %v, want ErrInsufficientBalance", err)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	e := NewEngine(Pair{Symbol: pairSymbol, BaseAsset: "MINI", QuoteAsset: "USDX"})

	e.RestoreBalance(alice, ledger.Quote, u(500), u(500))
	e.RestoreBalance(bob, ledger.Base, u(900), u(100))
	o := &book.Order{ID: 7, Owner: alice, Side: book.Buy, Price: 10, Qty: 50, Timestamp: 1}
	o.Locked.SetUint64(500)
	e.RestoreOrder(o)
	e.RestoreOrderSeq(8)

	checkBalance(t, e, alice, ledger.Quote, 500, 500)

	// the restored order must still match and cancel
	sellID, fills, err := e.PlaceLimitOrder(pairSymbol, book.Sell, 10, 20, bob, 2)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if sellID < 8 {
		t.Errorf("order id after restore = %d, want >= 8", sellID)
	}
	if len(fills) != 2 || fills[0].OrderID != 7 {
		t.Fatalf("fills = %+v, want restored order as maker", fills)
	}
	if err := e.CancelOrder(alice, 7); err != nil {
		t.Fatalf("cancel restored order: %v", err)
	}
	// 200 of the locked 500 was spent, the remaining 300 unlocked
	checkBalance(t, e, alice, ledger.Quote, 800, 0)
}
