package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/lib/pq"

	"github.com/consignio/consign/internal/coin"
)

const (
	buyerAddr    = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	sellerAddr   = "0xcccccccccccccccccccccccccccccccccccccccc"
	treasuryAddr = "0xffffffffffffffffffffffffffffffffffffffff"
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), coin.Unit)
}

func assertAvailable(t *testing.T, l *Ledger, address string, want *big.Int) {
	t.Helper()
	bal, err := l.GetBalance(context.Background(), address)
	if err != nil {
		t.Fatalf("GetBalance(%s) failed: %v", address, err)
	}
	got, ok := coin.Parse(bal.Available)
	if !ok {
		t.Fatalf("bad stored amount %q", bal.Available)
	}
	if got.Cmp(want) != 0 {
		t.Errorf("available for %s = %s, want %s", address, bal.Available, coin.Format(want))
	}
}

func TestDepositAndBalance(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	if err := l.Deposit(ctx, buyerAddr, units(100), "tx1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	assertAvailable(t, l, buyerAddr, units(100))

	bal, err := l.GetBalance(ctx, buyerAddr)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	totalIn, _ := coin.Parse(bal.TotalIn)
	if totalIn.Cmp(units(100)) != 0 {
		t.Errorf("TotalIn = %s, want 100", bal.TotalIn)
	}
}

func TestDepositRejectsNonPositive(t *testing.T) {
	l := New(NewMemoryStore())

	if err := l.Deposit(context.Background(), buyerAddr, big.NewInt(0), "tx1"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero deposit: got %v, want ErrInvalidAmount", err)
	}
	if err := l.Deposit(context.Background(), buyerAddr, big.NewInt(-5), "tx2"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative deposit: got %v, want ErrInvalidAmount", err)
	}
}

func TestBalanceAddressNormalized(t *testing.T) {
	l := New(NewMemoryStore())

	upper := "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	if err := l.Deposit(context.Background(), upper, units(5), "tx1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	assertAvailable(t, l, buyerAddr, units(5))
}

func TestSettleSplitsPrice(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	if err := l.Deposit(ctx, buyerAddr, units(100), "tx1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	err := l.Settle(ctx, Settlement{
		Buyer:        buyerAddr,
		Seller:       sellerAddr,
		FeeRecipient: treasuryAddr,
		Price:        units(100),
		Fee:          units(5),
		Reference:    "41",
	})
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	assertAvailable(t, l, buyerAddr, big.NewInt(0))
	assertAvailable(t, l, sellerAddr, units(95))
	assertAvailable(t, l, treasuryAddr, units(5))
}

func TestSettleZeroFee(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	if err := l.Deposit(ctx, buyerAddr, units(10), "tx1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	err := l.Settle(ctx, Settlement{
		Buyer:        buyerAddr,
		Seller:       sellerAddr,
		FeeRecipient: treasuryAddr,
		Price:        units(10),
		Fee:          big.NewInt(0),
		Reference:    "7",
	})
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	assertAvailable(t, l, sellerAddr, units(10))

	// No fee entry recorded for a zero fee
	history, _ := l.GetHistory(ctx, treasuryAddr, 10)
	if len(history) != 0 {
		t.Errorf("treasury history = %d entries, want 0", len(history))
	}
}

func TestSettleInsufficientBalance(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	if err := l.Deposit(ctx, buyerAddr, units(50), "tx1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	err := l.Settle(ctx, Settlement{
		Buyer:        buyerAddr,
		Seller:       sellerAddr,
		FeeRecipient: treasuryAddr,
		Price:        units(100),
		Fee:          units(5),
		Reference:    "8",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}

	// Nothing moved
	assertAvailable(t, l, buyerAddr, units(50))
	assertAvailable(t, l, sellerAddr, big.NewInt(0))
}

func TestSettleUnknownBuyer(t *testing.T) {
	l := New(NewMemoryStore())

	err := l.Settle(context.Background(), Settlement{
		Buyer:        buyerAddr,
		Seller:       sellerAddr,
		FeeRecipient: treasuryAddr,
		Price:        units(1),
		Fee:          big.NewInt(0),
		Reference:    "9",
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("got %v, want ErrAccountNotFound", err)
	}
}

func TestSettleRejectsFeeAbovePrice(t *testing.T) {
	l := New(NewMemoryStore())

	err := l.Settle(context.Background(), Settlement{
		Buyer:        buyerAddr,
		Seller:       sellerAddr,
		FeeRecipient: treasuryAddr,
		Price:        units(1),
		Fee:          units(2),
		Reference:    "10",
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("got %v, want ErrInvalidAmount", err)
	}
}

func TestCanSpend(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	if err := l.Deposit(ctx, buyerAddr, units(20), "tx1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	ok, err := l.CanSpend(ctx, buyerAddr, units(20))
	if err != nil || !ok {
		t.Errorf("CanSpend(20) = %v, %v, want true", ok, err)
	}

	ok, err = l.CanSpend(ctx, buyerAddr, units(21))
	if err != nil || ok {
		t.Errorf("CanSpend(21) = %v, %v, want false", ok, err)
	}
}

func TestGetHistory(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Deposit(ctx, buyerAddr, units(1), "tx"); err != nil {
			t.Fatalf("Deposit failed: %v", err)
		}
	}

	history, err := l.GetHistory(ctx, buyerAddr, 2)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history length = %d, want 2", len(history))
	}
	for _, e := range history {
		if e.Type != "deposit" {
			t.Errorf("entry type = %s, want deposit", e.Type)
		}
	}
}

func TestIsCheckViolation(t *testing.T) {
	checkErr := &pq.Error{Code: "23514", Constraint: "balances_available_check"}
	if !isCheckViolation(checkErr) {
		t.Error("check_violation not recognised")
	}
	if !isCheckViolation(fmt.Errorf("debit: %w", checkErr)) {
		t.Error("wrapped check_violation not recognised")
	}

	// Other failures must not masquerade as insufficient balance.
	if isCheckViolation(&pq.Error{Code: "40001", Message: "serialization failure"}) {
		t.Error("serialization failure treated as check_violation")
	}
	if isCheckViolation(errors.New("connection refused")) {
		t.Error("plain error treated as check_violation")
	}
	if isCheckViolation(nil) {
		t.Error("nil error treated as check_violation")
	}
}
