//go:build integration

package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/consignio/consign/internal/custody"
	"github.com/consignio/consign/internal/testutil"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func pgEscrow(seller, buyer, price string) *Escrow {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Escrow{
		Asset:     custody.AssetRef{Contract: nftContract, TokenID: "42"},
		Seller:    seller,
		Buyer:     buyer,
		Price:     price,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPostgresEscrow_CreateAndGet(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	e := pgEscrow(sellerAddr, buyerAddr, "100.000000")

	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if e.ID == 0 {
		t.Fatal("Create should assign a non-zero id")
	}

	got, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Seller != sellerAddr {
		t.Errorf("Seller: got %s, want %s", got.Seller, sellerAddr)
	}
	if got.Buyer != buyerAddr {
		t.Errorf("Buyer: got %s, want %s", got.Buyer, buyerAddr)
	}
	if got.Price != "100.000000" {
		t.Errorf("Price: got %s, want 100.000000", got.Price)
	}
	if got.Status != StatusPending {
		t.Errorf("Status: got %s, want pending", got.Status)
	}
	if got.Fee != "" {
		t.Errorf("Fee should be empty before completion, got %q", got.Fee)
	}
	if got.ResolvedAt != nil {
		t.Error("ResolvedAt should be nil before completion")
	}
	if got.Asset.Contract != nftContract || got.Asset.TokenID != "42" {
		t.Errorf("Asset: got %+v", got.Asset)
	}
}

func TestPostgresEscrow_MonotonicIDs(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	first := pgEscrow(sellerAddr, buyerAddr, "10.000000")
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create first failed: %v", err)
	}

	second := pgEscrow(sellerAddr, buyerAddr, "20.000000")
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("Create second failed: %v", err)
	}

	if second.ID <= first.ID {
		t.Errorf("IDs should increase: first=%d second=%d", first.ID, second.ID)
	}
}

func TestPostgresEscrow_MarkCompleted(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	e := pgEscrow(sellerAddr, buyerAddr, "100.000000")
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Microsecond)
	done, err := store.MarkCompleted(ctx, e.ID, "5.000000", at)
	if err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("Status: got %s, want completed", done.Status)
	}
	if done.Fee != "5.000000" {
		t.Errorf("Fee: got %s, want 5.000000", done.Fee)
	}
	if done.ResolvedAt == nil {
		t.Error("ResolvedAt should be set after completion")
	}

	// A second finalize attempt must fail.
	if _, err := store.MarkCompleted(ctx, e.ID, "5.000000", at); err != ErrAlreadyFinalized {
		t.Errorf("Expected ErrAlreadyFinalized on second complete, got %v", err)
	}
	if _, err := store.Cancel(ctx, e.ID, at); err != ErrAlreadyFinalized {
		t.Errorf("Expected ErrAlreadyFinalized on cancel after complete, got %v", err)
	}
}

func TestPostgresEscrow_CancelTombstone(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	e := pgEscrow(sellerAddr, buyerAddr, "100.000000")
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Microsecond)
	cancelled, err := store.Cancel(ctx, e.ID, at)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("Status: got %s, want cancelled", cancelled.Status)
	}
	if cancelled.Fee != "" {
		t.Errorf("Cancelled escrow should have no fee, got %q", cancelled.Fee)
	}

	// Tombstone is still retrievable by id.
	got, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get after cancel failed: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("Tombstone status: got %s, want cancelled", got.Status)
	}

	// But it drops out of both party lists.
	bySeller, err := store.ListBySeller(ctx, sellerAddr)
	if err != nil {
		t.Fatalf("ListBySeller failed: %v", err)
	}
	for _, item := range bySeller {
		if item.ID == e.ID {
			t.Error("Cancelled escrow should not appear in seller list")
		}
	}
	byBuyer, err := store.ListByBuyer(ctx, buyerAddr)
	if err != nil {
		t.Fatalf("ListByBuyer failed: %v", err)
	}
	for _, item := range byBuyer {
		if item.ID == e.ID {
			t.Error("Cancelled escrow should not appear in buyer list")
		}
	}
}

func TestPostgresEscrow_CompletedStaysListed(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	e := pgEscrow(sellerAddr, buyerAddr, "100.000000")
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.MarkCompleted(ctx, e.ID, "0.000000", time.Now().UTC()); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	bySeller, err := store.ListBySeller(ctx, sellerAddr)
	if err != nil {
		t.Fatalf("ListBySeller failed: %v", err)
	}
	found := false
	for _, item := range bySeller {
		if item.ID == e.ID {
			found = true
			if item.Status != StatusCompleted {
				t.Errorf("Listed status: got %s, want completed", item.Status)
			}
		}
	}
	if !found {
		t.Error("Completed escrow should stay in the seller list")
	}
}

func TestPostgresEscrow_ListOrderedByID(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	var ids []uint64
	for i := 0; i < 4; i++ {
		e := pgEscrow(sellerAddr, buyerAddr, "10.000000")
		if err := store.Create(ctx, e); err != nil {
			t.Fatalf("Create #%d failed: %v", i, err)
		}
		ids = append(ids, e.ID)
	}

	listed, err := store.ListBySeller(ctx, sellerAddr)
	if err != nil {
		t.Fatalf("ListBySeller failed: %v", err)
	}
	if len(listed) != 4 {
		t.Fatalf("Expected 4 escrows, got %d", len(listed))
	}
	for i, item := range listed {
		if item.ID != ids[i] {
			t.Errorf("Position %d: got id %d, want %d", i, item.ID, ids[i])
		}
	}
}

func TestPostgresEscrow_NotFound(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := store.Get(ctx, 999999); err != ErrEscrowNotFound {
		t.Errorf("Expected ErrEscrowNotFound, got %v", err)
	}
	if _, err := store.MarkCompleted(ctx, 999999, "1.000000", time.Now()); err != ErrEscrowNotFound {
		t.Errorf("Expected ErrEscrowNotFound on complete, got %v", err)
	}
	if _, err := store.Cancel(ctx, 999999, time.Now()); err != ErrEscrowNotFound {
		t.Errorf("Expected ErrEscrowNotFound on cancel, got %v", err)
	}
}
