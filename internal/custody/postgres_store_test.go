//go:build integration

package custody

import (
	"context"
	"testing"

	"github.com/consignio/consign/internal/testutil"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func TestPostgresCustody_RegisterAndGetOwner(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ref := AssetRef{Contract: contractA, TokenID: "1"}

	if err := store.Register(ctx, ref, alice); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	owner, err := store.GetOwner(ctx, ref)
	if err != nil {
		t.Fatalf("GetOwner failed: %v", err)
	}
	if owner != alice {
		t.Errorf("Owner: got %s, want %s", owner, alice)
	}

	// Registering the same asset twice must fail.
	if err := store.Register(ctx, ref, bob); err != ErrAssetExists {
		t.Errorf("Expected ErrAssetExists, got %v", err)
	}
	// And the original owner is untouched.
	owner, _ = store.GetOwner(ctx, ref)
	if owner != alice {
		t.Errorf("Owner after duplicate register: got %s, want %s", owner, alice)
	}
}

func TestPostgresCustody_TransferOwner(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ref := AssetRef{Contract: contractA, TokenID: "2"}

	if err := store.Register(ctx, ref, alice); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := store.TransferOwner(ctx, ref, alice, bob); err != nil {
		t.Fatalf("TransferOwner failed: %v", err)
	}
	owner, err := store.GetOwner(ctx, ref)
	if err != nil {
		t.Fatalf("GetOwner failed: %v", err)
	}
	if owner != bob {
		t.Errorf("Owner: got %s, want %s", owner, bob)
	}

	// Transfer from the old owner must fail and change nothing.
	if err := store.TransferOwner(ctx, ref, alice, vault); err != ErrNotHolder {
		t.Errorf("Expected ErrNotHolder, got %v", err)
	}
	owner, _ = store.GetOwner(ctx, ref)
	if owner != bob {
		t.Errorf("Owner after rejected transfer: got %s, want %s", owner, bob)
	}
}

func TestPostgresCustody_NotFound(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ref := AssetRef{Contract: contractA, TokenID: "404"}

	if _, err := store.GetOwner(ctx, ref); err != ErrAssetNotFound {
		t.Errorf("Expected ErrAssetNotFound, got %v", err)
	}
	if err := store.TransferOwner(ctx, ref, alice, bob); err != ErrAssetNotFound {
		t.Errorf("Expected ErrAssetNotFound for transfer, got %v", err)
	}
}

func TestPostgresCustody_ListByOwner(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	for _, tokenID := range []string{"10", "11", "12"} {
		if err := store.Register(ctx, AssetRef{Contract: contractA, TokenID: tokenID}, alice); err != nil {
			t.Fatalf("Register %s failed: %v", tokenID, err)
		}
	}
	if err := store.Register(ctx, AssetRef{Contract: contractA, TokenID: "13"}, bob); err != nil {
		t.Fatalf("Register for bob failed: %v", err)
	}

	assets, err := store.ListByOwner(ctx, alice)
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(assets) != 3 {
		t.Fatalf("Expected 3 assets for alice, got %d", len(assets))
	}
	for _, a := range assets {
		if a.Owner != alice {
			t.Errorf("Asset %s owner: got %s, want %s", a.Ref.TokenID, a.Owner, alice)
		}
	}
}
