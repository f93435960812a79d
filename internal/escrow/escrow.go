// Package escrow implements consignment sales of unique assets.
//
// Flow:
//  1. Seller consigns an asset → asset moved into the platform vault
//  2. Designated buyer pays the agreed price → asset released to buyer,
//     price split between seller and fee recipient, both parties scored
//  3. Or seller cancels → asset returned, no payment, no points
package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/consignio/consign/internal/custody"
)

var (
	ErrEscrowNotFound   = errors.New("escrow not found")
	ErrNotOwner         = errors.New("seller does not hold the asset")
	ErrNotBuyer         = errors.New("caller is not the designated buyer")
	ErrNotSeller        = errors.New("caller is not the seller")
	ErrAlreadyFinalized = errors.New("escrow already finalized")
	ErrAmountMismatch   = errors.New("payment does not match the agreed price")
	ErrCustodyMismatch  = errors.New("vault does not hold the asset")
	ErrSameParty        = errors.New("buyer and seller cannot be the same address")
	ErrInvalidPrice     = errors.New("invalid price")
)

// Status represents the state of an escrow.
type Status string

const (
	StatusPending   Status = "pending"   // Created, asset in vault
	StatusCompleted Status = "completed" // Buyer paid, asset released
	StatusCancelled Status = "cancelled" // Seller withdrew, asset returned
)

// Escrow represents one consignment sale.
//
// IDs are assigned by the store, monotonically, and never reused. A record
// transitions pending → completed or pending → cancelled exactly once;
// everything except Status, Fee, ResolvedAt, and UpdatedAt is immutable
// after creation.
type Escrow struct {
	ID         uint64           `json:"id"`
	Asset      custody.AssetRef `json:"asset"`
	Seller     string           `json:"seller"`
	Buyer      string           `json:"buyer"`
	Price      string           `json:"price"`
	Status     Status           `json:"status"`
	Fee        string           `json:"fee,omitempty"` // recorded at completion
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
	ResolvedAt *time.Time       `json:"resolvedAt,omitempty"`
}

// IsFinalized returns true if the escrow is in a terminal state.
func (e *Escrow) IsFinalized() bool {
	return e.Status != StatusPending
}

// Store persists escrow records and the per-party indices.
//
// Cancelled records stay retrievable by id as tombstones but drop out of
// both party indices; completed records stay indexed for history queries.
type Store interface {
	// Create assigns the next id to e and inserts it under both parties.
	Create(ctx context.Context, e *Escrow) error

	Get(ctx context.Context, id uint64) (*Escrow, error)

	// MarkCompleted finalizes a pending escrow with the fee charged.
	MarkCompleted(ctx context.Context, id uint64, fee string, at time.Time) (*Escrow, error)

	// Cancel finalizes a pending escrow and removes it from both indices.
	Cancel(ctx context.Context, id uint64, at time.Time) (*Escrow, error)

	ListBySeller(ctx context.Context, seller string) ([]*Escrow, error)
	ListByBuyer(ctx context.Context, buyer string) ([]*Escrow, error)
}
