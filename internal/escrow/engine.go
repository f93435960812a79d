package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/consignio/consign/internal/coin"
	"github.com/consignio/consign/internal/custody"
	"github.com/consignio/consign/internal/fees"
	"github.com/consignio/consign/internal/ledger"
	"github.com/consignio/consign/internal/metrics"
	"github.com/consignio/consign/internal/reputation"
)

// FundsLedger abstracts the ledger operations the engine needs.
type FundsLedger interface {
	Settle(ctx context.Context, s ledger.Settlement) error
}

// Events receives one notification per successful state transition.
type Events interface {
	EscrowCreated(e *Escrow)
	EscrowCompleted(e *Escrow)
	EscrowCancelled(e *Escrow)
	PointsUpdated(award reputation.Award)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) EscrowCreated(*Escrow)          {}
func (NopEvents) EscrowCompleted(*Escrow)        {}
func (NopEvents) EscrowCancelled(*Escrow)        {}
func (NopEvents) PointsUpdated(reputation.Award) {}

// Engine orchestrates custody, the escrow store, the fee policy, the funds
// ledger, and the reputation ledger under the three public transactions.
//
// A single mutex serializes create/complete/cancel so that each transaction
// either fully applies across all structures or, on failure, compensates
// the custody move it already made. Reads go straight to the store.
type Engine struct {
	mu      sync.Mutex
	store   Store
	custody custody.Adapter
	policy  *fees.Policy
	scores  *reputation.Ledger
	funds   FundsLedger
	vault   string
	events  Events
	logger  *slog.Logger
}

// NewEngine creates an escrow engine. vault is the address assets are held
// under while in escrow.
func NewEngine(store Store, adapter custody.Adapter, policy *fees.Policy, scores *reputation.Ledger, funds FundsLedger, vault string, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		custody: adapter,
		policy:  policy,
		scores:  scores,
		funds:   funds,
		vault:   strings.ToLower(vault),
		events:  NopEvents{},
		logger:  logger,
	}
}

// WithEvents sets the event sink.
func (n *Engine) WithEvents(events Events) *Engine {
	n.events = events
	return n
}

// CreateRequest contains the parameters for consigning an asset.
type CreateRequest struct {
	Asset  custody.AssetRef
	Seller string
	Buyer  string
	Price  *big.Int
}

// Create verifies the seller holds the asset, moves it into the vault, and
// records the pending escrow.
func (n *Engine) Create(ctx context.Context, req CreateRequest) (*Escrow, error) {
	seller := strings.ToLower(req.Seller)
	buyer := strings.ToLower(req.Buyer)

	if seller == buyer {
		metrics.EscrowRejectionsTotal.WithLabelValues("same_party").Inc()
		return nil, ErrSameParty
	}
	// The escrows table carries CHECK (price > 0); reject the boundary
	// here rather than letting the insert fail.
	if req.Price == nil || req.Price.Sign() <= 0 {
		metrics.EscrowRejectionsTotal.WithLabelValues("invalid_price").Inc()
		return nil, ErrInvalidPrice
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	holder, err := n.custody.OwnerOf(ctx, req.Asset)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(holder, seller) {
		metrics.EscrowRejectionsTotal.WithLabelValues("not_owner").Inc()
		return nil, ErrNotOwner
	}

	if err := n.custody.Transfer(ctx, req.Asset, seller, n.vault); err != nil {
		return nil, fmt.Errorf("failed to take custody of %s: %w", req.Asset, err)
	}

	now := time.Now()
	e := &Escrow{
		Asset:     req.Asset,
		Seller:    seller,
		Buyer:     buyer,
		Price:     coin.Format(req.Price),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := n.store.Create(ctx, e); err != nil {
		// Return the asset, the consignment never existed
		if retErr := n.custody.Transfer(ctx, req.Asset, n.vault, seller); retErr != nil {
			n.logger.Error("CRITICAL: asset stranded in vault after store failure",
				"asset", req.Asset.String(), "seller", seller, "error", retErr)
		}
		return nil, fmt.Errorf("failed to create escrow record: %w", err)
	}

	metrics.EscrowsTotal.WithLabelValues("created").Inc()
	metrics.EscrowsOpen.Inc()
	n.logger.Info("escrow created",
		"id", e.ID, "asset", e.Asset.String(),
		"seller", seller, "buyer", buyer, "price", e.Price)

	n.events.EscrowCreated(e)
	return e, nil
}

// Complete settles a pending escrow: the designated buyer pays exactly the
// agreed price, the asset leaves the vault for the buyer, the price splits
// between seller and fee recipient, and both parties earn points.
func (n *Engine) Complete(ctx context.Context, id uint64, caller string, amount *big.Int) (*Escrow, error) {
	caller = strings.ToLower(caller)

	n.mu.Lock()
	defer n.mu.Unlock()

	e, err := n.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.IsFinalized() {
		metrics.EscrowRejectionsTotal.WithLabelValues("already_finalized").Inc()
		return nil, ErrAlreadyFinalized
	}
	if caller != e.Buyer {
		metrics.EscrowRejectionsTotal.WithLabelValues("not_buyer").Inc()
		return nil, ErrNotBuyer
	}

	price, ok := coin.Parse(e.Price)
	if !ok {
		return nil, ErrInvalidPrice
	}
	if amount == nil || amount.Cmp(price) != 0 {
		metrics.EscrowRejectionsTotal.WithLabelValues("amount_mismatch").Inc()
		return nil, ErrAmountMismatch
	}

	holder, err := n.custody.OwnerOf(ctx, e.Asset)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(holder, n.vault) {
		metrics.EscrowRejectionsTotal.WithLabelValues("custody_mismatch").Inc()
		return nil, ErrCustodyMismatch
	}

	quote := n.policy.Quote(price)

	if err := n.funds.Settle(ctx, ledger.Settlement{
		Buyer:        e.Buyer,
		Seller:       e.Seller,
		FeeRecipient: n.policy.Recipient(),
		Price:        quote.Price,
		Fee:          quote.Fee,
		Reference:    fmt.Sprintf("%d", e.ID),
	}); err != nil {
		metrics.EscrowRejectionsTotal.WithLabelValues("settlement_failed").Inc()
		return nil, fmt.Errorf("failed to settle payment: %w", err)
	}

	if err := n.custody.Transfer(ctx, e.Asset, n.vault, e.Buyer); err != nil {
		// Funds moved but the asset did not; surface loudly, the
		// settlement has no inverse here.
		n.logger.Error("CRITICAL: settlement applied but asset release failed",
			"id", e.ID, "asset", e.Asset.String(), "error", err)
		return nil, fmt.Errorf("failed to release asset: %w", err)
	}

	completed, err := n.store.MarkCompleted(ctx, id, coin.Format(quote.Fee), time.Now())
	if err != nil {
		n.logger.Error("CRITICAL: escrow settled but status update failed",
			"id", e.ID, "error", err)
		return nil, fmt.Errorf("failed to finalize escrow record: %w", err)
	}

	// Reputation strictly after custody and record success
	sellerAward := n.scores.AwardTrade(completed.Seller, price)
	buyerAward := n.scores.AwardTrade(completed.Buyer, price)

	metrics.EscrowsTotal.WithLabelValues("completed").Inc()
	metrics.EscrowsOpen.Dec()
	feeCoins, _ := new(big.Float).Quo(
		new(big.Float).SetInt(quote.Fee),
		new(big.Float).SetInt(coin.Unit),
	).Float64()
	metrics.FeesCollectedTotal.Add(feeCoins)

	n.logger.Info("escrow completed",
		"id", completed.ID, "price", completed.Price, "fee", completed.Fee,
		"seller", completed.Seller, "buyer", completed.Buyer)

	n.events.EscrowCompleted(completed)
	n.events.PointsUpdated(sellerAward)
	n.events.PointsUpdated(buyerAward)
	return completed, nil
}

// Cancel withdraws a pending consignment: the asset returns to the seller
// and the record drops out of both party indices.
func (n *Engine) Cancel(ctx context.Context, id uint64, caller string) (*Escrow, error) {
	caller = strings.ToLower(caller)

	n.mu.Lock()
	defer n.mu.Unlock()

	e, err := n.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.IsFinalized() {
		metrics.EscrowRejectionsTotal.WithLabelValues("already_finalized").Inc()
		return nil, ErrAlreadyFinalized
	}
	if caller != e.Seller {
		metrics.EscrowRejectionsTotal.WithLabelValues("not_seller").Inc()
		return nil, ErrNotSeller
	}

	if err := n.custody.Transfer(ctx, e.Asset, n.vault, e.Seller); err != nil {
		return nil, fmt.Errorf("failed to return asset: %w", err)
	}

	cancelled, err := n.store.Cancel(ctx, id, time.Now())
	if err != nil {
		// Undo the return so state stays consistent with the record
		if undoErr := n.custody.Transfer(ctx, e.Asset, e.Seller, n.vault); undoErr != nil {
			n.logger.Error("CRITICAL: cancel rollback failed, asset with seller but escrow still pending",
				"id", e.ID, "error", undoErr)
		}
		return nil, fmt.Errorf("failed to cancel escrow record: %w", err)
	}

	metrics.EscrowsTotal.WithLabelValues("cancelled").Inc()
	metrics.EscrowsOpen.Dec()
	n.logger.Info("escrow cancelled", "id", cancelled.ID, "seller", cancelled.Seller)

	n.events.EscrowCancelled(cancelled)
	return cancelled, nil
}

// Get returns an escrow by id, including cancelled tombstones.
func (n *Engine) Get(ctx context.Context, id uint64) (*Escrow, error) {
	return n.store.Get(ctx, id)
}

// ListBySeller returns a seller's escrows in index order.
func (n *Engine) ListBySeller(ctx context.Context, seller string) ([]*Escrow, error) {
	return n.store.ListBySeller(ctx, strings.ToLower(seller))
}

// ListByBuyer returns a buyer's escrows in index order.
func (n *Engine) ListByBuyer(ctx context.Context, buyer string) ([]*Escrow, error) {
	return n.store.ListByBuyer(ctx, strings.ToLower(buyer))
}

// IsRejection reports whether err is a precondition violation rather than
// an infrastructure failure.
func IsRejection(err error) bool {
	for _, candidate := range []error{
		ErrNotOwner, ErrNotBuyer, ErrNotSeller, ErrAlreadyFinalized,
		ErrAmountMismatch, ErrCustodyMismatch, ErrSameParty, ErrInvalidPrice,
		custody.ErrAssetNotFound, custody.ErrNotHolder,
		ledger.ErrInsufficientBalance, ledger.ErrAccountNotFound,
	} {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}
