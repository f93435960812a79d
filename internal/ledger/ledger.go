// Package ledger tracks custodial coin balances for trading participants.
//
// Flow:
//  1. A participant deposits coin with the platform and is credited.
//  2. Escrow settlement moves the sale price out of the buyer's balance,
//     splitting it between the seller and the fee recipient.
//  3. Every movement leaves a journal entry.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/consignio/consign/internal/coin"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Entry represents a journal entry
type Entry struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	Type        string    `json:"type"` // deposit, sale_payment, sale_proceeds, fee
	Amount      string    `json:"amount"`
	Reference   string    `json:"reference,omitempty"` // escrow id, deposit tx, etc.
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Balance represents a participant's custodial balance
type Balance struct {
	Address   string    `json:"address"`
	Available string    `json:"available"`
	TotalIn   string    `json:"totalIn"`  // Lifetime credits
	TotalOut  string    `json:"totalOut"` // Lifetime debits
	UpdatedAt time.Time `json:"updatedAt"`
}

// Settlement describes the atomic money movement of one completed sale:
// the buyer pays Price, the seller receives Price minus Fee, and the fee
// recipient receives Fee.
type Settlement struct {
	Buyer        string
	Seller       string
	FeeRecipient string
	Price        *big.Int
	Fee          *big.Int
	Reference    string
}

// Store persists balances and the journal
type Store interface {
	GetBalance(ctx context.Context, address string) (*Balance, error)
	Credit(ctx context.Context, address, amount, reference, description string) error

	// Settle applies the whole settlement or none of it.
	Settle(ctx context.Context, s Settlement) error

	GetHistory(ctx context.Context, address string, limit int) ([]*Entry, error)
}

// Ledger manages custodial balances
type Ledger struct {
	store Store
}

// New creates a new ledger
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// GetBalance returns a participant's current balance
func (l *Ledger) GetBalance(ctx context.Context, address string) (*Balance, error) {
	return l.store.GetBalance(ctx, strings.ToLower(address))
}

// Deposit credits a participant's balance
func (l *Ledger) Deposit(ctx context.Context, address string, amount *big.Int, reference string) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return l.store.Credit(ctx, strings.ToLower(address), coin.Format(amount), reference, "deposit")
}

// CanSpend checks whether a participant's available balance covers amount
func (l *Ledger) CanSpend(ctx context.Context, address string, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() < 0 {
		return false, ErrInvalidAmount
	}

	bal, err := l.store.GetBalance(ctx, strings.ToLower(address))
	if err != nil {
		return false, err
	}

	available, ok := coin.Parse(bal.Available)
	if !ok {
		return false, ErrInvalidAmount
	}
	return available.Cmp(amount) >= 0, nil
}

// Settle executes the three-way split for a completed sale
func (l *Ledger) Settle(ctx context.Context, s Settlement) error {
	if s.Price == nil || s.Price.Sign() < 0 || s.Fee == nil || s.Fee.Sign() < 0 {
		return ErrInvalidAmount
	}
	if s.Fee.Cmp(s.Price) > 0 {
		return ErrInvalidAmount
	}

	s.Buyer = strings.ToLower(s.Buyer)
	s.Seller = strings.ToLower(s.Seller)
	s.FeeRecipient = strings.ToLower(s.FeeRecipient)
	return l.store.Settle(ctx, s)
}

// GetHistory returns journal entries for a participant
func (l *Ledger) GetHistory(ctx context.Context, address string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.GetHistory(ctx, strings.ToLower(address), limit)
}
