package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/consignio/consign/internal/coin"
	"github.com/consignio/consign/internal/idgen"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	balances map[string]*Balance
	entries  []*Entry
	mu       sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		entries:  make([]*Entry, 0),
	}
}

func (m *MemoryStore) GetBalance(ctx context.Context, address string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[address]; ok {
		cp := *bal
		return &cp, nil
	}
	return &Balance{
		Address:   address,
		Available: "0",
		TotalIn:   "0",
		TotalOut:  "0",
		UpdatedAt: time.Now(),
	}, nil
}

// balance returns the live record, creating it on first touch. Caller holds mu.
func (m *MemoryStore) balance(address string) *Balance {
	bal, ok := m.balances[address]
	if !ok {
		bal = &Balance{
			Address:   address,
			Available: "0",
			TotalIn:   "0",
			TotalOut:  "0",
		}
		m.balances[address] = bal
	}
	return bal
}

func (m *MemoryStore) Credit(ctx context.Context, address, amount, reference, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.credit(address, amount, reference, description, "deposit")
	return nil
}

// credit mutates a balance and appends the journal entry. Caller holds mu.
func (m *MemoryStore) credit(address, amount, reference, description, entryType string) {
	bal := m.balance(address)

	avail, _ := coin.Parse(bal.Available)
	totalIn, _ := coin.Parse(bal.TotalIn)
	add, _ := coin.Parse(amount)

	avail.Add(avail, add)
	totalIn.Add(totalIn, add)
	bal.Available = coin.Format(avail)
	bal.TotalIn = coin.Format(totalIn)
	bal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("entry_"),
		Address:     address,
		Type:        entryType,
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})
}

func (m *MemoryStore) Settle(ctx context.Context, s Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buyer, ok := m.balances[s.Buyer]
	if !ok {
		return ErrAccountNotFound
	}

	avail, _ := coin.Parse(buyer.Available)
	if avail.Cmp(s.Price) < 0 {
		return ErrInsufficientBalance
	}

	net := new(big.Int).Sub(s.Price, s.Fee)

	// Debit the buyer
	totalOut, _ := coin.Parse(buyer.TotalOut)
	avail.Sub(avail, s.Price)
	totalOut.Add(totalOut, s.Price)
	buyer.Available = coin.Format(avail)
	buyer.TotalOut = coin.Format(totalOut)
	buyer.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("entry_"),
		Address:     s.Buyer,
		Type:        "sale_payment",
		Amount:      coin.Format(s.Price),
		Reference:   s.Reference,
		Description: "escrow settlement",
		CreatedAt:   time.Now(),
	})

	// Credit the seller and the fee recipient
	m.credit(s.Seller, coin.Format(net), s.Reference, "escrow settlement", "sale_proceeds")
	if s.Fee.Sign() > 0 {
		m.credit(s.FeeRecipient, coin.Format(s.Fee), s.Reference, "escrow settlement", "fee")
	}

	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, address string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Newest first
	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].Address == address {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}
