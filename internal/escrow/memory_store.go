package escrow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  uint64
	escrows map[uint64]*Escrow

	// Unordered id lists per party. Removal swaps with the last element
	// and truncates, so cancellation is O(1) but may reorder the list.
	sellerIndex map[string][]uint64
	buyerIndex  map[string][]uint64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:      1,
		escrows:     make(map[uint64]*Escrow),
		sellerIndex: make(map[string][]uint64),
		buyerIndex:  make(map[string][]uint64),
	}
}

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = m.nextID
	m.nextID++

	cp := *e
	m.escrows[e.ID] = &cp
	m.sellerIndex[e.Seller] = append(m.sellerIndex[e.Seller], e.ID)
	m.buyerIndex[e.Buyer] = append(m.buyerIndex[e.Buyer], e.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id uint64) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) MarkCompleted(ctx context.Context, id uint64, fee string, at time.Time) (*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	if e.Status != StatusPending {
		return nil, ErrAlreadyFinalized
	}

	e.Status = StatusCompleted
	e.Fee = fee
	e.ResolvedAt = &at
	e.UpdatedAt = at

	cp := *e
	return &cp, nil
}

func (m *MemoryStore) Cancel(ctx context.Context, id uint64, at time.Time) (*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	if e.Status != StatusPending {
		return nil, ErrAlreadyFinalized
	}

	e.Status = StatusCancelled
	e.ResolvedAt = &at
	e.UpdatedAt = at

	// The tombstone stays retrievable by id but leaves both indices.
	m.removeFromIndex(m.sellerIndex, e.Seller, id)
	m.removeFromIndex(m.buyerIndex, e.Buyer, id)

	cp := *e
	return &cp, nil
}

// removeFromIndex drops id from a party's list by swapping it with the
// last element and truncating. Caller holds mu.
func (m *MemoryStore) removeFromIndex(index map[string][]uint64, party string, id uint64) {
	ids := index[party]
	for i, other := range ids {
		if other == id {
			last := len(ids) - 1
			ids[i] = ids[last]
			index[party] = ids[:last]
			break
		}
	}
	if len(index[party]) == 0 {
		delete(index, party)
	}
}

func (m *MemoryStore) ListBySeller(ctx context.Context, seller string) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolve(m.sellerIndex[seller]), nil
}

func (m *MemoryStore) ListByBuyer(ctx context.Context, buyer string) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolve(m.buyerIndex[buyer]), nil
}

// resolve maps ids to record copies in index order. Caller holds mu.
func (m *MemoryStore) resolve(ids []uint64) []*Escrow {
	result := make([]*Escrow, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.escrows[id]; ok {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result
}
