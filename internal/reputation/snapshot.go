package reputation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Snapshot is one participant's standing at a point in time, persisted for
// history queries. The live leaderboard is authoritative; snapshots are a
// periodic record of it.
type Snapshot struct {
	ID        int64     `json:"id,omitempty"`
	Address   string    `json:"address"`
	Points    uint64    `json:"points"`
	Rank      int       `json:"rank"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryQuery selects historical snapshots for one participant.
type HistoryQuery struct {
	Address string
	From    time.Time
	To      time.Time
	Limit   int
}

// SnapshotStore persists leaderboard snapshots.
type SnapshotStore interface {
	SaveBatch(ctx context.Context, snaps []*Snapshot) error
	Query(ctx context.Context, q HistoryQuery) ([]*Snapshot, error)
	Latest(ctx context.Context, address string) (*Snapshot, error)

	// LatestBatch returns the most recent snapshot batch ordered by rank,
	// nil when no snapshots exist. Used to rebuild the live leaderboard on
	// startup.
	LatestBatch(ctx context.Context) ([]*Snapshot, error)
}

// MemorySnapshotStore keeps snapshots in memory for demo/development mode.
type MemorySnapshotStore struct {
	mu     sync.RWMutex
	snaps  []*Snapshot
	nextID int64
}

var _ SnapshotStore = (*MemorySnapshotStore)(nil)

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{nextID: 1}
}

func (m *MemorySnapshotStore) SaveBatch(_ context.Context, snaps []*Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, s := range snaps {
		cp := *s
		cp.ID = m.nextID
		m.nextID++
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		m.snaps = append(m.snaps, &cp)
	}
	return nil
}

func (m *MemorySnapshotStore) Query(_ context.Context, q HistoryQuery) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var result []*Snapshot
	for i := len(m.snaps) - 1; i >= 0 && len(result) < limit; i-- {
		s := m.snaps[i]
		if s.Address != q.Address {
			continue
		}
		if !q.From.IsZero() && s.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && s.CreatedAt.After(q.To) {
			continue
		}
		cp := *s
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemorySnapshotStore) Latest(_ context.Context, address string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.snaps) - 1; i >= 0; i-- {
		if m.snaps[i].Address == address {
			cp := *m.snaps[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemorySnapshotStore) LatestBatch(_ context.Context) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.snaps) == 0 {
		return nil, nil
	}

	// Batches share a CreatedAt; walk back until it changes.
	last := m.snaps[len(m.snaps)-1].CreatedAt
	var batch []*Snapshot
	for i := len(m.snaps) - 1; i >= 0 && m.snaps[i].CreatedAt.Equal(last); i-- {
		cp := *m.snaps[i]
		batch = append(batch, &cp)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Rank < batch[j].Rank })
	return batch, nil
}
