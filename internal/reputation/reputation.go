// Package reputation scores trading participants by settled volume.
//
// Every completed sale awards points to both parties: a flat amount per
// trade plus a volume bonus per whole coin of sale price. Points only
// accumulate, and the leaderboard is kept fully sorted by points descending
// after every award.
package reputation

import (
	"math"
	"math/big"
	"sync"

	"github.com/consignio/consign/internal/coin"
	"github.com/consignio/consign/internal/metrics"
)

const (
	// BasePoints is awarded for any completed trade.
	BasePoints = 10

	// VolumePoints is awarded per whole coin of sale price.
	VolumePoints = 10
)

// PointsFor returns the points one completed trade of the given price is
// worth: BasePoints + VolumePoints per whole coin. Prices too large for
// uint64 arithmetic saturate instead of wrapping.
func PointsFor(price *big.Int) uint64 {
	whole := coin.WholeUnits(price)
	if whole > (math.MaxUint64-BasePoints)/VolumePoints {
		return math.MaxUint64
	}
	return BasePoints + VolumePoints*whole
}

// Entry is one leaderboard row.
type Entry struct {
	Address string `json:"address"`
	Points  uint64 `json:"points"`
}

// Award is the outcome of scoring one participant for one trade.
type Award struct {
	Address string `json:"address"`
	Gained  uint64 `json:"gained"`
	Total   uint64 `json:"total"`
	Rank    int    `json:"rank"` // 1-based leaderboard position after the award
}

// Ledger owns point totals, the first-seen trader list, and the sorted
// leaderboard. All mutation goes through AwardTrade.
type Ledger struct {
	mu        sync.RWMutex
	points    map[string]uint64
	hasTraded map[string]bool
	traders   []string // first-trade order, append-only

	board    []Entry
	position map[string]int // address -> index into board
}

// NewLedger creates an empty reputation ledger.
func NewLedger() *Ledger {
	return &Ledger{
		points:    make(map[string]uint64),
		hasTraded: make(map[string]bool),
		position:  make(map[string]int),
	}
}

// Restore seeds an empty ledger from persisted leaderboard entries, given
// best rank first. No-op once any award has been recorded. First-trade
// order is not persisted, so restored traders appear in rank order.
func (l *Ledger) Restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.board) > 0 {
		return
	}

	for _, e := range entries {
		if e.Points == 0 || l.hasTraded[e.Address] {
			continue
		}
		l.points[e.Address] = e.Points
		l.hasTraded[e.Address] = true
		l.traders = append(l.traders, e.Address)
		l.position[e.Address] = len(l.board)
		l.board = append(l.board, e)
	}

	metrics.LeaderboardSize.Set(float64(len(l.board)))
}

// AwardTrade credits a participant for one completed trade of the given
// price and returns the resulting award. First-time traders are appended
// to the trader list.
func (l *Ledger) AwardTrade(address string, price *big.Int) Award {
	gained := PointsFor(price)

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hasTraded[address] {
		l.hasTraded[address] = true
		l.traders = append(l.traders, address)
	}

	total := l.points[address] + gained
	l.points[address] = total
	rank := l.reinsert(address, total)

	metrics.ReputationAwardsTotal.Inc()
	metrics.LeaderboardSize.Set(float64(len(l.board)))

	return Award{Address: address, Gained: gained, Total: total, Rank: rank}
}

// reinsert restores descending point order after address's total changed.
// Points never decrease, so the entry can only move toward the front: it
// swaps upward past strictly smaller scores and settles after any equal
// ones. Caller holds mu. Returns the 1-based rank.
func (l *Ledger) reinsert(address string, total uint64) int {
	i, ok := l.position[address]
	if !ok {
		i = len(l.board)
		l.board = append(l.board, Entry{Address: address, Points: total})
		l.position[address] = i
	} else {
		l.board[i].Points = total
	}

	for i > 0 && l.board[i-1].Points < l.board[i].Points {
		l.board[i-1], l.board[i] = l.board[i], l.board[i-1]
		l.position[l.board[i].Address] = i
		i--
		l.position[l.board[i].Address] = i
	}
	return i + 1
}

// Points returns a participant's total, zero if they never traded.
func (l *Ledger) Points(address string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.points[address]
}

// HasTraded reports whether a participant ever completed a trade.
func (l *Ledger) HasTraded(address string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasTraded[address]
}

// Traders returns all participants in order of first completed trade.
func (l *Ledger) Traders() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.traders...)
}

// Leaderboard returns the top limit entries, all of them when limit <= 0.
func (l *Ledger) Leaderboard(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.board)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]Entry(nil), l.board[:n]...)
}

// Size returns the number of leaderboard entries.
func (l *Ledger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.board)
}
