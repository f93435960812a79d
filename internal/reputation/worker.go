package reputation

import (
	"context"
	"log/slog"
	"time"
)

// Worker periodically snapshots the leaderboard into the snapshot store.
type Worker struct {
	ledger   *Ledger
	store    SnapshotStore
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewWorker creates a leaderboard snapshot worker.
// interval is typically 1 hour in production, 10 seconds in demo mode.
func NewWorker(ledger *Ledger, store SnapshotStore, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		ledger:   ledger,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the snapshot loop. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on start
	w.snapshot(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.snapshot(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *Worker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *Worker) snapshot(ctx context.Context) {
	board := w.ledger.Leaderboard(0)
	if len(board) == 0 {
		return
	}

	snaps := make([]*Snapshot, 0, len(board))
	for i, entry := range board {
		snaps = append(snaps, &Snapshot{
			Address: entry.Address,
			Points:  entry.Points,
			Rank:    i + 1,
		})
	}

	if err := w.store.SaveBatch(ctx, snaps); err != nil {
		w.logger.Warn("leaderboard snapshot failed to save", "error", err, "count", len(snaps))
		return
	}

	w.logger.Info("leaderboard snapshot completed", "participants", len(snaps))
}
