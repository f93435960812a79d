package reputation

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestWorkerSnapshotsLeaderboard(t *testing.T) {
	ledger := NewLedger()
	ledger.AwardTrade("0xaaaa", price(5)) // 60 points
	ledger.AwardTrade("0xbbbb", price(1)) // 20 points

	store := NewMemorySnapshotStore()
	w := NewWorker(ledger, store, time.Hour, testLogger())

	w.snapshot(context.Background())

	latest, err := store.Latest(context.Background(), "0xaaaa")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest == nil {
		t.Fatal("no snapshot saved for 0xaaaa")
	}
	if latest.Points != 60 || latest.Rank != 1 {
		t.Errorf("snapshot = %+v, want points 60 rank 1", latest)
	}

	latest, err = store.Latest(context.Background(), "0xbbbb")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest == nil || latest.Rank != 2 {
		t.Errorf("snapshot = %+v, want rank 2", latest)
	}
}

func TestWorkerSkipsEmptyLeaderboard(t *testing.T) {
	store := NewMemorySnapshotStore()
	w := NewWorker(NewLedger(), store, time.Hour, testLogger())

	w.snapshot(context.Background())

	snaps, err := store.Query(context.Background(), HistoryQuery{Address: "0xaaaa"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("expected no snapshots, got %d", len(snaps))
	}
}

func TestWorkerStop(t *testing.T) {
	ledger := NewLedger()
	ledger.AwardTrade("0xaaaa", price(1))

	w := NewWorker(ledger, NewMemorySnapshotStore(), 10*time.Millisecond, testLogger())

	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	w.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSnapshotHistoryQuery(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		err := store.SaveBatch(ctx, []*Snapshot{
			{Address: "0xaaaa", Points: uint64(i * 10), Rank: 1},
		})
		if err != nil {
			t.Fatalf("SaveBatch failed: %v", err)
		}
	}

	snaps, err := store.Query(ctx, HistoryQuery{Address: "0xaaaa", Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	// Newest first
	if snaps[0].Points != 30 {
		t.Errorf("newest snapshot points = %d, want 30", snaps[0].Points)
	}
}

func TestLatestBatchReturnsNewestOnly(t *testing.T) {
	ledger := NewLedger()
	ledger.AwardTrade("0xaaaa", price(1)) // 20
	ledger.AwardTrade("0xbbbb", price(5)) // 60

	store := NewMemorySnapshotStore()
	w := NewWorker(ledger, store, time.Hour, testLogger())
	w.snapshot(context.Background())

	time.Sleep(5 * time.Millisecond)
	ledger.AwardTrade("0xaaaa", price(10)) // 130, takes the lead
	w.snapshot(context.Background())

	batch, err := store.LatestBatch(context.Background())
	if err != nil {
		t.Fatalf("LatestBatch failed: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}
	if batch[0].Address != "0xaaaa" || batch[0].Rank != 1 {
		t.Errorf("batch[0] = %+v, want 0xaaaa at rank 1", batch[0])
	}
	if batch[0].Points != 130 {
		t.Errorf("batch[0].Points = %d, want 130", batch[0].Points)
	}
}

func TestLatestBatchEmptyStore(t *testing.T) {
	store := NewMemorySnapshotStore()

	batch, err := store.LatestBatch(context.Background())
	if err != nil {
		t.Fatalf("LatestBatch failed: %v", err)
	}
	if batch != nil {
		t.Errorf("batch = %v, want nil", batch)
	}
}
