package storage_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/infrastructure/storage"
)

func newSQLiteRepo(t *testing.T) *storage.SQLRepository {
	t.Helper()
	repo, err := storage.NewSQLRepository(context.Background(), storage.DriverSQLite, filepath.Join(t.TempDir(), "mev.db"))
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func sampleTrade(hash string, income string, at time.Time) model.Trade {
	return model.Trade{
		Chain:              "BSC",
		Builder:            "titan",
		Hash:               hash,
		CounterpartyHashes: []string{"0xvictim"},
		Gross:              decimal.RequireFromString(income).Add(decimal.NewFromInt(2)),
		Bribe:              decimal.NewFromInt(1),
		Income:             decimal.RequireFromString(income),
		Ratio:              decimal.RequireFromString("0.5"),
		Tags:               []string{"Arb"},
		Tokens:             []model.TokenRef{{Address: "0xabc", Symbol: "WBNB"}},
		CreatedAt:          at,
	}
}

func TestSQLRepositoryInsertAndDuplicate(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.UnixMilli(time.Now().UnixMilli())

	stored, dup, err := repo.InsertTrade(ctx, sampleTrade("0xA", "10.123456789012345678", now))
	if err != nil {
		t.Fatalf("Failed to insert trade: %v", err)
	}
	if dup {
		t.Fatal("First insert reported as duplicate")
	}
	if stored.ID == 0 {
		t.Error("Expected a generated id")
	}

	again, dup, err := repo.InsertTrade(ctx, sampleTrade("0xA", "99", now))
	if err != nil {
		t.Fatalf("Failed to insert duplicate: %v", err)
	}
	if !dup {
		t.Fatal("Second insert of the same hash should be a duplicate")
	}
	if again.ID != stored.ID {
		t.Errorf("Expected existing id %d, got %d", stored.ID, again.ID)
	}
	if !again.Income.Equal(decimal.RequireFromString("10.123456789012345678")) {
		t.Errorf("Expected stored income to survive, got %s", again.Income)
	}
	if len(again.Tokens) != 1 || again.Tokens[0].Symbol != "WBNB" {
		t.Errorf("Unexpected tokens %+v", again.Tokens)
	}
}

func TestSQLRepositorySumForWindowIsHalfOpen(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	start := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	for _, tr := range []model.Trade{
		sampleTrade("0x1", "1.1", start),
		sampleTrade("0x2", "2.2", start.Add(time.Hour)),
		sampleTrade("0x3", "100", end),
		sampleTrade("0x4", "100", start.Add(-time.Millisecond)),
	} {
		if _, _, err := repo.InsertTrade(ctx, tr); err != nil {
			t.Fatalf("Failed to insert %s: %v", tr.Hash, err)
		}
	}

	b, err := repo.SumForWindow(ctx, "BSC", start, end, math.MaxInt64)
	if err != nil {
		t.Fatalf("Failed to sum window: %v", err)
	}
	if b.Count != 2 {
		t.Errorf("Expected 2 trades, got %d", b.Count)
	}
	if !b.Income.Equal(decimal.RequireFromString("3.3")) {
		t.Errorf("Expected income 3.3, got %s", b.Income)
	}

	empty, err := repo.SumForWindow(ctx, "ETH", start, end, math.MaxInt64)
	if err != nil {
		t.Fatalf("Failed to sum empty window: %v", err)
	}
	if empty.Count != 0 || !empty.Income.IsZero() {
		t.Errorf("Expected zero bucket, got %+v", empty)
	}
}

func TestSQLRepositorySumForWindowStopsAtWatermark(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	start := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	if id, err := repo.MaxTradeID(ctx); err != nil || id != 0 {
		t.Fatalf("Expected an empty store to report 0, got %d (%v)", id, err)
	}

	first, _, err := repo.InsertTrade(ctx, sampleTrade("0x1", "1", start))
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	watermark, err := repo.MaxTradeID(ctx)
	if err != nil || watermark != first.ID {
		t.Fatalf("Expected watermark %d, got %d (%v)", first.ID, watermark, err)
	}
	second, _, _ := repo.InsertTrade(ctx, sampleTrade("0x2", "2", start.Add(time.Minute)))
	if second.ID <= watermark {
		t.Fatalf("Expected ids to grow, got %d after %d", second.ID, watermark)
	}

	b, err := repo.SumForWindow(ctx, "BSC", start, end, watermark)
	if err != nil {
		t.Fatalf("Failed to sum window: %v", err)
	}
	if b.Count != 1 || !b.Income.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected only the trade at or below the watermark, got %+v", b)
	}
}

func TestSQLRepositoryFindSinceAndRetention(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	day := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	_, _, _ = repo.InsertTrade(ctx, sampleTrade("0xlate", "1", day.Add(3*time.Hour)))
	_, _, _ = repo.InsertTrade(ctx, sampleTrade("0xearly", "1", day.Add(time.Hour)))
	_, _, _ = repo.InsertTrade(ctx, sampleTrade("0xold", "1", day.AddDate(0, 0, -80)))

	trades, err := repo.FindTradesSince(ctx, "BSC", day)
	if err != nil {
		t.Fatalf("Failed to find trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("Expected 2 trades, got %d", len(trades))
	}
	if trades[0].Hash != "0xearly" || trades[1].Hash != "0xlate" {
		t.Errorf("Expected oldest first, got %s then %s", trades[0].Hash, trades[1].Hash)
	}

	n, err := repo.DeleteOlderThan(ctx, day.AddDate(0, 0, -70))
	if err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 deleted row, got %d", n)
	}
}

func TestMemoryRepositoryUnavailable(t *testing.T) {
	repo := storage.NewMemoryRepository()
	repo.SetUnavailable(true)

	_, err := repo.SumForWindow(context.Background(), "BSC", time.Now(), time.Now(), math.MaxInt64)
	if !errors.Is(err, model.ErrPersistenceUnavailable) {
		t.Fatalf("Expected ErrPersistenceUnavailable, got %v", err)
	}
	if repo.Calls("SumForWindow") != 1 {
		t.Errorf("Expected the failed call to be counted")
	}

	repo.SetUnavailable(false)
	if _, _, err := repo.InsertTrade(context.Background(), sampleTrade("0xA", "1", time.Now())); err != nil {
		t.Fatalf("Expected recovery, got %v", err)
	}
}
