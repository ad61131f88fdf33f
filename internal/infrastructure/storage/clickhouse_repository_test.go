package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jessson/mev-dashboard/internal/infrastructure/storage"
)

func TestClickHouseRepository(t *testing.T) {
	addr := os.Getenv("CLICKHOUSE_ADDR")
	if addr == "" {
		t.Skip("Skipping ClickHouse test - requires live ClickHouse instance")
	}

	repo, err := storage.NewClickHouseRepository(storage.ClickHouseConfig{
		Addr:     addr,
		Username: os.Getenv("CLICKHOUSE_USERNAME"),
		Password: os.Getenv("CLICKHOUSE_PASSWORD"),
		Timeout:  5,
	})
	if err != nil {
		t.Fatalf("Failed to connect to ClickHouse: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	now := time.Now()
	trade := sampleTrade("ch-test-"+now.Format(time.RFC3339Nano), "10", now)

	stored, dup, err := repo.InsertTrade(ctx, trade)
	if err != nil || dup {
		t.Fatalf("Failed to insert trade: dup=%v err=%v", dup, err)
	}
	if maxID, err := repo.MaxTradeID(ctx); err != nil || maxID < stored.ID {
		t.Errorf("Expected watermark >= %d, got %d (%v)", stored.ID, maxID, err)
	}
	if _, dup, err := repo.InsertTrade(ctx, trade); err != nil || !dup {
		t.Fatalf("Expected duplicate on second insert: dup=%v err=%v", dup, err)
	}

	trades, err := repo.FindTradesSince(ctx, "BSC", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Failed to get trades: %v", err)
	}
	found := false
	for _, tr := range trades {
		if tr.Hash == trade.Hash {
			found = true
			break
		}
	}
	if !found {
		t.Error("Saved trade not found in retrieved trades")
	}
}
