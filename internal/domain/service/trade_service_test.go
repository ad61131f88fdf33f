package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jessson/mev-dashboard/internal/domain/model"
)

func TestCreateTradeRejectsUnknownChain(t *testing.T) {
	e := newEnv(t, noon)
	tr := newTrade("0xA", 1, 1, noon)
	tr.Chain = "polygon"

	_, _, err := e.dash.Trades.CreateTrade(context.Background(), tr)
	if !errors.Is(err, model.ErrUnknownChain) {
		t.Fatalf("Expected ErrUnknownChain, got %v", err)
	}
	if e.store.Calls("InsertTrade") != 0 {
		t.Error("A rejected trade must not reach the store")
	}

	e.registry.SetEnabled("POLYGON", true)
	if _, outcome, err := e.dash.Trades.CreateTrade(context.Background(), tr); err != nil || outcome != model.Inserted {
		t.Errorf("Expected insert once enabled, got %v %v", outcome, err)
	}
}

func TestCreateTradeValidation(t *testing.T) {
	e := newEnv(t, noon)

	tests := []struct {
		name  string
		edit  func(*model.Trade)
		field string
	}{
		{"no hash", func(tr *model.Trade) { tr.Hash = "  " }, "hash"},
		{"no chain", func(tr *model.Trade) { tr.Chain = "" }, "chain"},
		{"no builder", func(tr *model.Trade) { tr.Builder = "" }, "builder"},
		{"token without address", func(tr *model.Trade) { tr.Tokens = []model.TokenRef{{Symbol: "X"}} }, "incTokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTrade("0xA", 1, 1, noon)
			tt.edit(&tr)
			_, _, err := e.dash.Trades.CreateTrade(context.Background(), tr)
			var verr *model.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("Expected validation error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestCreateTradePersistenceFailure(t *testing.T) {
	e := newEnv(t, noon)
	e.store.SetUnavailable(true)

	_, _, err := e.dash.Trades.CreateTrade(context.Background(), newTrade("0xA", 10, 12, noon))
	if !errors.Is(err, model.ErrPersistenceUnavailable) {
		t.Fatalf("Expected ErrPersistenceUnavailable, got %v", err)
	}
	if _, ok := e.dash.Cache.Summary("BSC"); ok {
		t.Error("Nothing may reach the cache when the write failed")
	}
	if got := e.sink.byTopic(model.TopicNewTrade); len(got) != 0 {
		t.Error("Nothing may be announced when the write failed")
	}

	// The producer retries once the store recovers.
	e.store.SetUnavailable(false)
	if outcome := e.create(t, newTrade("0xA", 10, 12, noon)); outcome != model.Inserted {
		t.Errorf("Expected retry to insert, got %v", outcome)
	}
}

func TestCreateTradeDuplicate(t *testing.T) {
	e := newEnv(t, noon)

	first, _, _ := e.dash.Trades.CreateTrade(context.Background(), newTrade("0xA", 10, 12, noon))
	dup, outcome, err := e.dash.Trades.CreateTrade(context.Background(), newTrade("0xA", 99, 99, noon))
	if err != nil || outcome != model.DuplicateNoOp {
		t.Fatalf("Expected duplicate no-op, got %v %v", outcome, err)
	}
	if dup.ID != first.ID || !dup.Income.Equal(first.Income) {
		t.Errorf("Expected the stored trade back, got %+v", dup)
	}
	if got := e.sink.byTopic(model.TopicNewTrade); len(got) != 1 {
		t.Errorf("Expected one announcement, got %d", len(got))
	}
	e.metrics.snapshot(func(m *recordingMetrics) {
		if m.ingested[model.Inserted] != 1 {
			t.Errorf("Expected one counted insert, got %d", m.ingested[model.Inserted])
		}
	})
}

func TestCreateTradeDefaultsAndNormalizes(t *testing.T) {
	e := newEnv(t, noon)
	tr := newTrade(" 0xA ", 10, 12, time.Time{})
	tr.Chain = " bsc"
	tr.Tokens = []model.TokenRef{{Address: "0xABC", Symbol: "WBNB"}}

	out, _, err := e.dash.Trades.CreateTrade(context.Background(), tr)
	if err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}
	if out.Chain != "BSC" || out.Hash != "0xA" || out.Tokens[0].Address != "0xabc" {
		t.Errorf("Expected normalized trade, got %+v", out)
	}
	if !out.CreatedAt.Equal(noon) {
		t.Errorf("Expected a missing timestamp to default to now, got %s", out.CreatedAt)
	}
	if out.Ordinal != 1 || out.ID == 0 {
		t.Errorf("Expected ordinal 1 and a store id, got %d / %d", out.Ordinal, out.ID)
	}
}

func TestCreateWarning(t *testing.T) {
	e := newEnv(t, noon)

	w, err := e.dash.Trades.CreateWarning(context.Background(), " delay ", " node lagging ", "eth")
	if err != nil {
		t.Fatalf("CreateWarning failed: %v", err)
	}
	if w.ID != 1 || w.Type != "delay" || w.Message != "node lagging" || w.Chain != "ETH" || !w.CreatedAt.Equal(noon) {
		t.Errorf("Unexpected warning %+v", w)
	}
	if got := e.sink.byTopic(model.TopicNewWarning); len(got) != 1 {
		t.Errorf("Expected one warning announcement, got %d", len(got))
	}

	if _, err := e.dash.Trades.CreateWarning(context.Background(), "delay", "", ""); !errors.Is(err, model.ErrValidation) {
		t.Errorf("Expected ErrValidation for an empty message, got %v", err)
	}
	if _, ok := e.dash.Cache.Summary("ETH"); ok {
		t.Error("Warnings must not touch aggregation state")
	}
}

func TestCreateTradePersistsOrdinal(t *testing.T) {
	e := newEnv(t, noon)
	e.create(t, newTrade("0xA", 1, 1, noon))
	e.create(t, newTrade("0xB", 2, 2, noon.Add(time.Minute)))

	rows, err := e.store.FindTradesSince(context.Background(), "BSC", noon.Add(-time.Hour))
	if err != nil {
		t.Fatalf("FindTradesSince failed: %v", err)
	}
	if len(rows) != 2 || rows[0].Ordinal != 1 || rows[1].Ordinal != 2 {
		t.Errorf("Expected stored ordinals 1 and 2, got %+v", rows)
	}
	if got, _ := e.dash.Cache.TradeByHash("0xB"); got.Ordinal != 2 {
		t.Errorf("Expected the buffered trade to keep its ordinal, got %d", got.Ordinal)
	}
}

func TestCreateReportsBufferSizes(t *testing.T) {
	e := newEnv(t, noon)
	e.create(t, newTrade("0xA", 1, 1, noon))
	e.create(t, newTrade("0xB", 1, 1, noon))
	if _, err := e.dash.Trades.CreateWarning(context.Background(), "delay", "node lagging", "BSC"); err != nil {
		t.Fatalf("CreateWarning failed: %v", err)
	}

	e.metrics.snapshot(func(m *recordingMetrics) {
		if m.buffered != [2]int{2, 1} {
			t.Errorf("Expected 2 trades and 1 warning buffered, got %v", m.buffered)
		}
	})
}
