package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jessson/mev-dashboard/internal/app"
	"github.com/jessson/mev-dashboard/internal/app/dto"
	"github.com/jessson/mev-dashboard/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockTradeService records trades and fails the first failures calls with err.
type MockTradeService struct {
	mu       sync.Mutex
	trades   []model.Trade
	seen     map[string]bool
	failures int
	err      error
}

func NewMockTradeService() *MockTradeService {
	return &MockTradeService{seen: make(map[string]bool)}
}

func (s *MockTradeService) CreateTrade(ctx context.Context, trade model.Trade) (model.Trade, model.IngestOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return model.Trade{}, 0, s.err
	}
	if s.seen[trade.Hash] {
		return trade, model.DuplicateNoOp, nil
	}
	s.seen[trade.Hash] = true
	s.trades = append(s.trades, trade)
	return trade, model.Inserted, nil
}

func (s *MockTradeService) CreateWarning(ctx context.Context, warnType, msg, chain string) (model.Warning, error) {
	return model.Warning{Type: warnType, Message: msg, Chain: chain}, nil
}

func (s *MockTradeService) Hashes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.trades))
	for i, t := range s.trades {
		out[i] = t.Hash
	}
	return out
}

func tradeDTO(hash string) *dto.TradeDTO {
	return &dto.TradeDTO{
		Chain:     "BSC",
		Builder:   "titan",
		Hash:      hash,
		Income:    decimal.NewFromInt(5),
		Gross:     decimal.NewFromInt(6),
		CreatedAt: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
	}
}

func TestEventProcessor(t *testing.T) {
	tradeCh := make(chan *dto.TradeDTO, 10)
	trades := NewMockTradeService()
	processor := app.NewEventProcessor(testLogger(), tradeCh, trades)

	tradeCh <- tradeDTO("0x1")
	tradeCh <- nil
	tradeCh <- tradeDTO("0x2")
	tradeCh <- tradeDTO("0x1")
	close(tradeCh)

	// A closed channel ends Run cleanly.
	if err := processor.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	got := trades.Hashes()
	if len(got) != 2 || got[0] != "0x1" || got[1] != "0x2" {
		t.Errorf("Expected [0x1 0x2], got %v", got)
	}
}

func TestEventProcessorContinuesAfterErrors(t *testing.T) {
	tradeCh := make(chan *dto.TradeDTO, 10)
	trades := NewMockTradeService()
	trades.failures = 1
	trades.err = model.ErrUnknownChain
	processor := app.NewEventProcessor(testLogger(), tradeCh, trades)

	tradeCh <- tradeDTO("0x1")
	tradeCh <- tradeDTO("0x2")
	close(tradeCh)

	if err := processor.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if got := trades.Hashes(); len(got) != 1 || got[0] != "0x2" {
		t.Errorf("Expected only 0x2 ingested, got %v", got)
	}
}

func TestEventProcessorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	processor := app.NewEventProcessor(testLogger(), make(chan *dto.TradeDTO), NewMockTradeService())

	done := make(chan error, 1)
	go func() { done <- processor.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
