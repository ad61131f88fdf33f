package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jessson/mev-dashboard/internal/app"
	"github.com/jessson/mev-dashboard/internal/app/dto"
	"github.com/jessson/mev-dashboard/internal/domain/model"
)

// MockConsumer hands out a fixed channel and records commits.
type MockConsumer struct {
	ch chan *dto.TradeDTO

	mu        sync.Mutex
	committed []string
}

func NewMockConsumer(trades ...*dto.TradeDTO) *MockConsumer {
	ch := make(chan *dto.TradeDTO, len(trades))
	for _, t := range trades {
		ch <- t
	}
	close(ch)
	return &MockConsumer{ch: ch}
}

func (c *MockConsumer) Subscribe(ctx context.Context) (<-chan *dto.TradeDTO, error) {
	return c.ch, nil
}

func (c *MockConsumer) Commit(ctx context.Context, trade *dto.TradeDTO) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, trade.Hash)
	return nil
}

func (c *MockConsumer) Close() error { return nil }

func (c *MockConsumer) Committed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.committed...)
}

func TestKafkaProcessorCommitsSettledTrades(t *testing.T) {
	consumer := NewMockConsumer(tradeDTO("0x1"), tradeDTO("0x1"), tradeDTO("0x2"))
	trades := NewMockTradeService()
	processor := app.NewKafkaEventProcessor(testLogger(), consumer, trades)

	if err := processor.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	// The duplicate is committed too.
	if got := consumer.Committed(); fmt.Sprint(got) != "[0x1 0x1 0x2]" {
		t.Errorf("Unexpected commits %v", got)
	}
	if got := trades.Hashes(); len(got) != 2 {
		t.Errorf("Expected 2 ingested trades, got %v", got)
	}
}

func TestKafkaProcessorCommitsRejectedTrades(t *testing.T) {
	consumer := NewMockConsumer(tradeDTO("0x1"))
	trades := NewMockTradeService()
	trades.failures = 1
	trades.err = &model.ValidationError{Field: "builder", Reason: "required"}
	processor := app.NewKafkaEventProcessor(testLogger(), consumer, trades)

	if err := processor.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if got := consumer.Committed(); len(got) != 1 {
		t.Errorf("Expected the rejected trade committed, got %v", got)
	}
	if got := trades.Hashes(); len(got) != 0 {
		t.Errorf("Expected nothing ingested, got %v", got)
	}
}

func TestKafkaProcessorRetriesWhileStoreIsDown(t *testing.T) {
	consumer := NewMockConsumer(tradeDTO("0x1"))
	trades := NewMockTradeService()
	trades.failures = 3
	trades.err = fmt.Errorf("insert: %w", model.ErrPersistenceUnavailable)
	processor := app.NewKafkaEventProcessor(testLogger(), consumer, trades)
	processor.RetryBackoff = time.Millisecond

	if err := processor.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if got := trades.Hashes(); len(got) != 1 || got[0] != "0x1" {
		t.Errorf("Expected 0x1 ingested after retries, got %v", got)
	}
	if got := consumer.Committed(); len(got) != 1 {
		t.Errorf("Expected exactly one commit, got %v", got)
	}
}

func TestKafkaProcessorDoesNotCommitOnCancel(t *testing.T) {
	consumer := NewMockConsumer(tradeDTO("0x1"))
	trades := NewMockTradeService()
	trades.failures = 1 << 30
	trades.err = model.ErrPersistenceUnavailable
	processor := app.NewKafkaEventProcessor(testLogger(), consumer, trades)
	processor.RetryBackoff = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := processor.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if got := consumer.Committed(); len(got) != 0 {
		t.Errorf("Expected no commit for an unsettled trade, got %v", got)
	}
}
