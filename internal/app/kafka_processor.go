package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jessson/mev-dashboard/internal/app/dto"
	"github.com/jessson/mev-dashboard/internal/domain/useCases"
	"github.com/jessson/mev-dashboard/internal/infrastructure/queue"
	"github.com/jessson/mev-dashboard/internal/lib/logger/sl"
)

const (
	defaultRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff     = 30 * time.Second
)

// KafkaEventProcessor moves trades from a Kafka consumer into the trade service.
// A message is committed once its trade is durably stored, found to be a
// duplicate, or rejected as malformed. While the store is unavailable the
// processor retries the same trade and consumes nothing else.
type KafkaEventProcessor struct {
	Consumer queue.TradeConsumer
	Trades   useCases.TradeService
	// RetryBackoff is the first wait after a persistence failure; it doubles up to 30s.
	RetryBackoff time.Duration
	log          *slog.Logger
}

func NewKafkaEventProcessor(log *slog.Logger, consumer queue.TradeConsumer, trades useCases.TradeService) *KafkaEventProcessor {
	return &KafkaEventProcessor{
		Consumer:     consumer,
		Trades:       trades,
		RetryBackoff: defaultRetryBackoff,
		log:          log.With(slog.String("component", "kafka_processor")),
	}
}

// Run starts the Kafka event processor
func (p *KafkaEventProcessor) Run(ctx context.Context) error {
	tradeCh, err := p.Consumer.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trade, ok := <-tradeCh:
			if !ok {
				return ctx.Err()
			}
			if trade == nil {
				continue
			}
			if !p.processTrade(ctx, trade) {
				return ctx.Err()
			}
			if err := p.Consumer.Commit(ctx, trade); err != nil && ctx.Err() == nil {
				p.log.Warn("failed to commit trade", slog.String("hash", trade.Hash), sl.Err(err))
			}
		}
	}
}

// processTrade returns false only when ctx ended before the trade was settled.
func (p *KafkaEventProcessor) processTrade(ctx context.Context, trade *dto.TradeDTO) bool {
	backoff := p.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	for {
		_, _, err := p.Trades.CreateTrade(ctx, trade.ToModel())
		if err == nil {
			return true
		}
		if !retryable(err) {
			p.log.Warn("dropping rejected trade", slog.String("hash", trade.Hash), sl.Err(err))
			return true
		}

		p.log.Warn("store unavailable, retrying trade",
			slog.String("hash", trade.Hash),
			slog.Duration("backoff", backoff),
			sl.Err(err),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}
